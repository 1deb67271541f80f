package join

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/resourceproof"
	"github.com/mosaicnetworks/sectionnet/src/section"
	"github.com/mosaicnetworks/sectionnet/src/section/sectiontest"
)

type coordinatorFixture struct {
	section     *sectiontest.Section
	clock       *clock.Mock
	knowledge   *section.Knowledge
	coordinator *Coordinator
}

func newCoordinatorFixture(t *testing.T, age uint8) *coordinatorFixture {
	s := sectiontest.NewSection(t, 7, 10)
	cand := sectiontest.NewNode(t, age, "candidate")
	clk := clock.NewMock()
	k := section.NewKnowledge(section.NewInmemStore(), cm.NewTestEntry(t, "test"))

	return &coordinatorFixture{
		section:     s,
		clock:       clk,
		knowledge:   k,
		coordinator: NewCoordinator(cand.Key, *cand.Peer, k, clk, time.Minute, cm.NewTestEntry(t, "test")),
	}
}

func (f *coordinatorFixture) contacts() *peers.NetworkContacts {
	return &peers.NetworkContacts{
		GenesisKey: cm.EncodeToString(f.section.Chain.GenesisKey()),
		Sections:   []peers.SectionContact{f.section.SAP().Contact()},
	}
}

func expectedAge(age uint8) *uint8 {
	return &age
}

func TestCoordinatorStart(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	c := f.coordinator

	out, err := c.Start(f.contacts())
	require.NoError(t, err)
	require.Equal(t, Initiated, c.State())
	require.Len(t, out, 1)
	require.Len(t, out[0].Targets, 7)

	req := out[0].Body.(*net.JoinRequest)
	require.Equal(t, net.Initiate, req.Kind)
	require.Equal(t, c.Peer().Name(), req.Candidate.Name())
	require.Equal(t, f.section.SAP().SectionKey(), req.SectionKey)

	_, err = c.Start(f.contacts())
	require.Error(t, err)
}

func TestCoordinatorStartWithoutContacts(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	_, err := f.coordinator.Start(&peers.NetworkContacts{})
	require.Equal(t, peers.ErrNoContactsAvailable, err)
	require.Equal(t, AwaitingSection, f.coordinator.State())
}

func TestCoordinatorRetryRegeneratesIdentity(t *testing.T) {
	f := newCoordinatorFixture(t, 0)
	c := f.coordinator

	_, err := c.Start(f.contacts())
	require.NoError(t, err)
	oldName := c.Peer().Name()

	out, err := c.HandleResponse(*f.section.Elders[0].Peer, &net.JoinResponse{
		Kind:        net.Retry,
		SAP:         f.section.Chain.Last(),
		ExpectedAge: expectedAge(1),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	req := out[0].Body.(*net.JoinRequest)
	require.Equal(t, net.Initiate, req.Kind)
	require.Equal(t, uint8(1), req.Candidate.Age)
	require.Equal(t, uint8(1), req.Candidate.Name().Age())
	require.NotEqual(t, oldName, req.Candidate.Name())
	require.Equal(t, c.Peer(), req.Candidate)

	// The other elders' identical answers change nothing.
	out, err = c.HandleResponse(*f.section.Elders[1].Peer, &net.JoinResponse{
		Kind:        net.Retry,
		SAP:         f.section.Chain.Last(),
		ExpectedAge: expectedAge(1),
	})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestCoordinatorRetryWithNewerKey(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	c := f.coordinator

	_, err := c.Start(f.contacts())
	require.NoError(t, err)

	f.section.Rotate(t)

	out, err := c.HandleResponse(*f.section.Elders[0].Peer, &net.JoinResponse{
		Kind: net.Retry,
		SAP:  f.section.Chain.Last(),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, f.section.SAP().SectionKey(), out[0].Body.(*net.JoinRequest).SectionKey)
	require.Equal(t, uint8(1), c.Peer().Age)
}

func TestCoordinatorIgnoresRetryWithOlderSAP(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	c := f.coordinator

	old := f.section.Chain.Last()
	f.section.Rotate(t)
	current := f.section.SAP().SectionKey()

	_, err := c.Start(f.contacts())
	require.NoError(t, err)

	// An elder still at generation 0.
	out, err := c.HandleResponse(*f.section.Elders[0].Peer, &net.JoinResponse{
		Kind: net.Retry,
		SAP:  old,
	})
	require.NoError(t, err)
	require.Empty(t, out)

	// A wrong age is still corrected, towards the newer section key.
	out, err = c.HandleResponse(*f.section.Elders[0].Peer, &net.JoinResponse{
		Kind:        net.Retry,
		SAP:         old,
		ExpectedAge: expectedAge(3),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	req := out[0].Body.(*net.JoinRequest)
	require.Equal(t, uint8(3), req.Candidate.Age)
	require.Equal(t, current, req.SectionKey)

	// A redirect to the same section's older SAP is ignored as well.
	out, err = c.HandleResponse(*f.section.Elders[0].Peer, &net.JoinResponse{
		Kind: net.Redirect,
		SAP:  old,
	})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestCoordinatorRetryToAgeZero(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	c := f.coordinator

	_, err := c.Start(f.contacts())
	require.NoError(t, err)

	out, err := c.HandleResponse(*f.section.Elders[0].Peer, &net.JoinResponse{
		Kind:        net.Retry,
		SAP:         f.section.Chain.Last(),
		ExpectedAge: expectedAge(0),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, uint8(0), c.Peer().Age)
	require.Equal(t, uint8(0), out[0].Body.(*net.JoinRequest).Candidate.Age)

	// Without an age the candidate keeps its identity.
	name := c.Peer().Name()
	out, err = c.HandleResponse(*f.section.Elders[1].Peer, &net.JoinResponse{
		Kind: net.Retry,
		SAP:  f.section.Chain.Last(),
	})
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, name, c.Peer().Name())
}

func TestCoordinatorRejectsUnsignedSAP(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	c := f.coordinator

	_, err := c.Start(f.contacts())
	require.NoError(t, err)

	forged := *f.section.Chain.Last()
	forged.Signature = nil

	_, err = c.HandleResponse(*f.section.Elders[0].Peer, &net.JoinResponse{Kind: net.Redirect, SAP: &forged})
	require.True(t, cm.IsProtocol(err, cm.ProtocolViolation))
}

func TestCoordinatorChallengeAndApproval(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	c := f.coordinator

	_, err := c.Start(f.contacts())
	require.NoError(t, err)

	elder := f.section.Elders[2]
	ch, err := resourceproof.NewChallenge(elder.Name(), 4)
	require.NoError(t, err)

	// A challenge from outside the section is refused.
	stranger := sectiontest.NewNode(t, 10, "stranger")
	_, err = c.HandleResponse(*stranger.Peer, &net.JoinResponse{Kind: net.ResourceChallenge, Challenge: &ch})
	require.True(t, cm.IsProtocol(err, cm.ProtocolViolation))

	out, err := c.HandleResponse(*elder.Peer, &net.JoinResponse{Kind: net.ResourceChallenge, Challenge: &ch})
	require.NoError(t, err)
	require.Equal(t, ProofSubmitted, c.State())
	require.Len(t, out, 1)
	require.Equal(t, []peers.Peer{*elder.Peer}, out[0].Targets)

	req := out[0].Body.(*net.JoinRequest)
	require.Equal(t, net.SubmitResourceProof, req.Kind)
	require.NoError(t, resourceproof.Verify(ch, c.Peer().Name(), *req.Proof))

	approval := f.section.SignState(t, &section.NodeState{Peer: c.Peer(), State: section.Joined})
	members := append(f.section.Members, *approval)

	_, err = c.HandleResponse(*elder.Peer, &net.JoinResponse{
		Kind:     net.Approved,
		Chain:    f.section.Chain,
		Members:  members,
		Approval: approval,
	})
	require.NoError(t, err)
	require.Equal(t, Approved, c.State())

	snap := f.knowledge.Snapshot()
	require.Equal(t, f.section.SAP().SectionKey(), snap.SectionKey())
	require.True(t, snap.IsActiveMember(c.Peer().Name()))
	require.Len(t, snap.ActiveMembers(), 8)

	// Nothing times out once approved.
	f.clock.Add(time.Hour)
	require.NoError(t, c.Tick())
}

func TestCoordinatorRejectsApprovalForAnotherNode(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	c := f.coordinator

	_, err := c.Start(f.contacts())
	require.NoError(t, err)

	other := sectiontest.NewNode(t, 1, "other")
	approval := f.section.SignState(t, &section.NodeState{Peer: *other.Peer, State: section.Joined})

	_, err = c.HandleResponse(*f.section.Elders[0].Peer, &net.JoinResponse{
		Kind:     net.Approved,
		Chain:    f.section.Chain,
		Approval: approval,
	})
	require.True(t, cm.IsProtocol(err, cm.ProtocolViolation))
	require.Equal(t, Initiated, c.State())
}

func TestCoordinatorTimeout(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	c := f.coordinator

	_, err := c.Start(f.contacts())
	require.NoError(t, err)

	f.clock.Add(59 * time.Second)
	require.NoError(t, c.Tick())

	f.clock.Add(time.Second)
	err = c.Tick()
	require.True(t, cm.IsProtocol(err, cm.JoinTimeout))
	require.Equal(t, TimedOut, c.State())

	// Late answers are ignored.
	out, err := c.HandleResponse(*f.section.Elders[0].Peer, &net.JoinResponse{Kind: net.Retry, SAP: f.section.Chain.Last(), ExpectedAge: expectedAge(3)})
	require.NoError(t, err)
	require.Empty(t, out)
}
