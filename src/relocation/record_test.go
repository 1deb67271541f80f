package relocation

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/section"
	"github.com/mosaicnetworks/sectionnet/src/section/sectiontest"
)

type relocationFixture struct {
	section *sectiontest.Section
	node    *sectiontest.Node
	notice  *net.RelocationNotification
	clock   *clock.Mock
	manager *Manager
	tracker *Tracker
}

func newRelocationFixture(t *testing.T, retries int) *relocationFixture {
	s := sectiontest.NewSection(t, 7, 10)
	n := s.AddAdult(t, 5)

	churn := ChurnID{9, 9, 9, 0}
	state := &section.NodeState{
		Peer:  *n.Peer,
		State: section.Relocated,
		Relocate: &section.RelocateDetails{
			PreviousName:  n.Name(),
			Dst:           Dst(n.Name(), churn),
			DstSectionKey: s.SAP().SectionKey(),
			Age:           6,
		},
	}

	tracker, err := NewTracker(16)
	require.NoError(t, err)

	clk := clock.NewMock()
	return &relocationFixture{
		section: s,
		node:    n,
		notice: &net.RelocationNotification{
			State:  *s.SignState(t, state),
			Target: s.Chain.Last(),
		},
		clock:   clk,
		manager: NewManager(clk, time.Minute, retries, cm.NewTestEntry(t, "test")),
		tracker: tracker,
	}
}

func TestRelocationRoundTrip(t *testing.T) {
	f := newRelocationFixture(t, 3)
	snap := f.section.Knowledge(t).Snapshot()
	elder := *f.section.Elders[0].Peer

	out, err := f.manager.HandleNotification(f.node.Key, *f.node.Peer, f.notice)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Targets, 7)

	first := out[0].Body.(*net.JoinAsRelocatedRequest)
	require.Nil(t, first.NewPeer)
	require.NoError(t, VerifyRequest(first, snap, f.tracker))

	r, ok := f.manager.Get(f.node.Name())
	require.True(t, ok)
	require.Equal(t, RequestedFirst, r.State)

	out, _, err = f.manager.HandleResponse(elder, &net.JoinAsRelocatedResponse{
		Kind: net.RelocatedRetry,
		SAP:  f.section.Chain.Last(),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, RequestedSecond, r.State)

	second := out[0].Body.(*net.JoinAsRelocatedRequest)
	require.NotNil(t, second.NewPeer)
	require.Equal(t, uint8(6), second.NewPeer.Age)
	require.NoError(t, VerifyRequest(second, snap, f.tracker))

	previous := f.node.Name()
	approval := f.section.SignState(t, &section.NodeState{
		Peer:         *second.NewPeer,
		State:        section.Joined,
		PreviousName: &previous,
	})

	_, done, err := f.manager.HandleResponse(elder, &net.JoinAsRelocatedResponse{
		Kind:     net.RelocatedApproved,
		Chain:    f.section.Chain,
		Members:  append(f.section.Members, *approval),
		Approval: approval,
	})
	require.NoError(t, err)
	require.NotNil(t, done)
	require.Equal(t, Completed, done.Record.State)
	require.Equal(t, f.node.Peer.Age+1, done.Record.New.Age)
	require.NotEqual(t, f.node.Name(), done.Record.New.Name())
	require.Equal(t, 0, f.manager.Len())

	// Admitted names cannot be relocated in twice.
	f.tracker.Admit(previous, done.Record.New.Name())
	err = VerifyRequest(second, snap, f.tracker)
	require.True(t, cm.IsProtocol(err, cm.ProtocolViolation))
}

func TestVerifyRequestRejectsForgedName(t *testing.T) {
	f := newRelocationFixture(t, 3)
	snap := f.section.Knowledge(t).Snapshot()

	out, err := f.manager.HandleNotification(f.node.Key, *f.node.Peer, f.notice)
	require.NoError(t, err)
	out, _, err = f.manager.HandleResponse(*f.section.Elders[0].Peer, &net.JoinAsRelocatedResponse{
		Kind: net.RelocatedRetry,
		SAP:  f.section.Chain.Last(),
	})
	require.NoError(t, err)

	req := *out[0].Body.(*net.JoinAsRelocatedRequest)

	other := sectiontest.NewNode(t, 6, "other")
	req.NewPeer = other.Peer
	err = VerifyRequest(&req, snap, f.tracker)
	require.True(t, cm.IsProtocol(err, cm.ProtocolViolation))

	younger := sectiontest.NewNode(t, 5, "younger")
	req.NewPeer = younger.Peer
	err = VerifyRequest(&req, snap, f.tracker)
	require.True(t, cm.IsProtocol(err, cm.ProtocolViolation))
}

func TestRelocationNotificationForAnotherNode(t *testing.T) {
	f := newRelocationFixture(t, 3)
	other := sectiontest.NewNode(t, 5, "other")

	_, err := f.manager.HandleNotification(other.Key, *other.Peer, f.notice)
	require.True(t, cm.IsProtocol(err, cm.ProtocolViolation))
	require.Equal(t, 0, f.manager.Len())
}

func TestRelocationAbandoned(t *testing.T) {
	f := newRelocationFixture(t, 2)

	_, err := f.manager.HandleNotification(f.node.Key, *f.node.Peer, f.notice)
	require.NoError(t, err)

	// Duplicate notifications are ignored.
	out, err := f.manager.HandleNotification(f.node.Key, *f.node.Peer, f.notice)
	require.NoError(t, err)
	require.Empty(t, out)

	for i := 1; i <= 2; i++ {
		f.clock.Add(time.Minute)
		out, errs := f.manager.Tick()
		require.Empty(t, errs)
		require.Len(t, out, 1)

		r, _ := f.manager.Get(f.node.Name())
		require.Equal(t, i, r.Retries)
	}

	f.clock.Add(time.Minute)
	out, errs := f.manager.Tick()
	require.Empty(t, out)
	require.Len(t, errs, 1)
	require.True(t, cm.IsProtocol(errs[0], cm.RelocationAbandoned))
	require.Equal(t, 0, f.manager.Len())
}

func TestTrackerProposesOncePerGeneration(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	a := s.AddAdult(t, 5)
	states := []section.NodeState{{Peer: *a.Peer, State: section.Relocated}}

	tracker, err := NewTracker(0)
	require.NoError(t, err)

	require.Len(t, tracker.Propose(states, 1), 1)
	require.Empty(t, tracker.Propose(states, 1))
	require.Len(t, tracker.Propose(states, 2), 1)
}
