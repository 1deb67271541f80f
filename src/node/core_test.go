package node

import (
	"crypto/ecdsa"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/config"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/dkg"
	"github.com/mosaicnetworks/sectionnet/src/join"
	"github.com/mosaicnetworks/sectionnet/src/membership"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/relocation"
	"github.com/mosaicnetworks/sectionnet/src/section"
	"github.com/mosaicnetworks/sectionnet/src/section/sectiontest"
)

type delivery struct {
	to  string
	msg *net.Message
}

// testNet routes the messages of in-process cores by address. Messages go
// through the wire codec and are delivered one at a time, in the order they
// were produced.
type testNet struct {
	t     *testing.T
	conf  *config.Config
	clock *clock.Mock
	cores map[string]*Core
	order []string
	down  map[string]bool
	queue []delivery
}

func newTestNet(t *testing.T, conf *config.Config) *testNet {
	return &testNet{
		t:     t,
		conf:  conf,
		clock: clock.NewMock(),
		cores: make(map[string]*Core),
		down:  make(map[string]bool),
	}
}

func (n *testNet) ping(p peers.Peer) error {
	if _, ok := n.cores[p.NetAddr]; !ok || n.down[p.NetAddr] {
		return fmt.Errorf("%s unreachable", p.NetAddr)
	}
	return nil
}

func (n *testNet) addCore(key *ecdsa.PrivateKey, addr string, age uint8, k *section.Knowledge) *Core {
	logger := cm.NewTestEntry(n.t, addr)
	if k == nil {
		k = section.NewKnowledge(section.NewInmemStore(), logger)
	}

	core, err := NewCore(NewValidator(key, addr, age, addr), n.conf, k, n.clock, n.ping, nil, logger)
	require.NoError(n.t, err)

	n.cores[addr] = core
	n.order = append(n.order, addr)
	return core
}

func (n *testNet) newCore(addr string, age uint8) *Core {
	key, err := keys.GenerateECDSAKey()
	require.NoError(n.t, err)
	return n.addCore(key, addr, age, nil)
}

// fromSection creates a core for every elder and adult of s. Elders hold
// their share of the current key.
func (n *testNet) fromSection(s *sectiontest.Section) {
	for i, e := range s.Elders {
		c := n.addCore(e.Key, e.Peer.NetAddr, e.Peer.Age, s.Knowledge(n.t))
		c.shares[s.SAP().SectionKeyHex()] = s.Shares[i]
	}
	for _, a := range s.Adults {
		n.addCore(a.Key, a.Peer.NetAddr, a.Peer.Age, s.Knowledge(n.t))
	}
}

func (n *testNet) genesis(addr string, age uint8) *Core {
	c := n.newCore(addr, age)
	require.NoError(n.t, c.Genesis())
	return c
}

func (n *testNet) send(from *Core, out []net.Outgoing) {
	for _, o := range out {
		kind, payload, err := from.Envelope(o).Encode()
		require.NoError(n.t, err)

		for _, target := range o.Targets {
			msg, err := net.DecodeMessage(kind, payload)
			require.NoError(n.t, err)
			n.queue = append(n.queue, delivery{to: target.NetAddr, msg: msg})
		}
	}
}

// run delivers messages until none are left.
func (n *testNet) run() {
	for steps := 0; len(n.queue) > 0; steps++ {
		require.Less(n.t, steps, 100000, "messages keep flowing")

		d := n.queue[0]
		n.queue = n.queue[1:]

		core, ok := n.cores[d.to]
		if !ok || n.down[d.to] {
			continue
		}

		out, err := core.HandleMessage(d.msg)
		if err != nil {
			n.t.Logf("%s: %s: %v", d.to, d.msg, err)
		}
		n.send(core, out)
	}
}

func (n *testNet) tick(d time.Duration) {
	n.clock.Add(d)
	for _, addr := range n.order {
		if n.down[addr] {
			continue
		}
		core := n.cores[addr]
		out, errs := core.Tick()
		for _, err := range errs {
			n.t.Logf("%s: tick: %v", addr, err)
		}
		n.send(core, out)
	}
	n.run()
}

// contacts returns the contacts of the most up to date core.
func (n *testNet) contacts() *peers.NetworkContacts {
	var best *section.Snapshot
	for _, addr := range n.order {
		snap := n.cores[addr].Snapshot()
		if !snap.IsEmpty() && (best == nil || snap.Generation() > best.Generation()) {
			best = snap
		}
	}
	require.NotNil(n.t, best)
	return best.Contacts()
}

func (n *testNet) join(addr string) *Core {
	contacts := n.contacts()

	c := n.newCore(addr, n.conf.MinAdultAge)
	out, err := c.StartJoin(contacts)
	require.NoError(n.t, err)
	require.Equal(n.t, Joining, c.State())

	n.send(c, out)
	n.run()

	require.NotEqual(n.t, Joining, c.State(), "%s was not approved", addr)
	return c
}

// requireConverged checks that every live core is at the given generation
// with the given number of elders.
func (n *testNet) requireConverged(generation uint64, elders int) {
	for _, addr := range n.order {
		if n.down[addr] {
			continue
		}
		snap := n.cores[addr].Snapshot()
		require.Equal(n.t, generation, snap.Generation(), addr)
		require.Len(n.t, snap.SAP().Elders, elders, addr)
		require.NoError(n.t, snap.Chain.Verify(), addr)
	}
}

func testConf(t *testing.T) *config.Config {
	return config.NewTestConfig(t, logrus.DebugLevel)
}

func TestCoreGenesis(t *testing.T) {
	n := newTestNet(t, testConf(t))
	g := n.genesis("node0", 1)

	require.Equal(t, Elder, g.State())

	snap := g.Snapshot()
	require.Equal(t, uint64(0), snap.Generation())
	require.True(t, snap.IsElder(g.Validator().Name()))
	require.True(t, snap.IsActiveMember(g.Validator().Name()))
	require.NoError(t, snap.Chain.Verify())

	require.Error(t, g.Genesis())
}

func TestCoreJoinAndPromote(t *testing.T) {
	n := newTestNet(t, testConf(t))
	n.genesis("node0", 1)

	for i := 1; i <= 3; i++ {
		c := n.join(fmt.Sprintf("node%d", i))

		n.requireConverged(uint64(i), i+1)
		require.Equal(t, Elder, c.State())
	}

	for addr, c := range n.cores {
		assert.Equal(t, Elder, c.State(), addr)
		assert.Len(t, c.Snapshot().ActiveMembers(), 4, addr)
		assert.Len(t, c.shares, 1, addr)
		assert.Empty(t, c.buffered, addr)
		assert.Zero(t, c.engine.PendingCount(), addr)
		// Only the SectionInfo of the current generation is remembered.
		assert.LessOrEqual(t, c.engine.DecidedCount(), 1, addr)
	}
}

func TestCoreJoinBeyondElderCount(t *testing.T) {
	conf := testConf(t)
	conf.ElderCount = 2

	n := newTestNet(t, conf)
	n.genesis("node0", 1)
	n.join("node1")
	n.requireConverged(1, 2)

	// A third member joins as an adult: it is no older than the elders, so
	// unless its name sorts first the elders stay.
	c := n.join("node2")
	snap := c.Snapshot()
	require.Len(t, snap.ActiveMembers(), 3)
	require.Len(t, snap.SAP().Elders, 2)

	if snap.IsElder(c.Validator().Name()) {
		require.Equal(t, Elder, c.State())
	} else {
		require.Equal(t, Adult, c.State())
	}
}

func TestCoreJoinRetriesAtExpectedAge(t *testing.T) {
	conf := testConf(t)
	conf.FirstSectionRanged = true

	n := newTestNet(t, conf)
	n.genesis("node0", conf.FirstSectionMaxAge)

	c := n.join("node1")

	expected := conf.FirstSectionMaxAge - 2
	require.Equal(t, expected, c.Validator().Age)

	m, ok := n.cores["node0"].Snapshot().Member(c.Validator().Name())
	require.True(t, ok)
	require.Equal(t, expected, m.NodeState.Age())
}

func TestCoreJoinRetriedWithOldKey(t *testing.T) {
	n := newTestNet(t, testConf(t))
	n.genesis("node0", 1)

	// Contacts from before the first handover.
	stale := n.contacts()
	n.join("node1")
	n.requireConverged(1, 2)

	c := n.newCore("node2", 1)
	out, err := c.StartJoin(stale)
	require.NoError(t, err)
	n.send(c, out)
	n.run()

	require.NotEqual(t, Joining, c.State())
	n.requireConverged(2, 3)
}

func TestCoreVotesNeedSupermajority(t *testing.T) {
	conf := testConf(t)
	conf.ElderCount = 7

	s := sectiontest.NewSection(t, 7, 10)
	n := newTestNet(t, conf)
	n.fromSection(s)

	elder := n.cores[s.Elders[0].Peer.NetAddr]
	cand := sectiontest.NewNode(t, 1, "candidate")
	state := section.NodeState{Peer: *cand.Peer, State: section.Joined}
	p := membership.NewNodeIsOnline(&state)

	for i := 1; i <= 4; i++ {
		vote, err := membership.NewVote(*s.Elders[i].Peer, p, s.Shares[i], s.Elders[i].Key)
		require.NoError(t, err)

		out, err := elder.handleVote(vote)
		require.NoError(t, err)
		require.Empty(t, out)
	}
	require.False(t, elder.Snapshot().IsActiveMember(cand.Name()))
	require.Equal(t, 1, elder.engine.PendingCount())

	vote, err := membership.NewVote(*s.Elders[5].Peer, p, s.Shares[5], s.Elders[5].Key)
	require.NoError(t, err)

	out, err := elder.handleVote(vote)
	require.NoError(t, err)
	require.True(t, elder.Snapshot().IsActiveMember(cand.Name()))
	require.Zero(t, elder.engine.PendingCount())

	var approval *net.JoinResponse
	for _, o := range out {
		if r, ok := o.Body.(*net.JoinResponse); ok {
			approval = r
			require.Equal(t, cand.Name(), o.Targets[0].Name())
		}
	}
	require.NotNil(t, approval)
	require.Equal(t, net.Approved, approval.Kind)
	require.NoError(t, approval.Approval.Verify())

	// Late votes change nothing.
	vote, err = membership.NewVote(*s.Elders[6].Peer, p, s.Shares[6], s.Elders[6].Key)
	require.NoError(t, err)
	out, err = elder.handleVote(vote)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestCoreVoteFromNonElderRefused(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	n := newTestNet(t, testConf(t))
	n.fromSection(s)

	elder := n.cores[s.Elders[0].Peer.NetAddr]
	outsider := sectiontest.NewNode(t, 10, "outsider")
	state := section.NodeState{Peer: *outsider.Peer, State: section.Joined}

	vote, err := membership.NewVote(*outsider.Peer, membership.NewNodeIsOnline(&state), s.Shares[1], outsider.Key)
	require.NoError(t, err)

	_, err = elder.handleVote(vote)
	require.True(t, cm.IsProtocol(err, cm.ProtocolViolation))
}

func TestCoreDkgFailureRestartsWithoutBlamed(t *testing.T) {
	conf := testConf(t)
	s := sectiontest.NewSection(t, 4, 10)
	adult := s.AddAdult(t, 20)

	n := newTestNet(t, conf)
	n.fromSection(s)

	snap := n.cores[s.Elders[0].Peer.NetAddr].Snapshot()
	first := section.ElderCandidates(snap.ActiveMembers(), conf.ElderCount, nil)
	require.True(t, peers.NewPeerSet(first).ByName[adult.Name()] != nil)

	// An elder that stays a candidate goes down before the session starts.
	var offline peers.Peer
	for _, p := range first {
		if snap.IsElder(p.Name()) {
			offline = *p
			break
		}
	}
	n.down[offline.NetAddr] = true

	for _, e := range s.Elders {
		if e.Peer.NetAddr == offline.NetAddr {
			continue
		}
		c := n.cores[e.Peer.NetAddr]
		out, err := c.checkElders()
		require.NoError(t, err)
		n.send(c, out)
	}
	n.run()

	// Nothing completes without the missing candidate.
	n.requireConverged(0, 4)

	n.tick(conf.DKGTimeout + time.Second)

	n.requireConverged(1, 4)

	sap := n.cores[adult.Peer.NetAddr].Snapshot().SAP()
	require.False(t, sap.ContainsElder(offline.Name()))
	require.True(t, sap.ContainsElder(adult.Name()))
	require.Equal(t, Elder, n.cores[adult.Peer.NetAddr].State())

	for _, e := range s.Elders {
		if e.Peer.NetAddr == offline.NetAddr {
			continue
		}
		// The blame is forgotten with the new authority, so the next
		// promotion asks for the missing elder again.
		c := n.cores[e.Peer.NetAddr]
		assert.Empty(t, c.excluded)
		for _, id := range c.started {
			assert.Equal(t, uint64(2), id.Generation)
		}
	}
}

func TestCoreRelocationRoundTrip(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	a := s.AddAdult(t, 5)

	n := newTestNet(t, testConf(t))
	n.fromSection(s)
	moving := n.cores[a.Peer.NetAddr]

	churn := relocation.ChurnID{1, 2, 3, 0}
	state := section.NodeState{
		Peer:  *a.Peer,
		State: section.Relocated,
		Relocate: &section.RelocateDetails{
			PreviousName:  a.Name(),
			Dst:           relocation.Dst(a.Name(), churn),
			DstSectionKey: s.SAP().SectionKey(),
			Age:           6,
		},
	}

	for _, e := range s.Elders {
		c := n.cores[e.Peer.NetAddr]
		out, err := c.propose(membership.NewNodeIsOffline(&state))
		require.NoError(t, err)
		n.send(c, out)
	}
	n.run()

	require.Zero(t, moving.relocations.Len())
	require.Equal(t, Adult, moving.State())

	newName := moving.Validator().Name()
	require.NotEqual(t, a.Name(), newName)
	require.Equal(t, uint8(6), moving.Validator().Age)
	require.Equal(t, a.Peer.NetAddr, moving.Validator().NetAddr)

	for _, e := range s.Elders {
		snap := n.cores[e.Peer.NetAddr].Snapshot()

		old, ok := snap.Member(a.Name())
		require.True(t, ok)
		require.Equal(t, section.Relocated, old.NodeState.State)

		m, ok := snap.Member(newName)
		require.True(t, ok)
		require.Equal(t, section.Joined, m.NodeState.State)
		require.NotNil(t, m.NodeState.PreviousName)
		require.Equal(t, a.Name(), *m.NodeState.PreviousName)
	}

	snap := moving.Snapshot()
	require.True(t, snap.IsActiveMember(newName))
	require.False(t, snap.IsActiveMember(a.Name()))
}

func TestCoreLeave(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	a := s.AddAdult(t, 5)

	n := newTestNet(t, testConf(t))
	n.fromSection(s)

	leaving := n.cores[a.Peer.NetAddr]
	out, err := leaving.Leave()
	require.NoError(t, err)
	n.send(leaving, out)
	n.run()

	for _, e := range s.Elders {
		m, ok := n.cores[e.Peer.NetAddr].Snapshot().Member(a.Name())
		require.True(t, ok)
		require.Equal(t, section.Left, m.NodeState.State)
	}

	stranger := n.newCore("stranger", 1)
	_, err = stranger.Leave()
	require.Error(t, err)
}

func TestCoreForgedLeaveRefused(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	a := s.AddAdult(t, 5)

	n := newTestNet(t, testConf(t))
	n.fromSection(s)
	elder := n.cores[s.Elders[0].Peer.NetAddr]

	victim := s.Elders[1]
	name := victim.Name()
	sig, err := keys.Sign(a.Key, name[:])
	require.NoError(t, err)

	_, err = elder.handleLeaveRequest(&net.LeaveRequest{Peer: *victim.Peer, Signature: sig})
	require.True(t, cm.IsProtocol(err, cm.ProtocolViolation))
	require.Zero(t, elder.engine.PendingCount())
}

func TestCoreCatchesUpBeforeHandlingNewerVote(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	n := newTestNet(t, testConf(t))
	n.fromSection(s)

	behind := n.cores[s.Elders[0].Peer.NetAddr]
	oldShares := s.Shares

	s.Rotate(t)
	behind.shares[s.SAP().SectionKeyHex()] = s.Shares[0]

	cand := sectiontest.NewNode(t, 1, "candidate")
	state := section.NodeState{Peer: *cand.Peer, State: section.Joined}
	p := membership.NewNodeIsOnline(&state)

	voter := *s.Elders[1].Peer
	header := net.Header{
		Sender:     voter,
		Generation: 1,
		SectionKey: s.SAP().SectionKey(),
	}

	vote, err := membership.NewVote(voter, p, s.Shares[1], s.Elders[1].Key)
	require.NoError(t, err)

	out, err := behind.HandleMessage(net.NewMessage(header, vote))
	require.NoError(t, err)
	require.Len(t, out, 1)
	req, ok := out[0].Body.(*net.AntiEntropyRequest)
	require.True(t, ok)
	require.Equal(t, uint64(0), req.Generation)
	require.Equal(t, voter.Name(), out[0].Targets[0].Name())
	require.Len(t, behind.buffered, 1)

	_, err = behind.HandleMessage(net.NewMessage(header, &net.AntiEntropyUpdate{
		Chain:   s.Chain.After(req.Generation),
		Members: s.Members,
	}))
	require.NoError(t, err)

	require.Equal(t, uint64(1), behind.Snapshot().Generation())
	require.Equal(t, Elder, behind.State())
	require.Empty(t, behind.buffered)
	require.Equal(t, 1, behind.engine.PendingCount())

	// A vote under the old key is answered with the missing links.
	old, err := membership.NewVote(*s.Elders[2].Peer, p, oldShares[2], s.Elders[2].Key)
	require.NoError(t, err)

	out, err = behind.handleVote(old)
	require.NoError(t, err)
	require.Len(t, out, 1)
	update, ok := out[0].Body.(*net.AntiEntropyUpdate)
	require.True(t, ok)
	require.Len(t, update.Chain, 1)
	require.Equal(t, uint64(1), update.Chain[0].SAP.Generation)
}

func TestCoreAnswersUpdateRequest(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	s.Rotate(t)
	s.Rotate(t)

	n := newTestNet(t, testConf(t))
	n.fromSection(s)
	elder := n.cores[s.Elders[0].Peer.NetAddr]

	asker := *s.Elders[1].Peer
	msg := net.NewMessage(net.Header{Sender: asker}, &net.AntiEntropyRequest{Generation: 0})

	out, err := elder.HandleMessage(msg)
	require.NoError(t, err)
	require.Len(t, out, 1)

	update := out[0].Body.(*net.AntiEntropyUpdate)
	require.Len(t, update.Chain, 2)
	require.Len(t, update.Members, 4)
	require.Equal(t, asker.Name(), out[0].Targets[0].Name())
}

func TestCoreBuffersWhileJoining(t *testing.T) {
	n := newTestNet(t, testConf(t))
	n.genesis("node0", 1)

	c := n.newCore("node1", 1)
	out, err := c.StartJoin(n.contacts())
	require.NoError(t, err)
	require.NotEmpty(t, out)

	msg := net.NewMessage(net.Header{Sender: n.cores["node0"].Validator().Peer()}, &net.AntiEntropyRequest{})
	out, err = c.HandleMessage(msg)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Len(t, c.buffered, 1)

	state, ok := c.JoinState()
	require.True(t, ok)
	require.Equal(t, join.Initiated, state)
}

func TestCoreSectionInfoVotesNeedTheVotersKeys(t *testing.T) {
	conf := testConf(t)
	s := sectiontest.NewSection(t, 4, 10)
	adult := s.AddAdult(t, 20)

	n := newTestNet(t, conf)
	n.fromSection(s)
	elder := n.cores[s.Elders[0].Peer.NetAddr]

	_, err := elder.checkElders()
	require.NoError(t, err)
	require.Len(t, elder.started, 1)

	var id dkg.SessionID
	for _, started := range elder.started {
		id = started
	}
	require.True(t, id.Index(adult.Name()) >= 0)

	// The adult deals a key set of its own and votes for every candidate.
	set, shares, err := bls.GenerateKeySet(id.Len(), peers.SuperMajority(id.Len()))
	require.NoError(t, err)
	sap := section.NewSAP(id.Prefix, id.Elders, set, id.Generation)
	p := membership.NewSectionInfo(sap)

	accepted := 0
	for i, voter := range sap.Elders {
		vote, err := membership.NewVote(*voter, p, shares[i], adult.Key)
		require.NoError(t, err)

		out, err := elder.handleVote(vote)
		require.Empty(t, out)
		if voter.Name() == adult.Name() {
			require.NoError(t, err)
			accepted++
			continue
		}
		require.True(t, cm.IsProtocol(err, cm.ProtocolViolation), voter.Name())
	}

	require.Equal(t, 1, accepted)
	require.False(t, elder.engine.IsDecided(&p))
	require.Equal(t, uint64(0), elder.Snapshot().Generation())
}

func TestCoreRetryOnlyForOlderSectionKeys(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	s.Rotate(t)

	n := newTestNet(t, testConf(t))
	n.fromSection(s)
	elder := n.cores[s.Elders[0].Peer.NetAddr]

	old := s.Chain[0].SAP.SectionKey()
	s.Rotate(t)
	newer := s.SAP().SectionKey()

	cand := sectiontest.NewNode(t, n.conf.MinAdultAge, "candidate")
	request := func(key []byte) []net.Outgoing {
		out, err := elder.handleJoinRequest(&net.JoinRequest{
			Kind:       net.Initiate,
			Candidate:  *cand.Peer,
			SectionKey: key,
		})
		require.NoError(t, err)
		return out
	}

	out := request(old)
	require.Len(t, out, 1)
	resp := out[0].Body.(*net.JoinResponse)
	require.Equal(t, net.Retry, resp.Kind)
	require.Equal(t, uint64(1), resp.SAP.SAP.Generation)
	require.Nil(t, resp.ExpectedAge)

	// A key from ahead of this elder, or from nowhere, gets no Retry that
	// would move the candidate back.
	require.Empty(t, request(newer))

	other := sectiontest.NewSection(t, 1, 10)
	require.Empty(t, request(other.SAP().SectionKey()))

	require.Zero(t, elder.attempts.Len())
}

func TestCoreNewSectionKeyCancelsJoinAttempts(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	n := newTestNet(t, testConf(t))
	n.fromSection(s)
	elder := n.cores[s.Elders[0].Peer.NetAddr]

	cand := n.newCore("candidate", n.conf.MinAdultAge)
	out, err := elder.handleJoinRequest(&net.JoinRequest{
		Kind:       net.Initiate,
		Candidate:  cand.Validator().Peer(),
		SectionKey: s.SAP().SectionKey(),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, net.ResourceChallenge, out[0].Body.(*net.JoinResponse).Kind)
	require.Equal(t, 1, elder.attempts.Len())

	s.Rotate(t)
	msg := net.NewMessage(net.Header{Sender: *s.Elders[1].Peer}, &net.AntiEntropyUpdate{
		Chain:   s.Chain.After(0),
		Members: s.Members,
	})
	_, err = elder.HandleMessage(msg)
	require.NoError(t, err)

	require.Equal(t, uint64(1), elder.Snapshot().Generation())
	require.Zero(t, elder.attempts.Len())
}

func TestCoreSectionSplits(t *testing.T) {
	conf := testConf(t)
	conf.ElderCount = 2
	conf.RelocationMinSectionSize = 2

	s := sectiontest.NewSection(t, 2, 10)
	halves := make(map[peers.Prefix]int)
	for _, m := range s.Members {
		halves[peers.PrefixOf(m.NodeState.Name(), 1)]++
	}
	for halves["0"] < 2 || halves["1"] < 2 {
		a := s.AddAdult(t, 5)
		halves[peers.PrefixOf(a.Name(), 1)]++
	}

	n := newTestNet(t, conf)
	n.fromSection(s)
	stale := s.Knowledge(t).Snapshot().Contacts()

	for _, e := range s.Elders {
		c := n.cores[e.Peer.NetAddr]
		out, err := c.checkElders()
		require.NoError(t, err)
		n.send(c, out)
	}
	n.run()

	for _, addr := range n.order {
		c := n.cores[addr]
		name := c.Validator().Name()
		prefix := peers.PrefixOf(name, 1)

		snap := c.Snapshot()
		require.Equal(t, prefix, snap.Prefix(), addr)
		require.Equal(t, uint64(1), snap.Generation(), addr)
		require.NoError(t, snap.Chain.Verify(), addr)
		require.Len(t, snap.SAP().Elders, 2, addr)
		require.Len(t, snap.ActiveMembers(), halves[prefix], addr)
		for m := range snap.Members {
			require.True(t, prefix.Matches(m), addr)
		}

		sibling, ok := snap.Sections[prefix.Sibling()]
		require.True(t, ok, addr)
		require.Equal(t, uint64(1), sibling.SAP.Generation, addr)

		if snap.IsElder(name) {
			require.Equal(t, Elder, c.State(), addr)
		} else {
			require.Equal(t, Adult, c.State(), addr)
		}
	}

	// An elder sends a candidate of the other half to its elders.
	elder := n.cores[s.Elders[0].Peer.NetAddr]
	own := elder.Snapshot().Prefix()
	cand := sectiontest.NewNode(t, conf.MinAdultAge, "stranger")
	for own.Matches(cand.Name()) {
		cand = sectiontest.NewNode(t, conf.MinAdultAge, "stranger")
	}
	out, err := elder.handleJoinRequest(&net.JoinRequest{
		Kind:       net.Initiate,
		Candidate:  *cand.Peer,
		SectionKey: s.SAP().SectionKey(),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	resp := out[0].Body.(*net.JoinResponse)
	require.Equal(t, net.Redirect, resp.Kind)
	require.Equal(t, own.Sibling(), resp.SAP.SAP.Prefix)
	require.Equal(t, uint64(1), resp.SAP.SAP.Generation)

	// A candidate with contacts from before the split still gets in, with
	// the half its name falls under.
	joiner := n.newCore("joiner", conf.MinAdultAge)
	out, err = joiner.StartJoin(stale)
	require.NoError(t, err)
	n.send(joiner, out)
	n.run()

	require.NotEqual(t, Joining, joiner.State())
	snap := joiner.Snapshot()
	require.True(t, snap.Prefix().Matches(joiner.Validator().Name()))
	require.NoError(t, snap.Chain.Verify())
}
