package node

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectionnet/src/config"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/join"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

type testNode struct {
	*Node
	trans *net.InmemTransport
	dir   string
}

func newNode(t *testing.T, moniker string, genesis bool, store section.Store) *testNode {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)

	addr, trans := net.NewInmemTransport("")

	dir := t.TempDir()
	conf := config.NewTestConfig(t, logrus.InfoLevel)
	conf.SetDataDir(dir)
	conf.Genesis = genesis
	conf.Moniker = moniker

	if store == nil {
		store = section.NewInmemStore()
	}
	k := section.NewKnowledge(store, conf.Logger())

	node, err := NewNode(conf, NewValidator(key, addr, conf.MinAdultAge, moniker), k, trans, nil)
	require.NoError(t, err)

	return &testNode{Node: node, trans: trans, dir: dir}
}

func connect(nodes []*testNode) {
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.trans.Connect(b.trans.LocalAddr(), b.trans)
			}
		}
	}
}

// startJoiner seeds the joiner's contacts file from a member and starts it.
func startJoiner(t *testing.T, joiner *testNode, from *testNode) {
	contacts := peers.NewJSONContacts(joiner.dir)
	require.NoError(t, contacts.Write(from.GetContacts()))

	require.NoError(t, joiner.Init())
	require.Equal(t, Joining, joiner.GetState())
	joiner.RunAsync()
}

func waitGeneration(t *testing.T, nodes []*testNode, generation uint64) {
	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if n.GetSAP() == nil || n.GetSAP().SAP.Generation != generation {
				return false
			}
		}
		return true
	}, 15*time.Second, 20*time.Millisecond, "generation %d not reached", generation)
}

func shutdownNodes(nodes []*testNode) {
	for _, n := range nodes {
		n.Shutdown()
	}
}

func TestNodeGenesis(t *testing.T) {
	g := newNode(t, "genesis", true, nil)
	defer g.Shutdown()

	require.NoError(t, g.Init())
	require.Equal(t, Elder, g.GetState())

	// The contacts file is written as soon as the node knows its section.
	contacts, err := peers.NewJSONContacts(g.dir).Contacts()
	require.NoError(t, err)
	require.Len(t, contacts.Sections, 1)
	require.Len(t, contacts.Sections[0].Elders, 1)

	stats := g.GetStats()
	require.Equal(t, "Elder", stats["state"])
	require.Equal(t, "0", stats["generation"])
	require.Equal(t, "1", stats["members"])
}

func TestNodeJoinWithoutContacts(t *testing.T) {
	n := newNode(t, "lost", false, nil)
	defer n.Shutdown()

	require.Error(t, n.Init())
}

func TestNodeSectionGrowsAndShrinks(t *testing.T) {
	g := newNode(t, "node0", true, nil)
	nodes := []*testNode{g}
	for i := 1; i < 4; i++ {
		nodes = append(nodes, newNode(t, fmt.Sprintf("node%d", i), false, nil))
	}
	connect(nodes)
	defer shutdownNodes(nodes)

	require.NoError(t, g.Init())
	g.RunAsync()

	for i := 1; i < 4; i++ {
		startJoiner(t, nodes[i], g)
		waitGeneration(t, nodes[:i+1], uint64(i))
	}

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if n.GetState() != Elder {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	for _, n := range nodes {
		require.Len(t, n.GetMembers(), 4)
		require.NoError(t, n.GetChain().Verify())

		contacts, err := peers.NewJSONContacts(n.dir).Contacts()
		require.NoError(t, err)
		require.Equal(t, n.GetSAP().SAP.SectionKeyHex(), contacts.Sections[0].SectionKey)
	}

	mfs, err := g.Registry().Gather()
	require.NoError(t, err)
	gauges := make(map[string]float64)
	for _, mf := range mfs {
		if mf.GetType().String() == "GAUGE" {
			gauges[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	require.Equal(t, float64(3), gauges["sectionnet_section_generation"])
	require.Equal(t, float64(4), gauges["sectionnet_section_members"])

	// The last node leaves and the others hand over to a three-elder SAP.
	leaving := nodes[3]
	name := leaving.Name()
	require.NoError(t, leaving.Leave())
	require.Equal(t, Shutdown, leaving.GetState())

	rest := nodes[:3]
	waitGeneration(t, rest, 4)
	for _, n := range rest {
		require.Len(t, n.GetSAP().SAP.Elders, 3)
		for _, m := range n.GetMembers() {
			if m.NodeState.Name() == name {
				require.Equal(t, section.Left, m.NodeState.State)
			}
		}
	}
}

func TestNodeBootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badger_db")

	store, err := section.NewBadgerStore(path)
	require.NoError(t, err)

	g := newNode(t, "node0", true, store)
	joiner := newNode(t, "node1", false, nil)
	connect([]*testNode{g, joiner})

	require.NoError(t, g.Init())
	g.RunAsync()
	startJoiner(t, joiner, g)
	waitGeneration(t, []*testNode{g, joiner}, 1)

	key := g.core.validator.Key
	addr := g.trans.LocalAddr()
	chain := g.GetChain()

	shutdownNodes([]*testNode{g, joiner})

	// Restart the first node from its database.
	store, err = section.NewBadgerStore(path)
	require.NoError(t, err)

	conf := config.NewTestConfig(t, logrus.InfoLevel)
	conf.SetDataDir(g.dir)
	conf.Bootstrap = true

	_, trans := net.NewInmemTransport(addr)
	k := section.NewKnowledge(store, conf.Logger())
	recycled, err := NewNode(conf, NewValidator(key, addr, conf.MinAdultAge, "node0"), k, trans, nil)
	require.NoError(t, err)
	defer recycled.Shutdown()

	require.NoError(t, recycled.Init())

	// Key shares are not persisted: the node comes back as an adult.
	require.Equal(t, Adult, recycled.GetState())
	require.Len(t, recycled.GetChain(), len(chain))
	require.Equal(t, chain.Last().SAP.SectionKeyHex(), recycled.GetSAP().SAP.SectionKeyHex())
	require.Len(t, recycled.GetMembers(), 2)
}

func TestNodeRestartsTimedOutJoin(t *testing.T) {
	g := newNode(t, "node0", true, nil)
	require.NoError(t, g.Init())

	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	addr, trans := net.NewInmemTransport("")

	dir := t.TempDir()
	conf := config.NewTestConfig(t, logrus.InfoLevel)
	conf.SetDataDir(dir)

	clk := clock.NewMock()
	k := section.NewKnowledge(section.NewInmemStore(), conf.Logger())
	node, err := NewNode(conf, NewValidator(key, addr, conf.MinAdultAge, "node1"), k, trans, clk)
	require.NoError(t, err)
	joiner := &testNode{Node: node, trans: trans, dir: dir}

	require.NoError(t, peers.NewJSONContacts(dir).Write(g.GetContacts()))
	require.NoError(t, joiner.Init())

	// The genesis node is not running yet: the first Initiate goes nowhere.
	<-joiner.outboxCh

	clk.Add(conf.JoinTimeout + time.Second)
	joiner.tick()

	require.Equal(t, Joining, joiner.GetState())
	state, ok := joiner.core.JoinState()
	require.True(t, ok)
	require.Equal(t, join.Initiated, state)

	require.Len(t, joiner.outboxCh, 1)
	e := <-joiner.outboxCh
	req, ok := e.msg.Body.(*net.JoinRequest)
	require.True(t, ok)
	require.Equal(t, net.Initiate, req.Kind)
	require.Equal(t, g.Name(), e.targets[0].Name())
	joiner.enqueue([]envelope{e})

	// Once the section answers, the restarted join completes.
	nodes := []*testNode{g, joiner}
	connect(nodes)
	defer shutdownNodes(nodes)

	g.RunAsync()
	joiner.RunAsync()

	waitGeneration(t, nodes, 1)
	require.Eventually(t, func() bool {
		return joiner.GetState() == Elder
	}, 5*time.Second, 20*time.Millisecond)
}
