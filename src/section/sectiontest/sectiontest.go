// Package sectiontest builds signed sections for tests: elders with node
// keys, a dealt BLS key set, a genesis chain and signed member states.
package sectiontest

import (
	"crypto/ecdsa"
	"fmt"
	"testing"

	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// Node is a test identity.
type Node struct {
	Key  *ecdsa.PrivateKey
	Peer *peers.Peer
}

// Name ...
func (n *Node) Name() peers.Name {
	return n.Peer.Name()
}

// NewNode generates an identity of the given age.
func NewNode(t testing.TB, age uint8, addr string) *Node {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	return &Node{
		Key:  key,
		Peer: peers.NewPeer(keys.PublicKeyHex(&key.PublicKey), addr, age, addr),
	}
}

// Section is a section whose every elder secret is known to the test.
type Section struct {
	Elders []*Node
	// Shares[i] belongs to SAP.Elders[i].
	Shares []*bls.KeyShare
	Chain  section.Chain
	// Members holds the signed Joined state of every elder and adult.
	Members []section.SignedNodeState
	Adults  []*Node
}

// NewSection creates a genesis section with n elders of the given age and
// every elder a signed member.
func NewSection(t testing.TB, n int, age uint8) *Section {
	elders := make([]*Node, n)
	ps := make([]*peers.Peer, n)
	for i := range elders {
		elders[i] = NewNode(t, age, fmt.Sprintf("elder%d", i))
		ps[i] = elders[i].Peer
	}

	set, shares, err := bls.GenerateKeySet(n, peers.SuperMajority(n))
	if err != nil {
		t.Fatal(err)
	}

	sap := section.NewSAP("", ps, set, 0)

	// Reorder the nodes like the SAP so that Elders[i] holds Shares[i].
	byName := make(map[peers.Name]*Node)
	for _, e := range elders {
		byName[e.Name()] = e
	}
	for i, p := range sap.Elders {
		elders[i] = byName[p.Name()]
	}

	signed, err := section.SignSAP(sap, shares, n)
	if err != nil {
		t.Fatal(err)
	}

	s := &Section{
		Elders: elders,
		Shares: shares,
		Chain:  section.Chain{*signed},
	}
	for _, e := range elders {
		s.Members = append(s.Members, *s.SignState(t, &section.NodeState{
			Peer:  *e.Peer,
			State: section.Joined,
		}))
	}

	return s
}

// SAP is the current SAP.
func (s *Section) SAP() *section.SAP {
	return &s.Chain.Last().SAP
}

// SignState signs state with the current key.
func (s *Section) SignState(t testing.TB, state *section.NodeState) *section.SignedNodeState {
	signed, err := section.SignNodeState(state, s.Shares, len(s.Shares))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

// AddAdult creates a Joined member that is not an elder.
func (s *Section) AddAdult(t testing.TB, age uint8) *Node {
	n := NewNode(t, age, fmt.Sprintf("adult%d", len(s.Adults)))
	s.Adults = append(s.Adults, n)
	s.Members = append(s.Members, *s.SignState(t, &section.NodeState{
		Peer:  *n.Peer,
		State: section.Joined,
	}))
	return n
}

// Rotate appends a new generation with fresh keys for the same elders,
// signed by the current key.
func (s *Section) Rotate(t testing.TB) *section.SignedSAP {
	n := len(s.Elders)
	set, shares, err := bls.GenerateKeySet(n, peers.SuperMajority(n))
	if err != nil {
		t.Fatal(err)
	}
	cur := s.SAP()
	next := section.NewSAP(cur.Prefix, cur.Elders, set, cur.Generation+1)

	signed, err := section.SignSAP(next, s.Shares, n)
	if err != nil {
		t.Fatal(err)
	}
	s.Chain = append(s.Chain, *signed)
	s.Shares = shares

	return signed
}

// Knowledge returns a Knowledge holding the section, in memory.
func (s *Section) Knowledge(t testing.TB) *section.Knowledge {
	k := section.NewKnowledge(section.NewInmemStore(), nil)
	chain := append(section.Chain{}, s.Chain...)
	if err := k.Adopt(chain, s.Members, nil); err != nil {
		t.Fatal(err)
	}
	return k
}
