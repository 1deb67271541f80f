package section_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
	"github.com/mosaicnetworks/sectionnet/src/section/sectiontest"
)

// statesByBit returns Joined states until there are at least n whose first
// name bit is 0 and n whose first name bit is 1.
func statesByBit(t *testing.T, n int) (all, zero, one []section.NodeState) {
	for i := 0; len(zero) < n || len(one) < n; i++ {
		node := sectiontest.NewNode(t, uint8(5+i%3), fmt.Sprintf("node%d", i))
		s := section.NodeState{Peer: *node.Peer, State: section.Joined}
		all = append(all, s)
		if node.Name().Bit(0) == 0 {
			zero = append(zero, s)
		} else {
			one = append(one, s)
		}
	}
	return all, zero, one
}

func TestPartition(t *testing.T) {
	all, zero, one := statesByBit(t, 2)

	left := all[0]
	left.State = section.Left
	members := append([]section.NodeState{left}, all[1:]...)

	gotZero, gotOne := section.Partition("", members)
	assert.Len(t, gotZero, len(zero)-boolInt(left.Name().Bit(0) == 0))
	assert.Len(t, gotOne, len(one)-boolInt(left.Name().Bit(0) == 1))
	for _, m := range gotZero {
		assert.True(t, peers.Prefix("0").Matches(m.Name()))
	}
	for _, m := range gotOne {
		assert.True(t, peers.Prefix("1").Matches(m.Name()))
	}

	// Under a prefix, members outside it are left out and the next bit
	// decides.
	z, o := section.Partition("0", all)
	assert.Equal(t, len(zero), len(z)+len(o))
	for _, m := range z {
		assert.True(t, peers.Prefix("00").Matches(m.Name()))
	}
	for _, m := range o {
		assert.True(t, peers.Prefix("01").Matches(m.Name()))
	}
}

func TestSplitCandidates(t *testing.T) {
	all, zero, one := statesByBit(t, 3)

	z, o, ok := section.SplitCandidates("", all, 3, 2, nil)
	require.True(t, ok)
	assert.Len(t, z, 2)
	assert.Len(t, o, 2)
	for _, p := range z {
		assert.True(t, peers.Prefix("0").Matches(p.Name()))
	}
	for _, p := range o {
		assert.True(t, peers.Prefix("1").Matches(p.Name()))
	}
	assert.True(t, peers.NewPeerSet(z).Equal(peers.NewPeerSet(section.ElderCandidates(zero, 2, nil))))
	assert.True(t, peers.NewPeerSet(o).Equal(peers.NewPeerSet(section.ElderCandidates(one, 2, nil))))

	// The smaller half is under the minimum size.
	smaller := len(zero)
	if len(one) < smaller {
		smaller = len(one)
	}
	_, _, ok = section.SplitCandidates("", all, smaller+1, 2, nil)
	assert.False(t, ok)

	// Excluding every member of a half leaves it without candidates.
	excluded := make(map[peers.Name]bool)
	for _, m := range one {
		excluded[m.Name()] = true
	}
	_, _, ok = section.SplitCandidates("", all, 3, 2, excluded)
	assert.False(t, ok)

	_, _, ok = section.SplitCandidates("", all, 0, 2, nil)
	assert.False(t, ok)
}

func TestAddSectionIgnoresAncestors(t *testing.T) {
	s := sectiontest.NewSection(t, 4, 10)
	k := s.Knowledge(t)

	// A SAP for this very prefix is this section's own business.
	added, err := k.AddSection(s.Chain.Last())
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, k.Snapshot().Sections)

	other := sectiontest.NewSection(t, 3, 10)
	signed := rePrefixed(t, other, "1")

	added, err = k.AddSection(signed)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Contains(t, k.Snapshot().Sections, peers.Prefix("1"))
}

// rePrefixed signs a copy of s's SAP under prefix with s's own key.
func rePrefixed(t *testing.T, s *sectiontest.Section, prefix peers.Prefix) *section.SignedSAP {
	sap := *s.SAP()
	sap.Prefix = prefix
	signed, err := section.SignSAP(&sap, s.Shares, len(s.Shares))
	require.NoError(t, err)
	return signed
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
