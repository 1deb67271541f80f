package section

import (
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// Partition divides the active members under prefix by the bit that
// follows it.
func Partition(prefix peers.Prefix, members []NodeState) (zero, one []NodeState) {
	bit := prefix.BitCount()
	for _, m := range members {
		if m.State != Joined || !prefix.Matches(m.Name()) {
			continue
		}
		if m.Name().Bit(bit) == 0 {
			zero = append(zero, m)
		} else {
			one = append(one, m)
		}
	}
	return zero, one
}

// SplitCandidates returns the elder candidates of both children of prefix,
// once each child has at least minSize active members.
func SplitCandidates(
	prefix peers.Prefix,
	members []NodeState,
	minSize int,
	elderCount int,
	excluded map[peers.Name]bool,
) (zero, one []*peers.Peer, ok bool) {

	if minSize < 1 || prefix.BitCount() >= peers.NameLen*8 {
		return nil, nil, false
	}

	zeroMembers, oneMembers := Partition(prefix, members)
	if len(zeroMembers) < minSize || len(oneMembers) < minSize {
		return nil, nil, false
	}

	zero = ElderCandidates(zeroMembers, elderCount, excluded)
	one = ElderCandidates(oneMembers, elderCount, excluded)
	if len(zero) == 0 || len(one) == 0 {
		return nil, nil, false
	}

	return zero, one, true
}
