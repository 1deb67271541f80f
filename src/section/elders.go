package section

import (
	"sort"

	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// ElderCandidates returns the count oldest active members, ties broken by
// name, leaving out the excluded names.
func ElderCandidates(members []NodeState, count int, excluded map[peers.Name]bool) []*peers.Peer {
	var active []NodeState
	for _, m := range members {
		if m.State != Joined || excluded[m.Name()] {
			continue
		}
		active = append(active, m)
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].Age() != active[j].Age() {
			return active[i].Age() > active[j].Age()
		}
		return active[i].Name().Less(active[j].Name())
	})

	if len(active) > count {
		active = active[:count]
	}

	res := make([]*peers.Peer, len(active))
	for i := range active {
		p := active[i].Peer
		res[i] = &p
	}

	return peers.NewPeerSet(res).Peers
}
