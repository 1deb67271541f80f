package relocation

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// ChurnID identifies a churn event. It is the section signature over the
// decision that caused it.
type ChurnID []byte

// String ...
func (c ChurnID) String() string {
	if len(c) < 3 {
		return fmt.Sprintf("Churn-%x", []byte(c))
	}
	return fmt.Sprintf("Churn-%x..", []byte(c[:3]))
}

// TrailingZeros counts the zero bits at the end of b.
func TrailingZeros(b []byte) int {
	n := 0
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0 {
			return n + bits.TrailingZeros8(b[i])
		}
		n += 8
	}
	return n
}

// Check reports whether a member of the given age is due for relocation on
// the churn event.
func Check(age uint8, churn ChurnID) bool {
	return TrailingZeros(churn) >= int(age)
}

// Dst is where the member called name is sent on the churn event.
func Dst(name peers.Name, churn ChurnID) peers.Name {
	return peers.NameFromContent(name[:], churn)
}

// Policy bounds how many members are relocated at once.
type Policy struct {
	ElderCount int
	// RecommendedSectionSize is the member count under which nobody is
	// relocated. Zero means twice the elder count.
	RecommendedSectionSize int
}

func (p Policy) recommended() int {
	if p.RecommendedSectionSize > 0 {
		return p.RecommendedSectionSize
	}
	return 2 * p.ElderCount
}

// Allowed is the number of members that may be relocated from a section of
// the given size.
func (p Policy) Allowed(members int) int {
	if members < p.recommended() {
		return 0
	}
	allowed := members - p.recommended()
	if limit := p.ElderCount / 2; allowed > limit {
		allowed = limit
	}
	return allowed
}

// FindRelocations returns the Relocated states to vote for on a churn
// event. Only the oldest due members are chosen, closest first to the hash
// of the churn id. Elders and the excluded names are never chosen.
func FindRelocations(
	snap *section.Snapshot,
	churn ChurnID,
	excluded map[peers.Name]bool,
	policy Policy,
) []section.NodeState {
	members := snap.ActiveMembers()

	allowed := policy.Allowed(len(members))
	if allowed == 0 {
		return nil
	}

	var candidates []section.NodeState
	for _, m := range members {
		name := m.Name()
		if excluded[name] || snap.IsElder(name) || !Check(m.Age(), churn) {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil
	}

	var maxAge uint8
	for _, c := range candidates {
		if c.Age() > maxAge {
			maxAge = c.Age()
		}
	}

	target := peers.NameFromContent(churn)
	sort.Slice(candidates, func(i, j int) bool {
		return target.CmpDistance(candidates[i].Name(), candidates[j].Name()) < 0
	})

	var res []section.NodeState
	for _, c := range candidates {
		if c.Age() != maxAge {
			continue
		}
		res = append(res, relocated(snap, c, churn))
		if len(res) == allowed {
			break
		}
	}

	return res
}

func relocated(snap *section.Snapshot, member section.NodeState, churn ChurnID) section.NodeState {
	name := member.Name()
	dst := Dst(name, churn)

	dstKey := snap.GenesisKey()
	if sap := snap.SectionFor(dst); sap != nil {
		dstKey = sap.SAP.SectionKey()
	}

	age := member.Age()
	if age < 255 {
		age++
	}

	return section.NodeState{
		Peer:  member.Peer,
		State: section.Relocated,
		Relocate: &section.RelocateDetails{
			PreviousName:  name,
			Dst:           dst,
			DstSectionKey: dstKey,
			Age:           age,
		},
	}
}
