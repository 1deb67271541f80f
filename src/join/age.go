package join

import (
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

const (
	// DefaultMinAdultAge is the age of a node joining a split section.
	DefaultMinAdultAge uint8 = 5
	// DefaultFirstSectionMaxAge is the age of the first node to join the
	// genesis section.
	DefaultFirstSectionMaxAge uint8 = 100
)

// AgePolicy computes the age a candidate is expected to join at.
type AgePolicy struct {
	MinAdultAge        uint8
	FirstSectionMaxAge uint8
	// FirstSectionRanged gives the nodes joining the genesis section
	// decreasing ages, two less per member already there, so the earliest
	// ones stay elders for longest.
	FirstSectionRanged bool
}

// DefaultAgePolicy ...
func DefaultAgePolicy() AgePolicy {
	return AgePolicy{
		MinAdultAge:        DefaultMinAdultAge,
		FirstSectionMaxAge: DefaultFirstSectionMaxAge,
		FirstSectionRanged: true,
	}
}

// ExpectedAge returns the age for a candidate joining a section with the
// given prefix and number of active members.
func (p AgePolicy) ExpectedAge(prefix peers.Prefix, memberCount int) uint8 {
	if !p.FirstSectionRanged || !prefix.IsEmpty() {
		return p.MinAdultAge
	}

	step := 2 * memberCount
	if step >= int(p.FirstSectionMaxAge) {
		return p.MinAdultAge
	}

	age := p.FirstSectionMaxAge - uint8(step)
	if age < p.MinAdultAge {
		return p.MinAdultAge
	}
	return age
}
