package relocation

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// DefaultCacheSize is the number of relocated-in names an elder remembers.
const DefaultCacheSize = 5000

// Tracker is an elder's view of relocations: the members it proposed to
// move out in the current generation, and the previous names of the nodes
// it admitted in.
type Tracker struct {
	generation uint64
	proposed   map[peers.Name]bool

	admitted *lru.Cache[peers.Name, peers.Name]
}

// NewTracker ...
func NewTracker(cacheSize int) (*Tracker, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	admitted, err := lru.New[peers.Name, peers.Name](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		proposed: make(map[peers.Name]bool),
		admitted: admitted,
	}, nil
}

// Propose filters out the members already proposed for relocation in this
// generation and records the rest.
func (t *Tracker) Propose(states []section.NodeState, generation uint64) []section.NodeState {
	if generation != t.generation {
		t.generation = generation
		t.proposed = make(map[peers.Name]bool)
	}

	var res []section.NodeState
	for _, s := range states {
		name := s.Name()
		if t.proposed[name] {
			continue
		}
		t.proposed[name] = true
		res = append(res, s)
	}
	return res
}

// Admit records that previous joined again as name.
func (t *Tracker) Admit(previous, name peers.Name) {
	t.admitted.Add(previous, name)
}

// Admitted returns the name previous was admitted under, if any.
func (t *Tracker) Admitted(previous peers.Name) (peers.Name, bool) {
	return t.admitted.Get(previous)
}
