package section

import (
	"fmt"
	"sort"
	"sync"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// InmemStore keeps everything in memory. It is the default when persistence
// is off, and the read cache of the durable stores.
type InmemStore struct {
	sync.RWMutex
	chain   Chain
	members map[peers.Name]SignedNodeState
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		members: make(map[peers.Name]SignedNodeState),
	}
}

// AppendSAP implements the Store interface.
func (s *InmemStore) AppendSAP(link *SignedSAP) error {
	s.Lock()
	defer s.Unlock()

	if n := len(s.chain); n > 0 {
		last := s.chain[n-1].SAP.Generation
		if link.SAP.Generation <= last {
			return cm.NewStoreErr("Chain", cm.KeyAlreadyExists, fmt.Sprint(link.SAP.Generation))
		}
		if link.SAP.Generation != last+1 {
			return cm.NewStoreErr("Chain", cm.BrokenChain, fmt.Sprint(link.SAP.Generation))
		}
	}

	s.chain = append(s.chain, *link)

	return nil
}

// Chain implements the Store interface.
func (s *InmemStore) Chain() (Chain, error) {
	s.RLock()
	defer s.RUnlock()

	if len(s.chain) == 0 {
		return nil, cm.NewStoreErr("Chain", cm.Empty, "")
	}

	return append(Chain{}, s.chain...), nil
}

// SetMember implements the Store interface.
func (s *InmemStore) SetMember(state *SignedNodeState) error {
	s.Lock()
	defer s.Unlock()

	s.members[state.NodeState.Name()] = *state

	return nil
}

// Members implements the Store interface. Members are sorted by name.
func (s *InmemStore) Members() ([]SignedNodeState, error) {
	s.RLock()
	defer s.RUnlock()

	res := make([]SignedNodeState, 0, len(s.members))
	for _, m := range s.members {
		res = append(res, m)
	}
	sortStates(res)

	return res, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}

func sortStates(states []SignedNodeState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].NodeState.Name().Less(states[j].NodeState.Name())
	})
}
