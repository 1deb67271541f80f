package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a section node: Joining, Relocating, Adult,
// Elder, or Shutdown
type State uint32

const (
	// Joining is a candidate that has not been approved yet.
	Joining State = iota
	// Relocating is a member moving to a new identity.
	Relocating
	// Adult is a member that is not an elder.
	Adult
	// Elder is a member of the current SAP holding a share of its key.
	Elder
	// Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Joining:
		return "Joining"
	case Relocating:
		return "Relocating"
	case Adult:
		return "Adult"
	case Elder:
		return "Elder"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (s *state) getState() State {
	stateAddr := (*uint32)(&s.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (s *state) setState(st State) {
	stateAddr := (*uint32)(&s.state)
	atomic.StoreUint32(stateAddr, uint32(st))
}

// goFunc starts f in a goroutine tracked by the waitgroup, unless WGLIMIT
// goroutines are already running.
func (s *state) goFunc(f func()) bool {
	if atomic.LoadInt32(&s.wgCount) >= WGLIMIT {
		return false
	}
	s.wg.Add(1)
	atomic.AddInt32(&s.wgCount, 1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt32(&s.wgCount, -1)
		f()
	}()
	return true
}

func (s *state) waitRoutines() {
	s.wg.Wait()
}
