package dkg

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// State of a Session.
type State uint8

const (
	// Started sessions have sent their opening messages.
	Started State = iota
	// Rounds sessions have received at least one message.
	Rounds
	// Succeeded sessions hold their key share.
	Succeeded
	// Failed sessions were declared stalled by too many participants.
	Failed
)

// String ...
func (s State) String() string {
	switch s {
	case Started:
		return "Started"
	case Rounds:
		return "Rounds"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Session is this node's side of one key generation.
type Session struct {
	ID       SessionID
	Index    int
	State    State
	Started  time.Time
	KeyShare *bls.KeyShare

	keyGen   bls.KeyGen
	observed bool
}

// active sessions still expect messages.
func (s *Session) active() bool {
	return s.State == Started || s.State == Rounds
}

// missing maps the key generation's missing indexes to names.
func (s *Session) missing() []peers.Name {
	var res []peers.Name
	for _, i := range s.keyGen.Missing() {
		if i >= 0 && i < len(s.ID.Elders) {
			res = append(res, s.ID.Elders[i].Name())
		}
	}
	return res
}
