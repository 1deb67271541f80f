package join

import (
	"errors"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/resourceproof"
)

// ErrTooManyAttempts is returned when the elder already has as many
// pending joins as it accepts.
var ErrTooManyAttempts = errors.New("too many pending join attempts")

// AttemptState ...
type AttemptState uint8

const (
	// AttemptInitiated ...
	AttemptInitiated AttemptState = iota
	// AttemptChallengeSent ...
	AttemptChallengeSent
	// AttemptProofSubmitted ...
	AttemptProofSubmitted
	// AttemptAccepted ...
	AttemptAccepted
	// AttemptRejected ...
	AttemptRejected
)

// String ...
func (s AttemptState) String() string {
	switch s {
	case AttemptInitiated:
		return "Initiated"
	case AttemptChallengeSent:
		return "ChallengeSent"
	case AttemptProofSubmitted:
		return "ProofSubmitted"
	case AttemptAccepted:
		return "Accepted"
	case AttemptRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Attempt is an elder's record of a candidate it challenged.
type Attempt struct {
	Candidate peers.Peer
	Challenge resourceproof.Challenge
	State     AttemptState
	Started   time.Time
}

// Attempts is the table of an elder's pending join attempts, keyed by
// candidate name. A semaphore bounds how many may be pending at once.
type Attempts struct {
	clock    clock.Clock
	timeout  time.Duration
	sem      *semaphore.Weighted
	attempts map[peers.Name]*Attempt
}

// NewAttempts ...
func NewAttempts(clk clock.Clock, timeout time.Duration, maxPending int) *Attempts {
	if maxPending < 1 {
		maxPending = 1
	}
	return &Attempts{
		clock:    clk,
		timeout:  timeout,
		sem:      semaphore.NewWeighted(int64(maxPending)),
		attempts: make(map[peers.Name]*Attempt),
	}
}

// Start records a challenge sent to candidate. A candidate that already
// has an attempt keeps it and is sent the same challenge again.
func (a *Attempts) Start(candidate peers.Peer, challenge resourceproof.Challenge) (*Attempt, error) {
	name := candidate.Name()
	if existing, ok := a.attempts[name]; ok {
		return existing, nil
	}

	if !a.sem.TryAcquire(1) {
		return nil, ErrTooManyAttempts
	}

	attempt := &Attempt{
		Candidate: candidate,
		Challenge: challenge,
		State:     AttemptChallengeSent,
		Started:   a.clock.Now(),
	}
	a.attempts[name] = attempt

	return attempt, nil
}

// Get ...
func (a *Attempts) Get(name peers.Name) (*Attempt, bool) {
	attempt, ok := a.attempts[name]
	return attempt, ok
}

// SubmitProof checks a proof against the challenge issued to the candidate.
// A valid proof completes the attempt, which is removed and returned
// accepted. An invalid one leaves it pending until it is reaped.
func (a *Attempts) SubmitProof(name peers.Name, proof resourceproof.Proof) (*Attempt, error) {
	attempt, ok := a.attempts[name]
	if !ok {
		return nil, cm.NewProtocolErr("join", cm.ProtocolViolation, "no join attempt for %s", name)
	}

	attempt.State = AttemptProofSubmitted

	if err := resourceproof.Verify(attempt.Challenge, name, proof); err != nil {
		attempt.State = AttemptChallengeSent
		return nil, cm.NewProtocolErr("join", cm.ResourceProofFailure, "%s: %v", name, err)
	}

	attempt.State = AttemptAccepted
	a.remove(name)

	return attempt, nil
}

// Reap removes and returns, rejected, the attempts older than the timeout.
func (a *Attempts) Reap() []*Attempt {
	now := a.clock.Now()

	var reaped []*Attempt
	for name, attempt := range a.attempts {
		if now.Sub(attempt.Started) >= a.timeout {
			attempt.State = AttemptRejected
			reaped = append(reaped, attempt)
			a.remove(name)
		}
	}

	sort.Slice(reaped, func(i, j int) bool {
		return reaped[i].Candidate.Name().Less(reaped[j].Candidate.Name())
	})

	return reaped
}

// Clear drops every pending attempt. The challenges were issued under a
// section key that is no longer current.
func (a *Attempts) Clear() int {
	n := len(a.attempts)
	for name := range a.attempts {
		a.remove(name)
	}
	return n
}

// Len is the number of pending attempts.
func (a *Attempts) Len() int {
	return len(a.attempts)
}

func (a *Attempts) remove(name peers.Name) {
	delete(a.attempts, name)
	a.sem.Release(1)
}
