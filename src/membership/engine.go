package membership

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

var (
	// ErrConflictingProposal is returned for votes on a proposal whose
	// decision point already committed with other content.
	ErrConflictingProposal = errors.New("a conflicting proposal has already been decided")
	// ErrAlreadyDecided is returned for votes on a proposal that already
	// committed.
	ErrAlreadyDecided = errors.New("proposal already decided")
)

// tally collects the shares of one proposal under one authority.
type tally struct {
	proposal   Proposal
	authority  *section.SAP
	digest     []byte
	shares     map[peers.Name][]byte
	generation uint64
}

// decision is what the engine remembers of a committed proposal.
type decision struct {
	digest     []byte
	generation uint64
}

// Engine accumulates votes until proposals commit. It is not safe for
// concurrent use; the node's core is its only caller.
type Engine struct {
	// pending tallies by decision key, then digest and authority key
	pending map[string]map[string]*tally
	// decided by decision key, until the authority that decided is
	// replaced
	decided map[string]decision

	logger *logrus.Entry
}

// NewEngine ...
func NewEngine(logger *logrus.Entry) *Engine {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &Engine{
		pending: make(map[string]map[string]*tally),
		decided: make(map[string]decision),
		logger:  logger.WithField("prefix", "membership"),
	}
}

// AddVote records a vote cast by an elder of authority. It returns the
// Decision when this vote brings the proposal to a supermajority of the
// authority's elders, nil while it is still pending.
func (e *Engine) AddVote(vote *Vote, authority *section.SAP) (*Decision, error) {
	digest, err := vote.Proposal.Digest()
	if err != nil {
		return nil, cm.NewProtocolErr("membership", cm.ProtocolViolation, "%v", err)
	}

	if !bytes.Equal(vote.SectionKey, authority.SectionKey()) {
		return nil, cm.NewProtocolErr("membership", cm.StaleKnowledge,
			"vote under key %s, authority key is %s", cm.ShortHex(vote.SectionKey), authority.SectionKeyHex())
	}

	voter := vote.Voter.Name()
	index := authority.ElderIndex(voter)
	if index < 0 {
		return nil, cm.NewProtocolErr("membership", cm.ProtocolViolation, "%s is not an elder", voter)
	}
	if err := vote.Verify(); err != nil {
		return nil, cm.NewProtocolErr("membership", cm.ProtocolViolation, "%v", err)
	}

	shareIndex, err := bls.VerifyShare(authority.PublicKeySet, digest, vote.SigShare)
	if err != nil {
		return nil, cm.NewProtocolErr("membership", cm.ProtocolViolation, "invalid share from %s: %v", voter, err)
	}
	if shareIndex != index {
		return nil, cm.NewProtocolErr("membership", cm.ProtocolViolation,
			"%s signed with share %d, expected %d", voter, shareIndex, index)
	}

	key := vote.Proposal.DecisionKey()

	if d, ok := e.decided[key]; ok {
		if bytes.Equal(d.digest, digest) {
			return nil, ErrAlreadyDecided
		}
		return nil, ErrConflictingProposal
	}

	byDigest, ok := e.pending[key]
	if !ok {
		byDigest = make(map[string]*tally)
		e.pending[key] = byDigest
	}

	tallyKey := string(digest) + string(authority.SectionKey())
	t, ok := byDigest[tallyKey]
	if !ok {
		t = &tally{
			proposal:   vote.Proposal,
			authority:  authority,
			digest:     digest,
			shares:     make(map[peers.Name][]byte),
			generation: authority.Generation,
		}
		byDigest[tallyKey] = t
	}

	if _, ok := t.shares[voter]; ok {
		return nil, nil
	}
	t.shares[voter] = vote.SigShare

	needed := Threshold(authority)

	e.logger.WithFields(logrus.Fields{
		"proposal": vote.Proposal.String(),
		"voter":    voter,
		"votes":    len(t.shares),
		"needed":   needed,
	}).Debug("Vote")

	if len(t.shares) < needed {
		return nil, nil
	}

	return e.commit(key, t)
}

func (e *Engine) commit(key string, t *tally) (*Decision, error) {
	voters := make([]peers.Name, 0, len(t.shares))
	shares := make([][]byte, 0, len(t.shares))
	for n := range t.shares {
		voters = append(voters, n)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i].Less(voters[j]) })
	for _, n := range voters {
		shares = append(shares, t.shares[n])
	}

	sig, err := bls.Aggregate(t.authority.PublicKeySet, t.digest, shares, len(t.authority.Elders))
	if err != nil {
		return nil, fmt.Errorf("aggregating %s: %w", key, err)
	}

	e.decided[key] = decision{digest: t.digest, generation: t.generation}
	delete(e.pending, key)

	e.logger.WithFields(logrus.Fields{
		"proposal": t.proposal.String(),
		"voters":   len(voters),
	}).Info("Decided")

	return &Decision{
		Proposal:   t.proposal,
		Signature:  sig,
		SectionKey: t.authority.SectionKey(),
		Voters:     voters,
	}, nil
}

// IsDecided reports whether the proposal's decision point has committed.
func (e *Engine) IsDecided(p *Proposal) bool {
	_, ok := e.decided[p.DecisionKey()]
	return ok
}

// PendingCount is the number of decision points with uncommitted votes.
func (e *Engine) PendingCount() int {
	return len(e.pending)
}

// DecidedCount is the number of committed decision points still
// remembered.
func (e *Engine) DecidedCount() int {
	return len(e.decided)
}

// DropPending discards the votes cast by authorities older than
// generation, and forgets what those authorities decided. Their elders
// have been replaced, so the proposals must be raised again under the new
// authority if still relevant, and late votes under their keys are
// answered with the newer links instead of being counted.
func (e *Engine) DropPending(generation uint64) int {
	for key, d := range e.decided {
		if d.generation < generation {
			delete(e.decided, key)
		}
	}

	dropped := 0
	for key, byDigest := range e.pending {
		for tk, t := range byDigest {
			if t.generation < generation {
				delete(byDigest, tk)
				dropped++
			}
		}
		if len(byDigest) == 0 {
			delete(e.pending, key)
		}
	}
	return dropped
}

// Threshold is the number of votes of authority's elders that commits a
// proposal: a supermajority, and never fewer than the key set needs.
func Threshold(authority *section.SAP) int {
	needed := peers.SuperMajority(len(authority.Elders))
	if t := authority.PublicKeySet.Threshold(); t > needed {
		needed = t
	}
	return needed
}
