package join

import (
	"bytes"
	"crypto/ecdsa"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/resourceproof"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// DefaultJoinTimeout is how long a candidate waits to be approved.
const DefaultJoinTimeout = 60 * time.Second

// State is the state of the candidate side of a join.
type State uint8

const (
	// AwaitingSection ...
	AwaitingSection State = iota
	// Initiated ...
	Initiated
	// ChallengeReceived ...
	ChallengeReceived
	// ProofSubmitted ...
	ProofSubmitted
	// Approved ...
	Approved
	// TimedOut ...
	TimedOut
)

// String ...
func (s State) String() string {
	switch s {
	case AwaitingSection:
		return "AwaitingSection"
	case Initiated:
		return "Initiated"
	case ChallengeReceived:
		return "ChallengeReceived"
	case ProofSubmitted:
		return "ProofSubmitted"
	case Approved:
		return "Approved"
	case TimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Coordinator drives a candidate through the join handshake. Every method
// returns the messages to send; the coordinator does no I/O. It is not safe
// for concurrent use.
type Coordinator struct {
	key     *ecdsa.PrivateKey
	peer    peers.Peer
	clock   clock.Clock
	timeout time.Duration

	knowledge  *section.Knowledge
	trustedKey []byte

	state      State
	elders     []peers.Peer
	prefix     peers.Prefix
	sectionKey []byte
	generation uint64
	deadline   time.Time

	logger *logrus.Entry
}

// NewCoordinator prepares a join for the identity (key, peer). Once
// approved, the section's knowledge is adopted into knowledge.
func NewCoordinator(
	key *ecdsa.PrivateKey,
	peer peers.Peer,
	knowledge *section.Knowledge,
	clk clock.Clock,
	timeout time.Duration,
	logger *logrus.Entry,
) *Coordinator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}
	return &Coordinator{
		key:       key,
		peer:      peer,
		knowledge: knowledge,
		clock:     clk,
		timeout:   timeout,
		state:     AwaitingSection,
		logger:    logger.WithField("prefix", "join"),
	}
}

// State ...
func (c *Coordinator) State() State {
	return c.state
}

// Key returns the candidate's current key. It changes when an elder asks
// for another age.
func (c *Coordinator) Key() *ecdsa.PrivateKey {
	return c.key
}

// Peer returns the candidate's current identity.
func (c *Coordinator) Peer() peers.Peer {
	return c.peer
}

// Start resolves the section closest to the candidate's name and sends it
// an Initiate.
func (c *Coordinator) Start(contacts *peers.NetworkContacts) ([]net.Outgoing, error) {
	if c.state != AwaitingSection {
		return nil, cm.NewProtocolErr("join", cm.ProtocolViolation, "join already started (%s)", c.state)
	}

	contact, err := contacts.Closest(c.peer.Name())
	if err != nil {
		return nil, err
	}

	if contacts.GenesisKey != "" {
		if c.trustedKey, err = cm.DecodeFromString(contacts.GenesisKey); err != nil {
			return nil, err
		}
	}

	sectionKey, err := cm.DecodeFromString(contact.SectionKey)
	if err != nil {
		return nil, err
	}

	c.target(contact.Prefix, contact.Elders, sectionKey, contact.Generation)
	c.resetDeadline()

	c.logger.WithFields(logrus.Fields{
		"name":    c.peer.Name(),
		"section": contact.Prefix,
		"elders":  len(contact.Elders),
	}).Info("Joining")

	return c.initiate(), nil
}

// HandleResponse processes an elder's answer.
func (c *Coordinator) HandleResponse(from peers.Peer, resp *net.JoinResponse) ([]net.Outgoing, error) {
	switch c.state {
	case AwaitingSection, Approved, TimedOut:
		return nil, nil
	}

	switch resp.Kind {
	case net.Redirect:
		return c.handleRedirect(resp)
	case net.Retry:
		return c.handleRetry(resp)
	case net.ResourceChallenge:
		return c.handleChallenge(from, resp)
	case net.Approved:
		return nil, c.handleApproved(resp)
	default:
		return nil, cm.NewProtocolErr("join", cm.ProtocolViolation, "unexpected response %s", resp.Kind)
	}
}

// Tick moves the join to TimedOut once its deadline has passed, and then
// returns a JoinTimeout error.
func (c *Coordinator) Tick() error {
	switch c.state {
	case AwaitingSection, Approved, TimedOut:
		return nil
	}
	if c.clock.Now().Before(c.deadline) {
		return nil
	}

	c.state = TimedOut
	c.logger.WithField("name", c.peer.Name()).Warn("Join timed out")

	return cm.NewProtocolErr("join", cm.JoinTimeout, "not approved after %s", c.timeout)
}

func (c *Coordinator) handleRedirect(resp *net.JoinResponse) ([]net.Outgoing, error) {
	sap, err := verifiedSAP(resp)
	if err != nil {
		return nil, err
	}
	if !sap.SAP.Prefix.Matches(c.peer.Name()) {
		return nil, cm.NewProtocolErr("join", cm.ProtocolViolation, "redirected to %s which does not match %s", sap.SAP.Prefix, c.peer.Name())
	}
	if bytes.Equal(sap.SAP.SectionKey(), c.sectionKey) {
		return nil, nil
	}
	if sap.SAP.Prefix == c.prefix && sap.SAP.Generation <= c.generation {
		return nil, nil
	}

	c.logger.WithField("section", sap.SAP.Prefix).Debug("Redirected")

	c.target(sap.SAP.Prefix, sap.SAP.Elders, sap.SAP.SectionKey(), sap.SAP.Generation)
	c.resetDeadline()

	return c.initiate(), nil
}

func (c *Coordinator) handleRetry(resp *net.JoinResponse) ([]net.Outgoing, error) {
	sap, err := verifiedSAP(resp)
	if err != nil {
		return nil, err
	}

	// An elder that lags behind the target cannot move the candidate back.
	newAge := resp.ExpectedAge != nil && *resp.ExpectedAge != c.peer.Age
	newer := sap.SAP.Generation > c.generation
	if !newAge && !newer {
		return nil, nil
	}

	if newAge {
		if err := c.regenerate(*resp.ExpectedAge); err != nil {
			return nil, err
		}
	}

	c.logger.WithFields(logrus.Fields{
		"age":        c.peer.Age,
		"generation": sap.SAP.Generation,
	}).Debug("Retrying")

	if newer {
		c.target(sap.SAP.Prefix, sap.SAP.Elders, sap.SAP.SectionKey(), sap.SAP.Generation)
	} else {
		c.state = Initiated
	}

	return c.initiate(), nil
}

func (c *Coordinator) handleChallenge(from peers.Peer, resp *net.JoinResponse) ([]net.Outgoing, error) {
	if resp.Challenge == nil {
		return nil, cm.NewProtocolErr("join", cm.ProtocolViolation, "challenge missing")
	}
	if !c.isTarget(from.Name()) || resp.Challenge.Elder != from.Name() {
		return nil, cm.NewProtocolErr("join", cm.ProtocolViolation, "challenge from %s, not a target elder", from.Name())
	}

	c.state = ChallengeReceived

	proof := resourceproof.Solve(*resp.Challenge, c.peer.Name())

	c.state = ProofSubmitted

	return []net.Outgoing{{
		Targets: []peers.Peer{from},
		Body: &net.JoinRequest{
			Kind:       net.SubmitResourceProof,
			Candidate:  c.peer,
			SectionKey: c.sectionKey,
			Proof:      &proof,
		},
	}}, nil
}

func (c *Coordinator) handleApproved(resp *net.JoinResponse) error {
	approval := resp.Approval
	if approval == nil || approval.NodeState.Name() != c.peer.Name() || approval.NodeState.State != section.Joined {
		return cm.NewProtocolErr("join", cm.ProtocolViolation, "approval is not for %s", c.peer.Name())
	}
	if len(resp.Chain) == 0 || !resp.Chain.HasKey(approval.SectionKey) {
		return cm.NewProtocolErr("join", cm.ProtocolViolation, "approval signed by a key outside the chain")
	}
	if err := approval.Verify(); err != nil {
		return cm.NewProtocolErr("join", cm.ProtocolViolation, "approval: %v", err)
	}

	if err := c.knowledge.Adopt(resp.Chain, resp.Members, c.trustedKey); err != nil {
		return err
	}
	if _, err := c.knowledge.UpdateMember(approval); err != nil {
		return err
	}

	c.state = Approved
	c.logger.WithFields(logrus.Fields{
		"name":       c.peer.Name(),
		"section":    resp.Chain.Last().SAP.Prefix,
		"generation": resp.Chain.Last().SAP.Generation,
	}).Info("Joined")

	return nil
}

func (c *Coordinator) regenerate(age uint8) error {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return err
	}
	c.key = key
	c.peer = *peers.NewPeer(keys.PublicKeyHex(&key.PublicKey), c.peer.NetAddr, age, c.peer.Moniker)
	return nil
}

func (c *Coordinator) target(prefix peers.Prefix, elders []*peers.Peer, sectionKey []byte, generation uint64) {
	c.prefix = prefix
	c.sectionKey = sectionKey
	c.generation = generation
	c.elders = c.elders[:0]
	for _, e := range elders {
		c.elders = append(c.elders, *e)
	}
	c.state = Initiated
}

func (c *Coordinator) isTarget(name peers.Name) bool {
	for _, e := range c.elders {
		if e.Name() == name {
			return true
		}
	}
	return false
}

func (c *Coordinator) resetDeadline() {
	c.deadline = c.clock.Now().Add(c.timeout)
}

func (c *Coordinator) initiate() []net.Outgoing {
	return []net.Outgoing{{
		Targets: append([]peers.Peer{}, c.elders...),
		Body: &net.JoinRequest{
			Kind:       net.Initiate,
			Candidate:  c.peer,
			SectionKey: c.sectionKey,
		},
	}}
}

func verifiedSAP(resp *net.JoinResponse) (*section.SignedSAP, error) {
	if resp.SAP == nil {
		return nil, cm.NewProtocolErr("join", cm.ProtocolViolation, "%s without a SAP", resp.Kind)
	}
	if err := resp.SAP.Verify(); err != nil {
		return nil, cm.NewProtocolErr("join", cm.ProtocolViolation, "%s: %v", resp.Kind, err)
	}
	return resp.SAP, nil
}
