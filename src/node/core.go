package node

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/config"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/dkg"
	"github.com/mosaicnetworks/sectionnet/src/join"
	"github.com/mosaicnetworks/sectionnet/src/membership"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/relocation"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// maxBuffered bounds the messages kept while waiting for knowledge.
const maxBuffered = 256

// Pinger checks that a candidate answers at its address.
type Pinger func(candidate peers.Peer) error

// Core is the protocol state machine of a node. It does no I/O: every
// handler returns the messages to send, and the Node takes care of the
// envelopes and the transport. Core is not safe for concurrent use; the
// Node serialises access with coreLock.
type Core struct {

	// validator is the identity the node currently runs under.
	validator *Validator

	conf  *config.Config
	clock clock.Clock

	// knowledge is the node's section chain, member states and the other
	// sections it has heard of.
	knowledge *section.Knowledge

	// engine accumulates the elders' votes on membership proposals.
	engine *membership.Engine

	// dkg runs the key generation sessions this node takes part in. It is
	// recreated whenever the identity changes.
	dkg *dkg.Manager

	// agePolicy and attempts are the elder side of the join handshake.
	agePolicy join.AgePolicy
	attempts  *join.Attempts

	// joiner is the candidate side of the join handshake, until approved.
	joiner *join.Coordinator

	// relocPolicy and tracker are the elder side of relocations, and
	// relocations the records of this node's own.
	relocPolicy relocation.Policy
	tracker     *relocation.Tracker
	relocations *relocation.Manager

	// shares are the section key shares this node holds, by key hex.
	shares map[string]*bls.KeyShare

	// started are the promotions this node asked for as a current elder,
	// by session key. failed marks those that ended in an agreement and
	// excluded collects the names those agreements blamed.
	started  map[string]dkg.SessionID
	failed   map[string]bool
	excluded map[peers.Name]bool

	// splits holds the signed halves of a split until both are.
	splits map[peers.Prefix]*section.SignedSAP

	// buffered holds messages that need knowledge this node is waiting
	// for.
	buffered []*net.Message

	ping    Pinger
	metrics *Metrics

	logger *logrus.Entry
}

// NewCore is a factory method that returns a new Core object
func NewCore(
	validator *Validator,
	conf *config.Config,
	knowledge *section.Knowledge,
	clk clock.Clock,
	ping Pinger,
	metrics *Metrics,
	logger *logrus.Entry,
) (*Core, error) {

	tracker, err := relocation.NewTracker(conf.CacheSize)
	if err != nil {
		return nil, err
	}

	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	core := &Core{
		validator: validator,
		conf:      conf,
		clock:     clk,
		knowledge: knowledge,
		engine:    membership.NewEngine(logger),
		agePolicy: join.AgePolicy{
			MinAdultAge:        conf.MinAdultAge,
			FirstSectionMaxAge: conf.FirstSectionMaxAge,
			FirstSectionRanged: conf.FirstSectionRanged,
		},
		attempts: join.NewAttempts(clk, conf.JoinTimeout, conf.MaxConcurrentJoins),
		relocPolicy: relocation.Policy{
			ElderCount:             conf.ElderCount,
			RecommendedSectionSize: conf.RecommendedSectionSize(),
		},
		tracker:     tracker,
		relocations: relocation.NewManager(clk, conf.RelocationTimeout, conf.RelocationRetries, logger),
		shares:      make(map[string]*bls.KeyShare),
		started:     make(map[string]dkg.SessionID),
		failed:      make(map[string]bool),
		excluded:    make(map[peers.Name]bool),
		splits:      make(map[peers.Prefix]*section.SignedSAP),
		ping:        ping,
		metrics:     metrics,
		logger:      logger,
	}

	core.dkg = core.newDkgManager()

	return core, nil
}

func (c *Core) newDkgManager() *dkg.Manager {
	return dkg.NewManager(c.validator.Peer(), c.validator.Key, c.clock, c.conf.DKGTimeout, c.logger)
}

// Genesis starts a new network: a one-elder section at generation 0 whose
// key this node holds alone.
func (c *Core) Genesis() error {
	set, shares, err := bls.GenerateKeySet(1, 1)
	if err != nil {
		return err
	}

	self := c.validator.Peer()

	sap := section.NewSAP("", []*peers.Peer{&self}, set, 0)
	signed, err := section.SignSAP(sap, shares, 1)
	if err != nil {
		return err
	}

	first, err := section.SignNodeState(&section.NodeState{Peer: self, State: section.Joined}, shares, 1)
	if err != nil {
		return err
	}

	if err := c.knowledge.Genesis(signed, first); err != nil {
		return err
	}
	c.shares[set.Hex()] = shares[0]

	c.updateGauges()

	c.logger.WithFields(logrus.Fields{
		"name": self.Name(),
		"key":  cm.ShortHex(set.PublicKey()),
		"age":  self.Age,
	}).Info("Genesis")

	return nil
}

// StartJoin begins the join handshake towards the section of contacts
// closest to this node's name.
// A join that timed out is replaced.
func (c *Core) StartJoin(contacts *peers.NetworkContacts) ([]net.Outgoing, error) {
	if contacts == nil {
		return nil, peers.ErrNoContactsAvailable
	}

	joiner := join.NewCoordinator(
		c.validator.Key,
		c.validator.Peer(),
		c.knowledge,
		c.clock,
		c.conf.JoinTimeout,
		c.logger,
	)
	out, err := joiner.Start(contacts)
	if err != nil {
		return nil, err
	}
	c.joiner = joiner
	return out, nil
}

// Leave asks the elders to vote this node out.
func (c *Core) Leave() ([]net.Outgoing, error) {
	snap := c.Snapshot()
	self := c.validator.Peer()
	name := self.Name()

	if !snap.IsActiveMember(name) {
		return nil, fmt.Errorf("%s is not a member", name)
	}

	sig, err := c.validator.Sign(name[:])
	if err != nil {
		return nil, err
	}
	req := &net.LeaveRequest{Peer: self, Signature: sig}

	out := []net.Outgoing{c.toElders(snap, req)}
	more, err := c.handleLeaveRequest(req)
	if err != nil {
		return out, err
	}
	return append(out, more...), nil
}

// HandleMessage processes a message from another node.
func (c *Core) HandleMessage(msg *net.Message) ([]net.Outgoing, error) {
	c.metrics.Messages.WithLabelValues(msg.Kind().String()).Inc()
	return c.process(msg)
}

func (c *Core) process(msg *net.Message) ([]net.Outgoing, error) {
	if c.joiner != nil {
		return c.processWhileJoining(msg)
	}

	var out []net.Outgoing

	if u := msg.Header.Update; u != nil {
		more, err := c.applyUpdate(u)
		if err != nil {
			c.logger.WithError(err).Debug("Applying attached update")
		}
		out = append(out, more...)
	}

	if c.behind(msg) {
		c.buffer(msg)
		return append(out, c.requestUpdate(msg.Header.Sender)), nil
	}

	more, err := c.dispatch(msg)
	return append(out, more...), err
}

func (c *Core) dispatch(msg *net.Message) ([]net.Outgoing, error) {
	from := msg.Header.Sender

	switch body := msg.Body.(type) {
	case *net.JoinRequest:
		return c.handleJoinRequest(body)
	case *net.JoinResponse:
		// Late answers to a join that already completed.
		return nil, nil
	case *net.JoinAsRelocatedRequest:
		return c.handleJoinAsRelocatedRequest(from, body)
	case *net.JoinAsRelocatedResponse:
		return c.handleJoinAsRelocatedResponse(from, body)
	case *net.RelocationNotification:
		return c.handleRelocationNotification(body)
	case *membership.Vote:
		return c.handleVote(body)
	case *dkg.Start:
		return c.handleDkgStart(body)
	case *dkg.Message:
		res, err := c.dkg.HandleMessage(body)
		if err != nil {
			return nil, err
		}
		return c.routeDkg(res)
	case *dkg.FailureObservation:
		res, err := c.dkg.HandleFailureObservation(body)
		if err != nil {
			return nil, err
		}
		return c.routeDkg(res)
	case *dkg.Agreement:
		return c.handleAgreement(body)
	case *net.AntiEntropyUpdate:
		return c.applyUpdate(body)
	case *net.AntiEntropyRequest:
		return c.handleUpdateRequest(from, body), nil
	case *net.LeaveRequest:
		return c.handleLeaveRequest(body)
	default:
		return nil, cm.NewProtocolErr("core", cm.ProtocolViolation, "unexpected %s", msg.Kind())
	}
}

// processWhileJoining hands join responses to the coordinator and keeps
// everything else until the node is approved.
func (c *Core) processWhileJoining(msg *net.Message) ([]net.Outgoing, error) {
	resp, ok := msg.Body.(*net.JoinResponse)
	if !ok {
		c.buffer(msg)
		return nil, nil
	}

	out, err := c.joiner.HandleResponse(msg.Header.Sender, resp)
	if err != nil {
		return nil, err
	}
	if c.joiner.State() != join.Approved {
		return out, nil
	}

	peer := c.joiner.Peer()
	c.validator.Reset(c.joiner.Key(), peer.Age)
	c.joiner = nil
	c.dkg = c.newDkgManager()

	c.updateGauges()

	return append(out, c.replay()...), nil
}

// Tick advances the timers of every state machine: join and relocation
// deadlines, expired join attempts and key generation timeouts.
func (c *Core) Tick() ([]net.Outgoing, []error) {
	if c.joiner != nil {
		if err := c.joiner.Tick(); err != nil {
			return nil, []error{err}
		}
		return nil, nil
	}

	var out []net.Outgoing
	var errs []error

	for _, a := range c.attempts.Reap() {
		c.logger.WithField("candidate", a.Candidate.Name()).Debug("Join attempt expired")
	}

	more, err := c.routeDkg(c.dkg.Tick())
	if err != nil {
		errs = append(errs, err)
	}
	out = append(out, more...)

	more, rerrs := c.relocations.Tick()
	out = append(out, more...)
	errs = append(errs, rerrs...)

	return out, errs
}

// Envelope wraps an outgoing body with this node's header.
func (c *Core) Envelope(o net.Outgoing) *net.Message {
	snap := c.Snapshot()

	header := net.Header{
		Sender:     c.self(),
		Prefix:     snap.Prefix(),
		Generation: snap.Generation(),
		SectionKey: snap.SectionKey(),
	}
	if o.WithUpdate && !snap.IsEmpty() {
		header.Update = &net.AntiEntropyUpdate{
			Chain:   snap.Chain,
			Members: snap.SignedMembers(),
		}
	}

	return net.NewMessage(header, o.Body)
}

// State derives the node's state from its knowledge and pending work.
func (c *Core) State() State {
	if c.joiner != nil {
		return Joining
	}
	if c.relocations.Len() > 0 {
		return Relocating
	}
	if c.isElder(c.Snapshot()) {
		return Elder
	}
	return Adult
}

// Snapshot ...
func (c *Core) Snapshot() *section.Snapshot {
	return c.knowledge.Snapshot()
}

// Validator ...
func (c *Core) Validator() *Validator {
	return c.validator
}

// JoinState returns the state of the candidate side of the join, if one is
// in progress.
func (c *Core) JoinState() (join.State, bool) {
	if c.joiner == nil {
		return 0, false
	}
	return c.joiner.State(), true
}

func (c *Core) self() peers.Peer {
	if c.joiner != nil {
		return c.joiner.Peer()
	}
	return c.validator.Peer()
}

// isElder is true when this node is an elder of the current SAP and holds
// its share of the section key.
func (c *Core) isElder(snap *section.Snapshot) bool {
	return snap.IsElder(c.validator.Name()) && c.currentShare(snap) != nil
}

func (c *Core) currentShare(snap *section.Snapshot) *bls.KeyShare {
	if snap.IsEmpty() {
		return nil
	}
	return c.shares[snap.SAP().SectionKeyHex()]
}

// others returns ps without this node.
func (c *Core) others(ps []*peers.Peer) []peers.Peer {
	self := c.validator.Name()
	res := make([]peers.Peer, 0, len(ps))
	for _, p := range ps {
		if p.Name() != self {
			res = append(res, *p)
		}
	}
	return res
}

func (c *Core) toElders(snap *section.Snapshot, body interface{}) net.Outgoing {
	var targets []peers.Peer
	if sap := snap.SAP(); sap != nil {
		targets = c.others(sap.Elders)
	}
	return net.Outgoing{Targets: targets, Body: body}
}

func (c *Core) buffer(msg *net.Message) {
	if len(c.buffered) >= maxBuffered {
		c.buffered = c.buffered[1:]
	}
	c.buffered = append(c.buffered, msg)
}

// replay processes the buffered messages again. Those that still cannot
// be handled are buffered anew.
func (c *Core) replay() []net.Outgoing {
	buffered := c.buffered
	c.buffered = nil

	var out []net.Outgoing
	for _, msg := range buffered {
		more, err := c.process(msg)
		if err != nil {
			c.logger.WithError(err).WithField("msg", msg.String()).Debug("Replaying message")
		}
		out = append(out, more...)
	}
	return out
}

func (c *Core) updateGauges() {
	snap := c.Snapshot()
	c.metrics.Generation.Set(float64(snap.Generation()))
	c.metrics.Members.Set(float64(len(snap.ActiveMembers())))
	if sap := snap.SAP(); sap != nil {
		c.metrics.Elders.Set(float64(len(sap.Elders)))
	}
}
