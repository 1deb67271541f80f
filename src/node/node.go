package node

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/config"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// outboxSize bounds the envelopes waiting for the transport.
const outboxSize = 1024

// envelope is a message ready to go out, with its recipients.
type envelope struct {
	targets []peers.Peer
	msg     *net.Message
}

// Node defines a section node
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	core     *Core
	coreLock sync.Mutex

	trans net.Transport
	netCh <-chan net.RPC

	contacts *peers.JSONContacts
	registry *prometheus.Registry

	// joinContacts are the contacts the current join started from.
	joinContacts *peers.NetworkContacts

	clock clock.Clock

	outboxCh   chan envelope
	sigintCh   chan os.Signal
	shutdownCh chan struct{}

	start time.Time

	// sectionKey is the key of the SAP last written to the contacts file.
	sectionKey string
}

// NewNode is a factory method that returns a Node instance
func NewNode(
	conf *config.Config,
	validator *Validator,
	knowledge *section.Knowledge,
	trans net.Transport,
	clk clock.Clock,
) (*Node, error) {

	if clk == nil {
		clk = clock.New()
	}

	logger := conf.Logger().WithField("moniker", validator.Moniker)

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	ping := func(candidate peers.Peer) error {
		return trans.Ping(candidate.NetAddr, conf.PingTimeout)
	}

	core, err := NewCore(validator, conf, knowledge, clk, ping, metrics, logger)
	if err != nil {
		return nil, err
	}

	//Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	node := Node{
		conf:       conf,
		logger:     logger,
		core:       core,
		trans:      trans,
		netCh:      trans.Consumer(),
		contacts:   peers.NewJSONContacts(conf.DataDir),
		registry:   registry,
		clock:      clk,
		outboxCh:   make(chan envelope, outboxSize),
		sigintCh:   sigintCh,
		shutdownCh: make(chan struct{}),
		start:      clk.Now(),
	}

	return &node, nil
}

// Init loads the node's knowledge. A bootstrapping node resumes from its
// store, a genesis node starts a new network, and any other node starts
// joining the section closest to its name in the contacts file.
func (n *Node) Init() error {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	var out []net.Outgoing

	switch {
	case n.conf.Bootstrap:
		n.logger.Debug("Bootstrap")
		if err := n.core.knowledge.Bootstrap(); err != nil {
			return err
		}
		name := n.core.validator.Name()
		if !n.core.Snapshot().IsActiveMember(name) {
			return fmt.Errorf("%s is not a member of the persisted section", name)
		}
		n.core.updateGauges()
	case n.conf.Genesis:
		n.logger.Debug("Genesis")
		if err := n.core.Genesis(); err != nil {
			return err
		}
	default:
		contacts, err := n.contacts.Contacts()
		if err != nil {
			return fmt.Errorf("reading %s: %w", n.contacts.Path(), err)
		}
		n.logger.WithField("sections", len(contacts.Sections)).Debug("Joining")
		out, err = n.core.StartJoin(contacts)
		if err != nil {
			return err
		}
		n.joinContacts = contacts
	}

	n.setState(n.core.State())
	n.writeContacts()

	n.enqueue(n.envelopes(out))

	return nil
}

// RunAsync calls Run in a separate goroutine
func (n *Node) RunAsync() {
	n.logger.Debug("RunAsync")
	go n.Run()
}

// Run invokes the main loop of the node. Messages are handled one at a time
// in the order they arrive, and timers are advanced on every tick. Run
// returns once the node is shut down.
func (n *Node) Run() {
	n.goFunc(n.sendRoutine)

	ticker := n.clock.Ticker(n.conf.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case rpc := <-n.netCh:
			rpc.Respond(nil)
			n.processMessage(rpc.Message)
		case <-ticker.C:
			n.tick()
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT - LEAVE")
			n.Leave()
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) processMessage(msg *net.Message) {
	n.coreLock.Lock()
	out, err := n.core.HandleMessage(msg)
	envs := n.envelopes(out)
	n.afterEvent()
	n.coreLock.Unlock()

	if err != nil {
		entry := n.logger.WithError(err).WithField("msg", msg.String())
		var pErr cm.ProtocolErr
		if errors.As(err, &pErr) {
			entry.Debug("Message refused")
		} else {
			entry.Error("Processing message")
		}
	}

	n.enqueue(envs)
}

func (n *Node) tick() {
	n.coreLock.Lock()
	out, errs := n.core.Tick()
	envs := n.envelopes(out)
	n.afterEvent()
	n.coreLock.Unlock()

	n.enqueue(envs)

	timedOut := false
	for _, err := range errs {
		if cm.IsProtocol(err, cm.JoinTimeout) {
			timedOut = true
		}
		n.logger.WithError(err).Warn("Tick")
	}

	if timedOut {
		n.rejoin()
	}
}

// rejoin starts a new join after one timed out. The contacts file may have
// been refreshed in the meantime; the contacts of the previous attempt are
// used when it cannot be read.
func (n *Node) rejoin() {
	contacts, err := n.contacts.Contacts()
	if err != nil {
		n.logger.WithError(err).Debug("Reading contacts")
		contacts = n.joinContacts
	}

	n.coreLock.Lock()
	out, err := n.core.StartJoin(contacts)
	if err != nil && contacts != n.joinContacts {
		n.logger.WithError(err).Debug("Joining from the contacts file")
		contacts = n.joinContacts
		out, err = n.core.StartJoin(contacts)
	}
	if err == nil {
		n.joinContacts = contacts
	}
	envs := n.envelopes(out)
	n.afterEvent()
	n.coreLock.Unlock()

	if err != nil {
		n.logger.WithError(err).Error("Restarting join")
		return
	}

	n.logger.WithField("sections", len(contacts.Sections)).Info("Join timed out. Restarting.")

	n.enqueue(envs)
}

// afterEvent refreshes the node state and persists the contacts when the
// section authority changed. Called with coreLock held.
func (n *Node) afterEvent() {
	if n.getState() != Shutdown {
		n.setState(n.core.State())
	}

	if n.writeContacts() {
		n.logStats()
	}
}

// writeContacts persists the contacts of the current SAP, once per SAP.
func (n *Node) writeContacts() bool {
	snap := n.core.Snapshot()
	if snap.IsEmpty() {
		return false
	}
	key := snap.SAP().SectionKeyHex()
	if key == n.sectionKey {
		return false
	}
	if err := n.contacts.Write(snap.Contacts()); err != nil {
		n.logger.WithError(err).Warn("Writing contacts")
		return false
	}
	n.sectionKey = key
	return true
}

// envelopes wraps bodies with the node's header. Called with coreLock held.
func (n *Node) envelopes(out []net.Outgoing) []envelope {
	envs := make([]envelope, 0, len(out))
	for _, o := range out {
		if len(o.Targets) == 0 {
			continue
		}
		envs = append(envs, envelope{
			targets: o.Targets,
			msg:     n.core.Envelope(o),
		})
	}
	return envs
}

func (n *Node) enqueue(envs []envelope) {
	for _, e := range envs {
		select {
		case n.outboxCh <- e:
		default:
			n.core.metrics.SendErrors.Inc()
			n.logger.WithField("msg", e.msg.String()).Warn("Outbox full, dropping message")
		}
	}
}

// sendRoutine delivers envelopes in the order they were produced.
func (n *Node) sendRoutine() {
	for {
		select {
		case e := <-n.outboxCh:
			if err := n.deliver(e); err != nil {
				n.logger.WithError(err).Debug("Sending")
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// deliver sends a message to all its recipients at once and collects the
// failures.
func (n *Node) deliver(e envelope) error {
	errs := make([]error, len(e.targets))

	var g errgroup.Group
	for i, target := range e.targets {
		i, target := i, target
		g.Go(func() error {
			if err := n.trans.Send(target.NetAddr, e.msg); err != nil {
				n.core.metrics.SendErrors.Inc()
				errs[i] = fmt.Errorf("%s to %s: %w", e.msg.Kind(), target.NetAddr, err)
			}
			return nil
		})
	}
	g.Wait()

	return multierr.Combine(errs...)
}

// Leave asks the section to vote this node out, and shuts the node down.
func (n *Node) Leave() error {
	n.logger.Debug("LEAVING")

	defer n.Shutdown()

	n.coreLock.Lock()
	out, err := n.core.Leave()
	envs := n.envelopes(out)
	n.coreLock.Unlock()

	if err != nil {
		n.logger.WithError(err).Error("Leaving")
		return err
	}

	var errs error
	for _, e := range envs {
		errs = multierr.Append(errs, n.deliver(e))
	}
	if errs != nil {
		n.logger.WithError(errs).Warn("Sending leave request")
	}

	return nil
}

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	n.coreLock.Lock()
	if n.getState() == Shutdown {
		n.coreLock.Unlock()
		return
	}
	n.setState(Shutdown)
	n.coreLock.Unlock()

	n.logger.Debug("Shutdown")

	signal.Stop(n.sigintCh)

	//Stop and wait for concurrent operations
	close(n.shutdownCh)

	n.waitRoutines()

	//transport and store should only be closed once all concurrent operations
	//are finished otherwise they will panic trying to use closed objects
	n.trans.Close()

	if err := n.core.knowledge.Close(); err != nil {
		n.logger.WithError(err).Warn("Closing store")
	}
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	snap := n.core.Snapshot()
	validator := n.core.validator

	s := map[string]string{
		"name":           validator.Name().String(),
		"moniker":        validator.Moniker,
		"age":            strconv.Itoa(int(validator.Age)),
		"state":          n.getState().String(),
		"prefix":         snap.Prefix().String(),
		"generation":     strconv.FormatUint(snap.Generation(), 10),
		"section_key":    cm.EncodeToString(snap.SectionKey()),
		"members":        strconv.Itoa(len(snap.ActiveMembers())),
		"known_sections": strconv.Itoa(len(snap.Sections)),
		"pending_votes":  strconv.Itoa(n.core.engine.PendingCount()),
		"dkg_sessions":   strconv.Itoa(len(n.core.dkg.Sessions())),
		"join_attempts":  strconv.Itoa(n.core.attempts.Len()),
		"relocations":    strconv.Itoa(n.core.relocations.Len()),
		"buffered":       strconv.Itoa(len(n.core.buffered)),
		"uptime":         n.clock.Since(n.start).Round(time.Second).String(),
	}

	elders := 0
	if sap := snap.SAP(); sap != nil {
		elders = len(sap.Elders)
	}
	s["elders"] = strconv.Itoa(elders)

	return s
}

func (n *Node) logStats() {
	snap := n.core.Snapshot()

	n.logger.WithFields(logrus.Fields{
		"state":      n.getState().String(),
		"prefix":     snap.Prefix().String(),
		"generation": snap.Generation(),
		"members":    len(snap.ActiveMembers()),
		"pending":    n.core.engine.PendingCount(),
		"buffered":   len(n.core.buffered),
	}).Debug("Stats")
}

// GetState returns the node's state
func (n *Node) GetState() State {
	return n.getState()
}

// Name returns the name the node currently runs under.
func (n *Node) Name() peers.Name {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.validator.Name()
}

// Peer returns the identity the node currently runs under.
func (n *Node) Peer() peers.Peer {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.validator.Peer()
}

// Snapshot returns the node's current knowledge.
func (n *Node) Snapshot() *section.Snapshot {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.Snapshot()
}

// GetSAP returns the current section authority, nil before the node knows
// its section.
func (n *Node) GetSAP() *section.SignedSAP {
	return n.Snapshot().Signed()
}

// GetChain returns the section chain
func (n *Node) GetChain() section.Chain {
	return n.Snapshot().Chain
}

// GetMembers returns the signed states of the section members
func (n *Node) GetMembers() []section.SignedNodeState {
	return n.Snapshot().SignedMembers()
}

// GetContacts returns the contacts this node hands out to candidates
func (n *Node) GetContacts() *peers.NetworkContacts {
	return n.Snapshot().Contacts()
}

// Registry returns the prometheus registry of the node's metrics.
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}
