package relocation

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

const (
	// DefaultTimeout is how long each step of the handshake may take before
	// it is retried.
	DefaultTimeout = 60 * time.Second
	// DefaultRetries is the number of retries before a relocation is
	// abandoned.
	DefaultRetries = 3

	maxIdentityAttempts = 1 << 16
)

// RecordState ...
type RecordState uint8

const (
	// Notified ...
	Notified RecordState = iota
	// RequestedFirst ...
	RequestedFirst
	// RespondedWithSAP ...
	RespondedWithSAP
	// RequestedSecond ...
	RequestedSecond
	// Completed ...
	Completed
)

// String ...
func (s RecordState) String() string {
	switch s {
	case Notified:
		return "Notified"
	case RequestedFirst:
		return "RequestedFirst"
	case RespondedWithSAP:
		return "RespondedWithSAP"
	case RequestedSecond:
		return "RequestedSecond"
	case Completed:
		return "Completed"
	default:
		return fmt.Sprintf("RecordState(%d)", uint8(s))
	}
}

// Record is the relocated node's progress towards its destination.
type Record struct {
	Old    peers.Peer
	OldKey *ecdsa.PrivateKey
	New    *peers.Peer
	NewKey *ecdsa.PrivateKey
	// Proof is the signed Relocated state the old section committed.
	Proof   section.SignedNodeState
	Target  section.SAP
	State   RecordState
	Retries int

	newNameSig string
	deadline   time.Time
}

// Details ...
func (r *Record) Details() *section.RelocateDetails {
	return r.Proof.NodeState.Relocate
}

// Completion is a finished relocation with the knowledge of the section
// that admitted the new identity.
type Completion struct {
	Record   *Record
	Chain    section.Chain
	Members  []section.SignedNodeState
	Approval *section.SignedNodeState
}

// Manager is the table of a node's relocation records, indexed by old name.
// It is not safe for concurrent use.
type Manager struct {
	clock   clock.Clock
	timeout time.Duration
	retries int

	records map[peers.Name]*Record

	logger *logrus.Entry
}

// NewManager ...
func NewManager(clk clock.Clock, timeout time.Duration, retries int, logger *logrus.Entry) *Manager {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retries < 0 {
		retries = DefaultRetries
	}
	return &Manager{
		clock:   clk,
		timeout: timeout,
		retries: retries,
		records: make(map[peers.Name]*Record),
		logger:  logger.WithField("prefix", "relocation"),
	}
}

// Get ...
func (m *Manager) Get(old peers.Name) (*Record, bool) {
	r, ok := m.records[old]
	return r, ok
}

// Len ...
func (m *Manager) Len() int {
	return len(m.records)
}

// HandleNotification starts the relocation of the node (self, key) that its
// section has just voted out as Relocated.
func (m *Manager) HandleNotification(
	key *ecdsa.PrivateKey,
	self peers.Peer,
	n *net.RelocationNotification,
) ([]net.Outgoing, error) {
	state := n.State.NodeState
	if state.State != section.Relocated || state.Relocate == nil {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "%s is not a relocation", state.String())
	}
	if state.Name() != self.Name() {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "relocation of %s sent to %s", state.Name(), self.Name())
	}
	if err := n.State.Verify(); err != nil {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "%v", err)
	}
	if _, ok := m.records[self.Name()]; ok {
		return nil, nil
	}

	if n.Target == nil {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "no destination SAP")
	}
	if err := n.Target.Verify(); err != nil {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "destination SAP: %v", err)
	}

	r := &Record{
		Old:    self,
		OldKey: key,
		Proof:  n.State,
		Target: n.Target.SAP,
		State:  Notified,
	}
	m.records[self.Name()] = r

	m.logger.WithFields(logrus.Fields{
		"name": self.Name(),
		"dst":  state.Relocate.Dst,
		"age":  state.Relocate.Age,
	}).Info("Relocating")

	return m.send(r), nil
}

// HandleResponse processes a destination elder's answer. A Completion is
// returned, and the record removed, once the new identity is approved.
func (m *Manager) HandleResponse(from peers.Peer, resp *net.JoinAsRelocatedResponse) ([]net.Outgoing, *Completion, error) {
	r := m.recordFor(from.Name())
	if r == nil {
		return nil, nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "no relocation towards %s", from.Name())
	}

	switch resp.Kind {
	case net.RelocatedRetry:
		out, err := m.handleRetry(r, resp)
		return out, nil, err
	case net.RelocatedRedirect:
		out, err := m.handleRedirect(r, resp)
		return out, nil, err
	case net.RelocatedApproved:
		c, err := m.handleApproved(r, resp)
		return nil, c, err
	default:
		return nil, nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "unexpected response %d", resp.Kind)
	}
}

// Tick resends the requests whose step timed out. Records that ran out of
// retries are dropped, each with a RelocationAbandoned error.
func (m *Manager) Tick() ([]net.Outgoing, []error) {
	now := m.clock.Now()

	var out []net.Outgoing
	var errs []error
	for name, r := range m.records {
		if now.Before(r.deadline) {
			continue
		}
		if r.Retries >= m.retries {
			delete(m.records, name)
			errs = append(errs, m.abandon(r))
			continue
		}
		r.Retries++
		out = append(out, m.send(r)...)
	}

	return out, errs
}

func (m *Manager) handleRetry(r *Record, resp *net.JoinAsRelocatedResponse) ([]net.Outgoing, error) {
	sap, err := m.verifiedTarget(r, resp.SAP)
	if err != nil {
		return nil, err
	}

	switch r.State {
	case RequestedFirst:
		r.Target = sap.SAP
		r.State = RespondedWithSAP
		if err := m.newIdentity(r); err != nil {
			return nil, err
		}
		return m.send(r), nil
	case RequestedSecond:
		if bytes.Equal(sap.SAP.SectionKey(), r.Target.SectionKey()) {
			return nil, nil
		}
		r.Target = sap.SAP
		if !r.Target.Prefix.Matches(r.New.Name()) {
			if err := m.newIdentity(r); err != nil {
				return nil, err
			}
		}
		return m.send(r), nil
	default:
		return nil, nil
	}
}

func (m *Manager) handleRedirect(r *Record, resp *net.JoinAsRelocatedResponse) ([]net.Outgoing, error) {
	sap, err := m.verifiedTarget(r, resp.SAP)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(sap.SAP.SectionKey(), r.Target.SectionKey()) {
		return nil, nil
	}

	if r.Retries >= m.retries {
		delete(m.records, r.Old.Name())
		return nil, m.abandon(r)
	}
	r.Retries++

	r.Target = sap.SAP
	if r.New != nil && !r.Target.Prefix.Matches(r.New.Name()) {
		if err := m.newIdentity(r); err != nil {
			return nil, err
		}
	}

	return m.send(r), nil
}

func (m *Manager) handleApproved(r *Record, resp *net.JoinAsRelocatedResponse) (*Completion, error) {
	if r.State != RequestedSecond {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "approval in state %s", r.State)
	}

	approval := resp.Approval
	if approval == nil || approval.NodeState.Name() != r.New.Name() || approval.NodeState.State != section.Joined {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "approval is not for %s", r.New.Name())
	}
	if !resp.Chain.HasKey(approval.SectionKey) {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "approval signed by a key outside the chain")
	}
	if err := approval.Verify(); err != nil {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "approval: %v", err)
	}

	r.State = Completed
	delete(m.records, r.Old.Name())

	m.logger.WithFields(logrus.Fields{
		"old": r.Old.Name(),
		"new": r.New.Name(),
		"age": r.New.Age,
	}).Info("Relocated")

	return &Completion{
		Record:   r,
		Chain:    resp.Chain,
		Members:  resp.Members,
		Approval: approval,
	}, nil
}

func (m *Manager) verifiedTarget(r *Record, sap *section.SignedSAP) (*section.SignedSAP, error) {
	if sap == nil {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "response without a SAP")
	}
	if err := sap.Verify(); err != nil {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "%v", err)
	}
	if !sap.SAP.Prefix.Matches(r.Details().Dst) {
		return nil, cm.NewProtocolErr("relocation", cm.ProtocolViolation, "section %s does not cover %s", sap.SAP.Prefix, r.Details().Dst)
	}
	return sap, nil
}

// newIdentity generates a key whose name, at the new age, falls in the
// target prefix, and signs that name with the old key.
func (m *Manager) newIdentity(r *Record) error {
	age := r.Details().Age

	for i := 0; i < maxIdentityAttempts; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			return err
		}
		name := peers.NameFromPublicKey(keys.FromPublicKey(&key.PublicKey), age)
		if !r.Target.Prefix.Matches(name) {
			continue
		}

		sig, err := keys.Sign(r.OldKey, name[:])
		if err != nil {
			return err
		}

		r.NewKey = key
		r.New = peers.NewPeer(keys.PublicKeyHex(&key.PublicKey), r.Old.NetAddr, age, r.Old.Moniker)
		r.newNameSig = sig

		return nil
	}

	return fmt.Errorf("no identity found in %s", r.Target.Prefix)
}

func (m *Manager) send(r *Record) []net.Outgoing {
	req := &net.JoinAsRelocatedRequest{
		Proof:      r.Proof,
		SectionKey: r.Target.SectionKey(),
	}
	if r.New != nil {
		req.NewPeer = r.New
		req.NewNameSig = r.newNameSig
		r.State = RequestedSecond
	} else {
		r.State = RequestedFirst
	}
	r.deadline = m.clock.Now().Add(m.timeout)

	targets := make([]peers.Peer, len(r.Target.Elders))
	for i, e := range r.Target.Elders {
		targets[i] = *e
	}

	return []net.Outgoing{{Targets: targets, Body: req}}
}

func (m *Manager) recordFor(elder peers.Name) *Record {
	for _, r := range m.records {
		if r.Target.ContainsElder(elder) {
			return r
		}
	}
	return nil
}

func (m *Manager) abandon(r *Record) error {
	m.logger.WithFields(logrus.Fields{
		"name":    r.Old.Name(),
		"state":   r.State,
		"retries": r.Retries,
	}).Warn("Relocation abandoned")

	return cm.NewProtocolErr("relocation", cm.RelocationAbandoned, "%s gave up after %d retries", r.Old.Name(), r.Retries)
}
