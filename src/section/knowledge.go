package section

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// Knowledge is the Network Knowledge of a node: its section chain, the
// signed states of its section's members, and the latest SAP of other
// sections it has heard of. There is a single writer, the node's core; all
// other readers work from a Snapshot.
type Knowledge struct {
	mtx sync.RWMutex

	store    Store
	chain    Chain
	members  map[peers.Name]SignedNodeState
	sections map[peers.Prefix]SignedSAP

	logger *logrus.Entry
}

// NewKnowledge creates an empty Knowledge backed by store.
func NewKnowledge(store Store, logger *logrus.Entry) *Knowledge {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Knowledge{
		store:    store,
		members:  make(map[peers.Name]SignedNodeState),
		sections: make(map[peers.Prefix]SignedSAP),
		logger:   logger.WithField("prefix", "knowledge"),
	}
}

// Bootstrap loads the chain and members persisted in the store.
func (k *Knowledge) Bootstrap() error {
	k.mtx.Lock()
	defer k.mtx.Unlock()

	chain, err := k.store.Chain()
	if err != nil {
		return err
	}
	if err := chain.Verify(); err != nil {
		return fmt.Errorf("persisted chain: %w", err)
	}

	members, err := k.store.Members()
	if err != nil {
		return err
	}

	k.chain = chain
	for _, m := range members {
		k.members[m.NodeState.Name()] = m
	}

	k.logger.WithFields(logrus.Fields{
		"generation": chain.Last().SAP.Generation,
		"members":    len(members),
	}).Debug("Bootstrapped")

	return nil
}

// Genesis starts a new network from a self-signed SAP and the signed state
// of its first member.
func (k *Knowledge) Genesis(sap *SignedSAP, first *SignedNodeState) error {
	if !sap.SelfSigned() {
		return fmt.Errorf("genesis SAP must be signed by its own key")
	}
	if err := sap.Verify(); err != nil {
		return err
	}

	k.mtx.Lock()
	defer k.mtx.Unlock()

	if len(k.chain) > 0 {
		return cm.NewStoreErr("Chain", cm.KeyAlreadyExists, "genesis")
	}
	if err := k.store.AppendSAP(sap); err != nil {
		return err
	}
	k.chain = Chain{*sap}

	return k.setMember(first)
}

// Adopt installs the knowledge a node receives when it is approved into a
// section. The chain must contain trustedKey, the key the node trusted when
// it sent its request; an empty trustedKey accepts any valid chain. Links
// the node already holds are skipped.
func (k *Knowledge) Adopt(chain Chain, members []SignedNodeState, trustedKey []byte) error {
	if err := chain.Verify(); err != nil {
		return cm.NewProtocolErr("knowledge", cm.ProtocolViolation, "invalid chain: %v", err)
	}
	if len(trustedKey) > 0 && !chain.HasKey(trustedKey) {
		return cm.NewProtocolErr("knowledge", cm.StaleKnowledge, "chain does not contain trusted key %s", cm.ShortHex(trustedKey))
	}

	k.mtx.Lock()
	defer k.mtx.Unlock()

	if len(k.chain) > 0 && !bytes.Equal(k.chain.GenesisKey(), chain.GenesisKey()) {
		return cm.NewProtocolErr("knowledge", cm.ProtocolViolation, "chain has a different genesis key")
	}

	if err := k.appendLinks(chain); err != nil {
		return err
	}

	for i := range members {
		if _, err := k.updateMember(&members[i]); err != nil {
			k.logger.WithError(err).Debug("Skipping member")
		}
	}

	return nil
}

// AppendSAP adds the next link of the chain.
func (k *Knowledge) AppendSAP(link *SignedSAP) error {
	k.mtx.Lock()
	defer k.mtx.Unlock()

	if len(k.chain) == 0 {
		return cm.NewStoreErr("Chain", cm.Empty, "")
	}
	if err := VerifyLink(k.chain.Last(), link); err != nil {
		return cm.NewProtocolErr("knowledge", cm.ProtocolViolation, "%v", err)
	}
	return k.appendLink(link)
}

// ApplyUpdate merges an anti-entropy update. The links newer than the local
// tip must extend it. It reports whether the section authority changed.
func (k *Knowledge) ApplyUpdate(chain Chain, members []SignedNodeState) (bool, error) {
	k.mtx.Lock()
	defer k.mtx.Unlock()

	if len(k.chain) == 0 {
		return false, cm.NewStoreErr("Chain", cm.Empty, "")
	}

	before := k.chain.Last().SAP.Generation

	newLinks := chain.After(before)
	if len(newLinks) > 0 {
		if err := k.appendLinks(newLinks); err != nil {
			return false, err
		}
	}

	for i := range members {
		if _, err := k.updateMember(&members[i]); err != nil {
			k.logger.WithError(err).Debug("Skipping member")
		}
	}

	return k.chain.Last().SAP.Generation != before, nil
}

// UpdateMember records a signed member state. It reports whether anything
// changed. A member that has left or been relocated stays that way.
func (k *Knowledge) UpdateMember(state *SignedNodeState) (bool, error) {
	k.mtx.Lock()
	defer k.mtx.Unlock()

	return k.updateMember(state)
}

// AddSection records the latest SAP of another section. Only the SAP's own
// signature is checked: this node does not hold the other section's chain.
func (k *Knowledge) AddSection(sap *SignedSAP) (bool, error) {
	if err := sap.Verify(); err != nil {
		return false, err
	}

	k.mtx.Lock()
	defer k.mtx.Unlock()

	// This section, or one it descends from.
	if len(k.chain) > 0 && strings.HasPrefix(string(k.chain.Last().SAP.Prefix), string(sap.SAP.Prefix)) {
		return false, nil
	}

	existing, ok := k.sections[sap.SAP.Prefix]
	if ok && existing.SAP.Generation >= sap.SAP.Generation {
		return false, nil
	}
	k.sections[sap.SAP.Prefix] = *sap

	return true, nil
}

// Snapshot returns a consistent read-only copy of the knowledge.
func (k *Knowledge) Snapshot() *Snapshot {
	k.mtx.RLock()
	defer k.mtx.RUnlock()

	members := make(map[peers.Name]SignedNodeState, len(k.members))
	for n, m := range k.members {
		members[n] = m
	}
	sections := make(map[peers.Prefix]SignedSAP, len(k.sections))
	for p, s := range k.sections {
		sections[p] = s
	}

	return &Snapshot{
		Chain:    append(Chain{}, k.chain...),
		Members:  members,
		Sections: sections,
	}
}

// Close closes the underlying store.
func (k *Knowledge) Close() error {
	return k.store.Close()
}

func (k *Knowledge) appendLinks(chain Chain) error {
	var tip *SignedSAP
	if len(k.chain) > 0 {
		tip = k.chain.Last()
	}

	for i := range chain {
		link := &chain[i]
		if tip != nil && link.SAP.Generation <= tip.SAP.Generation {
			continue
		}
		if tip != nil {
			if err := VerifyLink(tip, link); err != nil {
				return cm.NewProtocolErr("knowledge", cm.ProtocolViolation, "%v", err)
			}
		}
		if err := k.appendLink(link); err != nil {
			return err
		}
		tip = k.chain.Last()
	}

	return nil
}

func (k *Knowledge) appendLink(link *SignedSAP) error {
	if err := k.store.AppendSAP(link); err != nil {
		return err
	}
	k.chain = append(k.chain, *link)

	// Members that fall outside a narrower prefix belong to another section.
	for n := range k.members {
		if !link.SAP.Prefix.Matches(n) {
			delete(k.members, n)
		}
	}
	delete(k.sections, link.SAP.Prefix)

	k.logger.WithFields(logrus.Fields{
		"generation": link.SAP.Generation,
		"prefix":     link.SAP.Prefix,
		"elders":     len(link.SAP.Elders),
	}).Debug("Appended SAP")

	return nil
}

func (k *Knowledge) updateMember(state *SignedNodeState) (bool, error) {
	if len(k.chain) == 0 {
		return false, cm.NewStoreErr("Chain", cm.Empty, "")
	}
	if !k.chain.HasKey(state.SectionKey) {
		return false, cm.NewProtocolErr("knowledge", cm.StaleKnowledge,
			"node state signed by unknown key %s", cm.ShortHex(state.SectionKey))
	}
	if err := state.Verify(); err != nil {
		return false, cm.NewProtocolErr("knowledge", cm.ProtocolViolation, "%v", err)
	}

	name := state.NodeState.Name()
	if !k.chain.Last().SAP.Prefix.Matches(name) {
		return false, cm.NewProtocolErr("knowledge", cm.ProtocolViolation,
			"%s is outside prefix %s", name, k.chain.Last().SAP.Prefix)
	}

	if existing, ok := k.members[name]; ok {
		if existing.NodeState.State != Joined {
			return false, nil
		}
		if existing.NodeState.State == state.NodeState.State {
			return false, nil
		}
	}

	return true, k.setMember(state)
}

func (k *Knowledge) setMember(state *SignedNodeState) error {
	if err := k.store.SetMember(state); err != nil {
		return err
	}
	k.members[state.NodeState.Name()] = *state
	return nil
}

// Snapshot is an immutable view of Knowledge.
type Snapshot struct {
	Chain    Chain
	Members  map[peers.Name]SignedNodeState
	Sections map[peers.Prefix]SignedSAP
}

// IsEmpty is true before the node knows any section.
func (s *Snapshot) IsEmpty() bool {
	return len(s.Chain) == 0
}

// Signed returns the current signed SAP, or nil.
func (s *Snapshot) Signed() *SignedSAP {
	if s.IsEmpty() {
		return nil
	}
	return s.Chain.Last()
}

// SAP returns the current SAP, or nil.
func (s *Snapshot) SAP() *SAP {
	if s.IsEmpty() {
		return nil
	}
	return &s.Chain.Last().SAP
}

// Generation of the current SAP.
func (s *Snapshot) Generation() uint64 {
	if s.IsEmpty() {
		return 0
	}
	return s.Chain.Last().SAP.Generation
}

// SectionKey of the current SAP.
func (s *Snapshot) SectionKey() []byte {
	if s.IsEmpty() {
		return nil
	}
	return s.Chain.Last().SAP.SectionKey()
}

// GenesisKey ...
func (s *Snapshot) GenesisKey() []byte {
	return s.Chain.GenesisKey()
}

// Prefix of the section.
func (s *Snapshot) Prefix() peers.Prefix {
	if s.IsEmpty() {
		return ""
	}
	return s.Chain.Last().SAP.Prefix
}

// IsElder ...
func (s *Snapshot) IsElder(name peers.Name) bool {
	return !s.IsEmpty() && s.SAP().ContainsElder(name)
}

// Member returns the signed state of name.
func (s *Snapshot) Member(name peers.Name) (SignedNodeState, bool) {
	m, ok := s.Members[name]
	return m, ok
}

// IsActiveMember is true for joined members.
func (s *Snapshot) IsActiveMember(name peers.Name) bool {
	m, ok := s.Members[name]
	return ok && m.NodeState.State == Joined
}

// ActiveMembers returns the joined members ordered by name.
func (s *Snapshot) ActiveMembers() []NodeState {
	res := []NodeState{}
	for _, m := range s.SignedMembers() {
		if m.NodeState.State == Joined {
			res = append(res, m.NodeState)
		}
	}
	return res
}

// SignedMembers returns every member state, in any state, ordered by name.
func (s *Snapshot) SignedMembers() []SignedNodeState {
	res := make([]SignedNodeState, 0, len(s.Members))
	for _, m := range s.Members {
		res = append(res, m)
	}
	sortStates(res)
	return res
}

// SectionFor returns the known SAP of the section responsible for name:
// this node's own when it matches, else the known section with the longest
// matching prefix, else this node's own.
func (s *Snapshot) SectionFor(name peers.Name) *SignedSAP {
	if s.IsEmpty() {
		return nil
	}
	if s.Prefix().Matches(name) {
		return s.Signed()
	}

	var best *SignedSAP
	prefixes := make([]peers.Prefix, 0, len(s.Sections))
	for p := range s.Sections {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i] < prefixes[j] })

	for _, p := range prefixes {
		if !p.Matches(name) {
			continue
		}
		sap := s.Sections[p]
		if best == nil || p.BitCount() > best.SAP.Prefix.BitCount() {
			best = &sap
		}
	}
	if best == nil {
		return s.Signed()
	}
	return best
}

// Contacts returns the network contacts this node can hand out.
func (s *Snapshot) Contacts() *peers.NetworkContacts {
	contacts := &peers.NetworkContacts{
		GenesisKey: cm.EncodeToString(s.GenesisKey()),
	}
	if s.IsEmpty() {
		return contacts
	}
	contacts.Upsert(s.SAP().Contact())
	for _, sap := range s.Sections {
		contacts.Upsert(sap.SAP.Contact())
	}
	return contacts
}
