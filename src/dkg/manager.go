package dkg

import (
	"crypto/ecdsa"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// DefaultTimeout is how long a session may go without completing before
// its participants report failure.
const DefaultTimeout = 30 * time.Second

// maxBacklog bounds the messages kept for a session this node has not
// started yet.
const maxBacklog = 512

// Completed is a session that produced a key share.
type Completed struct {
	SessionID SessionID
	KeyShare  *bls.KeyShare
}

// Result is what the Manager asks the node to do after handling an event.
// Messages go to the participants named by their round recipient,
// observations to every participant, and agreements to the current elders.
type Result struct {
	Messages     []*Message
	Observations []*FailureObservation
	Agreements   []*Agreement
	Completed    []*Completed
}

// Empty ...
func (r *Result) Empty() bool {
	return r == nil ||
		len(r.Messages) == 0 && len(r.Observations) == 0 &&
			len(r.Agreements) == 0 && len(r.Completed) == 0
}

func (r *Result) merge(o *Result) {
	if o == nil {
		return
	}
	r.Messages = append(r.Messages, o.Messages...)
	r.Observations = append(r.Observations, o.Observations...)
	r.Agreements = append(r.Agreements, o.Agreements...)
	r.Completed = append(r.Completed, o.Completed...)
}

// Manager is the table of this node's key generation sessions, indexed by
// session key. It is not safe for concurrent use.
type Manager struct {
	self    peers.Peer
	key     *ecdsa.PrivateKey
	clock   clock.Clock
	timeout time.Duration

	starts       map[string]map[peers.Name]bool
	sessions     map[string]*Session
	backlog      map[string][]*Message
	observations map[string]map[peers.Name]FailureObservation
	agreed       map[string]bool
	generations  map[string]uint64

	newKeyGen func(index, n, threshold int) (bls.KeyGen, error)

	logger *logrus.Entry
}

// NewManager ...
func NewManager(self peers.Peer, key *ecdsa.PrivateKey, clk clock.Clock, timeout time.Duration, logger *logrus.Entry) *Manager {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		self:         self,
		key:          key,
		clock:        clk,
		timeout:      timeout,
		starts:       make(map[string]map[peers.Name]bool),
		sessions:     make(map[string]*Session),
		backlog:      make(map[string][]*Message),
		observations: make(map[string]map[peers.Name]FailureObservation),
		agreed:       make(map[string]bool),
		generations:  make(map[string]uint64),
		newKeyGen:    bls.NewKeyGen,
		logger:       logger.WithField("prefix", "dkg"),
	}
}

// HandleStart accumulates a current elder's Start. The session begins once
// a supermajority of authority's elders have asked for it.
func (m *Manager) HandleStart(start *Start, authority *section.SAP) (*Result, error) {
	if err := start.Verify(); err != nil {
		return nil, cm.NewProtocolErr("dkg", cm.ProtocolViolation, "start: %v", err)
	}
	if !authority.ContainsElder(start.Elder.Name()) {
		return nil, cm.NewProtocolErr("dkg", cm.ProtocolViolation, "start from %s, not an elder", start.Elder.Name())
	}

	id := start.SessionID
	if id.Generation != authority.Generation+1 {
		return nil, cm.NewProtocolErr("dkg", cm.StaleKnowledge,
			"start for generation %d, current is %d", id.Generation, authority.Generation)
	}
	// The next elders of this section, or of one of its halves after a split.
	if id.Prefix != authority.Prefix && !id.Prefix.IsChildOf(authority.Prefix) {
		return nil, cm.NewProtocolErr("dkg", cm.ProtocolViolation,
			"start for %s, current section is %s", id.Prefix, authority.Prefix)
	}

	index := id.Index(m.self.Name())
	if index < 0 {
		return nil, cm.NewProtocolErr("dkg", cm.ProtocolViolation, "not a candidate of %s", id)
	}

	key := id.Key()
	if _, ok := m.sessions[key]; ok {
		return nil, nil
	}

	signers, ok := m.starts[key]
	if !ok {
		signers = make(map[peers.Name]bool)
		m.starts[key] = signers
		m.generations[key] = id.Generation
	}
	signers[start.Elder.Name()] = true

	needed := peers.SuperMajority(len(authority.Elders))
	if len(signers) < needed {
		m.logger.WithFields(logrus.Fields{
			"session": id.String(),
			"starts":  len(signers),
			"needed":  needed,
		}).Debug("Start")
		return nil, nil
	}

	return m.startSession(id, index)
}

func (m *Manager) startSession(id SessionID, index int) (*Result, error) {
	key := id.Key()

	kg, err := m.newKeyGen(index, id.Len(), id.Threshold())
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:      id,
		Index:   index,
		State:   Started,
		Started: m.clock.Now(),
		keyGen:  kg,
	}
	m.sessions[key] = s
	delete(m.starts, key)

	m.logger.WithFields(logrus.Fields{
		"session":      id.String(),
		"participants": id.Len(),
		"index":        index,
	}).Info("Session started")

	rounds, err := kg.GenerateRoundMessages()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	msgs, err := m.wrap(s, rounds)
	if err != nil {
		return nil, err
	}
	res.Messages = msgs

	backlog := m.backlog[key]
	delete(m.backlog, key)
	for _, msg := range backlog {
		more, err := m.process(s, msg)
		if err != nil {
			m.logger.WithError(err).Debug("Replaying backlog")
			continue
		}
		res.merge(more)
	}

	res.merge(m.checkComplete(s))

	return res, nil
}

// HandleMessage feeds a round message to its session. Messages for a
// session this node has not started yet are kept until it does.
func (m *Manager) HandleMessage(msg *Message) (*Result, error) {
	if err := msg.Verify(); err != nil {
		return nil, cm.NewProtocolErr("dkg", cm.ProtocolViolation, "message: %v", err)
	}

	key := msg.SessionID.Key()
	s, ok := m.sessions[key]
	if !ok {
		if msg.SessionID.Index(m.self.Name()) < 0 {
			return nil, cm.NewProtocolErr("dkg", cm.ProtocolViolation, "not a participant of %s", msg.SessionID)
		}
		if len(m.backlog[key]) < maxBacklog {
			m.backlog[key] = append(m.backlog[key], msg)
			m.generations[key] = msg.SessionID.Generation
		}
		return nil, nil
	}

	if !s.active() {
		return nil, nil
	}

	res, err := m.process(s, msg)
	if err != nil {
		return nil, err
	}
	res.merge(m.checkComplete(s))

	return res, nil
}

func (m *Manager) process(s *Session, msg *Message) (*Result, error) {
	if msg.Round.To != bls.Broadcast && msg.Round.To != s.Index {
		return nil, nil
	}

	rounds, err := s.keyGen.HandleRoundMessage(msg.Round)
	if err != nil {
		return nil, cm.NewProtocolErr("dkg", cm.ProtocolViolation, "%s from %s: %v", msg.Round.Round, msg.From.Name(), err)
	}
	if s.State == Started {
		s.State = Rounds
	}

	msgs, err := m.wrap(s, rounds)
	if err != nil {
		return nil, err
	}
	return &Result{Messages: msgs}, nil
}

func (m *Manager) checkComplete(s *Session) *Result {
	if !s.active() || !s.keyGen.Complete() {
		return nil
	}

	ks, err := s.keyGen.Finalize()
	if err != nil {
		m.logger.WithError(err).Error("Finalizing key generation")
		return nil
	}

	s.State = Succeeded
	s.KeyShare = ks

	m.logger.WithFields(logrus.Fields{
		"session": s.ID.String(),
		"key":     cm.ShortHex(ks.Public.PublicKey()),
	}).Info("Session succeeded")

	return &Result{Completed: []*Completed{{SessionID: s.ID, KeyShare: ks}}}
}

func (m *Manager) wrap(s *Session, rounds []bls.RoundMessage) ([]*Message, error) {
	res := make([]*Message, 0, len(rounds))
	for _, r := range rounds {
		msg, err := NewMessage(s.ID, m.self, r, m.key)
		if err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	return res, nil
}

// Tick signs a failure observation for every session that has been running
// longer than the timeout and is still missing messages.
func (m *Manager) Tick() *Result {
	res := &Result{}

	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := m.clock.Now()
	for _, k := range keys {
		s := m.sessions[k]
		if !s.active() || s.observed || now.Sub(s.Started) < m.timeout {
			continue
		}

		missing := s.missing()
		if len(missing) == 0 {
			continue
		}

		obs, err := NewFailureObservation(s.ID, m.self, missing, m.key)
		if err != nil {
			m.logger.WithError(err).Error("Signing failure observation")
			continue
		}
		s.observed = true

		m.logger.WithFields(logrus.Fields{
			"session": s.ID.String(),
			"missing": len(missing),
		}).Warn("Session timed out")

		res.Observations = append(res.Observations, obs)
		res.merge(m.addObservation(obs))
	}

	return res
}

// HandleFailureObservation records another participant's observation.
func (m *Manager) HandleFailureObservation(obs *FailureObservation) (*Result, error) {
	if err := obs.Verify(); err != nil {
		return nil, cm.NewProtocolErr("dkg", cm.ProtocolViolation, "failure observation: %v", err)
	}
	return m.addObservation(obs), nil
}

func (m *Manager) addObservation(obs *FailureObservation) *Result {
	id := obs.SessionID
	key := id.Key()

	if s, ok := m.sessions[key]; ok && s.State == Succeeded {
		return nil
	}

	set, ok := m.observations[key]
	if !ok {
		set = make(map[peers.Name]FailureObservation)
		m.observations[key] = set
		m.generations[key] = id.Generation
	}
	set[obs.Participant.Name()] = *obs

	if len(set) <= peers.SuperMinority(id.Len()) || m.agreed[key] {
		return nil
	}

	m.agreed[key] = true
	if s, ok := m.sessions[key]; ok {
		s.State = Failed
	}

	names := make([]peers.Name, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Less(names[j]) })

	agreement := &Agreement{SessionID: id}
	for _, n := range names {
		agreement.Observations = append(agreement.Observations, set[n])
	}

	m.logger.WithFields(logrus.Fields{
		"session":  id.String(),
		"reports":  len(set),
		"excluded": len(agreement.Excluded()),
	}).Warn("Session failed")

	return &Result{Agreements: []*Agreement{agreement}}
}

// Session returns the session with the given id.
func (m *Manager) Session(id SessionID) (*Session, bool) {
	s, ok := m.sessions[id.Key()]
	return s, ok
}

// Sessions returns every session, ordered by generation then key.
func (m *Manager) Sessions() []*Session {
	res := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].ID.Generation != res[j].ID.Generation {
			return res[i].ID.Generation < res[j].ID.Generation
		}
		return res[i].ID.Key() < res[j].ID.Key()
	})
	return res
}

// Discard drops everything about sessions for generations below
// generation, and about sessions of that generation other than keep.
func (m *Manager) Discard(generation uint64, keep *SessionID) int {
	keepKey := ""
	if keep != nil {
		keepKey = keep.Key()
	}

	dropped := 0
	for key, gen := range m.generations {
		if gen > generation {
			continue
		}
		if gen == generation && key == keepKey {
			continue
		}
		if _, ok := m.sessions[key]; ok {
			dropped++
		}
		delete(m.sessions, key)
		delete(m.starts, key)
		delete(m.backlog, key)
		delete(m.observations, key)
		delete(m.agreed, key)
		delete(m.generations, key)
	}
	return dropped
}
