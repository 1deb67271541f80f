package dkg

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mosaicnetworks/sectionnet/src/crypto"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// Start is a current elder's signed request that the candidates of
// SessionID generate a key.
type Start struct {
	SessionID SessionID
	Elder     peers.Peer
	Signature string
}

// NewStart ...
func NewStart(id SessionID, elder peers.Peer, key *ecdsa.PrivateKey) (*Start, error) {
	sig, err := keys.Sign(key, id.Hash())
	if err != nil {
		return nil, err
	}
	return &Start{
		SessionID: id,
		Elder:     elder,
		Signature: sig,
	}, nil
}

// Verify checks the elder's signature.
func (s *Start) Verify() error {
	return verify(s.Elder, s.SessionID.Hash(), s.Signature)
}

// Message carries one key generation round message between participants.
type Message struct {
	SessionID SessionID
	From      peers.Peer
	Round     bls.RoundMessage
	Signature string
}

func (m *Message) digest() []byte {
	var b [17]byte
	b[0] = byte(m.Round.Round)
	binary.BigEndian.PutUint64(b[1:9], uint64(int64(m.Round.From)))
	binary.BigEndian.PutUint64(b[9:17], uint64(int64(m.Round.To)))
	return crypto.SHA256Parts(m.SessionID.Hash(), b[:], m.Round.Payload)
}

// NewMessage ...
func NewMessage(id SessionID, from peers.Peer, round bls.RoundMessage, key *ecdsa.PrivateKey) (*Message, error) {
	m := &Message{
		SessionID: id,
		From:      from,
		Round:     round,
	}
	sig, err := keys.Sign(key, m.digest())
	if err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

// Verify checks the sender's signature and that its index matches the
// round message.
func (m *Message) Verify() error {
	idx := m.SessionID.Index(m.From.Name())
	if idx < 0 {
		return fmt.Errorf("%s is not a participant of %s", m.From.Name(), m.SessionID)
	}
	if idx != m.Round.From {
		return fmt.Errorf("%s sent a message as participant %d", m.From.Name(), m.Round.From)
	}
	return verify(m.From, m.digest(), m.Signature)
}

// FailureObservation is a participant's signed statement that the session
// stalled waiting for Missing.
type FailureObservation struct {
	SessionID   SessionID
	Participant peers.Peer
	Missing     []peers.Name
	Signature   string
}

func observationDigest(id SessionID, missing []peers.Name) []byte {
	parts := [][]byte{id.Hash()}
	for i := range missing {
		parts = append(parts, missing[i][:])
	}
	return crypto.SHA256Parts(parts...)
}

// NewFailureObservation ...
func NewFailureObservation(id SessionID, participant peers.Peer, missing []peers.Name, key *ecdsa.PrivateKey) (*FailureObservation, error) {
	sorted := append([]peers.Name{}, missing...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	sig, err := keys.Sign(key, observationDigest(id, sorted))
	if err != nil {
		return nil, err
	}
	return &FailureObservation{
		SessionID:   id,
		Participant: participant,
		Missing:     sorted,
		Signature:   sig,
	}, nil
}

// Verify checks the participant's signature.
func (f *FailureObservation) Verify() error {
	if f.SessionID.Index(f.Participant.Name()) < 0 {
		return fmt.Errorf("%s is not a participant of %s", f.Participant.Name(), f.SessionID)
	}
	for _, n := range f.Missing {
		if f.SessionID.Index(n) < 0 {
			return fmt.Errorf("%s reported missing %s, not a participant", f.Participant.Name(), n)
		}
	}
	return verify(f.Participant, observationDigest(f.SessionID, f.Missing), f.Signature)
}

// Agreement gathers the failure observations of more than a super-minority
// of a session's participants.
type Agreement struct {
	SessionID    SessionID
	Observations []FailureObservation
}

// Verify checks every observation and that there are enough of them, from
// distinct participants.
func (a *Agreement) Verify() error {
	id := a.SessionID
	seen := make(map[peers.Name]bool)
	for i := range a.Observations {
		o := &a.Observations[i]
		if !o.SessionID.Equal(id) {
			return fmt.Errorf("observation for session %s in agreement on %s", o.SessionID, id)
		}
		if err := o.Verify(); err != nil {
			return err
		}
		seen[o.Participant.Name()] = true
	}
	if len(seen) <= peers.SuperMinority(id.Len()) {
		return fmt.Errorf("%d failure observations, need more than %d", len(seen), peers.SuperMinority(id.Len()))
	}
	return nil
}

// Excluded returns the union of the reported names, ordered by name.
func (a *Agreement) Excluded() []peers.Name {
	set := make(map[peers.Name]bool)
	for _, o := range a.Observations {
		for _, n := range o.Missing {
			set[n] = true
		}
	}
	res := make([]peers.Name, 0, len(set))
	for n := range set {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Less(res[j]) })
	return res
}

func verify(signer peers.Peer, digest []byte, sig string) error {
	ok, err := keys.VerifyHex(signer.PubKeyHex, digest, sig)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("invalid signature from %s", signer.Name())
	}
	return nil
}
