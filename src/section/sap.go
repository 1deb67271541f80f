package section

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// SAP (Section Authority Provider) is the authority of a section at one
// generation.
type SAP struct {
	Prefix       peers.Prefix
	Elders       []*peers.Peer
	PublicKeySet bls.PublicKeySet
	Generation   uint64
}

// NewSAP creates a SAP with its elders ordered by name.
func NewSAP(prefix peers.Prefix, elders []*peers.Peer, keySet bls.PublicKeySet, generation uint64) *SAP {
	return &SAP{
		Prefix:       prefix,
		Elders:       peers.NewPeerSet(elders).Peers,
		PublicKeySet: keySet,
		Generation:   generation,
	}
}

// SectionKey is the section's public key.
func (s *SAP) SectionKey() []byte {
	return s.PublicKeySet.PublicKey()
}

// SectionKeyHex ...
func (s *SAP) SectionKeyHex() string {
	return common.EncodeToString(s.SectionKey())
}

// ElderSet returns the elders as a PeerSet.
func (s *SAP) ElderSet() *peers.PeerSet {
	return peers.NewPeerSet(s.Elders)
}

// ContainsElder ...
func (s *SAP) ContainsElder(name peers.Name) bool {
	for _, e := range s.Elders {
		if e.Name() == name {
			return true
		}
	}
	return false
}

// ElderIndex is the key share index of the elder, or -1.
func (s *SAP) ElderIndex(name peers.Name) int {
	for i, e := range s.Elders {
		if e.Name() == name {
			return i
		}
	}
	return -1
}

// Hash is the digest the section signs.
func (s *SAP) Hash() ([]byte, error) {
	return crypto.CanonicalHash(s)
}

// Contact is the contacts file entry for this section.
func (s *SAP) Contact() peers.SectionContact {
	elders := make([]*peers.Peer, len(s.Elders))
	for i, e := range s.Elders {
		cp := *e
		elders[i] = &cp
	}
	return peers.SectionContact{
		Prefix:     s.Prefix,
		SectionKey: s.SectionKeyHex(),
		Generation: s.Generation,
		Elders:     elders,
	}
}

// String ...
func (s *SAP) String() string {
	names := make([]string, len(s.Elders))
	for i, e := range s.Elders {
		names[i] = e.Name().String()
	}
	return fmt.Sprintf("SAP%s gen=%d key=%s elders=[%s]",
		s.Prefix, s.Generation, common.ShortHex(s.SectionKey()), strings.Join(names, " "))
}

// SignedSAP is a SAP with a signature by SignedBy, a section key.
type SignedSAP struct {
	SAP       SAP
	Signature []byte
	SignedBy  []byte
}

// Verify checks the signature.
func (s *SignedSAP) Verify() error {
	if len(s.Signature) == 0 {
		return errors.New("unsigned SAP")
	}
	h, err := s.SAP.Hash()
	if err != nil {
		return err
	}
	return bls.Verify(s.SignedBy, h, s.Signature)
}

// SelfSigned reports whether the SAP is signed by its own key, which is the
// case of a genesis SAP.
func (s *SignedSAP) SelfSigned() bool {
	return string(s.SignedBy) == string(s.SAP.SectionKey())
}
