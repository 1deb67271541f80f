package section

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/sectionnet/src/crypto"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// MembershipState ...
type MembershipState uint8

const (
	// Joined members are active.
	Joined MembershipState = iota
	// Left members departed of their own accord.
	Left
	// Relocated members were moved to a new identity.
	Relocated
)

// String ...
func (m MembershipState) String() string {
	switch m {
	case Joined:
		return "Joined"
	case Left:
		return "Left"
	case Relocated:
		return "Relocated"
	default:
		return fmt.Sprintf("MembershipState(%d)", uint8(m))
	}
}

// RelocateDetails tells a relocated node where to go and what it becomes.
type RelocateDetails struct {
	PreviousName  peers.Name
	Dst           peers.Name
	DstSectionKey []byte
	Age           uint8
}

// NodeState is a membership fact about one node.
type NodeState struct {
	Peer         peers.Peer
	State        MembershipState
	PreviousName *peers.Name
	Relocate     *RelocateDetails
}

// Name of the node.
func (n *NodeState) Name() peers.Name {
	return n.Peer.Name()
}

// Age of the node.
func (n *NodeState) Age() uint8 {
	return n.Peer.Age
}

// Hash is the digest the section signs.
func (n *NodeState) Hash() ([]byte, error) {
	return crypto.CanonicalHash(n)
}

// String ...
func (n *NodeState) String() string {
	return fmt.Sprintf("%s %s", n.Peer.Name(), n.State)
}

// SignedNodeState is a NodeState with the section signature under SectionKey.
type SignedNodeState struct {
	NodeState  NodeState
	Signature  []byte
	SectionKey []byte
}

// Verify checks the signature.
func (s *SignedNodeState) Verify() error {
	if len(s.Signature) == 0 {
		return errors.New("unsigned node state")
	}
	h, err := s.NodeState.Hash()
	if err != nil {
		return err
	}
	return bls.Verify(s.SectionKey, h, s.Signature)
}
