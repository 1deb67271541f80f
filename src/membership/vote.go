package membership

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/sectionnet/src/crypto"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// Vote is an elder's signature share over a Proposal, under the key set of
// SectionKey. Signature is the voter's node key signature over the share.
type Vote struct {
	Voter      peers.Peer
	Proposal   Proposal
	SigShare   []byte
	SectionKey []byte
	Signature  string
}

// NewVote signs the proposal with the voter's key share, and the vote with
// the voter's node key.
func NewVote(voter peers.Peer, proposal Proposal, share *bls.KeyShare, key *ecdsa.PrivateKey) (*Vote, error) {
	digest, err := proposal.Digest()
	if err != nil {
		return nil, err
	}
	sigShare, err := share.Sign(digest)
	if err != nil {
		return nil, err
	}

	v := &Vote{
		Voter:      voter,
		Proposal:   proposal,
		SigShare:   sigShare,
		SectionKey: share.Public.PublicKey(),
	}
	if v.Signature, err = keys.Sign(key, v.digest(digest)); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vote) digest(proposal []byte) []byte {
	return crypto.SHA256Parts(proposal, v.SigShare, v.SectionKey)
}

// Verify checks that the vote was signed by the voter's node key.
func (v *Vote) Verify() error {
	proposal, err := v.Proposal.Digest()
	if err != nil {
		return err
	}
	ok, err := keys.VerifyHex(v.Voter.PubKeyHex, v.digest(proposal), v.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("vote not signed by %s", v.Voter.Name())
	}
	return nil
}

// Decision is a proposal carrying the aggregated section signature.
type Decision struct {
	Proposal   Proposal
	Signature  []byte
	SectionKey []byte
	Voters     []peers.Name
}

// SignedSAP returns the SAP of a SectionInfo or NewElders decision with its
// signature.
func (d *Decision) SignedSAP() *section.SignedSAP {
	if d.Proposal.SAP == nil {
		return nil
	}
	return &section.SignedSAP{
		SAP:       *d.Proposal.SAP,
		Signature: d.Signature,
		SignedBy:  d.SectionKey,
	}
}

// SignedNodeState returns the node state of a NodeIsOnline or
// NodeIsOffline decision with its signature.
func (d *Decision) SignedNodeState() *section.SignedNodeState {
	if d.Proposal.NodeState == nil {
		return nil
	}
	return &section.SignedNodeState{
		NodeState:  *d.Proposal.NodeState,
		Signature:  d.Signature,
		SectionKey: d.SectionKey,
	}
}
