package section

import (
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
)

// SignSAP signs sap with the given shares of a section key. A genesis SAP
// is signed with shares of its own key.
func SignSAP(sap *SAP, shares []*bls.KeyShare, n int) (*SignedSAP, error) {
	h, err := sap.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := bls.SignWithShares(h, shares, n)
	if err != nil {
		return nil, err
	}
	return &SignedSAP{
		SAP:       *sap,
		Signature: sig,
		SignedBy:  shares[0].Public.PublicKey(),
	}, nil
}

// SignNodeState signs state with the given shares of a section key.
func SignNodeState(state *NodeState, shares []*bls.KeyShare, n int) (*SignedNodeState, error) {
	h, err := state.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := bls.SignWithShares(h, shares, n)
	if err != nil {
		return nil, err
	}
	return &SignedNodeState{
		NodeState:  *state,
		Signature:  sig,
		SectionKey: shares[0].Public.PublicKey(),
	}, nil
}
