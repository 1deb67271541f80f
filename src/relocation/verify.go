package relocation

import (
	"bytes"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// VerifyRequest checks a JoinAsRelocatedRequest on a destination elder. A
// StaleKnowledge error means the request belongs to another section and
// should be redirected.
func VerifyRequest(req *net.JoinAsRelocatedRequest, snap *section.Snapshot, tracker *Tracker) error {
	proof := req.Proof.NodeState
	details := proof.Relocate
	if proof.State != section.Relocated || details == nil {
		return cm.NewProtocolErr("relocation", cm.ProtocolViolation, "%s is not a relocation", proof.String())
	}
	if details.PreviousName != proof.Name() {
		return cm.NewProtocolErr("relocation", cm.ProtocolViolation, "details name %s, not %s", details.PreviousName, proof.Name())
	}
	if !knownKey(snap, req.Proof.SectionKey) {
		return cm.NewProtocolErr("relocation", cm.ProtocolViolation, "proof signed by unknown key %s", cm.ShortHex(req.Proof.SectionKey))
	}
	if err := req.Proof.Verify(); err != nil {
		return cm.NewProtocolErr("relocation", cm.ProtocolViolation, "%v", err)
	}

	if !snap.Prefix().Matches(details.Dst) {
		return cm.NewProtocolErr("relocation", cm.StaleKnowledge, "destination %s is outside %s", details.Dst, snap.Prefix())
	}

	if _, ok := tracker.Admitted(details.PreviousName); ok {
		return cm.NewProtocolErr("relocation", cm.ProtocolViolation, "%s already relocated in", details.PreviousName)
	}
	for _, m := range snap.Members {
		if m.NodeState.PreviousName != nil && *m.NodeState.PreviousName == details.PreviousName {
			return cm.NewProtocolErr("relocation", cm.ProtocolViolation, "%s already relocated in", details.PreviousName)
		}
	}

	if req.NewPeer == nil {
		return nil
	}

	newName := req.NewPeer.Name()
	if req.NewPeer.Age != details.Age {
		return cm.NewProtocolErr("relocation", cm.ProtocolViolation, "new age %d, expected %d", req.NewPeer.Age, details.Age)
	}
	if !snap.Prefix().Matches(newName) {
		return cm.NewProtocolErr("relocation", cm.StaleKnowledge, "new name %s is outside %s", newName, snap.Prefix())
	}
	ok, err := keys.VerifyHex(proof.Peer.PubKeyHex, newName[:], req.NewNameSig)
	if err != nil || !ok {
		return cm.NewProtocolErr("relocation", cm.ProtocolViolation, "new name not signed by %s", proof.Name())
	}

	return nil
}

func knownKey(snap *section.Snapshot, key []byte) bool {
	if snap.Chain.HasKey(key) {
		return true
	}
	for _, sap := range snap.Sections {
		if bytes.Equal(sap.SAP.SectionKey(), key) {
			return true
		}
	}
	return false
}
