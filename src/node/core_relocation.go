package node

import (
	"bytes"

	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/membership"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/relocation"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// handleRelocationNotification starts this node's relocation once its
// section has voted it out as Relocated.
func (c *Core) handleRelocationNotification(n *net.RelocationNotification) ([]net.Outgoing, error) {
	snap := c.Snapshot()
	if !snap.Chain.HasKey(n.State.SectionKey) {
		return nil, cm.NewProtocolErr("core", cm.StaleKnowledge,
			"relocation signed by unknown key %s", cm.ShortHex(n.State.SectionKey))
	}

	out, err := c.relocations.HandleNotification(c.validator.Key, c.validator.Peer(), n)
	if err != nil {
		return nil, err
	}

	if _, err := c.knowledge.UpdateMember(&n.State); err != nil {
		c.logger.WithError(err).Debug("Recording own relocation")
	}
	if n.Target != nil {
		if _, err := c.knowledge.AddSection(n.Target); err != nil {
			c.logger.WithError(err).Debug("Recording destination section")
		}
	}
	c.updateGauges()

	return out, nil
}

// handleJoinAsRelocatedResponse advances this node's relocation. Once the
// destination approves the new identity, the node adopts that section's
// knowledge and switches identity.
func (c *Core) handleJoinAsRelocatedResponse(from peers.Peer, resp *net.JoinAsRelocatedResponse) ([]net.Outgoing, error) {
	if c.relocations.Len() == 0 {
		return nil, nil
	}

	out, done, err := c.relocations.HandleResponse(from, resp)
	if err != nil || done == nil {
		return out, err
	}

	if err := c.knowledge.Adopt(done.Chain, done.Members, nil); err != nil {
		return out, err
	}
	if _, err := c.knowledge.UpdateMember(done.Approval); err != nil {
		return out, err
	}

	c.validator.Reset(done.Record.NewKey, done.Record.New.Age)
	c.dkg = c.newDkgManager()
	c.shares = make(map[string]*bls.KeyShare)

	c.updateGauges()

	c.logger.WithFields(logrus.Fields{
		"old": done.Record.Old.Name(),
		"new": c.validator.Name(),
		"age": c.validator.Age,
	}).Info("Relocation complete")

	return out, nil
}

// handleJoinAsRelocatedRequest is the destination elders' side of a
// relocation. The first request is answered with the SAP to generate the
// new identity against; the second, once verified, turns into a
// NodeIsOnline vote for the new identity.
func (c *Core) handleJoinAsRelocatedRequest(from peers.Peer, req *net.JoinAsRelocatedRequest) ([]net.Outgoing, error) {
	snap := c.Snapshot()
	if !c.isElder(snap) {
		return nil, nil
	}

	reply := func(resp *net.JoinAsRelocatedResponse) []net.Outgoing {
		return []net.Outgoing{{
			Targets: []peers.Peer{from},
			Body:    resp,
		}}
	}

	if err := relocation.VerifyRequest(req, snap, c.tracker); err != nil {
		if cm.IsProtocol(err, cm.StaleKnowledge) {
			return reply(&net.JoinAsRelocatedResponse{
				Kind: net.RelocatedRedirect,
				SAP:  snap.SectionFor(req.Proof.NodeState.Relocate.Dst),
			}), nil
		}
		return nil, err
	}

	if req.NewPeer == nil || !bytes.Equal(req.SectionKey, snap.SectionKey()) {
		return reply(&net.JoinAsRelocatedResponse{
			Kind: net.RelocatedRetry,
			SAP:  snap.Signed(),
		}), nil
	}

	if _, ok := snap.Member(req.NewPeer.Name()); ok {
		return nil, nil
	}

	previous := req.Proof.NodeState.Relocate.PreviousName
	state := section.NodeState{
		Peer:         *req.NewPeer,
		State:        section.Joined,
		PreviousName: &previous,
	}

	c.logger.WithFields(logrus.Fields{
		"previous": previous,
		"name":     req.NewPeer.Name(),
	}).Debug("Relocation request accepted")

	return c.propose(membership.NewNodeIsOnline(&state))
}
