package node

import (
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectionnet/src/dkg"
	"github.com/mosaicnetworks/sectionnet/src/membership"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// behind reports whether msg was sent from a newer generation of this
// section, or of this node's half of it, and needs the authority of that
// generation to be handled.
func (c *Core) behind(msg *net.Message) bool {
	switch msg.Body.(type) {
	case *membership.Vote, *dkg.Start, *dkg.Agreement:
	default:
		return false
	}

	snap := c.Snapshot()
	if snap.IsEmpty() {
		return false
	}

	// After a split the sender may already be in this node's half.
	h := msg.Header
	ours := h.Prefix == snap.Prefix() || (h.Prefix.IsChildOf(snap.Prefix()) && h.Prefix.Matches(c.validator.Name()))
	return ours && h.Generation > snap.Generation()
}

func (c *Core) requestUpdate(to peers.Peer) net.Outgoing {
	gen := c.Snapshot().Generation()

	c.logger.WithFields(logrus.Fields{
		"from":       to.Name(),
		"generation": gen,
	}).Debug("Requesting update")

	return net.Outgoing{
		Targets: []peers.Peer{to},
		Body:    &net.AntiEntropyRequest{Generation: gen},
	}
}

// updateFor brings a node that knows the given generation up to date.
func (c *Core) updateFor(snap *section.Snapshot, to peers.Peer, generation uint64) net.Outgoing {
	return net.Outgoing{
		Targets: []peers.Peer{to},
		Body: &net.AntiEntropyUpdate{
			Chain:   snap.Chain.After(generation),
			Members: snap.SignedMembers(),
		},
	}
}

func (c *Core) handleUpdateRequest(from peers.Peer, req *net.AntiEntropyRequest) []net.Outgoing {
	snap := c.Snapshot()
	if snap.IsEmpty() {
		return nil
	}
	return []net.Outgoing{c.updateFor(snap, from, req.Generation)}
}

// applyUpdate merges an anti-entropy update and, when it brings a new SAP,
// moves the node to it. The chain of a section this node is not part of
// only contributes its latest SAP.
func (c *Core) applyUpdate(u *net.AntiEntropyUpdate) ([]net.Outgoing, error) {
	snap := c.Snapshot()
	if snap.IsEmpty() {
		return nil, nil
	}
	before := snap.Generation()

	if n := len(u.Chain); n > 0 && !u.Chain[n-1].SAP.Prefix.Matches(c.validator.Name()) {
		c.addSection(&u.Chain[n-1])
		return nil, nil
	}

	changed, err := c.knowledge.ApplyUpdate(u.Chain, u.Members)
	if err != nil {
		return nil, err
	}
	for i := range u.Sections {
		c.addSection(&u.Sections[i])
	}

	c.updateGauges()

	if !changed {
		return nil, nil
	}
	return c.onNewSAP(before), nil
}

func (c *Core) addSection(sap *section.SignedSAP) {
	added, err := c.knowledge.AddSection(sap)
	if err != nil {
		c.logger.WithError(err).WithField("section", sap.SAP.Prefix).Debug("Skipping section")
		return
	}
	if added {
		c.logger.WithFields(logrus.Fields{
			"section":    sap.SAP.Prefix,
			"generation": sap.SAP.Generation,
		}).Debug("Learnt section")
	}
}

// onNewSAP runs after the section authority moved past generation before:
// everything tied to older generations is dropped, key shares of other
// keys are forgotten, and the messages waiting for this knowledge are
// replayed.
func (c *Core) onNewSAP(before uint64) []net.Outgoing {
	snap := c.Snapshot()
	sap := snap.SAP()
	gen := sap.Generation

	keep := dkg.NewSessionID(sap.Prefix, gen, sap.Elders)

	dropped := c.engine.DropPending(gen)
	discarded := c.dkg.Discard(gen, &keep)
	cancelled := c.attempts.Clear()

	for k, id := range c.started {
		if id.Generation <= gen {
			delete(c.started, k)
			delete(c.failed, k)
		}
	}
	c.excluded = make(map[peers.Name]bool)
	c.splits = make(map[peers.Prefix]*section.SignedSAP)

	current := sap.SectionKeyHex()
	for k := range c.shares {
		if k != current {
			delete(c.shares, k)
		}
	}

	c.updateGauges()

	c.logger.WithFields(logrus.Fields{
		"from":      before,
		"to":        gen,
		"elders":    len(sap.Elders),
		"key":       sap.SectionKeyHex(),
		"elder":     c.isElder(snap),
		"dropped":   dropped,
		"discarded": discarded,
		"cancelled": cancelled,
	}).Info("New section authority")

	out := c.replay()

	more, err := c.checkElders()
	if err != nil {
		c.logger.WithError(err).Error("Checking elder candidates")
	}

	return append(out, more...)
}
