package node

import (
	"bytes"

	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/membership"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/relocation"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// propose signs p with the current key share, sends the vote to the other
// elders and counts it locally.
func (c *Core) propose(p membership.Proposal) ([]net.Outgoing, error) {
	snap := c.Snapshot()

	share := c.currentShare(snap)
	if share == nil || !snap.IsElder(c.validator.Name()) {
		return nil, nil
	}
	if c.engine.IsDecided(&p) {
		return nil, nil
	}

	vote, err := membership.NewVote(c.validator.Peer(), p, share, c.validator.Key)
	if err != nil {
		return nil, err
	}

	out := []net.Outgoing{c.toElders(snap, vote)}
	more, err := c.handleVote(vote)
	return append(out, more...), err
}

// handleVote counts an elder's vote. SectionInfo votes are signed with
// shares of the proposed key and counted against the proposed SAP; every
// other proposal is counted against the current SAP.
func (c *Core) handleVote(vote *membership.Vote) ([]net.Outgoing, error) {
	snap := c.Snapshot()
	if !c.isElder(snap) {
		return nil, nil
	}

	p := &vote.Proposal
	if err := p.Validate(); err != nil {
		return nil, cm.NewProtocolErr("core", cm.ProtocolViolation, "%v", err)
	}
	if err := vote.Verify(); err != nil {
		return nil, cm.NewProtocolErr("core", cm.ProtocolViolation, "%v", err)
	}

	var authority *section.SAP

	if p.Kind == membership.SectionInfo {
		if err := c.checkSectionInfo(snap, p.SAP); err != nil {
			return nil, err
		}
		authority = p.SAP
	} else {
		if !bytes.Equal(vote.SectionKey, snap.SectionKey()) {
			if i := snap.Chain.IndexOfKey(vote.SectionKey); i >= 0 {
				// The voter missed the latest links.
				gen := snap.Chain[i].SAP.Generation
				return []net.Outgoing{c.updateFor(snap, vote.Voter, gen)}, nil
			}
			return nil, cm.NewProtocolErr("core", cm.StaleKnowledge,
				"vote from %s under unknown key %s", vote.Voter.Name(), cm.ShortHex(vote.SectionKey))
		}
		if err := c.checkNodeState(snap, p); err != nil {
			return nil, err
		}
		authority = snap.SAP()
	}

	d, err := c.engine.AddVote(vote, authority)
	if err != nil {
		if err == membership.ErrAlreadyDecided {
			return nil, nil
		}
		return nil, err
	}
	if d == nil {
		return nil, nil
	}

	return c.onDecision(d)
}

// checkSectionInfo accepts a proposed SAP only for the next generation, of
// this section or of one of its halves, and only with the candidates of a
// promotion this node started.
func (c *Core) checkSectionInfo(snap *section.Snapshot, sap *section.SAP) error {
	prefix := snap.Prefix()
	if sap.Generation != snap.Generation()+1 || (sap.Prefix != prefix && !sap.Prefix.IsChildOf(prefix)) {
		return cm.NewProtocolErr("core", cm.StaleKnowledge,
			"SectionInfo for %s/%d, current is %s/%d", sap.Prefix, sap.Generation, prefix, snap.Generation())
	}
	for _, id := range c.started {
		if id.Generation == sap.Generation && id.Prefix == sap.Prefix && peers.NewPeerSet(id.Elders).Equal(sap.ElderSet()) {
			return nil
		}
	}
	return cm.NewProtocolErr("core", cm.ProtocolViolation, "SectionInfo for elders this node did not promote")
}

func (c *Core) checkNodeState(snap *section.Snapshot, p *membership.Proposal) error {
	if p.NodeState == nil {
		return nil
	}

	name := p.NodeState.Name()
	if !snap.Prefix().Matches(name) {
		return cm.NewProtocolErr("core", cm.ProtocolViolation, "%s is outside %s", name, snap.Prefix())
	}

	switch p.Kind {
	case membership.NodeIsOnline:
		// A member already Joined may have been learnt from another elder's
		// update before this node saw enough votes.
		if m, ok := snap.Member(name); ok && m.NodeState.State != section.Joined {
			return cm.NewProtocolErr("core", cm.ProtocolViolation, "%s already went %s", name, m.NodeState.State)
		}
	case membership.NodeIsOffline:
		if _, ok := snap.Member(name); !ok {
			return cm.NewProtocolErr("core", cm.ProtocolViolation, "%s is not a member", name)
		}
	}

	return nil
}

func (c *Core) onDecision(d *membership.Decision) ([]net.Outgoing, error) {
	c.metrics.Decisions.WithLabelValues(d.Proposal.Kind.String()).Inc()

	switch d.Proposal.Kind {
	case membership.NodeIsOnline:
		return c.onOnline(d)
	case membership.NodeIsOffline:
		return c.onOffline(d)
	case membership.SectionInfo:
		// The new elders hold the key. The current ones now hand over.
		return c.propose(membership.NewNewElders(d.Proposal.SAP))
	case membership.NewElders:
		return c.onNewElders(d)
	default:
		return nil, nil
	}
}

func (c *Core) onOnline(d *membership.Decision) ([]net.Outgoing, error) {
	signed := d.SignedNodeState()
	if _, err := c.knowledge.UpdateMember(signed); err != nil {
		return nil, err
	}
	c.updateGauges()

	snap := c.Snapshot()
	state := signed.NodeState

	var out []net.Outgoing

	if state.PreviousName != nil {
		c.tracker.Admit(*state.PreviousName, state.Name())

		c.logger.WithFields(logrus.Fields{
			"previous": *state.PreviousName,
			"name":     state.Name(),
			"age":      state.Age(),
		}).Info("Relocated node admitted")

		out = append(out, net.Outgoing{
			Targets: []peers.Peer{state.Peer},
			Body: &net.JoinAsRelocatedResponse{
				Kind:     net.RelocatedApproved,
				Chain:    snap.Chain,
				Members:  snap.SignedMembers(),
				Approval: signed,
			},
		})
	} else {
		c.metrics.Approvals.Inc()

		c.logger.WithFields(logrus.Fields{
			"name": state.Name(),
			"age":  state.Age(),
		}).Info("Candidate approved")

		out = append(out, net.Outgoing{
			Targets: []peers.Peer{state.Peer},
			Body: &net.JoinResponse{
				Kind:     net.Approved,
				Chain:    snap.Chain,
				Members:  snap.SignedMembers(),
				Approval: signed,
			},
		})
	}

	more, err := c.onChurn(d, state.Name())
	return append(out, more...), err
}

func (c *Core) onOffline(d *membership.Decision) ([]net.Outgoing, error) {
	signed := d.SignedNodeState()
	if _, err := c.knowledge.UpdateMember(signed); err != nil {
		return nil, err
	}
	c.updateGauges()

	snap := c.Snapshot()
	state := signed.NodeState

	var out []net.Outgoing

	if state.State == section.Relocated && state.Relocate != nil {
		c.metrics.Relocations.Inc()

		out = append(out, net.Outgoing{
			Targets: []peers.Peer{state.Peer},
			Body: &net.RelocationNotification{
				State:  *signed,
				Target: snap.SectionFor(state.Relocate.Dst),
			},
		})
	} else {
		c.logger.WithField("name", state.Name()).Info("Member left")
	}

	more, err := c.onChurn(d, state.Name())
	return append(out, more...), err
}

// onChurn follows every committed member change: the decision's signature
// selects the members to relocate, and the elder candidates are checked
// against the current elders.
func (c *Core) onChurn(d *membership.Decision, changed peers.Name) ([]net.Outgoing, error) {
	snap := c.Snapshot()

	churn := relocation.ChurnID(d.Signature)
	states := relocation.FindRelocations(snap, churn, map[peers.Name]bool{changed: true}, c.relocPolicy)

	var out []net.Outgoing
	for _, s := range c.tracker.Propose(states, snap.Generation()) {
		s := s

		c.logger.WithFields(logrus.Fields{
			"member": s.Name(),
			"churn":  churn.String(),
			"dst":    s.Relocate.Dst,
		}).Info("Relocating member")

		more, err := c.propose(membership.NewNodeIsOffline(&s))
		if err != nil {
			c.logger.WithError(err).Error("Proposing relocation")
			continue
		}
		out = append(out, more...)
	}

	more, err := c.checkElders()
	return append(out, more...), err
}

// onNewElders appends the handover link to the chain and sends it to the
// members and the new elders. The halves of a split are signed one at a
// time; the chain moves once both are.
func (c *Core) onNewElders(d *membership.Decision) ([]net.Outgoing, error) {
	snap := c.Snapshot()
	link := d.SignedSAP()

	if link.SAP.Prefix.IsChildOf(snap.Prefix()) {
		c.splits[link.SAP.Prefix] = link
		sibling, ok := c.splits[link.SAP.Prefix.Sibling()]
		if !ok {
			return nil, nil
		}
		return c.onSplit(snap, link, sibling)
	}

	if err := c.knowledge.AppendSAP(link); err != nil {
		return nil, err
	}

	after := c.Snapshot()
	out := []net.Outgoing{c.handoverUpdate(after.Chain, after.SignedMembers(), &link.SAP, nil)}

	return append(out, c.onNewSAP(snap.Generation())...), nil
}

// onSplit moves this node to the half its name falls under and records the
// other half as a known section. Each half is sent the chain extended with
// its own link, its members and the other half's SAP.
func (c *Core) onSplit(snap *section.Snapshot, link, sibling *section.SignedSAP) ([]net.Outgoing, error) {
	own, other := link, sibling
	if !own.SAP.Prefix.Matches(c.validator.Name()) {
		own, other = other, own
	}

	if err := c.knowledge.AppendSAP(own); err != nil {
		return nil, err
	}
	if _, err := c.knowledge.AddSection(other); err != nil {
		c.logger.WithError(err).Warn("Recording the other half")
	}

	c.logger.WithFields(logrus.Fields{
		"from":       snap.Prefix(),
		"to":         own.SAP.Prefix,
		"sibling":    other.SAP.Prefix,
		"generation": own.SAP.Generation,
	}).Info("Section split")

	members := snap.SignedMembers()
	out := []net.Outgoing{
		c.handoverUpdate(extend(snap.Chain, own), members, &own.SAP, []section.SignedSAP{*other}),
		c.handoverUpdate(extend(snap.Chain, other), members, &other.SAP, []section.SignedSAP{*own}),
	}

	return append(out, c.onNewSAP(snap.Generation())...), nil
}

// handoverUpdate sends chain, with the states of the members under sap's
// prefix, to those members and to sap's elders.
func (c *Core) handoverUpdate(
	chain section.Chain,
	members []section.SignedNodeState,
	sap *section.SAP,
	sections []section.SignedSAP,
) net.Outgoing {

	var states []section.SignedNodeState
	for _, m := range members {
		if sap.Prefix.Matches(m.NodeState.Name()) {
			states = append(states, m)
		}
	}

	seen := make(map[peers.Name]bool)
	var targets []peers.Peer
	add := func(p peers.Peer) {
		n := p.Name()
		if n == c.validator.Name() || seen[n] {
			return
		}
		seen[n] = true
		targets = append(targets, p)
	}
	for _, m := range states {
		if m.NodeState.State == section.Joined {
			add(m.NodeState.Peer)
		}
	}
	for _, e := range sap.Elders {
		add(*e)
	}

	return net.Outgoing{
		Targets: targets,
		Body: &net.AntiEntropyUpdate{
			Chain:    chain,
			Members:  states,
			Sections: sections,
		},
	}
}

func extend(chain section.Chain, link *section.SignedSAP) section.Chain {
	return append(append(section.Chain{}, chain...), *link)
}
