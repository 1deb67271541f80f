package node

import (
	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto/bls"
	"github.com/mosaicnetworks/sectionnet/src/dkg"
	"github.com/mosaicnetworks/sectionnet/src/membership"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// checkElders compares the elder candidates with the current elders and,
// when they differ, asks the candidates to generate the next section key.
// A section whose halves both reach the recommended size splits instead:
// the candidates of each half generate a key of their own. Only current
// elders promote.
func (c *Core) checkElders() ([]net.Outgoing, error) {
	snap := c.Snapshot()
	if !c.isElder(snap) {
		return nil, nil
	}

	prefix := snap.Prefix()
	gen := snap.Generation() + 1

	zero, one, split := section.SplitCandidates(
		prefix,
		snap.ActiveMembers(),
		c.conf.RecommendedSectionSize(),
		c.conf.ElderCount,
		c.excluded,
	)
	if split {
		return c.promote(
			dkg.NewSessionID(prefix.Pushed(0), gen, zero),
			dkg.NewSessionID(prefix.Pushed(1), gen, one),
		)
	}

	candidates := section.ElderCandidates(snap.ActiveMembers(), c.conf.ElderCount, c.excluded)
	if len(candidates) == 0 || peers.NewPeerSet(candidates).Equal(snap.SAP().ElderSet()) {
		return nil, nil
	}

	return c.promote(dkg.NewSessionID(prefix, gen, candidates))
}

// promote sends a signed Start to the candidates of each session not yet
// started, and joins those this node is a candidate of.
func (c *Core) promote(ids ...dkg.SessionID) ([]net.Outgoing, error) {
	var out []net.Outgoing

	for _, id := range ids {
		if _, ok := c.started[id.Key()]; ok {
			continue
		}

		start, err := dkg.NewStart(id, c.validator.Peer(), c.validator.Key)
		if err != nil {
			return out, err
		}
		c.started[id.Key()] = id

		c.logger.WithFields(logrus.Fields{
			"session":    id.String(),
			"candidates": id.Len(),
			"split":      len(ids) > 1,
		}).Info("Promoting elder candidates")

		out = append(out, net.Outgoing{
			Targets:    c.others(id.Elders),
			Body:       start,
			WithUpdate: true,
		})

		if id.Index(c.validator.Name()) >= 0 {
			more, err := c.handleDkgStart(start)
			if err != nil {
				return out, err
			}
			out = append(out, more...)
		}
	}

	return out, nil
}

func (c *Core) handleDkgStart(start *dkg.Start) ([]net.Outgoing, error) {
	snap := c.Snapshot()
	if snap.IsEmpty() {
		return nil, nil
	}

	res, err := c.dkg.HandleStart(start, snap.SAP())
	if err != nil {
		return nil, err
	}
	return c.routeDkg(res)
}

// routeDkg addresses what the key generation manager asks for: round
// messages to their recipients, failure observations to every participant
// and agreements to the current elders. Completed sessions turn into
// SectionInfo votes.
func (c *Core) routeDkg(res *dkg.Result) ([]net.Outgoing, error) {
	if res.Empty() {
		return nil, nil
	}

	self := c.validator.Name()

	var out []net.Outgoing

	for _, m := range res.Messages {
		var targets []peers.Peer
		if m.Round.To == bls.Broadcast {
			targets = c.others(m.SessionID.Elders)
		} else if m.Round.To >= 0 && m.Round.To < m.SessionID.Len() {
			if p := m.SessionID.Elders[m.Round.To]; p.Name() != self {
				targets = []peers.Peer{*p}
			}
		}
		if len(targets) > 0 {
			out = append(out, net.Outgoing{Targets: targets, Body: m})
		}
	}

	for _, o := range res.Observations {
		out = append(out, net.Outgoing{Targets: c.others(o.SessionID.Elders), Body: o})
	}

	for _, a := range res.Agreements {
		c.metrics.DkgSessions.WithLabelValues("failed").Inc()

		out = append(out, c.toElders(c.Snapshot(), a))
		more, err := c.handleAgreement(a)
		if err != nil {
			c.logger.WithError(err).Error("Handling own failure agreement")
		}
		out = append(out, more...)
	}

	for _, done := range res.Completed {
		c.metrics.DkgSessions.WithLabelValues("succeeded").Inc()

		more, err := c.onDkgCompleted(done)
		if err != nil {
			return out, err
		}
		out = append(out, more...)
	}

	return out, nil
}

// onDkgCompleted keeps the new key share and votes SectionInfo for the SAP
// of the session's candidates under the new key.
func (c *Core) onDkgCompleted(done *dkg.Completed) ([]net.Outgoing, error) {
	id := done.SessionID
	ks := done.KeyShare
	c.shares[ks.Public.Hex()] = ks

	snap := c.Snapshot()

	// A session that finished after the handover it led to.
	if id.Generation == snap.Generation() && snap.SAP().SectionKeyHex() == ks.Public.Hex() {
		c.logger.WithField("generation", id.Generation).Info("Promoted to elder")
		return c.checkElders()
	}

	sap := section.NewSAP(id.Prefix, id.Elders, ks.Public, id.Generation)
	vote, err := membership.NewVote(c.validator.Peer(), membership.NewSectionInfo(sap), ks, c.validator.Key)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"session": id.String(),
		"key":     cm.ShortHex(ks.Public.PublicKey()),
	}).Debug("Voting SectionInfo")

	out := []net.Outgoing{c.toElders(snap, vote)}
	more, err := c.handleVote(vote)
	return append(out, more...), err
}

// handleAgreement restarts a failed promotion without the participants
// the agreement blames.
func (c *Core) handleAgreement(a *dkg.Agreement) ([]net.Outgoing, error) {
	snap := c.Snapshot()
	if !c.isElder(snap) {
		return nil, nil
	}

	if err := a.Verify(); err != nil {
		return nil, cm.NewProtocolErr("core", cm.ProtocolViolation, "failure agreement: %v", err)
	}

	key := a.SessionID.Key()
	if _, ok := c.started[key]; !ok || c.failed[key] {
		return nil, nil
	}
	c.failed[key] = true

	excluded := a.Excluded()

	c.logger.WithFields(logrus.Fields{
		"session":  a.SessionID.String(),
		"reports":  len(a.Observations),
		"excluded": len(excluded),
	}).Warn("Promotion failed")

	if len(excluded) == 0 {
		return nil, nil
	}
	for _, n := range excluded {
		c.excluded[n] = true
	}

	return c.checkElders()
}
