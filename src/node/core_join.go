package node

import (
	"bytes"

	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/membership"
	"github.com/mosaicnetworks/sectionnet/src/net"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/resourceproof"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// handleJoinRequest is the elder side of the join handshake. Candidates
// outside the prefix are redirected, those with an older section key or
// the wrong age are asked to retry, reachable ones are challenged, and a valid
// proof turns into a NodeIsOnline vote.
func (c *Core) handleJoinRequest(req *net.JoinRequest) ([]net.Outgoing, error) {
	snap := c.Snapshot()
	candidate := req.Candidate
	name := candidate.Name()

	reply := func(resp *net.JoinResponse) []net.Outgoing {
		return []net.Outgoing{{
			Targets: []peers.Peer{candidate},
			Body:    resp,
		}}
	}

	if snap.IsEmpty() {
		return nil, nil
	}

	if !snap.Prefix().Matches(name) {
		return reply(&net.JoinResponse{
			Kind: net.Redirect,
			SAP:  snap.SectionFor(name),
		}), nil
	}

	if !c.isElder(snap) {
		return nil, nil
	}

	if !bytes.Equal(req.SectionKey, snap.SectionKey()) {
		// Only a candidate behind this elder is sent the current SAP. A key
		// this elder does not know is left to the elders that do.
		if i := snap.Chain.IndexOfKey(req.SectionKey); i < 0 || i >= len(snap.Chain)-1 {
			c.logger.WithFields(logrus.Fields{
				"candidate": name,
				"key":       cm.ShortHex(req.SectionKey),
			}).Debug("Join request under an unknown section key")
			return nil, nil
		}
		return reply(&net.JoinResponse{
			Kind: net.Retry,
			SAP:  snap.Signed(),
		}), nil
	}

	if _, ok := snap.Member(name); ok {
		c.logger.WithField("candidate", name).Debug("Join request from a member")
		return nil, nil
	}

	switch req.Kind {
	case net.Initiate:
		return c.handleInitiate(snap, candidate, reply)
	case net.SubmitResourceProof:
		if req.Proof == nil {
			return nil, cm.NewProtocolErr("core", cm.ProtocolViolation, "%s submitted no proof", name)
		}
		attempt, err := c.attempts.SubmitProof(name, *req.Proof)
		if err != nil {
			return nil, err
		}

		c.logger.WithField("candidate", name).Debug("Resource proof accepted")

		state := section.NodeState{Peer: attempt.Candidate, State: section.Joined}
		return c.propose(membership.NewNodeIsOnline(&state))
	default:
		return nil, cm.NewProtocolErr("core", cm.ProtocolViolation, "unknown join request %d", req.Kind)
	}
}

func (c *Core) handleInitiate(
	snap *section.Snapshot,
	candidate peers.Peer,
	reply func(*net.JoinResponse) []net.Outgoing,
) ([]net.Outgoing, error) {

	expected := c.agePolicy.ExpectedAge(snap.Prefix(), len(snap.ActiveMembers()))
	if candidate.Age != expected {
		return reply(&net.JoinResponse{
			Kind:        net.Retry,
			SAP:         snap.Signed(),
			ExpectedAge: &expected,
		}), nil
	}

	if c.ping != nil {
		if err := c.ping(candidate); err != nil {
			c.logger.WithError(err).WithField("candidate", candidate.Name()).Debug("Candidate unreachable")
			return nil, nil
		}
	}

	challenge, err := resourceproof.NewChallenge(c.validator.Name(), c.conf.ResourceProofDifficulty)
	if err != nil {
		return nil, err
	}

	attempt, err := c.attempts.Start(candidate, challenge)
	if err != nil {
		c.logger.WithError(err).WithField("candidate", candidate.Name()).Debug("Join attempt refused")
		return nil, nil
	}

	c.logger.WithFields(logrus.Fields{
		"candidate":  candidate.Name(),
		"difficulty": attempt.Challenge.Difficulty,
	}).Debug("Challenging candidate")

	return reply(&net.JoinResponse{
		Kind:      net.ResourceChallenge,
		Challenge: &attempt.Challenge,
	}), nil
}

// handleLeaveRequest votes a member out as Left once its signature over
// its own name checks out.
func (c *Core) handleLeaveRequest(req *net.LeaveRequest) ([]net.Outgoing, error) {
	snap := c.Snapshot()
	if !c.isElder(snap) {
		return nil, nil
	}

	name := req.Peer.Name()
	member, ok := snap.Member(name)
	if !ok || member.NodeState.State != section.Joined {
		return nil, nil
	}

	ok, err := keys.VerifyHex(member.NodeState.Peer.PubKeyHex, name[:], req.Signature)
	if err != nil || !ok {
		return nil, cm.NewProtocolErr("core", cm.ProtocolViolation, "leave request for %s not signed by it", name)
	}

	c.logger.WithField("member", name).Info("Member leaving")

	state := section.NodeState{Peer: member.NodeState.Peer, State: section.Left}
	return c.propose(membership.NewNodeIsOffline(&state))
}
