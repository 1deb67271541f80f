package net

import (
	"fmt"

	"github.com/mosaicnetworks/sectionnet/src/dkg"
	"github.com/mosaicnetworks/sectionnet/src/membership"
	"github.com/mosaicnetworks/sectionnet/src/peers"
	"github.com/mosaicnetworks/sectionnet/src/resourceproof"
	"github.com/mosaicnetworks/sectionnet/src/section"
)

// JoinRequestKind ...
type JoinRequestKind uint8

const (
	// Initiate opens a join with the candidate's identity and the section
	// key it knows.
	Initiate JoinRequestKind = iota + 1
	// SubmitResourceProof answers an elder's ResourceChallenge.
	SubmitResourceProof
)

// JoinRequest is sent by a candidate to the elders of the section it wants
// to join.
type JoinRequest struct {
	Kind       JoinRequestKind
	Candidate  peers.Peer
	SectionKey []byte
	Proof      *resourceproof.Proof
}

// JoinResponseKind ...
type JoinResponseKind uint8

const (
	// Redirect points the candidate at the section matching its name.
	Redirect JoinResponseKind = iota + 1
	// Retry asks the candidate to try again with the given SAP, and with
	// ExpectedAge when it is set.
	Retry
	// ResourceChallenge asks for a resource proof.
	ResourceChallenge
	// Approved carries the knowledge of the section the candidate joined.
	Approved
)

// String ...
func (k JoinResponseKind) String() string {
	switch k {
	case Redirect:
		return "Redirect"
	case Retry:
		return "Retry"
	case ResourceChallenge:
		return "ResourceChallenge"
	case Approved:
		return "Approved"
	default:
		return fmt.Sprintf("JoinResponseKind(%d)", uint8(k))
	}
}

// JoinResponse is an elder's answer to a JoinRequest.
type JoinResponse struct {
	Kind        JoinResponseKind
	SAP         *section.SignedSAP
	ExpectedAge *uint8
	Challenge   *resourceproof.Challenge
	Chain       section.Chain
	Members     []section.SignedNodeState
	Approval    *section.SignedNodeState
}

// RelocationNotification tells a member it has been relocated. State is
// its signed Relocated state, whose details name the destination.
type RelocationNotification struct {
	State  section.SignedNodeState
	Target *section.SignedSAP
}

// JoinAsRelocatedRequest is sent by a relocating node to the elders of its
// destination. The first request has no NewPeer and asks for the target
// SAP; the second introduces the node's new identity, with the new name
// signed by the old key.
type JoinAsRelocatedRequest struct {
	Proof      section.SignedNodeState
	NewPeer    *peers.Peer
	NewNameSig string
	SectionKey []byte
}

// JoinAsRelocatedResponseKind ...
type JoinAsRelocatedResponseKind uint8

const (
	// RelocatedRetry carries the target SAP to generate the new identity
	// against.
	RelocatedRetry JoinAsRelocatedResponseKind = iota + 1
	// RelocatedRedirect points at the section matching the destination.
	RelocatedRedirect
	// RelocatedApproved carries the knowledge of the target section.
	RelocatedApproved
)

// JoinAsRelocatedResponse ...
type JoinAsRelocatedResponse struct {
	Kind     JoinAsRelocatedResponseKind
	SAP      *section.SignedSAP
	Chain    section.Chain
	Members  []section.SignedNodeState
	Approval *section.SignedNodeState
}

// AntiEntropyUpdate brings a node with older knowledge up to date: the
// links it is missing and the section's member states. Sections carries the
// SAPs of other sections, such as the other half after a split.
type AntiEntropyUpdate struct {
	Chain    section.Chain
	Members  []section.SignedNodeState
	Sections []section.SignedSAP
}

// AntiEntropyRequest asks for the links after Generation.
type AntiEntropyRequest struct {
	Generation uint64
}

// LeaveRequest is a member's signed notice that it is leaving.
type LeaveRequest struct {
	Peer      peers.Peer
	Signature string
}

// Kind is the wire tag of a message body.
type Kind uint8

const (
	// KindJoinRequest ...
	KindJoinRequest Kind = iota + 1
	// KindJoinResponse ...
	KindJoinResponse
	// KindJoinAsRelocatedRequest ...
	KindJoinAsRelocatedRequest
	// KindJoinAsRelocatedResponse ...
	KindJoinAsRelocatedResponse
	// KindRelocationNotification ...
	KindRelocationNotification
	// KindVote ...
	KindVote
	// KindDkgStart ...
	KindDkgStart
	// KindDkgMessage ...
	KindDkgMessage
	// KindDkgFailureObservation ...
	KindDkgFailureObservation
	// KindDkgFailureAgreement ...
	KindDkgFailureAgreement
	// KindAntiEntropyUpdate ...
	KindAntiEntropyUpdate
	// KindAntiEntropyRequest ...
	KindAntiEntropyRequest
	// KindLeaveRequest ...
	KindLeaveRequest
)

// String ...
func (k Kind) String() string {
	switch k {
	case KindJoinRequest:
		return "JoinRequest"
	case KindJoinResponse:
		return "JoinResponse"
	case KindJoinAsRelocatedRequest:
		return "JoinAsRelocatedRequest"
	case KindJoinAsRelocatedResponse:
		return "JoinAsRelocatedResponse"
	case KindRelocationNotification:
		return "RelocationNotification"
	case KindVote:
		return "Vote"
	case KindDkgStart:
		return "DkgStart"
	case KindDkgMessage:
		return "DkgMessage"
	case KindDkgFailureObservation:
		return "DkgFailureObservation"
	case KindDkgFailureAgreement:
		return "DkgFailureAgreement"
	case KindAntiEntropyUpdate:
		return "AntiEntropyUpdate"
	case KindAntiEntropyRequest:
		return "AntiEntropyRequest"
	case KindLeaveRequest:
		return "LeaveRequest"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// KindOf returns the tag of a message body.
func KindOf(body interface{}) (Kind, error) {
	switch body.(type) {
	case *JoinRequest:
		return KindJoinRequest, nil
	case *JoinResponse:
		return KindJoinResponse, nil
	case *JoinAsRelocatedRequest:
		return KindJoinAsRelocatedRequest, nil
	case *JoinAsRelocatedResponse:
		return KindJoinAsRelocatedResponse, nil
	case *RelocationNotification:
		return KindRelocationNotification, nil
	case *membership.Vote:
		return KindVote, nil
	case *dkg.Start:
		return KindDkgStart, nil
	case *dkg.Message:
		return KindDkgMessage, nil
	case *dkg.FailureObservation:
		return KindDkgFailureObservation, nil
	case *dkg.Agreement:
		return KindDkgFailureAgreement, nil
	case *AntiEntropyUpdate:
		return KindAntiEntropyUpdate, nil
	case *AntiEntropyRequest:
		return KindAntiEntropyRequest, nil
	case *LeaveRequest:
		return KindLeaveRequest, nil
	default:
		return 0, fmt.Errorf("unknown message body %T", body)
	}
}

// newBody returns a pointer to a zero body of the given kind, to decode
// into.
func newBody(k Kind) (interface{}, error) {
	switch k {
	case KindJoinRequest:
		return new(JoinRequest), nil
	case KindJoinResponse:
		return new(JoinResponse), nil
	case KindJoinAsRelocatedRequest:
		return new(JoinAsRelocatedRequest), nil
	case KindJoinAsRelocatedResponse:
		return new(JoinAsRelocatedResponse), nil
	case KindRelocationNotification:
		return new(RelocationNotification), nil
	case KindVote:
		return new(membership.Vote), nil
	case KindDkgStart:
		return new(dkg.Start), nil
	case KindDkgMessage:
		return new(dkg.Message), nil
	case KindDkgFailureObservation:
		return new(dkg.FailureObservation), nil
	case KindDkgFailureAgreement:
		return new(dkg.Agreement), nil
	case KindAntiEntropyUpdate:
		return new(AntiEntropyUpdate), nil
	case KindAntiEntropyRequest:
		return new(AntiEntropyRequest), nil
	case KindLeaveRequest:
		return new(LeaveRequest), nil
	default:
		return nil, fmt.Errorf("unknown message kind %d", k)
	}
}
