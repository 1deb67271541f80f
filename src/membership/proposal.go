package membership

import (
	"fmt"

	"github.com/mosaicnetworks/sectionnet/src/section"
)

// Kind tags the content of a Proposal.
type Kind uint8

const (
	// SectionInfo proposes a SAP to be signed with its own, new, key.
	SectionInfo Kind = iota + 1
	// NodeIsOffline proposes a member as Left or Relocated.
	NodeIsOffline
	// NodeIsOnline proposes a node as a Joined member.
	NodeIsOnline
	// NewElders proposes a SAP to be signed with the current key, making
	// it the next link of the chain.
	NewElders
)

// String ...
func (k Kind) String() string {
	switch k {
	case SectionInfo:
		return "SectionInfo"
	case NodeIsOffline:
		return "NodeIsOffline"
	case NodeIsOnline:
		return "NodeIsOnline"
	case NewElders:
		return "NewElders"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Proposal is a tagged variant: SectionInfo and NewElders carry a SAP,
// NodeIsOffline and NodeIsOnline a NodeState.
type Proposal struct {
	Kind      Kind
	SAP       *section.SAP
	NodeState *section.NodeState
}

// NewSectionInfo ...
func NewSectionInfo(sap *section.SAP) Proposal {
	return Proposal{Kind: SectionInfo, SAP: sap}
}

// NewNewElders ...
func NewNewElders(sap *section.SAP) Proposal {
	return Proposal{Kind: NewElders, SAP: sap}
}

// NewNodeIsOnline ...
func NewNodeIsOnline(state *section.NodeState) Proposal {
	return Proposal{Kind: NodeIsOnline, NodeState: state}
}

// NewNodeIsOffline ...
func NewNodeIsOffline(state *section.NodeState) Proposal {
	return Proposal{Kind: NodeIsOffline, NodeState: state}
}

// Validate checks that the content matches the tag.
func (p *Proposal) Validate() error {
	switch p.Kind {
	case SectionInfo, NewElders:
		if p.SAP == nil || p.NodeState != nil {
			return fmt.Errorf("%s proposal must carry a SAP only", p.Kind)
		}
		if len(p.SAP.Elders) == 0 {
			return fmt.Errorf("%s proposal has no elders", p.Kind)
		}
	case NodeIsOnline:
		if p.NodeState == nil || p.SAP != nil {
			return fmt.Errorf("%s proposal must carry a node state only", p.Kind)
		}
		if p.NodeState.State != section.Joined {
			return fmt.Errorf("%s proposal with state %s", p.Kind, p.NodeState.State)
		}
	case NodeIsOffline:
		if p.NodeState == nil || p.SAP != nil {
			return fmt.Errorf("%s proposal must carry a node state only", p.Kind)
		}
		if p.NodeState.State == section.Joined {
			return fmt.Errorf("%s proposal with state %s", p.Kind, p.NodeState.State)
		}
	default:
		return fmt.Errorf("unknown proposal kind %d", p.Kind)
	}
	return nil
}

// Digest is what the elders sign.
func (p *Proposal) Digest() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.SAP != nil {
		return p.SAP.Hash()
	}
	return p.NodeState.Hash()
}

// DecisionKey identifies the decision point the proposal competes for.
func (p *Proposal) DecisionKey() string {
	switch p.Kind {
	case SectionInfo:
		return fmt.Sprintf("section-info/%s/%d", p.SAP.Prefix, p.SAP.Generation)
	case NewElders:
		return fmt.Sprintf("new-elders/%s/%d", p.SAP.Prefix, p.SAP.Generation)
	case NodeIsOnline:
		return fmt.Sprintf("online/%s", p.NodeState.Name().Hex())
	case NodeIsOffline:
		return fmt.Sprintf("offline/%s", p.NodeState.Name().Hex())
	default:
		return fmt.Sprintf("unknown/%d", p.Kind)
	}
}

// String ...
func (p *Proposal) String() string {
	switch {
	case p.SAP != nil:
		return fmt.Sprintf("%s(%s)", p.Kind, p.SAP)
	case p.NodeState != nil:
		return fmt.Sprintf("%s(%s)", p.Kind, p.NodeState)
	default:
		return p.Kind.String()
	}
}
