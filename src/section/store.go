package section

// Store persists Knowledge: chain links are appended in generation order and
// member states are overwritten by name.
type Store interface {
	AppendSAP(*SignedSAP) error
	Chain() (Chain, error)
	SetMember(*SignedNodeState) error
	Members() ([]SignedNodeState, error)
	Close() error
	StorePath() string
}
