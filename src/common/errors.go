package common

import (
	"errors"
	"fmt"
)

// ProtocolErrType classifies the recoverable failures of the membership and
// key generation protocols. None of them is fatal to the node.
type ProtocolErrType uint32

const (
	// ProtocolViolation is a malformed or unexpected message. It is dropped.
	ProtocolViolation ProtocolErrType = iota
	// StaleKnowledge means one side holds an outdated section key. It leads
	// to a Retry or Redirect.
	StaleKnowledge
	// ResourceProofFailure means a candidate failed its challenge.
	ResourceProofFailure
	// DkgFailure means not enough participants completed a DKG round.
	DkgFailure
	// JoinTimeout is raised on the candidate when the join deadline passes.
	JoinTimeout
	// RelocationAbandoned means the relocation retry budget was exhausted.
	RelocationAbandoned
)

var protocolErrNames = []string{
	"ProtocolViolation",
	"StaleKnowledge",
	"ResourceProofFailure",
	"DkgFailure",
	"JoinTimeout",
	"RelocationAbandoned",
}

// String ...
func (t ProtocolErrType) String() string {
	if int(t) < len(protocolErrNames) {
		return protocolErrNames[t]
	}
	return fmt.Sprintf("ProtocolErrType(%d)", uint32(t))
}

// ProtocolErr is the error type returned by protocol handlers.
type ProtocolErr struct {
	component string
	errType   ProtocolErrType
	msg       string
}

// NewProtocolErr ...
func NewProtocolErr(component string, errType ProtocolErrType, format string, args ...interface{}) ProtocolErr {
	return ProtocolErr{
		component: component,
		errType:   errType,
		msg:       fmt.Sprintf(format, args...),
	}
}

// Error ...
func (e ProtocolErr) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.component, e.errType, e.msg)
}

// Type returns the class of the error.
func (e ProtocolErr) Type() ProtocolErrType {
	return e.errType
}

// IsProtocol checks that err, or any error it wraps, is a ProtocolErr of type
// t.
func IsProtocol(err error, t ProtocolErrType) bool {
	var pErr ProtocolErr
	return errors.As(err, &pErr) && pErr.errType == t
}
