// Package join holds both sides of the join handshake.
//
// On the elder side, AgePolicy decides the age a candidate must join at and
// Attempts tracks the candidates that were sent a resource challenge until
// they answer or time out.
//
// On the candidate side, Coordinator is the state machine that walks the
// handshake from finding a section to being approved:
//
//	AwaitingSection -> Initiated -> ChallengeReceived -> ProofSubmitted -> Approved
//	                      ^   |
//	                      +---+ Redirect / Retry
//
// Any state but Approved moves to TimedOut once the join timeout elapses.
package join
