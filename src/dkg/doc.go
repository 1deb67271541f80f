// Package dkg runs the distributed key generations that give a section a
// new key whenever its elders change.
//
// A generation is identified by a SessionID: the section prefix, the next
// generation number and the elder candidates. Current elders each sign a
// Start for the session and send it to every candidate; a candidate only
// joins the session once it holds Starts from a supermajority of the current
// elders, so no single elder can trigger a key generation on its own.
//
// The rounds themselves are run by a bls.KeyGen and relayed as Messages. A
// participant that sees no progress before the timeout signs a
// FailureObservation naming the participants it is missing messages from.
// Once more than a super-minority of the participants have done so the
// session is Failed, and the observations form an Agreement on which nodes
// to exclude from the next attempt.
//
//	Started -> Rounds -> Succeeded
//	               \---> Failed
package dkg
