// Package relocation moves members between sections as they age.
//
// Every committed membership decision is a churn event. Its signature is the
// churn id, and a member of age a is due for relocation when the churn id
// ends in at least a zero bits, so older members move exponentially less
// often. Elders pick the oldest due members with FindRelocations and vote
// them offline in the Relocated state.
//
// The relocated node then runs the handshake tracked by a Record:
//
//	Notified -> RequestedFirst -> RespondedWithSAP -> RequestedSecond -> Completed
//
// It asks the destination elders for their SAP, generates an identity one
// year older that falls in their prefix, signs the new name with the old key
// and asks to join under it.
package relocation
