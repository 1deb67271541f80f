// Package node implements the reactive component of a section node.
//
// A Node owns a Core and a Transport. Core is the protocol state machine:
// it holds the node's knowledge of its section (the chain of section
// authorities and the signed member states), the membership vote engine,
// the key generation sessions and the join and relocation handshakes. Core
// does no I/O. Each handler returns the messages to send, and the Node
// wraps them in headers and hands them to the transport from a single send
// routine, so that messages between two nodes arrive in the order they were
// produced.
//
// States
//
// A node is Joining until the elders of its section approve it, Adult once
// it is a member, Elder while it belongs to the current section authority
// and holds its share of the section key, and Relocating while it moves to
// a new identity.
//
// Joining
//
// A candidate contacts the elders of the section closest to its name. They
// redirect it if its name belongs elsewhere, ask it to retry with their
// current key or another age, ping its address and then challenge it with
// a resource proof. A valid proof becomes a NodeIsOnline vote; once a
// supermajority of elders agree, the candidate receives the section chain
// and the signed member states.
//
// Elder Promotion
//
// After every membership change the elders compare the oldest members with
// the current elders. When the sets differ they ask the candidates to run a
// distributed key generation. The candidates vote the new section authority
// with shares of the new key, and the current elders hand over by voting
// NewElders with theirs. The handover link extends the chain and is sent to
// every member.
//
// A section whose two halves both reach the recommended size splits. Each
// half runs its own key generation, and the chain moves once the elders
// have handed over to both: a node follows the half its name falls under
// and keeps the other half's authority as a known section.
//
// Relocation
//
// The signature of each churn decision selects members whose age makes
// them eligible to move. The elders vote them out as Relocated, and they
// rejoin the destination with a new key and an age one higher.
//
// Anti-Entropy
//
// Every message carries the sender's section generation and key. Messages
// from a newer generation are held back while the node asks the sender
// for the links it is missing, and replayed once it caught up.
package node
