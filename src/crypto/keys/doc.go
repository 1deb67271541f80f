// Package keys implements the node keys of the network.
//
// Every node owns a secp256k1 key-pair. Its public key, together with the
// node's age, determines the node's name (see package peers). The private key
// signs the messages that are attributed to a single node rather than to its
// section: DKG start votes, DKG failure observations, leave requests, and the
// signature a relocated node puts over its new name to prove it held the old
// one.
//
// Section-level authority uses BLS threshold keys instead; see package
// crypto/bls.
package keys
