// Package peers defines node identities and the collections of them used
// throughout the network.
//
// A node is identified by a Name, a 256-bit address computed from its public
// key and its age. The age is stored in the last byte of the name so that any
// node can read it without further information; it only changes when the node
// is relocated, which gives it a fresh key and therefore a fresh name.
//
// Names are grouped into sections by Prefix, the leading bits they share. A
// section is run by its elders, which a PeerSet orders by name: the position
// of an elder in that order is the index of its share of the section key.
//
// New nodes find the network through a contacts file (contacts.json in the
// data directory). It lists, per known section, the prefix, the section key
// and the elders' addresses. NetworkContacts.Closest picks the section a
// candidate should approach.
package peers
