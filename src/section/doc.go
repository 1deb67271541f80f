// Package section holds what a node knows about its section and the rest of
// the network.
//
// A section's authority at a point in time is a SAP: its prefix, its elders,
// the public side of the elders' shared BLS key, and a generation number.
// Each SAP after the first is signed by the key of the one before it, so the
// sequence of SAPs forms a Chain that anyone holding an earlier key can
// verify. Members are tracked as NodeStates, each signed by the section key
// in force when the membership decision was taken.
//
// Knowledge is the single-writer store of the chain, the member list and the
// SAPs of other known sections. Readers never touch its internals; they take
// an immutable Snapshot. Knowledge persists through a Store, of which there
// are in-memory, Badger and LevelDB implementations.
package section
