package dkg

import (
	"encoding/binary"
	"fmt"

	cm "github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto"
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// SessionID identifies a key generation.
type SessionID struct {
	Prefix     peers.Prefix
	Generation uint64
	// Elders are the candidates, ordered by name. A participant's index is
	// its position here.
	Elders []*peers.Peer
}

// NewSessionID ...
func NewSessionID(prefix peers.Prefix, generation uint64, candidates []*peers.Peer) SessionID {
	return SessionID{
		Prefix:     prefix,
		Generation: generation,
		Elders:     peers.NewPeerSet(candidates).Peers,
	}
}

// Hash commits to the prefix, the generation and the candidate names.
func (id SessionID) Hash() []byte {
	var gen [8]byte
	binary.BigEndian.PutUint64(gen[:], id.Generation)

	parts := [][]byte{[]byte(id.Prefix), gen[:]}
	for _, e := range id.Elders {
		n := e.Name()
		parts = append(parts, n[:])
	}

	return crypto.SHA256Parts(parts...)
}

// Key is the hex form of Hash, used to index sessions.
func (id SessionID) Key() string {
	return cm.EncodeToString(id.Hash())
}

// Len is the number of participants.
func (id SessionID) Len() int {
	return len(id.Elders)
}

// Threshold is the number of key shares the resulting key set needs.
func (id SessionID) Threshold() int {
	return peers.SuperMajority(len(id.Elders))
}

// Index returns the participant index of name, or -1.
func (id SessionID) Index(name peers.Name) int {
	for i, e := range id.Elders {
		if e.Name() == name {
			return i
		}
	}
	return -1
}

// Names ...
func (id SessionID) Names() []peers.Name {
	res := make([]peers.Name, len(id.Elders))
	for i, e := range id.Elders {
		res[i] = e.Name()
	}
	return res
}

// Equal compares candidates as well as prefix and generation.
func (id SessionID) Equal(other SessionID) bool {
	return id.Key() == other.Key()
}

// String ...
func (id SessionID) String() string {
	return fmt.Sprintf("DKG%s/%d/%s", id.Prefix, id.Generation, cm.ShortHex(id.Hash()))
}
