package peers

import (
	"sort"

	"github.com/mosaicnetworks/sectionnet/src/common"
	"github.com/mosaicnetworks/sectionnet/src/crypto"
)

// SuperMajority is the number of votes, out of n, that commits a decision:
// strictly more than two thirds, which is the same as strictly more than
// n - ceil(n/3).
func SuperMajority(n int) int {
	return 2*n/3 + 1
}

// SuperMinority is the largest number of participants that can fail without
// preventing a supermajority. More failures than this doom a DKG session.
func SuperMinority(n int) int {
	return n - SuperMajority(n)
}

// PeerSet is an immutable set of peers ordered by name. It is used for elder
// sets and DKG participant lists, where a peer's position is its key share
// index.
type PeerSet struct {
	Peers  []*Peer        `json:"peers"`
	ByName map[Name]*Peer `json:"-"`

	//cached values
	hash []byte
	hex  string
}

// NewPeerSet creates a new PeerSet from a list of Peers. Duplicate names are
// kept once.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByName: make(map[Name]*Peer, len(peers)),
	}

	sorted := make([]*Peer, 0, len(peers))
	for _, peer := range peers {
		name := peer.Name()
		if _, ok := peerSet.ByName[name]; ok {
			continue
		}
		peerSet.ByName[name] = peer
		sorted = append(sorted, peer)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name().Less(sorted[j].Name())
	})

	peerSet.Peers = sorted

	return peerSet
}

// WithNewPeer returns a new PeerSet including peer.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := append([]*Peer{}, peerSet.Peers...)
	return NewPeerSet(append(peers, peer))
}

// WithRemovedPeer returns a new PeerSet excluding the peer with that name.
func (peerSet *PeerSet) WithRemovedPeer(name Name) *PeerSet {
	_, rest := ExcludePeer(peerSet.Peers, name)
	return NewPeerSet(rest)
}

// Names returns the names in order.
func (peerSet *PeerSet) Names() []Name {
	res := make([]Name, len(peerSet.Peers))
	for i, peer := range peerSet.Peers {
		res[i] = peer.Name()
	}
	return res
}

// Contains ...
func (peerSet *PeerSet) Contains(name Name) bool {
	_, ok := peerSet.ByName[name]
	return ok
}

// IndexOf returns the position of name in the set, or -1.
func (peerSet *PeerSet) IndexOf(name Name) int {
	for i, p := range peerSet.Peers {
		if p.Name() == name {
			return i
		}
	}
	return -1
}

// Len returns the number of Peers in the PeerSet
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

// Equal reports whether both sets hold the same names.
func (peerSet *PeerSet) Equal(other *PeerSet) bool {
	if peerSet.Len() != other.Len() {
		return false
	}
	for name := range peerSet.ByName {
		if !other.Contains(name) {
			return false
		}
	}
	return true
}

// Hash uniquely identifies a PeerSet. It is computed by hashing (SHA256) the
// names together, in order.
func (peerSet *PeerSet) Hash() []byte {
	if len(peerSet.hash) == 0 {
		hash := []byte{}
		for _, p := range peerSet.Peers {
			name := p.Name()
			hash = crypto.SHA256Parts(hash, name[:])
		}
		peerSet.hash = hash
	}
	return peerSet.hash
}

// Hex is the hexadecimal representation of Hash
func (peerSet *PeerSet) Hex() string {
	if len(peerSet.hex) == 0 {
		peerSet.hex = common.EncodeToString(peerSet.Hash())
	}
	return peerSet.hex
}

// SuperMajority of the set size.
func (peerSet *PeerSet) SuperMajority() int {
	return SuperMajority(peerSet.Len())
}

// SuperMinority of the set size.
func (peerSet *PeerSet) SuperMinority() int {
	return SuperMinority(peerSet.Len())
}
