package peers

import (
	"fmt"

	"github.com/mosaicnetworks/sectionnet/src/common"
)

// Peer is the identity of a node: its public key, its age, and the address
// where it can be reached. Its Name is derived from the first two.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Age       uint8
	Moniker   string
}

// NewPeer ...
func NewPeer(pubKeyHex, netAddr string, age uint8, moniker string) *Peer {
	return &Peer{
		NetAddr:   netAddr,
		PubKeyHex: pubKeyHex,
		Age:       age,
		Moniker:   moniker,
	}
}

// PubKeyBytes decodes PubKeyHex. A malformed key yields nil, which the
// verifiers reject.
func (p Peer) PubKeyBytes() []byte {
	bs, err := common.DecodeFromString(p.PubKeyHex)
	if err != nil {
		return nil
	}
	return bs
}

// Name is the node's address in the network.
func (p Peer) Name() Name {
	return NameFromPublicKey(p.PubKeyBytes(), p.Age)
}

// String ...
func (p Peer) String() string {
	if p.Moniker != "" {
		return fmt.Sprintf("%s[%s]@%s", p.Moniker, p.Name(), p.NetAddr)
	}
	return fmt.Sprintf("%s@%s", p.Name(), p.NetAddr)
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, name Name) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.Name() != name {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
