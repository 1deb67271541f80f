package node

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/sectionnet/src/crypto/keys"
	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// Validator holds the identity a node currently runs under. The key and age
// change when the node is asked to join at another age or is relocated.
type Validator struct {
	Key     *ecdsa.PrivateKey
	NetAddr string
	Age     uint8
	Moniker string

	pubHex string
}

// NewValidator is a factory method for a Validator
func NewValidator(key *ecdsa.PrivateKey, netAddr string, age uint8, moniker string) *Validator {
	return &Validator{
		Key:     key,
		NetAddr: netAddr,
		Age:     age,
		Moniker: moniker,
	}
}

// PublicKeyHex returns the validator's public key as a hex string
func (v *Validator) PublicKeyHex() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(&v.Key.PublicKey)
	}
	return v.pubHex
}

// Peer returns the identity other nodes address this one by.
func (v *Validator) Peer() peers.Peer {
	return *peers.NewPeer(v.PublicKeyHex(), v.NetAddr, v.Age, v.Moniker)
}

// Name ...
func (v *Validator) Name() peers.Name {
	return v.Peer().Name()
}

// Sign signs data with the validator's key.
func (v *Validator) Sign(data []byte) (string, error) {
	return keys.Sign(v.Key, data)
}

// Reset switches to a new identity.
func (v *Validator) Reset(key *ecdsa.PrivateKey, age uint8) {
	v.Key = key
	v.Age = age
	v.pubHex = ""
}
