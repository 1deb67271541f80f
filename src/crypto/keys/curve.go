package keys

import (
	"crypto/elliptic"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

// Node identities sign with ECDSA over secp256k1, using btcsuite's
// implementation of the curve.

// Parameters of the secp256k1 curve, used to validate private keys.
var (
	secp256k1N, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
)

// Curve returns secp256k1.
func Curve() elliptic.Curve {
	return btcec.S256()
}
