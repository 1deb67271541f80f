package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/sectionnet/src/crypto"
)

// Sign hashes data with SHA256 and signs the digest. The signature is returned
// as the hex encoding of its DER form.
func Sign(priv *ecdsa.PrivateKey, data []byte) (string, error) {
	sig, err := (*btcec.PrivateKey)(priv).Sign(crypto.SHA256(data))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a signature produced by Sign against the public key.
func Verify(pub *ecdsa.PublicKey, data []byte, sig string) bool {
	if pub == nil {
		return false
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	parsed, err := btcec.ParseDERSignature(raw, btcec.S256())
	if err != nil {
		return false
	}
	return parsed.Verify(crypto.SHA256(data), (*btcec.PublicKey)(pub))
}

// VerifyHex is Verify with a public key given as returned by PublicKeyHex.
func VerifyHex(pubHex string, data []byte, sig string) (bool, error) {
	pub, err := PublicKeyFromHex(pubHex)
	if err != nil {
		return false, fmt.Errorf("parsing public key: %w", err)
	}
	return Verify(pub, data, sig), nil
}
