package peers

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/mosaicnetworks/sectionnet/src/crypto"
)

// NameLen is the size of a Name in bytes.
const NameLen = 32

// Name is a position in the network's address space. A node's name is the
// SHA256 of its public key with the last byte replaced by the node's age, so
// the age can always be read back from the name alone.
type Name [NameLen]byte

// NameFromPublicKey derives the name of a node holding pubKey at the given
// age.
func NameFromPublicKey(pubKey []byte, age uint8) Name {
	var n Name
	copy(n[:], crypto.SHA256(pubKey))
	n[NameLen-1] = age
	return n
}

// NameFromContent hashes the concatenation of parts into a Name.
func NameFromContent(parts ...[]byte) Name {
	var n Name
	copy(n[:], crypto.SHA256Parts(parts...))
	return n
}

// AgeOf returns the age encoded in a name.
func AgeOf(n Name) uint8 {
	return n[NameLen-1]
}

// Age returns the age encoded in the name.
func (n Name) Age() uint8 {
	return AgeOf(n)
}

// Bit returns the i-th most significant bit of the name.
func (n Name) Bit(i int) byte {
	return (n[i/8] >> (7 - uint(i%8))) & 1
}

// Distance is the XOR of two names.
func (n Name) Distance(other Name) Name {
	var d Name
	for i := range n {
		d[i] = n[i] ^ other[i]
	}
	return d
}

// CmpDistance compares the XOR distances of a and b to n. It returns -1 if a
// is closer, 1 if b is closer and 0 if they are the same name.
func (n Name) CmpDistance(a, b Name) int {
	da, db := n.Distance(a), n.Distance(b)
	return bytes.Compare(da[:], db[:])
}

// CommonPrefixLen counts the leading bits n and other share.
func (n Name) CommonPrefixLen(other Name) int {
	for i := range n {
		if x := n[i] ^ other[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return NameLen * 8
}

// Less orders names bytewise.
func (n Name) Less(other Name) bool {
	return bytes.Compare(n[:], other[:]) < 0
}

// String is a short form for logs.
func (n Name) String() string {
	return fmt.Sprintf("%x..(%d)", n[:3], n.Age())
}

// Hex returns the full hex form.
func (n Name) Hex() string {
	return hex.EncodeToString(n[:])
}

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Name) UnmarshalText(text []byte) error {
	bs, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(bs) != NameLen {
		return fmt.Errorf("name must be %d bytes, got %d", NameLen, len(bs))
	}
	copy(n[:], bs)
	return nil
}
