// Package resourceproof implements the work a candidate must do before a
// section accepts it: find a counter such that the blake3 hash of the
// elder's nonce, the candidate's name and the counter has a given number of
// leading zero bits.
package resourceproof

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math/bits"

	"lukechampine.com/blake3"

	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// MaxDifficulty bounds the difficulty an elder may ask for.
const MaxDifficulty = 32

// ErrInvalidProof is returned by Verify.
var ErrInvalidProof = errors.New("invalid resource proof")

// Challenge is issued by an elder to a candidate.
type Challenge struct {
	Nonce      []byte
	Difficulty uint8
	Elder      peers.Name
}

// Proof answers a Challenge.
type Proof struct {
	Nonce   []byte
	Counter uint64
}

// NewChallenge creates a challenge with a random nonce.
func NewChallenge(elder peers.Name, difficulty uint8) (Challenge, error) {
	if difficulty > MaxDifficulty {
		difficulty = MaxDifficulty
	}
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return Challenge{}, err
	}
	return Challenge{
		Nonce:      nonce,
		Difficulty: difficulty,
		Elder:      elder,
	}, nil
}

func digest(nonce []byte, candidate peers.Name, counter uint64) [32]byte {
	var c [8]byte
	binary.BigEndian.PutUint64(c[:], counter)

	buf := make([]byte, 0, len(nonce)+peers.NameLen+8)
	buf = append(buf, nonce...)
	buf = append(buf, candidate[:]...)
	buf = append(buf, c[:]...)

	return blake3.Sum256(buf)
}

func leadingZeros(h [32]byte) int {
	for i, b := range h {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return len(h) * 8
}

// Solve searches for a proof of ch on behalf of candidate.
func Solve(ch Challenge, candidate peers.Name) Proof {
	var counter uint64
	for leadingZeros(digest(ch.Nonce, candidate, counter)) < int(ch.Difficulty) {
		counter++
	}
	return Proof{
		Nonce:   ch.Nonce,
		Counter: counter,
	}
}

// Verify checks that p answers ch for candidate.
func Verify(ch Challenge, candidate peers.Name, p Proof) error {
	if len(p.Nonce) != len(ch.Nonce) || string(p.Nonce) != string(ch.Nonce) {
		return ErrInvalidProof
	}
	if leadingZeros(digest(ch.Nonce, candidate, p.Counter)) < int(ch.Difficulty) {
		return ErrInvalidProof
	}
	return nil
}
