// Package bls wraps the threshold BLS primitives a section uses for its
// authority: key sets, signature shares, aggregation and verification, and
// the distributed key generation rounds that produce a fresh key set whenever
// the elders change.
//
// Public keys live in G2 and signatures in G1 of the bn256 pairing.
package bls

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	kbls "go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"

	"github.com/mosaicnetworks/sectionnet/src/common"
)

var suite = bn256.NewSuite()

// PublicKeySet is the public side of a threshold key: the commitments to the
// coefficients of the shared secret polynomial. The first commitment is the
// public key itself. Threshold() shares are needed to produce a signature.
type PublicKeySet struct {
	Commits [][]byte
}

// PublicKey returns the serialised public key of the set.
func (p PublicKeySet) PublicKey() []byte {
	if len(p.Commits) == 0 {
		return nil
	}
	return p.Commits[0]
}

// Threshold is the number of signature shares needed to sign.
func (p PublicKeySet) Threshold() int {
	return len(p.Commits)
}

// Hex is the hex form of the public key, used as a map key.
func (p PublicKeySet) Hex() string {
	return common.EncodeToString(p.PublicKey())
}

func (p PublicKeySet) pubPoly() (*share.PubPoly, error) {
	if len(p.Commits) == 0 {
		return nil, errors.New("empty public key set")
	}
	g2 := suite.G2()
	commits := make([]kyber.Point, len(p.Commits))
	for i, c := range p.Commits {
		pt := g2.Point()
		if err := pt.UnmarshalBinary(c); err != nil {
			return nil, fmt.Errorf("commit %d: %w", i, err)
		}
		commits[i] = pt
	}
	return share.NewPubPoly(g2, g2.Point().Base(), commits), nil
}

// KeyShare is one participant's secret share of a section key.
type KeyShare struct {
	Index  int
	Secret []byte
	Public PublicKeySet
}

func (k *KeyShare) priShare() (*share.PriShare, error) {
	s := suite.G2().Scalar()
	if err := s.UnmarshalBinary(k.Secret); err != nil {
		return nil, err
	}
	return &share.PriShare{I: k.Index, V: s}, nil
}

// Sign produces this participant's signature share over msg.
func (k *KeyShare) Sign(msg []byte) ([]byte, error) {
	ps, err := k.priShare()
	if err != nil {
		return nil, err
	}
	return tbls.Sign(suite, ps, msg)
}

// ShareIndex reads the signer index carried in the first two bytes of a
// signature share.
func ShareIndex(sigShare []byte) (int, error) {
	if len(sigShare) < 3 {
		return 0, errors.New("signature share too short")
	}
	return int(binary.BigEndian.Uint16(sigShare[:2])), nil
}

// VerifyShare checks a signature share against the key set and returns the
// index of the share that produced it.
func VerifyShare(set PublicKeySet, msg, sigShare []byte) (int, error) {
	idx, err := ShareIndex(sigShare)
	if err != nil {
		return 0, err
	}
	poly, err := set.pubPoly()
	if err != nil {
		return 0, err
	}
	if err := tbls.Verify(suite, poly, msg, sigShare); err != nil {
		return 0, err
	}
	return idx, nil
}

// Aggregate combines at least Threshold() valid shares into the section
// signature. n is the number of share holders.
func Aggregate(set PublicKeySet, msg []byte, sigShares [][]byte, n int) ([]byte, error) {
	if len(sigShares) < set.Threshold() {
		return nil, fmt.Errorf("need %d shares, have %d", set.Threshold(), len(sigShares))
	}
	poly, err := set.pubPoly()
	if err != nil {
		return nil, err
	}
	return tbls.Recover(suite, poly, msg, sigShares, set.Threshold(), n)
}

// Verify checks a full signature against a serialised public key.
func Verify(publicKey, msg, sig []byte) error {
	pub := suite.G2().Point()
	if err := pub.UnmarshalBinary(publicKey); err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	return kbls.Verify(suite, pub, msg, sig)
}

// GenerateKeySet deals a key set of n shares with threshold t from a single
// party. It is used for the genesis section, which has one elder, and in
// tests.
func GenerateKeySet(n, t int) (PublicKeySet, []*KeyShare, error) {
	if t < 1 || t > n {
		return PublicKeySet{}, nil, fmt.Errorf("invalid threshold %d for %d shares", t, n)
	}
	g2 := suite.G2()
	random := suite.RandomStream()

	secret := g2.Scalar().Pick(random)
	priPoly := share.NewPriPoly(g2, t, secret, random)
	_, commits := priPoly.Commit(g2.Point().Base()).Info()

	set, err := marshalCommits(commits)
	if err != nil {
		return PublicKeySet{}, nil, err
	}

	shares := make([]*KeyShare, n)
	for i, ps := range priPoly.Shares(n) {
		ks, err := newKeyShare(ps, set)
		if err != nil {
			return PublicKeySet{}, nil, err
		}
		shares[i] = ks
	}

	return set, shares, nil
}

func marshalCommits(commits []kyber.Point) (PublicKeySet, error) {
	out := make([][]byte, len(commits))
	for i, c := range commits {
		bs, err := c.MarshalBinary()
		if err != nil {
			return PublicKeySet{}, err
		}
		out[i] = bs
	}
	return PublicKeySet{Commits: out}, nil
}

func newKeyShare(ps *share.PriShare, set PublicKeySet) (*KeyShare, error) {
	secret, err := ps.V.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &KeyShare{
		Index:  ps.I,
		Secret: secret,
		Public: set,
	}, nil
}

// SignWithShares signs msg with enough shares of the same key set to produce
// the full signature directly. n is the number of share holders.
func SignWithShares(msg []byte, shares []*KeyShare, n int) ([]byte, error) {
	if len(shares) == 0 {
		return nil, errors.New("no key shares")
	}
	sigShares := make([][]byte, 0, len(shares))
	for _, ks := range shares {
		sig, err := ks.Sign(msg)
		if err != nil {
			return nil, err
		}
		sigShares = append(sigShares, sig)
	}
	return Aggregate(shares[0].Public, msg, sigShares, n)
}
