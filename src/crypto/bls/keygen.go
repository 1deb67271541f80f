package bls

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ugorji/go/codec"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share/dkg/pedersen"
)

// Round identifies the stage of the key generation a RoundMessage belongs
// to.
type Round uint8

const (
	// RoundKey carries a participant's ephemeral DKG public key.
	RoundKey Round = iota + 1
	// RoundDeal carries an encrypted deal for one recipient.
	RoundDeal
	// RoundResponse carries an approval or complaint about a deal.
	RoundResponse
)

// String ...
func (r Round) String() string {
	switch r {
	case RoundKey:
		return "Key"
	case RoundDeal:
		return "Deal"
	case RoundResponse:
		return "Response"
	default:
		return fmt.Sprintf("Round(%d)", uint8(r))
	}
}

// Broadcast is the RoundMessage recipient meaning every other participant.
const Broadcast = -1

// RoundMessage is an opaque key generation message exchanged between
// participants. From and To are participant indexes.
type RoundMessage struct {
	Round   Round
	From    int
	To      int
	Payload []byte
}

// KeyGen runs one participant's side of a distributed key generation.
type KeyGen interface {
	// GenerateRoundMessages returns the messages that open the protocol.
	GenerateRoundMessages() ([]RoundMessage, error)
	// HandleRoundMessage consumes a message from another participant and
	// returns the messages it triggers.
	HandleRoundMessage(msg RoundMessage) ([]RoundMessage, error)
	// Complete reports whether Finalize can be called.
	Complete() bool
	// Finalize returns this participant's share of the new key.
	Finalize() (*KeyShare, error)
	// Missing lists the participants that have not yet delivered every
	// message this participant expects from them.
	Missing() []int
}

// NewKeyGen returns the KeyGen for participant index out of n, producing a
// key set that needs threshold shares to sign.
func NewKeyGen(index, n, threshold int) (KeyGen, error) {
	if index < 0 || index >= n {
		return nil, fmt.Errorf("index %d out of range [0,%d)", index, n)
	}
	if threshold < 1 || threshold > n {
		return nil, fmt.Errorf("invalid threshold %d for %d participants", threshold, n)
	}

	if n == 1 {
		return &soloKeyGen{}, nil
	}

	g2 := suite.G2()
	longterm := g2.Scalar().Pick(suite.RandomStream())

	return &pedersenKeyGen{
		index:     index,
		n:         n,
		threshold: threshold,
		longterm:  longterm,
		public:    g2.Point().Mul(longterm, nil),
		keys:      make([]kyber.Point, n),
		dealsFrom: make(map[int]bool),
		respsFrom: make(map[int]int),
	}, nil
}

// soloKeyGen covers a section with a single elder: there is nobody to share
// with.
type soloKeyGen struct {
	result *KeyShare
}

func (s *soloKeyGen) GenerateRoundMessages() ([]RoundMessage, error) {
	_, shares, err := GenerateKeySet(1, 1)
	if err != nil {
		return nil, err
	}
	s.result = shares[0]
	return nil, nil
}

func (s *soloKeyGen) HandleRoundMessage(msg RoundMessage) ([]RoundMessage, error) {
	return nil, fmt.Errorf("unexpected %s message in single participant key generation", msg.Round)
}

func (s *soloKeyGen) Complete() bool { return s.result != nil }

func (s *soloKeyGen) Finalize() (*KeyShare, error) {
	if s.result == nil {
		return nil, errors.New("key generation not started")
	}
	return s.result, nil
}

func (s *soloKeyGen) Missing() []int { return nil }

// pedersenKeyGen drives kyber's Pedersen DKG. Participants first exchange
// ephemeral keys, then deals, then responses. Messages that arrive before the
// state they depend on are parked and replayed.
type pedersenKeyGen struct {
	index     int
	n         int
	threshold int

	longterm kyber.Scalar
	public   kyber.Point
	keys     []kyber.Point

	gen *dkg.DistKeyGenerator

	pendingDeals []*dkg.Deal
	pendingResps []*dkg.Response

	dealsFrom map[int]bool
	respsFrom map[int]int

	result *KeyShare
}

func (p *pedersenKeyGen) GenerateRoundMessages() ([]RoundMessage, error) {
	p.keys[p.index] = p.public

	bs, err := p.public.MarshalBinary()
	if err != nil {
		return nil, err
	}

	out := []RoundMessage{{
		Round:   RoundKey,
		From:    p.index,
		To:      Broadcast,
		Payload: bs,
	}}

	more, err := p.maybeDeal()
	if err != nil {
		return nil, err
	}

	return append(out, more...), nil
}

func (p *pedersenKeyGen) HandleRoundMessage(msg RoundMessage) ([]RoundMessage, error) {
	if msg.From < 0 || msg.From >= p.n || msg.From == p.index {
		return nil, fmt.Errorf("invalid sender index %d", msg.From)
	}

	switch msg.Round {
	case RoundKey:
		if p.keys[msg.From] != nil {
			return nil, fmt.Errorf("duplicate key from %d", msg.From)
		}
		pt := suite.G2().Point()
		if err := pt.UnmarshalBinary(msg.Payload); err != nil {
			return nil, fmt.Errorf("key from %d: %w", msg.From, err)
		}
		p.keys[msg.From] = pt
		return p.maybeDeal()

	case RoundDeal:
		if msg.To != p.index {
			return nil, fmt.Errorf("deal addressed to %d", msg.To)
		}
		deal := new(dkg.Deal)
		if err := decode(msg.Payload, deal); err != nil {
			return nil, err
		}
		if int(deal.Index) != msg.From {
			return nil, fmt.Errorf("deal index %d does not match sender %d", deal.Index, msg.From)
		}
		if p.gen == nil {
			p.pendingDeals = append(p.pendingDeals, deal)
			return nil, nil
		}
		return p.processDeal(deal)

	case RoundResponse:
		resp := new(dkg.Response)
		if err := decode(msg.Payload, resp); err != nil {
			return nil, err
		}
		if resp.Response == nil || int(resp.Response.Index) != msg.From {
			return nil, fmt.Errorf("response from %d carries a foreign index", msg.From)
		}
		if p.gen == nil {
			p.pendingResps = append(p.pendingResps, resp)
			return nil, nil
		}
		p.processResponse(resp)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown round %d", msg.Round)
	}
}

func (p *pedersenKeyGen) maybeDeal() ([]RoundMessage, error) {
	if p.gen != nil {
		return nil, nil
	}
	for _, k := range p.keys {
		if k == nil {
			return nil, nil
		}
	}

	gen, err := dkg.NewDistKeyGenerator(dkgSuite(), p.longterm, p.keys, p.threshold)
	if err != nil {
		return nil, err
	}
	p.gen = gen

	deals, err := gen.Deals()
	if err != nil {
		return nil, err
	}

	targets := make([]int, 0, len(deals))
	for i := range deals {
		targets = append(targets, i)
	}
	sort.Ints(targets)

	var out []RoundMessage
	for _, i := range targets {
		bs, err := encode(deals[i])
		if err != nil {
			return nil, err
		}
		out = append(out, RoundMessage{
			Round:   RoundDeal,
			From:    p.index,
			To:      i,
			Payload: bs,
		})
	}

	pending := p.pendingDeals
	p.pendingDeals = nil
	for _, d := range pending {
		more, err := p.processDeal(d)
		if err != nil {
			return out, err
		}
		out = append(out, more...)
	}
	p.replayResponses()

	return out, nil
}

func (p *pedersenKeyGen) processDeal(deal *dkg.Deal) ([]RoundMessage, error) {
	resp, err := p.gen.ProcessDeal(deal)
	if err != nil {
		return nil, fmt.Errorf("deal from %d: %w", deal.Index, err)
	}
	p.dealsFrom[int(deal.Index)] = true

	bs, err := encode(resp)
	if err != nil {
		return nil, err
	}

	p.replayResponses()

	return []RoundMessage{{
		Round:   RoundResponse,
		From:    p.index,
		To:      Broadcast,
		Payload: bs,
	}}, nil
}

// processResponse parks responses kyber cannot take yet, typically because
// the deal they refer to has not reached us.
func (p *pedersenKeyGen) processResponse(resp *dkg.Response) bool {
	if int(resp.Response.Index) == p.index {
		return true
	}
	if _, err := p.gen.ProcessResponse(resp); err != nil {
		p.pendingResps = append(p.pendingResps, resp)
		return false
	}
	p.respsFrom[int(resp.Response.Index)]++
	return true
}

func (p *pedersenKeyGen) replayResponses() {
	pending := p.pendingResps
	p.pendingResps = nil
	for _, r := range pending {
		p.processResponse(r)
	}
}

func (p *pedersenKeyGen) Complete() bool {
	return p.result != nil || (p.gen != nil && p.gen.Certified())
}

func (p *pedersenKeyGen) Finalize() (*KeyShare, error) {
	if p.result != nil {
		return p.result, nil
	}
	if p.gen == nil {
		return nil, errors.New("key generation has not reached the deal round")
	}

	dks, err := p.gen.DistKeyShare()
	if err != nil {
		return nil, err
	}

	set, err := marshalCommits(dks.Commits)
	if err != nil {
		return nil, err
	}

	ks, err := newKeyShare(dks.Share, set)
	if err != nil {
		return nil, err
	}
	p.result = ks

	return ks, nil
}

func (p *pedersenKeyGen) Missing() []int {
	var missing []int
	for i := 0; i < p.n; i++ {
		if i == p.index {
			continue
		}
		// Before the generator exists only keys are expected.
		if p.gen == nil {
			if p.keys[i] == nil {
				missing = append(missing, i)
			}
			continue
		}
		if !p.dealsFrom[i] || p.respsFrom[i] < p.n-1 {
			missing = append(missing, i)
		}
	}
	return missing
}

func dkgSuite() dkg.Suite {
	return suite.G2().(dkg.Suite)
}

func encode(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := codec.NewEncoder(&b, new(codec.MsgpackHandle)).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	return codec.NewDecoder(bytes.NewReader(data), new(codec.MsgpackHandle)).Decode(v)
}
