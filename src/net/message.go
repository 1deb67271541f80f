package net

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"

	"github.com/mosaicnetworks/sectionnet/src/peers"
)

// Header identifies the sender of a message and the knowledge it holds.
type Header struct {
	ID         string
	Sender     peers.Peer
	Prefix     peers.Prefix
	Generation uint64
	SectionKey []byte
	// Update is an optional anti-entropy update for the receiver.
	Update *AntiEntropyUpdate
}

// Message is a Header and a Body from the message catalogue.
type Message struct {
	Header Header
	Body   interface{}
}

// NewMessage stamps body with a fresh message ID.
func NewMessage(header Header, body interface{}) *Message {
	header.ID = uuid.New().String()
	return &Message{
		Header: header,
		Body:   body,
	}
}

// Kind returns the tag of the body.
func (m *Message) Kind() Kind {
	k, _ := KindOf(m.Body)
	return k
}

// String ...
func (m *Message) String() string {
	return fmt.Sprintf("%s from %s (gen %d)", m.Kind(), m.Header.Sender.Name(), m.Header.Generation)
}

// Outgoing is a body addressed to a set of peers. The header is filled in
// by the sending node.
type Outgoing struct {
	Targets []peers.Peer
	Body    interface{}
	// WithUpdate attaches the sender's anti-entropy update to the header.
	WithUpdate bool
}

func msgpackHandle() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.RawToString = true
	return h
}

// Encode serialises a message into its kind, then the msgpack encoded
// header and body.
func (m *Message) Encode() (Kind, []byte, error) {
	k, err := KindOf(m.Body)
	if err != nil {
		return 0, nil, err
	}

	var b bytes.Buffer
	enc := codec.NewEncoder(&b, msgpackHandle())
	if err := enc.Encode(&m.Header); err != nil {
		return 0, nil, err
	}
	if err := enc.Encode(m.Body); err != nil {
		return 0, nil, err
	}

	return k, b.Bytes(), nil
}

// DecodeMessage is the inverse of Encode.
func DecodeMessage(k Kind, data []byte) (*Message, error) {
	body, err := newBody(k)
	if err != nil {
		return nil, err
	}

	m := &Message{Body: body}
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle())
	if err := dec.Decode(&m.Header); err != nil {
		return nil, fmt.Errorf("decoding %s header: %w", k, err)
	}
	if err := dec.Decode(m.Body); err != nil {
		return nil, fmt.Errorf("decoding %s body: %w", k, err)
	}

	return m, nil
}
