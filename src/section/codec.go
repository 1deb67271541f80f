package section

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

func jsonHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return jh
}

// Marshal encodes a chain link for storage.
func (s *SignedSAP) Marshal() ([]byte, error) {
	var b bytes.Buffer
	if err := codec.NewEncoder(&b, jsonHandle()).Encode(s); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal ...
func (s *SignedSAP) Unmarshal(data []byte) error {
	return codec.NewDecoder(bytes.NewReader(data), jsonHandle()).Decode(s)
}

// Marshal encodes a member state for storage.
func (s *SignedNodeState) Marshal() ([]byte, error) {
	var b bytes.Buffer
	if err := codec.NewEncoder(&b, jsonHandle()).Encode(s); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal ...
func (s *SignedNodeState) Unmarshal(data []byte) error {
	return codec.NewDecoder(bytes.NewReader(data), jsonHandle()).Decode(s)
}
