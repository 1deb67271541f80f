package common

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsProtocol(t *testing.T) {
	err := NewProtocolErr("join", StaleKnowledge, "key %s unknown", "abcd")

	assert.True(t, IsProtocol(err, StaleKnowledge))
	assert.False(t, IsProtocol(err, ProtocolViolation))

	wrapped := fmt.Errorf("handling initiate: %w", err)
	assert.True(t, IsProtocol(wrapped, StaleKnowledge))
	assert.Equal(t, "join: StaleKnowledge: key abcd unknown", err.Error())

	assert.False(t, IsProtocol(fmt.Errorf("plain"), StaleKnowledge))
}

func TestIsStore(t *testing.T) {
	err := NewStoreErr("Chain", KeyNotFound, "3")
	assert.True(t, IsStore(fmt.Errorf("get: %w", err), KeyNotFound))
	assert.False(t, IsStore(err, Empty))
}

func TestHexRoundTrip(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	s := EncodeToString(data)
	assert.Equal(t, "0XDEADBEEF01", s)

	back, err := DecodeFromString(s)
	assert.NoError(t, err)
	assert.Equal(t, data, back)

	_, err = DecodeFromString("de")
	assert.Error(t, err)

	assert.Equal(t, "deadbeef", ShortHex(data))
}
