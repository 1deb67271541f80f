package section

import (
	"bytes"
	"fmt"
	"strings"
)

// Chain is the append-only sequence of a section lineage's SAPs. The first
// link is the genesis SAP, signed by its own key; every later link is signed
// by the key of the link before it and carries the next generation.
type Chain []SignedSAP

// Last returns the latest link. The chain must not be empty.
func (c Chain) Last() *SignedSAP {
	return &c[len(c)-1]
}

// GenesisKey is the key the chain is rooted in.
func (c Chain) GenesisKey() []byte {
	if len(c) == 0 {
		return nil
	}
	return c[0].SignedBy
}

// IndexOfKey returns the position of the link whose SAP holds key, or -1.
func (c Chain) IndexOfKey(key []byte) int {
	for i := range c {
		if bytes.Equal(c[i].SAP.SectionKey(), key) {
			return i
		}
	}
	return -1
}

// HasKey reports whether key is the genesis key or the key of any link.
func (c Chain) HasKey(key []byte) bool {
	return bytes.Equal(c.GenesisKey(), key) || c.IndexOfKey(key) >= 0
}

// After returns the links with a generation greater than gen.
func (c Chain) After(gen uint64) Chain {
	for i := range c {
		if c[i].SAP.Generation > gen {
			return append(Chain{}, c[i:]...)
		}
	}
	return Chain{}
}

// Verify checks every link. The first link must be valid under its own
// SignedBy key; trust in that key is up to the caller.
func (c Chain) Verify() error {
	if len(c) == 0 {
		return fmt.Errorf("empty chain")
	}
	if err := c[0].Verify(); err != nil {
		return fmt.Errorf("link 0: %w", err)
	}
	for i := 1; i < len(c); i++ {
		if err := VerifyLink(&c[i-1], &c[i]); err != nil {
			return fmt.Errorf("link %d: %w", i, err)
		}
	}
	return nil
}

// VerifyLink checks that next extends prev.
func VerifyLink(prev, next *SignedSAP) error {
	if next.SAP.Generation != prev.SAP.Generation+1 {
		return fmt.Errorf("generation %d does not follow %d", next.SAP.Generation, prev.SAP.Generation)
	}
	if !strings.HasPrefix(string(next.SAP.Prefix), string(prev.SAP.Prefix)) {
		return fmt.Errorf("prefix %s does not descend from %s", next.SAP.Prefix, prev.SAP.Prefix)
	}
	if !bytes.Equal(next.SignedBy, prev.SAP.SectionKey()) {
		return fmt.Errorf("signed by a key other than the previous section key")
	}
	return next.Verify()
}
