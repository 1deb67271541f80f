package peers

import (
	"fmt"
	"strings"
)

// Prefix identifies a section: the string of leading name bits, written as
// '0' and '1' characters, shared by all names the section is responsible
// for. The empty prefix covers the whole network.
type Prefix string

// ParsePrefix validates a bit string.
func ParsePrefix(s string) (Prefix, error) {
	if strings.Trim(s, "01") != "" {
		return "", fmt.Errorf("prefix %q is not a bit string", s)
	}
	if len(s) > NameLen*8 {
		return "", fmt.Errorf("prefix %q is longer than a name", s)
	}
	return Prefix(s), nil
}

// PrefixOf returns the prefix of length bitCount that name falls under.
func PrefixOf(name Name, bitCount int) Prefix {
	var b strings.Builder
	for i := 0; i < bitCount; i++ {
		b.WriteByte('0' + name.Bit(i))
	}
	return Prefix(b.String())
}

// BitCount is the length of the prefix.
func (p Prefix) BitCount() int {
	return len(p)
}

// IsEmpty reports whether p is the root prefix.
func (p Prefix) IsEmpty() bool {
	return len(p) == 0
}

// CommonPrefixLen counts how many of p's bits name matches, from the left.
func (p Prefix) CommonPrefixLen(name Name) int {
	for i := 0; i < len(p); i++ {
		if p[i]-'0' != name.Bit(i) {
			return i
		}
	}
	return len(p)
}

// Matches reports whether name falls under p.
func (p Prefix) Matches(name Name) bool {
	return p.CommonPrefixLen(name) == len(p)
}

// String ...
func (p Prefix) String() string {
	return "(" + string(p) + ")"
}

// Pushed returns the child of p that continues with bit.
func (p Prefix) Pushed(bit uint8) Prefix {
	return p + Prefix([]byte{'0' + bit&1})
}

// Popped returns the parent of p. The root prefix is its own parent.
func (p Prefix) Popped() Prefix {
	if p.IsEmpty() {
		return p
	}
	return p[:len(p)-1]
}

// Sibling returns the other child of p's parent.
func (p Prefix) Sibling() Prefix {
	if p.IsEmpty() {
		return p
	}
	last := p[len(p)-1] - '0'
	return p.Popped().Pushed(1 - last)
}

// IsChildOf reports whether p extends parent by exactly one bit.
func (p Prefix) IsChildOf(parent Prefix) bool {
	return len(p) == len(parent)+1 && strings.HasPrefix(string(p), string(parent))
}
