package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type hashFixture struct {
	Name  string
	Attrs map[string]int
}

func TestCanonicalHashStable(t *testing.T) {
	a := hashFixture{Name: "a", Attrs: map[string]int{"x": 1, "y": 2, "z": 3}}
	b := hashFixture{Name: "a", Attrs: map[string]int{"z": 3, "y": 2, "x": 1}}

	ha, err := CanonicalHash(a)
	require.NoError(t, err)
	hb, err := CanonicalHash(b)
	require.NoError(t, err)
	require.Equal(t, ha, hb)
	require.Len(t, ha, 32)

	b.Name = "b"
	hb, err = CanonicalHash(b)
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
}

func TestSHA256Parts(t *testing.T) {
	require.Equal(t, SHA256([]byte("leftright")), SHA256Parts([]byte("left"), []byte("right")))
}
