package revision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHash(t *testing.T) {
	const raw = "0123456789abcdef0123456789abcdef01234567"

	h, err := ParseHash(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, h.String())
	assert.False(t, h.IsZero())

	// Case-insensitive input, lowercase canonical form
	h2, err := ParseHash(strings.ToUpper(raw))
	require.NoError(t, err)
	assert.Equal(t, h, h2)

	// Surrounding whitespace from command output is tolerated
	h3, err := ParseHash(raw + "\n")
	require.NoError(t, err)
	assert.Equal(t, h, h3)
}

func TestParseHashRejects(t *testing.T) {
	bad := []string{
		"",
		"abc123",
		strings.Repeat("a", 39),
		strings.Repeat("a", 41),
		strings.Repeat("g", 40),
		strings.Repeat("a", 20) + " " + strings.Repeat("a", 19),
	}
	for _, s := range bad {
		_, err := ParseHash(s)
		assert.Error(t, err, "expected rejection: %q", s)
	}
}

func TestHashEquality(t *testing.T) {
	a := MustHash(strings.Repeat("a", 40))
	b := MustHash(strings.Repeat("a", 40))
	c := MustHash(strings.Repeat("b", 40))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, Hash{}.IsZero())
}
