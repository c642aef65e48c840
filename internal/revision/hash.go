package revision

import (
	"fmt"
	"strings"
)

// Hash identifies a commit in a wiki's repository: exactly 40 lowercase
// hexadecimal characters. The newtype keeps unvalidated strings out of
// subprocess argument vectors.
type Hash struct {
	s string
}

// ParseHash validates text as a commit hash. Input is trimmed and
// case-insensitive; the stored form is lowercase.
func ParseHash(text string) (Hash, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if len(s) != 40 {
		return Hash{}, fmt.Errorf("commit hash must be 40 characters, got %d", len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return Hash{}, fmt.Errorf("commit hash has non-hex character %q", c)
		}
	}
	return Hash{s: s}, nil
}

// MustHash parses a known-good hash, panicking on failure. For fixtures
// and values already validated elsewhere.
func MustHash(text string) Hash {
	h, err := ParseHash(text)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hash) String() string {
	return h.s
}

// IsZero reports whether h is the unset value.
func (h Hash) IsZero() bool {
	return h.s == ""
}
