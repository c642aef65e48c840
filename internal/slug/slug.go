// Package slug validates page identifiers and maps them onto repository
// paths.
//
// A slug is a colon-delimited hierarchical identifier such as "scp-1000" or
// "component:theme". Only slugs already in normal form are accepted; callers
// must normalize upstream. Rejecting instead of normalizing keeps the path
// mapping injective and the repository layout flat and predictable.
package slug

import "strings"

// Extension is appended to every mapped page file.
const Extension = ".ftml"

// Separator joins hierarchy segments in a filename. It is distinct from
// both the slug separator and the path separator so that hierarchy
// flattens into a single directory.
const Separator = '$'

// IsNormal reports whether the slug is in normal form: one or more
// colon-separated segments, each built from lowercase ASCII letters and
// digits with single interior dashes.
func IsNormal(s string) bool {
	if s == "" {
		return false
	}

	for _, part := range strings.Split(s, ":") {
		if !normalSegment(part) {
			return false
		}
	}
	return true
}

func normalSegment(part string) bool {
	if part == "" {
		return false
	}
	if part[0] == '-' || part[len(part)-1] == '-' {
		return false
	}

	prevDash := false
	for i := 0; i < len(part); i++ {
		c := part[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevDash = false
		case c == '-':
			if prevDash {
				return false
			}
			prevDash = true
		default:
			return false
		}
	}
	return true
}

// Path maps a normal slug to its repository-relative file path. Total and
// injective over normal slugs: colons become Separator and Extension is
// appended.
func Path(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(Extension))

	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			b.WriteByte(Separator)
		} else {
			b.WriteByte(s[i])
		}
	}
	b.WriteString(Extension)
	return b.String()
}
