package revision

import (
	"strings"
	"testing"

	"github.com/Nu-SCPTheme/deepwell/internal/wikierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hashA = "6c9d5e0bdb8f05c6ab360d769a80dfbbcf2b3a88"
	hashB = "f1d2d2f924e986ac86fdf7b36c94bcdf32beec15"
)

// Captured shape of `git blame --porcelain` for a three-line file where
// the first two lines come from one commit and the third from a later
// one. Metadata blocks appear only on each commit's first occurrence.
var blameFixture = strings.Join([]string{
	hashA + " 1 1 2",
	"author djkaktus",
	"author-mail <noreply@example.org>",
	"author-time 1577880000",
	"author-tz +0000",
	"committer DEEPWELL",
	"committer-mail <noreply@example.org>",
	"committer-time 1577880060",
	"committer-tz -0500",
	"summary Editing file scp-1000",
	"boundary",
	"filename scp-1000.ftml",
	"\tItem #: SCP-1000",
	hashA + " 2 2",
	"\tObject Class: Keter",
	hashB + " 3 3 1",
	"author Roget",
	"author-mail <noreply@example.org>",
	"author-time 1577966400",
	"author-tz +0200",
	"committer DEEPWELL",
	"committer-mail <noreply@example.org>",
	"committer-time 1577966460",
	"committer-tz +0200",
	"summary Editing file scp-1000 again",
	"previous " + hashA + " scp-1000.ftml",
	"filename scp-1000.ftml",
	"\tSpecial Containment Procedures: [REDACTED]",
	"",
}, "\n")

func TestParseBlame(t *testing.T) {
	blame, err := parseBlame([]byte(blameFixture))
	require.NoError(t, err)
	require.Len(t, blame.Groups, 2)

	first := blame.Groups[0]
	assert.Equal(t, "djkaktus", first.Author.Name)
	assert.Equal(t, "noreply@example.org", first.Author.Email)
	assert.Equal(t, int64(1577880000), first.Author.Time.Unix())
	assert.Equal(t, "DEEPWELL", first.Committer.Name)
	assert.Equal(t, "Editing file scp-1000", first.Summary)
	assert.Nil(t, first.Previous)

	require.Len(t, first.Lines, 2)
	assert.Equal(t, MustHash(hashA), first.Lines[0].Commit)
	assert.Equal(t, 1, first.Lines[0].OldLine)
	assert.Equal(t, 1, first.Lines[0].NewLine)
	assert.Equal(t, "Item #: SCP-1000", string(first.Lines[0].Text))
	assert.Equal(t, "Object Class: Keter", string(first.Lines[1].Text))
	assert.Equal(t, 2, first.Lines[1].NewLine)

	second := blame.Groups[1]
	assert.Equal(t, "Roget", second.Author.Name)
	require.NotNil(t, second.Previous)
	assert.Equal(t, MustHash(hashA), *second.Previous)
	require.Len(t, second.Lines, 1)
	assert.Equal(t, MustHash(hashB), second.Lines[0].Commit)
	assert.Equal(t, 3, second.Lines[0].NewLine)
}

func TestParseBlameTimezones(t *testing.T) {
	blame, err := parseBlame([]byte(blameFixture))
	require.NoError(t, err)

	// -0500 committer offset on the first group
	_, offset := blame.Groups[0].Committer.Time.Zone()
	assert.Equal(t, -5*3600, offset)

	// +0200 author offset on the second group
	_, offset = blame.Groups[1].Author.Time.Zone()
	assert.Equal(t, 2*3600, offset)
}

func TestParseBlameEmpty(t *testing.T) {
	blame, err := parseBlame(nil)
	require.NoError(t, err)
	assert.Empty(t, blame.Groups)
}

func TestParseBlameMalformed(t *testing.T) {
	cases := map[string]string{
		"garbage header":   "not a header line\n",
		"short hash":       "abc123 1 1 1\nauthor x\n",
		"bad author time":  hashA + " 1 1 1\nauthor x\nauthor-time soon\n",
		"bad timezone":     hashA + " 1 1 1\nauthor-tz sideways\n",
		"missing content":  hashA + " 1 1 1\nfilename f.ftml\nnot tabbed\n",
		"truncated output": hashA + " 1 1 1\nauthor x\n",
		"uppercase key":    hashA + " 1 1 1\nAuthor x\n",
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseBlame([]byte(input))
			require.Error(t, err)

			var parseErr *wikierr.ParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestParseBlameUnknownKeyTolerated(t *testing.T) {
	input := strings.Join([]string{
		hashA + " 1 1 1",
		"author x",
		"author-mail <x@example.org>",
		"author-time 1577880000",
		"author-tz +0000",
		"committer x",
		"committer-mail <x@example.org>",
		"committer-time 1577880000",
		"committer-tz +0000",
		"summary s",
		"some-future-key with a value",
		"filename f.ftml",
		"\tcontent",
		"",
	}, "\n")

	blame, err := parseBlame([]byte(input))
	require.NoError(t, err)
	require.Len(t, blame.Groups, 1)
	assert.Equal(t, "content", string(blame.Groups[0].Lines[0].Text))
}
