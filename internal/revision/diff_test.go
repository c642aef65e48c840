package revision

import (
	"strings"
	"testing"

	"github.com/Nu-SCPTheme/deepwell/internal/wikierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var diffPatchFixture = strings.Join([]string{
	"diff --git a/scp-1000.ftml b/scp-1000.ftml",
	"index 3b18e51..812e383 100644",
	"--- a/scp-1000.ftml",
	"+++ b/scp-1000.ftml",
	"@@ -1,4 +1,5 @@",
	" Item #: SCP-1000",
	"-Object Class: Euclid",
	"+Object Class: Keter",
	" ",
	" Special Containment Procedures:",
	"+Addendum 1000-1",
	"",
}, "\n")

func TestParseDiff(t *testing.T) {
	diff, err := parseDiff(
		[]byte("2\t1\tscp-1000.ftml\n"),
		[]byte("M\tscp-1000.ftml\n"),
		[]byte(diffPatchFixture),
	)
	require.NoError(t, err)

	assert.Equal(t, 2, diff.Insertions)
	assert.Equal(t, 1, diff.Deletions)
	require.NotNil(t, diff.OldName)
	require.NotNil(t, diff.NewName)
	assert.Equal(t, "scp-1000.ftml", *diff.OldName)
	assert.Equal(t, "scp-1000.ftml", *diff.NewName)

	// 4 file header lines, 1 hunk header, 6 patch lines
	require.Len(t, diff.Lines, 11)
	assert.Equal(t, byte(OriginFileHeader), diff.Lines[0].Origin)
	assert.Equal(t, byte(OriginHunkHeader), diff.Lines[4].Origin)

	context := diff.Lines[5]
	assert.Equal(t, byte(OriginContext), context.Origin)
	assert.Equal(t, 1, context.OldLine)
	assert.Equal(t, 1, context.NewLine)
	assert.Equal(t, "Item #: SCP-1000", context.Text)

	// Every record in unified output covers exactly one line.
	for _, line := range diff.Lines {
		assert.Equal(t, 1, line.Count)
	}

	deletion := diff.Lines[6]
	assert.Equal(t, byte(OriginDelete), deletion.Origin)
	assert.Equal(t, 2, deletion.OldLine)
	assert.Equal(t, 0, deletion.NewLine)

	addition := diff.Lines[7]
	assert.Equal(t, byte(OriginAdd), addition.Origin)
	assert.Equal(t, 0, addition.OldLine)
	assert.Equal(t, 2, addition.NewLine)

	// 3 changed lines out of 6 in the patched region
	assert.InDelta(t, 50.0, diff.PercentChanged, 0.01)
}

func TestParseDiffEmpty(t *testing.T) {
	diff, err := parseDiff(nil, nil, nil)
	require.NoError(t, err)

	assert.Zero(t, diff.Insertions)
	assert.Zero(t, diff.Deletions)
	assert.Zero(t, diff.PercentChanged)
	assert.Nil(t, diff.OldName)
	assert.Nil(t, diff.NewName)
	assert.Empty(t, diff.Lines)
}

func TestParseDiffCreation(t *testing.T) {
	patch := strings.Join([]string{
		"diff --git a/scp-2000.ftml b/scp-2000.ftml",
		"new file mode 100644",
		"index 0000000..e965047",
		"--- /dev/null",
		"+++ b/scp-2000.ftml",
		"@@ -0,0 +1 @@",
		"+Hello",
		"\\ No newline at end of file",
		"",
	}, "\n")

	diff, err := parseDiff(
		[]byte("1\t0\tscp-2000.ftml\n"),
		[]byte("A\tscp-2000.ftml\n"),
		[]byte(patch),
	)
	require.NoError(t, err)

	assert.Nil(t, diff.OldName)
	require.NotNil(t, diff.NewName)
	assert.Equal(t, "scp-2000.ftml", *diff.NewName)
	assert.InDelta(t, 100.0, diff.PercentChanged, 0.01)

	last := diff.Lines[len(diff.Lines)-1]
	assert.Equal(t, byte(OriginAddEOF), last.Origin)
	assert.Zero(t, last.Count)
}

func TestParseDiffDeletion(t *testing.T) {
	diff, err := parseDiff(
		[]byte("0\t1\tscp-2000.ftml\n"),
		[]byte("D\tscp-2000.ftml\n"),
		nil,
	)
	require.NoError(t, err)

	require.NotNil(t, diff.OldName)
	assert.Equal(t, "scp-2000.ftml", *diff.OldName)
	assert.Nil(t, diff.NewName)
}

func TestParseDiffRename(t *testing.T) {
	diff, err := parseDiff(
		[]byte("0\t0\tscp-100.ftml => scp-101.ftml\n"),
		[]byte("R100\tscp-100.ftml\tscp-101.ftml\n"),
		nil,
	)
	require.NoError(t, err)

	require.NotNil(t, diff.OldName)
	require.NotNil(t, diff.NewName)
	assert.Equal(t, "scp-100.ftml", *diff.OldName)
	assert.Equal(t, "scp-101.ftml", *diff.NewName)
}

func TestParseDiffMalformed(t *testing.T) {
	_, err := parseDiff([]byte("not-a-number\tx\n"), nil, nil)
	require.Error(t, err)

	var parseErr *wikierr.ParseError
	assert.ErrorAs(t, err, &parseErr)

	_, err = parseDiff(nil, nil, []byte("@@ bogus hunk header\n"))
	require.Error(t, err)
	assert.ErrorAs(t, err, &parseErr)
}
