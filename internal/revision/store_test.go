package revision

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Nu-SCPTheme/deepwell/internal/process"
	"github.com/Nu-SCPTheme/deepwell/internal/wikierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInfo = CommitInfo{
	Username: "djkaktus",
	Message:  "test commit",
}

func setupStore(t *testing.T) *Store {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	// The store supplies --author per commit but git still wants a
	// committer identity.
	t.Setenv("GIT_COMMITTER_NAME", "DEEPWELL")
	t.Setenv("GIT_COMMITTER_EMAIL", "noreply@example.org")
	t.Setenv("GIT_AUTHOR_NAME", "DEEPWELL")
	t.Setenv("GIT_AUTHOR_EMAIL", "noreply@example.org")
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	runner := process.NewRunner(30*time.Second, nil)
	store := NewStore(t.TempDir(), "example.org", runner, nil)

	require.NoError(t, store.InitialCommit(context.Background()))
	return store
}

// commitCount reads the repository's commit count directly.
func commitCount(t *testing.T, store *Store) int {
	t.Helper()

	runner := process.NewRunner(30*time.Second, nil)
	out, err := runner.RunCapture(context.Background(), store.Repo(),
		"git", "rev-list", "--count", "HEAD")
	require.NoError(t, err)

	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	require.NoError(t, err)
	return n
}

func TestCommitAndGetPage(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	content := []byte("Item #: SCP-1000\n\nObject Class: Keter\n")
	hash, err := store.Commit(ctx, "scp-1000", content, testInfo)
	require.NoError(t, err)
	assert.Len(t, hash.String(), 40)

	got, err := store.GetPage(ctx, "scp-1000")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	versioned, err := store.GetPageVersion(ctx, "scp-1000", hash)
	require.NoError(t, err)
	assert.Equal(t, content, versioned)
}

func TestGetPageAbsent(t *testing.T) {
	store := setupStore(t)

	got, err := store.GetPage(context.Background(), "scp-404")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetPageVersionAbsent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	hash, err := store.Commit(ctx, "scp-1000", []byte("abc"), testInfo)
	require.NoError(t, err)

	got, err := store.GetPageVersion(ctx, "scp-2000", hash)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCommitNilContent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first, err := store.Commit(ctx, "scp-1000", []byte("abc"), testInfo)
	require.NoError(t, err)

	// Metadata-only change: no working-tree delta, still a history entry.
	second, err := store.Commit(ctx, "scp-1000", nil, testInfo)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	got, err := store.GetPage(ctx, "scp-1000")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestEmptyCommit(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	before := commitCount(t, store)
	hash, err := store.EmptyCommit(ctx, testInfo)
	require.NoError(t, err)
	assert.False(t, hash.IsZero())
	assert.Equal(t, before+1, commitCount(t, store))
}

func TestRemove(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.Commit(ctx, "scp-1000", []byte("abc"), testInfo)
	require.NoError(t, err)

	hash, err := store.Remove(ctx, "scp-1000", testInfo)
	require.NoError(t, err)
	require.NotNil(t, hash)

	got, err := store.GetPage(ctx, "scp-1000")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Removing an absent page is a no-op, not an error, and makes no commit.
	before := commitCount(t, store)
	hash, err = store.Remove(ctx, "scp-1000", testInfo)
	require.NoError(t, err)
	assert.Nil(t, hash)
	assert.Equal(t, before, commitCount(t, store))
}

func TestRename(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	content := []byte("some content\n")
	_, err := store.Commit(ctx, "scp-1000", content, testInfo)
	require.NoError(t, err)

	_, err = store.Rename(ctx, "scp-1000", "scp-1001", testInfo)
	require.NoError(t, err)

	old, err := store.GetPage(ctx, "scp-1000")
	require.NoError(t, err)
	assert.Nil(t, old)

	moved, err := store.GetPage(ctx, "scp-1001")
	require.NoError(t, err)
	assert.Equal(t, content, moved)
}

func TestRenameOntoExisting(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	contentA := []byte("aaa")
	contentB := []byte("bbb")
	_, err := store.Commit(ctx, "page-a", contentA, testInfo)
	require.NoError(t, err)
	_, err = store.Commit(ctx, "page-b", contentB, testInfo)
	require.NoError(t, err)

	_, err = store.Rename(ctx, "page-a", "page-b", testInfo)
	require.ErrorIs(t, err, wikierr.ErrPageExists)

	// Both pages untouched
	a, err := store.GetPage(ctx, "page-a")
	require.NoError(t, err)
	assert.Equal(t, contentA, a)
	b, err := store.GetPage(ctx, "page-b")
	require.NoError(t, err)
	assert.Equal(t, contentB, b)
}

func TestRestore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	content := []byte("restored content\n")
	hash, err := store.Commit(ctx, "scp-1000", content, testInfo)
	require.NoError(t, err)

	_, err = store.Remove(ctx, "scp-1000", testInfo)
	require.NoError(t, err)

	// Undelete under a different slug
	_, err = store.Restore(ctx, "scp-1000-j", "scp-1000", hash, testInfo)
	require.NoError(t, err)

	got, err := store.GetPage(ctx, "scp-1000-j")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestRestoreMissingAtCommit(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	hash, err := store.Commit(ctx, "scp-1000", []byte("abc"), testInfo)
	require.NoError(t, err)

	_, err = store.Restore(ctx, "scp-1000", "never-existed", hash, testInfo)
	require.ErrorIs(t, err, wikierr.ErrPageNotFound)
}

func TestUndo(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	v1 := []byte("version one\n")
	v2 := []byte("version two\n")

	_, err := store.Commit(ctx, "scp-1000", v1, testInfo)
	require.NoError(t, err)
	second, err := store.Commit(ctx, "scp-1000", v2, testInfo)
	require.NoError(t, err)

	undoHash, err := store.Undo(ctx, second, CommitInfo{
		Username: "Roget",
		Message:  "undo edit",
	})
	require.NoError(t, err)

	got, err := store.GetPage(ctx, "scp-1000")
	require.NoError(t, err)
	assert.Equal(t, v1, got)

	// Undoing the undo restores the state right after the second commit.
	_, err = store.Undo(ctx, undoHash, testInfo)
	require.NoError(t, err)

	got, err = store.GetPage(ctx, "scp-1000")
	require.NoError(t, err)
	assert.Equal(t, v2, got)
}

func TestInvalidSlugRejected(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	before := commitCount(t, store)

	_, err := store.Commit(ctx, "SCP-1000", []byte("abc"), testInfo)
	assert.ErrorIs(t, err, wikierr.ErrInvalidSlug)

	_, err = store.GetPage(ctx, "scp 1000")
	assert.ErrorIs(t, err, wikierr.ErrInvalidSlug)

	_, err = store.Rename(ctx, "scp-1000", "Bad_Slug", testInfo)
	assert.ErrorIs(t, err, wikierr.ErrInvalidSlug)

	_, err = store.Remove(ctx, "scp--1000", testInfo)
	assert.ErrorIs(t, err, wikierr.ErrInvalidSlug)

	// Rejected before any I/O
	assert.Equal(t, before, commitCount(t, store))
}

func TestGetBlame(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	content := []byte("line one\nline two\nline three\n")
	hash, err := store.Commit(ctx, "scp-1000", content, testInfo)
	require.NoError(t, err)

	blame, err := store.GetBlame(ctx, "scp-1000", nil)
	require.NoError(t, err)
	require.NotNil(t, blame)
	require.NotEmpty(t, blame.Groups)

	total := 0
	for _, group := range blame.Groups {
		assert.Equal(t, testInfo.Username, group.Author.Name)
		assert.Equal(t, "noreply@example.org", group.Author.Email)
		for _, line := range group.Lines {
			assert.Equal(t, hash, line.Commit)
			total++
		}
	}
	assert.Equal(t, 3, total)

	// At an explicit commit
	blame, err = store.GetBlame(ctx, "scp-1000", &hash)
	require.NoError(t, err)
	require.NotNil(t, blame)

	// Absent page
	blame, err = store.GetBlame(ctx, "scp-404", nil)
	require.NoError(t, err)
	assert.Nil(t, blame)
}

func TestGetDiff(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first, err := store.Commit(ctx, "scp-1000",
		[]byte("alpha\nbravo\ncharlie\n"), testInfo)
	require.NoError(t, err)
	second, err := store.Commit(ctx, "scp-1000",
		[]byte("alpha\nbravo\ndelta\n"), testInfo)
	require.NoError(t, err)

	diff, err := store.GetDiff(ctx, "scp-1000", first, second)
	require.NoError(t, err)
	assert.Equal(t, 1, diff.Insertions)
	assert.Equal(t, 1, diff.Deletions)
	assert.NotEmpty(t, diff.Lines)

	// Identical content diffs to an empty but valid value.
	empty, err := store.GetDiff(ctx, "scp-1000", second, second)
	require.NoError(t, err)
	assert.Zero(t, empty.Insertions)
	assert.Zero(t, empty.Deletions)
	assert.Empty(t, empty.Lines)
}

func TestDiffPercentOrdering(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	base := "alpha\nbravo\ncharlie\ndelta\necho\nfoxtrot\n"

	// Whitespace tweak near the end
	w1, err := store.Commit(ctx, "scp-100", []byte(base), testInfo)
	require.NoError(t, err)
	w2, err := store.Commit(ctx, "scp-100",
		[]byte("alpha\nbravo\ncharlie\ndelta\necho\nfoxtrot  \n"), testInfo)
	require.NoError(t, err)

	// Wholly different content
	f1, err := store.Commit(ctx, "scp-200", []byte(base), testInfo)
	require.NoError(t, err)
	f2, err := store.Commit(ctx, "scp-200",
		[]byte("one\ntwo\nthree\nfour\nfive\nsix\n"), testInfo)
	require.NoError(t, err)

	small, err := store.GetDiff(ctx, "scp-100", w1, w2)
	require.NoError(t, err)
	large, err := store.GetDiff(ctx, "scp-200", f1, f2)
	require.NoError(t, err)

	assert.Less(t, small.PercentChanged, large.PercentChanged)
}

func TestConcurrentCommits(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	before := commitCount(t, store)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slug := fmt.Sprintf("test-%d", i)
			content := []byte(fmt.Sprintf("content %d", i))
			_, errs[i] = store.Commit(ctx, slug, content, testInfo)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "commit %d failed", i)
	}

	// No commit lost
	assert.Equal(t, before+n, commitCount(t, store))

	for i := 0; i < n; i++ {
		got, err := store.GetPage(ctx, fmt.Sprintf("test-%d", i))
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprintf("content %d", i)), got)
	}
}

func TestVacuumScenario(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.Commit(ctx, "test-1", []byte("abc"), testInfo)
	require.NoError(t, err)
	_, err = store.Commit(ctx, "test-2", []byte("def"), testInfo)
	require.NoError(t, err)

	one, err := store.GetPage(ctx, "test-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), one)
	two, err := store.GetPage(ctx, "test-2")
	require.NoError(t, err)
	assert.Equal(t, []byte("def"), two)

	// Normal operation creates nothing unreachable.
	pruned, err := store.Vacuum(ctx)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	_, err = store.VacuumDeep(ctx)
	require.NoError(t, err)
}

func TestSetDomain(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	assert.Equal(t, "example.org", store.Domain())

	store.SetDomain("scpwiki.com")
	assert.Equal(t, "scpwiki.com", store.Domain())

	_, err := store.Commit(ctx, "scp-1000", []byte("abc"), testInfo)
	require.NoError(t, err)

	blame, err := store.GetBlame(ctx, "scp-1000", nil)
	require.NoError(t, err)
	require.NotEmpty(t, blame.Groups)
	assert.Equal(t, "noreply@scpwiki.com", blame.Groups[0].Author.Email)
}
