// Package revision persists every version of every page as commits in a
// per-wiki git repository, driven through subprocess invocation.
package revision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Nu-SCPTheme/deepwell/internal/process"
	"github.com/Nu-SCPTheme/deepwell/internal/slug"
	"github.com/Nu-SCPTheme/deepwell/internal/wikierr"
	"go.uber.org/zap"
)

// CommitInfo carries per-operation authorship: the display name of the
// acting user and the commit message, both handed to git verbatim.
type CommitInfo struct {
	Username string
	Message  string
}

// serviceAuthor is the author of seed commits made by the service itself.
const serviceAuthor = "DEEPWELL"

// Store is a git repository holding page contents and their histories.
//
// A single mutex serializes every operation, reads included: the working
// directory is shared mutable state and git is not safe for concurrent
// invocation against it. The author-email domain has its own lock so
// reading it never contends with repository operations.
type Store struct {
	mu     sync.Mutex
	repo   string
	runner *process.Runner
	logger *zap.Logger

	domainMu sync.RWMutex
	domain   string
}

// NewStore creates a revision store over the repository directory at repo.
// The domain is used to synthesize commit author emails and should not
// carry a protocol prefix; subdomains are fine.
func NewStore(repo, domain string, runner *process.Runner, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("creating revision store",
		zap.String("repo", repo),
		zap.String("domain", domain),
	)

	return &Store{
		repo:   repo,
		runner: runner,
		logger: logger,
		domain: domain,
	}
}

// Repo returns the repository directory.
func (s *Store) Repo() string {
	return s.repo
}

// Domain returns the current author-email domain.
func (s *Store) Domain() string {
	s.domainMu.RLock()
	defer s.domainMu.RUnlock()
	return s.domain
}

// SetDomain swaps the author-email domain. Does not take the main
// operation lock.
func (s *Store) SetDomain(domain string) {
	s.domainMu.Lock()
	s.domain = domain
	s.domainMu.Unlock()
}

// Filesystem helpers

func (s *Store) absPath(pageSlug string) string {
	return filepath.Join(s.repo, slug.Path(pageSlug))
}

func (s *Store) readFile(pageSlug string) ([]byte, error) {
	path := s.absPath(pageSlug)
	s.logger.Debug("reading file", zap.String("path", path))

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (s *Store) writeFile(pageSlug string, content []byte) error {
	path := s.absPath(pageSlug)
	s.logger.Debug("writing file",
		zap.String("path", path),
		zap.Int("bytes", len(content)),
	)

	return os.WriteFile(path, content, 0o644)
}

// removeFile deletes the mapped file, reporting false without error if it
// was already absent.
func (s *Store) removeFile(pageSlug string) (bool, error) {
	path := s.absPath(pageSlug)
	s.logger.Debug("removing file", zap.String("path", path))

	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Argument helpers

func (s *Store) argAuthor(name string) string {
	return fmt.Sprintf("--author=%s <noreply@%s>", name, s.Domain())
}

func argMessage(message string) string {
	return "--message=" + message
}

func checkNormal(slugs ...string) error {
	for _, s := range slugs {
		if !slug.IsNormal(s) {
			return fmt.Errorf("%w: %q", wikierr.ErrInvalidSlug, s)
		}
	}
	return nil
}

// Git helpers

func (s *Store) git(ctx context.Context, args ...string) error {
	return s.runner.Run(ctx, s.repo, append([]string{"git"}, args...)...)
}

func (s *Store) gitOutput(ctx context.Context, args ...string) ([]byte, error) {
	return s.runner.RunCapture(ctx, s.repo, append([]string{"git"}, args...)...)
}

// head resolves the current HEAD commit.
func (s *Store) head(ctx context.Context) (Hash, error) {
	s.logger.Debug("resolving HEAD commit")

	out, err := s.gitOutput(ctx, "rev-parse", "--verify", "HEAD")
	if err != nil {
		return Hash{}, err
	}

	hash, err := ParseHash(string(out))
	if err != nil {
		return Hash{}, wikierr.Parse("unable to parse commit hash from rev-parse output")
	}
	return hash, nil
}

// InitialCommit initializes an empty repository and creates its seed
// commit, authored by the service. Must only be called once per
// repository; callers guarantee single invocation.
func (s *Store) InitialCommit(ctx context.Context) error {
	s.logger.Info("initializing repository")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.git(ctx, "init"); err != nil {
		return err
	}

	return s.git(ctx, "commit", "--allow-empty",
		s.argAuthor(serviceAuthor), argMessage("Initial commit"))
}

// Commit creates or edits a page to have the given contents and returns the
// new commit. A nil content commits whatever state is currently staged,
// which lets metadata-only changes still anchor a history entry.
func (s *Store) Commit(ctx context.Context, pageSlug string, content []byte, info CommitInfo) (Hash, error) {
	s.logger.Info("committing file changes",
		zap.String("slug", pageSlug),
		zap.Int("bytes", len(content)),
	)

	if err := checkNormal(pageSlug); err != nil {
		return Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if content != nil {
		if err := s.writeFile(pageSlug, content); err != nil {
			return Hash{}, err
		}

		path := slug.Path(pageSlug)
		if err := s.git(ctx, "add", "--", path); err != nil {
			return Hash{}, err
		}

		err := s.git(ctx, "commit", "--allow-empty",
			s.argAuthor(info.Username), argMessage(info.Message), "--", path)
		if err != nil {
			return Hash{}, err
		}
	} else {
		err := s.git(ctx, "commit", "--allow-empty",
			s.argAuthor(info.Username), argMessage(info.Message))
		if err != nil {
			return Hash{}, err
		}
	}

	s.assertClean(ctx)
	return s.head(ctx)
}

// EmptyCommit creates a commit with zero file changes, anchoring tag-only
// edits to a revision entry.
func (s *Store) EmptyCommit(ctx context.Context, info CommitInfo) (Hash, error) {
	s.logger.Info("creating empty commit")

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.git(ctx, "commit", "--allow-empty",
		s.argAuthor(info.Username), argMessage(info.Message))
	if err != nil {
		return Hash{}, err
	}

	s.assertClean(ctx)
	return s.head(ctx)
}

// Rename moves a page to a new slug, preserving its history linkage.
// Fails with ErrPageExists if the destination is occupied.
func (s *Store) Rename(ctx context.Context, oldSlug, newSlug string, info CommitInfo) (Hash, error) {
	s.logger.Info("renaming page",
		zap.String("old_slug", oldSlug),
		zap.String("new_slug", newSlug),
	)

	if err := checkNormal(oldSlug, newSlug); err != nil {
		return Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.absPath(newSlug)); err == nil {
		return Hash{}, wikierr.ErrPageExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return Hash{}, err
	}

	oldPath := slug.Path(oldSlug)
	newPath := slug.Path(newSlug)

	if err := s.git(ctx, "mv", "--", oldPath, newPath); err != nil {
		return Hash{}, err
	}

	err := s.git(ctx, "commit",
		s.argAuthor(info.Username), argMessage(info.Message),
		"--", oldPath, newPath)
	if err != nil {
		return Hash{}, err
	}

	s.assertClean(ctx)
	return s.head(ctx)
}

// Remove deletes a page and commits the deletion. Returns nil without
// error if the page was already absent; no commit is created then.
func (s *Store) Remove(ctx context.Context, pageSlug string, info CommitInfo) (*Hash, error) {
	s.logger.Info("removing page", zap.String("slug", pageSlug))

	if err := checkNormal(pageSlug); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existed, err := s.removeFile(pageSlug)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, nil
	}

	path := slug.Path(pageSlug)
	err = s.git(ctx, "commit",
		s.argAuthor(info.Username), argMessage(info.Message), "--", path)
	if err != nil {
		return nil, err
	}

	s.assertClean(ctx)
	hash, err := s.head(ctx)
	if err != nil {
		return nil, err
	}
	return &hash, nil
}

// Restore writes the content oldSlug had at the given commit to pageSlug
// and commits it. This implements undelete, possibly under a different
// slug than the one deleted. Fails with ErrPageNotFound if oldSlug had no
// content at that commit.
func (s *Store) Restore(ctx context.Context, pageSlug, oldSlug string, at Hash, info CommitInfo) (Hash, error) {
	s.logger.Info("restoring page",
		zap.String("slug", pageSlug),
		zap.String("old_slug", oldSlug),
		zap.String("commit", at.String()),
	)

	if err := checkNormal(pageSlug, oldSlug); err != nil {
		return Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.showAt(ctx, oldSlug, at)
	if err != nil {
		return Hash{}, err
	}
	if content == nil {
		return Hash{}, wikierr.ErrPageNotFound
	}

	if err := s.writeFile(pageSlug, content); err != nil {
		return Hash{}, err
	}

	path := slug.Path(pageSlug)
	if err := s.git(ctx, "add", "--", path); err != nil {
		return Hash{}, err
	}

	err = s.git(ctx, "commit", "--allow-empty",
		s.argAuthor(info.Username), argMessage(info.Message), "--", path)
	if err != nil {
		return Hash{}, err
	}

	s.assertClean(ctx)
	return s.head(ctx)
}

// Undo reverts the given commit, then amends the revert to carry the
// caller's authorship and message. Operates at whole-repository-commit
// granularity rather than per page. A conflicting revert surfaces as a
// CommandError; nothing is auto-resolved.
func (s *Store) Undo(ctx context.Context, at Hash, info CommitInfo) (Hash, error) {
	s.logger.Info("undoing commit", zap.String("commit", at.String()))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.git(ctx, "revert", "--no-edit", at.String()); err != nil {
		return Hash{}, err
	}

	err := s.git(ctx, "commit", "--amend", "--allow-empty",
		s.argAuthor(info.Username), argMessage(info.Message))
	if err != nil {
		return Hash{}, err
	}

	s.assertClean(ctx)
	return s.head(ctx)
}

// GetPage returns the current content of a page, or nil if it does not
// exist.
func (s *Store) GetPage(ctx context.Context, pageSlug string) ([]byte, error) {
	s.logger.Debug("getting page content", zap.String("slug", pageSlug))

	if err := checkNormal(pageSlug); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readFile(pageSlug)
}

// GetPageVersion returns the content of a page at the given commit, or nil
// if the page did not exist there.
func (s *Store) GetPageVersion(ctx context.Context, pageSlug string, at Hash) ([]byte, error) {
	s.logger.Debug("getting page content at commit",
		zap.String("slug", pageSlug),
		zap.String("commit", at.String()),
	)

	if err := checkNormal(pageSlug); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.showAt(ctx, pageSlug, at)
}

// showAt fetches pageSlug's content at a commit. A CommandError from git
// means the path did not exist there and maps to nil; other failures
// propagate. Callers must hold the operation lock.
func (s *Store) showAt(ctx context.Context, pageSlug string, at Hash) ([]byte, error) {
	object := fmt.Sprintf("%s:%s", at, slug.Path(pageSlug))
	out, err := s.gitOutput(ctx, "show", "--format=%B", object)

	var cmdErr *wikierr.CommandError
	if errors.As(err, &cmdErr) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetDiff returns the diff of a page between two commits. An empty diff is
// a valid result for identical content.
func (s *Store) GetDiff(ctx context.Context, pageSlug string, first, second Hash) (*Diff, error) {
	s.logger.Debug("getting diff",
		zap.String("slug", pageSlug),
		zap.String("first", first.String()),
		zap.String("second", second.String()),
	)

	if err := checkNormal(pageSlug); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := slug.Path(pageSlug)

	// Aggregate counts come from git's own statistics.
	numstat, err := s.gitOutput(ctx, "diff", "--numstat",
		first.String(), second.String(), "--", path)
	if err != nil {
		return nil, err
	}

	nameStatus, err := s.gitOutput(ctx, "diff", "--name-status", "--find-renames",
		first.String(), second.String(), "--", path)
	if err != nil {
		return nil, err
	}

	patch, err := s.gitOutput(ctx, "diff",
		first.String(), second.String(), "--", path)
	if err != nil {
		return nil, err
	}

	return parseDiff(numstat, nameStatus, patch)
}

// GetBlame returns line-level authorship for a page, at the given commit
// or at HEAD when at is nil. Returns nil if the page does not exist at
// that point.
func (s *Store) GetBlame(ctx context.Context, pageSlug string, at *Hash) (*Blame, error) {
	s.logger.Debug("getting blame", zap.String("slug", pageSlug))

	if err := checkNormal(pageSlug); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args := []string{"blame", "--porcelain"}
	if at != nil {
		args = append(args, at.String())
	}
	args = append(args, "--", slug.Path(pageSlug))

	out, err := s.gitOutput(ctx, args...)

	var cmdErr *wikierr.CommandError
	if errors.As(err, &cmdErr) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return parseBlame(out)
}

// Vacuum prunes unreachable objects and repacks the repository, returning
// the number of objects pruned. Normal operation creates no unreachable
// objects, so this reports zero unless history was rewritten. Serializes
// against all other operations through the same lock.
func (s *Store) Vacuum(ctx context.Context) (int, error) {
	s.logger.Info("vacuuming repository")

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.vacuum(ctx, "gc", "--prune=now", "--quiet")
}

// VacuumDeep performs an aggressive repack, returning the number of
// objects pruned.
func (s *Store) VacuumDeep(ctx context.Context) (int, error) {
	s.logger.Info("deep vacuuming repository")

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.vacuum(ctx, "gc", "--aggressive", "--prune=now", "--quiet")
}

func (s *Store) vacuum(ctx context.Context, gcArgs ...string) (int, error) {
	pruned, err := s.unreachableObjects(ctx)
	if err != nil {
		return 0, err
	}

	if err := s.git(ctx, gcArgs...); err != nil {
		return 0, err
	}
	return pruned, nil
}

// unreachableObjects counts the objects a prune would discard.
func (s *Store) unreachableObjects(ctx context.Context) (int, error) {
	out, err := s.gitOutput(ctx, "fsck", "--unreachable", "--no-progress")
	if err != nil {
		return 0, err
	}

	count := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "unreachable ") {
			count++
		}
	}
	return count, nil
}
