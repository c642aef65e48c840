// Package page coordinates page metadata rows, vote rows and the
// per-wiki revision stores. Every mutation commits to the wiki's
// repository first and records a revision row after; the two are not
// covered by a shared transaction, so a crash between them can leave a
// commit without a row.
package page

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Nu-SCPTheme/deepwell/internal/process"
	"github.com/Nu-SCPTheme/deepwell/internal/revision"
	"github.com/Nu-SCPTheme/deepwell/internal/scoring"
	"github.com/Nu-SCPTheme/deepwell/internal/storage"
	"github.com/Nu-SCPTheme/deepwell/internal/wikierr"
)

// contentCacheSize bounds the current-content cache across all wikis.
const contentCacheSize = 256

// Manager owns the registry of revision stores, one per wiki, and runs
// every page operation against both the metadata store and the wiki's
// repository.
type Manager struct {
	meta      *storage.Store
	directory string
	runner    *process.Runner
	logger    *zap.Logger

	mu     sync.RWMutex
	stores map[string]*revision.Store

	// cache holds the current contents of recently read pages, keyed
	// by wiki ID and slug. Any mutation of a slug evicts it.
	cache *lru.Cache[string, []byte]
}

// NewManager creates a manager storing wiki repositories under
// directory. Existing wikis are not registered; call LoadWikis.
func NewManager(meta *storage.Store, directory string, runner *process.Runner, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating repository directory: %w", err)
	}

	cache, err := lru.New[string, []byte](contentCacheSize)
	if err != nil {
		return nil, err
	}

	return &Manager{
		meta:      meta,
		directory: directory,
		runner:    runner,
		logger:    logger,
		stores:    make(map[string]*revision.Store),
		cache:     cache,
	}, nil
}

// LoadWikis registers a revision store for every wiki row already in
// the metadata store. Called once at startup.
func (m *Manager) LoadWikis(ctx context.Context) error {
	wikis, err := m.meta.ListWikis()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range wikis {
		if _, ok := m.stores[w.ID]; ok {
			continue
		}
		m.stores[w.ID] = m.newStore(w)
		m.logger.Info("loaded wiki",
			zap.String("wiki_id", w.ID),
			zap.String("slug", w.Slug))
	}

	return nil
}

func (m *Manager) newStore(w *Wiki) *revision.Store {
	repo := filepath.Join(m.directory, w.Slug)
	return revision.NewStore(repo, w.Domain, m.runner, m.logger.With(zap.String("wiki_id", w.ID)))
}

// Wiki is re-exported so callers of the manager need not import the
// storage package for the common case.
type Wiki = storage.Wiki

// AddWiki creates the wiki row, its repository directory, and the
// repository's initial commit, then registers the wiki's store.
func (m *Manager) AddWiki(ctx context.Context, slug, name, domain string) (*Wiki, error) {
	wiki := &storage.Wiki{
		ID:        uuid.NewString(),
		Slug:      slug,
		Name:      name,
		Domain:    domain,
		CreatedAt: time.Now().UTC(),
	}

	repo := filepath.Join(m.directory, slug)
	if err := os.MkdirAll(repo, 0o755); err != nil {
		return nil, fmt.Errorf("creating wiki repository: %w", err)
	}

	store := m.newStore(wiki)
	if err := store.InitialCommit(ctx); err != nil {
		return nil, err
	}

	if err := m.meta.CreateWiki(wiki); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.stores[wiki.ID] = store
	m.mu.Unlock()

	m.logger.Info("added wiki",
		zap.String("wiki_id", wiki.ID),
		zap.String("slug", slug),
		zap.String("domain", domain))

	return wiki, nil
}

// SetDomain changes the email domain used for commit authorship on the
// wiki's repository and persists it on the wiki row.
func (m *Manager) SetDomain(wikiID, domain string) error {
	store, err := m.store(wikiID)
	if err != nil {
		return err
	}

	wiki, err := m.meta.GetWiki(wikiID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return wikierr.ErrWikiNotFound
		}
		return err
	}

	wiki.Domain = domain
	if err := m.meta.UpdateWiki(wiki); err != nil {
		return err
	}

	store.SetDomain(domain)
	return nil
}

// ApplyDefaultDomain moves every wiki still on the old default
// authorship domain to the new one. Wikis given their own domain are
// left alone.
func (m *Manager) ApplyDefaultDomain(old, next string) error {
	if old == next {
		return nil
	}

	wikis, err := m.meta.ListWikis()
	if err != nil {
		return err
	}

	for _, w := range wikis {
		if w.Domain != old {
			continue
		}
		if err := m.SetDomain(w.ID, next); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) store(wikiID string) (*revision.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	store, ok := m.stores[wikiID]
	if !ok {
		return nil, wikierr.ErrWikiNotFound
	}
	return store, nil
}

func cacheKey(wikiID, slug string) string {
	return wikiID + "/" + slug
}

func (m *Manager) evict(wikiID string, slugs ...string) {
	for _, slug := range slugs {
		m.cache.Remove(cacheKey(wikiID, slug))
	}
}

// commitMessage passes the caller's message through, or synthesizes
// one from the username and change when the caller gave none.
func commitMessage(message, username, slug string, change ChangeType) string {
	if message != "" {
		return message
	}
	return fmt.Sprintf("%s %s page %s", username, change.Verb(), slug)
}

func (m *Manager) addRevision(page *storage.Page, username, message string, change ChangeType, hash revision.Hash) (*storage.Revision, error) {
	rev := &storage.Revision{
		ID:         uuid.NewString(),
		PageID:     page.ID,
		WikiID:     page.WikiID,
		Username:   username,
		Message:    message,
		ChangeType: string(change),
		CommitHash: hash.String(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.meta.CreateRevision(rev); err != nil {
		return nil, err
	}
	return rev, nil
}

func (m *Manager) livePage(wikiID, slug string) (*storage.Page, error) {
	page, err := m.meta.GetPageBySlug(wikiID, slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, wikierr.ErrPageNotFound
		}
		return nil, err
	}
	return page, nil
}

// CreatePage makes a new page: a metadata row plus the commit that
// introduces its file.
func (m *Manager) CreatePage(ctx context.Context, wikiID, slug string, content []byte, title, username, message string) (*storage.Page, *storage.Revision, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := m.meta.GetPageBySlug(wikiID, slug); err == nil {
		return nil, nil, wikierr.ErrPageExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, err
	}

	message = commitMessage(message, username, slug, ChangeCreate)
	hash, err := store.Commit(ctx, slug, content, revision.CommitInfo{
		Username: username,
		Message:  message,
	})
	if err != nil {
		return nil, nil, err
	}

	page := &storage.Page{
		ID:        uuid.NewString(),
		WikiID:    wikiID,
		Slug:      slug,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.meta.CreatePage(page); err != nil {
		return nil, nil, err
	}

	rev, err := m.addRevision(page, username, message, ChangeCreate, hash)
	if err != nil {
		return nil, nil, err
	}

	m.evict(wikiID, slug)
	return page, rev, nil
}

// EditInput carries the changed fields of an edit. A nil Content keeps
// the page's file as is, recording a metadata-only revision.
type EditInput struct {
	Content  []byte
	Title    *string
	AltTitle *string
}

// EditPage commits new content and/or title changes for an existing
// page.
func (m *Manager) EditPage(ctx context.Context, wikiID, slug string, in EditInput, username, message string) (*storage.Revision, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, err
	}

	page, err := m.livePage(wikiID, slug)
	if err != nil {
		return nil, err
	}

	message = commitMessage(message, username, slug, ChangeModify)
	hash, err := store.Commit(ctx, slug, in.Content, revision.CommitInfo{
		Username: username,
		Message:  message,
	})
	if err != nil {
		return nil, err
	}

	if in.Title != nil || in.AltTitle != nil {
		if in.Title != nil {
			page.Title = *in.Title
		}
		if in.AltTitle != nil {
			page.AltTitle = *in.AltTitle
		}
		if err := m.meta.UpdatePage(page); err != nil {
			return nil, err
		}
	}

	rev, err := m.addRevision(page, username, message, ChangeModify, hash)
	if err != nil {
		return nil, err
	}

	m.evict(wikiID, slug)
	return rev, nil
}

// RenamePage moves a page to a new slug in both the repository and the
// metadata row.
func (m *Manager) RenamePage(ctx context.Context, wikiID, oldSlug, newSlug, username, message string) (*storage.Revision, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, err
	}

	page, err := m.livePage(wikiID, oldSlug)
	if err != nil {
		return nil, err
	}

	if _, err := m.meta.GetPageBySlug(wikiID, newSlug); err == nil {
		return nil, wikierr.ErrPageExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	message = commitMessage(message, username, oldSlug, ChangeRename)
	hash, err := store.Rename(ctx, oldSlug, newSlug, revision.CommitInfo{
		Username: username,
		Message:  message,
	})
	if err != nil {
		return nil, err
	}

	page.Slug = newSlug
	if err := m.meta.UpdatePage(page); err != nil {
		return nil, err
	}

	rev, err := m.addRevision(page, username, message, ChangeRename, hash)
	if err != nil {
		return nil, err
	}

	m.evict(wikiID, oldSlug, newSlug)
	return rev, nil
}

// RemovePage deletes the page's file and soft-deletes its row. The row
// and its revisions survive so the page can later be restored.
func (m *Manager) RemovePage(ctx context.Context, wikiID, slug, username, message string) (*storage.Revision, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, err
	}

	page, err := m.livePage(wikiID, slug)
	if err != nil {
		return nil, err
	}

	message = commitMessage(message, username, slug, ChangeDelete)
	hash, err := store.Remove(ctx, slug, revision.CommitInfo{
		Username: username,
		Message:  message,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	page.DeletedAt = &now
	if err := m.meta.UpdatePage(page); err != nil {
		return nil, err
	}

	m.evict(wikiID, slug)

	if hash == nil {
		// Row existed but the repository had no file. Nothing was
		// committed, so there is no revision to record.
		m.logger.Warn("page row had no file in repository",
			zap.String("wiki_id", wikiID),
			zap.String("slug", slug))
		return nil, nil
	}

	return m.addRevision(page, username, message, ChangeDelete, *hash)
}

// RestorePage brings back the most recently deleted page at slug,
// reinstating its content from the last revision before deletion.
func (m *Manager) RestorePage(ctx context.Context, wikiID, slug, username, message string) (*storage.Page, *storage.Revision, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := m.meta.GetPageBySlug(wikiID, slug); err == nil {
		return nil, nil, wikierr.ErrPageExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, err
	}

	page, err := m.meta.LastDeletedPageBySlug(wikiID, slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, wikierr.ErrPageNotFound
		}
		return nil, nil, err
	}

	at, err := m.lastContentRevision(page.ID)
	if err != nil {
		return nil, nil, err
	}

	message = commitMessage(message, username, slug, ChangeRestore)
	hash, err := store.Restore(ctx, slug, slug, at, revision.CommitInfo{
		Username: username,
		Message:  message,
	})
	if err != nil {
		return nil, nil, err
	}

	page.DeletedAt = nil
	if err := m.meta.UpdatePage(page); err != nil {
		return nil, nil, err
	}

	rev, err := m.addRevision(page, username, message, ChangeRestore, hash)
	if err != nil {
		return nil, nil, err
	}

	m.evict(wikiID, slug)
	return page, rev, nil
}

// lastContentRevision finds the newest revision of a page whose commit
// still contains the page's file, skipping the deletion itself.
func (m *Manager) lastContentRevision(pageID string) (revision.Hash, error) {
	revs, err := m.meta.RevisionsByPage(pageID)
	if err != nil {
		return revision.Hash{}, err
	}

	for i := len(revs) - 1; i >= 0; i-- {
		if ChangeType(revs[i].ChangeType) == ChangeDelete {
			continue
		}
		return revision.ParseHash(revs[i].CommitHash)
	}

	return revision.Hash{}, wikierr.ErrPageNotFound
}

// UndoRevision reverts the named revision of a page. The hash must
// belong to one of the page's own revisions.
func (m *Manager) UndoRevision(ctx context.Context, wikiID, slug string, at revision.Hash, username, message string) (*storage.Revision, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, err
	}

	page, err := m.livePage(wikiID, slug)
	if err != nil {
		return nil, err
	}

	target, err := m.meta.GetRevisionByHash(at.String())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, wikierr.ErrRevisionMismatch
		}
		return nil, err
	}
	if target.PageID != page.ID {
		return nil, wikierr.ErrRevisionMismatch
	}

	message = commitMessage(message, username, slug, ChangeUndo)
	hash, err := store.Undo(ctx, at, revision.CommitInfo{
		Username: username,
		Message:  message,
	})
	if err != nil {
		return nil, err
	}

	rev, err := m.addRevision(page, username, message, ChangeUndo, hash)
	if err != nil {
		return nil, err
	}

	m.evict(wikiID, slug)
	return rev, nil
}

// SetTags replaces the page's tag set. Tags are deduplicated and
// sorted before storing. When the set is unchanged no commit or
// revision is made and a nil revision is returned.
func (m *Manager) SetTags(ctx context.Context, wikiID, slug string, tags []string, username, message string) (*storage.Revision, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, err
	}

	page, err := m.livePage(wikiID, slug)
	if err != nil {
		return nil, err
	}

	next := normalizeTags(tags)
	added, removed := tagDiff(page.Tags, next)
	if len(added) == 0 && len(removed) == 0 {
		return nil, nil
	}

	if message == "" {
		message = fmt.Sprintf("%s %s %s (added %v, removed %v)",
			username, ChangeTags.Verb(), slug, added, removed)
	}

	hash, err := store.EmptyCommit(ctx, revision.CommitInfo{
		Username: username,
		Message:  message,
	})
	if err != nil {
		return nil, err
	}

	page.Tags = next
	if err := m.meta.UpdatePage(page); err != nil {
		return nil, err
	}

	return m.addRevision(page, username, message, ChangeTags, hash)
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func tagDiff(current, next []string) (added, removed []string) {
	have := make(map[string]struct{}, len(current))
	for _, tag := range current {
		have[tag] = struct{}{}
	}
	want := make(map[string]struct{}, len(next))
	for _, tag := range next {
		want[tag] = struct{}{}
		if _, ok := have[tag]; !ok {
			added = append(added, tag)
		}
	}
	for _, tag := range current {
		if _, ok := want[tag]; !ok {
			removed = append(removed, tag)
		}
	}
	return added, removed
}

// GetPage returns the metadata row of a live page.
func (m *Manager) GetPage(wikiID, slug string) (*storage.Page, error) {
	return m.livePage(wikiID, slug)
}

// GetPageContents returns the current contents of a page, or nil when
// no such file exists. Results are cached until the slug is mutated.
func (m *Manager) GetPageContents(ctx context.Context, wikiID, slug string) ([]byte, error) {
	key := cacheKey(wikiID, slug)
	if content, ok := m.cache.Get(key); ok {
		return content, nil
	}

	store, err := m.store(wikiID)
	if err != nil {
		return nil, err
	}

	content, err := store.GetPage(ctx, slug)
	if err != nil {
		return nil, err
	}
	if content != nil {
		m.cache.Add(key, content)
	}
	return content, nil
}

// GetPageVersion returns the page's contents as of a particular
// commit, or nil when the page did not exist there.
func (m *Manager) GetPageVersion(ctx context.Context, wikiID, slug string, at revision.Hash) ([]byte, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, err
	}
	return store.GetPageVersion(ctx, slug, at)
}

// GetBlame returns per-line attribution for a page. A nil hash blames
// the current head.
func (m *Manager) GetBlame(ctx context.Context, wikiID, slug string, at *revision.Hash) (*revision.Blame, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, err
	}
	return store.GetBlame(ctx, slug, at)
}

// GetDiff returns the changes to a page between two commits.
func (m *Manager) GetDiff(ctx context.Context, wikiID, slug string, first, second revision.Hash) (*revision.Diff, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return nil, err
	}
	return store.GetDiff(ctx, slug, first, second)
}

// History returns a page's revisions, oldest first.
func (m *Manager) History(pageID string) ([]*storage.Revision, error) {
	return m.meta.RevisionsByPage(pageID)
}

// EditRevision rewrites the stored message of a revision. The
// underlying commit keeps the message it was recorded with.
func (m *Manager) EditRevision(revisionID, message string) (*storage.Revision, error) {
	rev, err := m.meta.GetRevision(revisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, wikierr.ErrRevisionMismatch
		}
		return nil, err
	}

	rev.Message = message
	if err := m.meta.UpdateRevision(rev); err != nil {
		return nil, err
	}

	m.logger.Debug("edited revision message",
		zap.String("revision_id", revisionID))
	return rev, nil
}

// PagesWithTags lists the live pages of a wiki carrying every one of
// the given tags. An empty tag list matches nothing.
func (m *Manager) PagesWithTags(wikiID string, tags ...string) ([]*storage.Page, error) {
	if _, err := m.store(wikiID); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, nil
	}

	pages, err := m.meta.PagesByWiki(wikiID)
	if err != nil {
		return nil, err
	}

	var matched []*storage.Page
	for _, page := range pages {
		if hasAllTags(page.Tags, tags) {
			matched = append(matched, page)
		}
	}
	return matched, nil
}

func hasAllTags(have, want []string) bool {
	for _, tag := range want {
		found := false
		for _, t := range have {
			if t == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Vote records or replaces a user's rating of a page.
func (m *Manager) Vote(pageID, username string, value int16) error {
	if _, err := m.meta.GetPage(pageID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return wikierr.ErrPageNotFound
		}
		return err
	}

	return m.meta.PutVote(&storage.Vote{
		ID:       uuid.NewString(),
		PageID:   pageID,
		Username: username,
		Value:    value,
	})
}

// ClearVote removes a user's rating of a page, if any.
func (m *Manager) ClearVote(pageID, username string) error {
	return m.meta.RemoveVote(pageID, username)
}

// Rating computes a page's score under the given strategy.
func (m *Manager) Rating(pageID string, scorer scoring.Scorer) (float32, error) {
	votes, err := m.meta.VotesByPage(pageID)
	if err != nil {
		return 0, err
	}

	distribution := make(map[int16]uint32, 3)
	for _, v := range votes {
		distribution[v.Value]++
	}
	return scorer.Score(scoring.NewVotes(distribution)), nil
}

// Vacuum prunes unreachable objects from a wiki's repository and
// reports how many were removed.
func (m *Manager) Vacuum(ctx context.Context, wikiID string, deep bool) (int, error) {
	store, err := m.store(wikiID)
	if err != nil {
		return 0, err
	}
	if deep {
		return store.VacuumDeep(ctx)
	}
	return store.Vacuum(ctx)
}
