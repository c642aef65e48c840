// Package storage persists wiki metadata rows (wikis, pages, revisions,
// votes) in a badger key-value database. It is deliberately not a
// relational schema: a thin row store the page manager drives, with the
// revision history itself living in git.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when no entity exists under the requested key.
var ErrNotFound = errors.New("entity not found")

// ErrExists is returned when creating an entity whose key is taken.
var ErrExists = errors.New("entity already exists")

// Entity is any storable row with an ID.
type Entity interface {
	GetID() string
}

const (
	prefixWiki     = "wiki"
	prefixPage     = "page"
	prefixPageSlug = "pageslug"
	prefixRevision = "revision"
	prefixRevSeq   = "revseq"
	prefixRevHash  = "revhash"
	prefixVote     = "vote"
)

type Store struct {
	db   *badger.DB
	comp *compressor
}

// Open opens (creating if necessary) the metadata database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}

	return &Store{db: db, comp: newCompressor()}, nil
}

// OpenInMemory opens an ephemeral database, for tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, comp: newCompressor()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func makeKey(prefix string, parts ...string) []byte {
	return []byte(prefix + ":" + strings.Join(parts, ":"))
}

// Generic row operations

func (s *Store) create(prefix string, entity Entity) error {
	if entity.GetID() == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}
	data = s.comp.compress(data)

	key := makeKey(prefix, entity.GetID())
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrExists, entity.GetID())
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		return txn.Set(key, data)
	})
}

func (s *Store) get(prefix, id string, entity Entity) error {
	key := makeKey(prefix, id)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			raw, err := s.comp.decompress(val)
			if err != nil {
				return err
			}
			return json.Unmarshal(raw, entity)
		})
	})

	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func (s *Store) update(prefix string, entity Entity) error {
	if entity.GetID() == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}
	data = s.comp.compress(data)

	key := makeKey(prefix, entity.GetID())
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, entity.GetID())
		} else if err != nil {
			return err
		}

		return txn.Set(key, data)
	})
}

// scan walks all values under prefix, invoking fn with each decompressed
// value.
func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix + ":")
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				raw, err := s.comp.decompress(val)
				if err != nil {
					return err
				}
				return fn(raw)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) setIndex(key, target []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, target)
	})
}

func (s *Store) getIndex(key []byte) (string, error) {
	var target string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			target = string(val)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return "", ErrNotFound
	}
	return target, err
}

// Wikis

func (s *Store) CreateWiki(w *Wiki) error {
	return s.create(prefixWiki, w)
}

func (s *Store) GetWiki(id string) (*Wiki, error) {
	var w Wiki
	if err := s.get(prefixWiki, id, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) UpdateWiki(w *Wiki) error {
	return s.update(prefixWiki, w)
}

func (s *Store) ListWikis() ([]*Wiki, error) {
	var wikis []*Wiki
	err := s.scan(prefixWiki, func(val []byte) error {
		var w Wiki
		if err := json.Unmarshal(val, &w); err != nil {
			return err
		}
		wikis = append(wikis, &w)
		return nil
	})
	return wikis, err
}

// Pages

func (s *Store) CreatePage(p *Page) error {
	if err := s.create(prefixPage, p); err != nil {
		return err
	}
	return s.setIndex(makeKey(prefixPageSlug, p.WikiID, p.Slug), []byte(p.ID))
}

func (s *Store) GetPage(id string) (*Page, error) {
	var p Page
	if err := s.get(prefixPage, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPageBySlug resolves a live (non-deleted) page by wiki and slug.
func (s *Store) GetPageBySlug(wikiID, slug string) (*Page, error) {
	id, err := s.getIndex(makeKey(prefixPageSlug, wikiID, slug))
	if err != nil {
		return nil, err
	}

	p, err := s.GetPage(id)
	if err != nil {
		return nil, err
	}
	if p.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// LastDeletedPageBySlug finds the most recently deleted page that carried
// the slug, for restore.
func (s *Store) LastDeletedPageBySlug(wikiID, slug string) (*Page, error) {
	var found *Page
	err := s.scan(prefixPage, func(val []byte) error {
		var p Page
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		if p.WikiID != wikiID || p.Slug != slug || p.DeletedAt == nil {
			return nil
		}
		if found == nil || p.DeletedAt.After(*found.DeletedAt) {
			clone := p
			found = &clone
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// UpdatePage rewrites a page row, keeping the slug index in step when the
// slug or deletion state changed.
func (s *Store) UpdatePage(p *Page) error {
	prev, err := s.GetPage(p.ID)
	if err != nil {
		return err
	}

	if err := s.update(prefixPage, p); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if prev.Slug != p.Slug {
			if err := txn.Delete(makeKey(prefixPageSlug, prev.WikiID, prev.Slug)); err != nil {
				return err
			}
		}
		if p.DeletedAt != nil {
			return nil
		}
		// Always reinstate the index for a live page. The slug may have
		// lost its entry while the page was deleted, if another page
		// claimed the slug and then moved away.
		return txn.Set(makeKey(prefixPageSlug, p.WikiID, p.Slug), []byte(p.ID))
	})
}

// PagesByWiki lists live pages in a wiki.
func (s *Store) PagesByWiki(wikiID string) ([]*Page, error) {
	var pages []*Page
	err := s.scan(prefixPage, func(val []byte) error {
		var p Page
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		if p.WikiID == wikiID && p.DeletedAt == nil {
			pages = append(pages, &p)
		}
		return nil
	})
	return pages, err
}

// Revisions

// CreateRevision appends a revision row and its per-page and per-hash
// indexes.
func (s *Store) CreateRevision(r *Revision) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	if err := s.create(prefixRevision, r); err != nil {
		return err
	}

	seqKey := makeKey(prefixRevSeq, r.PageID,
		fmt.Sprintf("%020d", r.CreatedAt.UnixNano()), r.ID)
	if err := s.setIndex(seqKey, []byte(r.ID)); err != nil {
		return err
	}
	return s.setIndex(makeKey(prefixRevHash, r.CommitHash), []byte(r.ID))
}

func (s *Store) GetRevision(id string) (*Revision, error) {
	var r Revision
	if err := s.get(prefixRevision, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRevision rewrites a revision row. The per-page and per-hash
// indexes are left alone, so the page, commit hash and timestamp must
// stay as created.
func (s *Store) UpdateRevision(r *Revision) error {
	return s.update(prefixRevision, r)
}

// GetRevisionByHash resolves a revision row from its commit hash.
func (s *Store) GetRevisionByHash(hash string) (*Revision, error) {
	id, err := s.getIndex(makeKey(prefixRevHash, hash))
	if err != nil {
		return nil, err
	}
	return s.GetRevision(id)
}

// RevisionsByPage lists a page's revisions oldest-first.
func (s *Store) RevisionsByPage(pageID string) ([]*Revision, error) {
	var ids []string
	prefix := prefixRevSeq + ":" + pageID

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix + ":")
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	revisions := make([]*Revision, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRevision(id)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, r)
	}
	return revisions, nil
}

// Votes

// PutVote upserts a user's vote on a page.
func (s *Store) PutVote(v *Vote) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling vote: %w", err)
	}

	key := makeKey(prefixVote, v.PageID, v.Username)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// RemoveVote deletes a user's vote. Removing an absent vote is a no-op.
func (s *Store) RemoveVote(pageID, username string) error {
	key := makeKey(prefixVote, pageID, username)
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// VotesByPage lists all votes on a page.
func (s *Store) VotesByPage(pageID string) ([]*Vote, error) {
	var votes []*Vote
	prefix := prefixVote + ":" + pageID

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix + ":")
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var v Vote
				if err := json.Unmarshal(val, &v); err != nil {
					return err
				}
				votes = append(votes, &v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return votes, err
}
