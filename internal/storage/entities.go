package storage

import "time"

// Wiki is one registered wiki site. Its ID keys the revision-store
// registry and its slug names the repository directory.
type Wiki struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

func (w *Wiki) GetID() string { return w.ID }

// Page is the metadata row for a page. Content lives in the wiki's
// repository; this row carries identity, titles and lifecycle.
type Page struct {
	ID        string     `json:"id"`
	WikiID    string     `json:"wiki_id"`
	Slug      string     `json:"slug"`
	Title     string     `json:"title"`
	AltTitle  string     `json:"alt_title,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (p *Page) GetID() string { return p.ID }

// Revision links a page, a user, a change type and a commit hash: the
// bridge between metadata storage and the revision store. The hash is
// held as an opaque validated string.
type Revision struct {
	ID         string    `json:"id"`
	PageID     string    `json:"page_id"`
	WikiID     string    `json:"wiki_id"`
	Username   string    `json:"username"`
	Message    string    `json:"message"`
	ChangeType string    `json:"change_type"`
	CommitHash string    `json:"commit_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *Revision) GetID() string { return r.ID }

// Vote is a single user's rating of a page.
type Vote struct {
	ID       string `json:"id"`
	PageID   string `json:"page_id"`
	Username string `json:"username"`
	Value    int16  `json:"value"`
}

func (v *Vote) GetID() string { return v.ID }
