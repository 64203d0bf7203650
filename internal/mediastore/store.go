// Package mediastore is a shared media collection: files on disk indexed by
// a sqlite table. Entries are created pending, written through a descriptor,
// and made visible to consumers once finalized.
package mediastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no entry has the requested id.
	ErrNotFound = errors.New("media entry not found")
	// ErrDescriptorOpen is returned when publishing a slot whose descriptor is still open.
	ErrDescriptorOpen = errors.New("descriptor still open")
	// ErrNotPending is returned when finalizing an entry that is no longer pending.
	ErrNotPending = errors.New("media entry is not pending")
)

const (
	maxNameAttempts = 100
	// fixed width so rows sort by date_added as text
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Visibility is whether an entry is shown to ordinary consumers of the store.
type Visibility int

const (
	Pending Visibility = iota
	Visible
)

func (v Visibility) String() string {
	if v == Visible {
		return "visible"
	}
	return "pending"
}

// Entry is one row of the media collection.
type Entry struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"displayName"`
	MimeType     string     `json:"mimeType"`
	RelativePath string     `json:"relativePath"`
	Visibility   Visibility `json:"-"`
	Size         int64      `json:"size"`
	DateAdded    time.Time  `json:"dateAdded"`
	DateFinal    *time.Time `json:"dateFinalized,omitempty"`
}

// Pending reports whether the entry is still hidden.
func (e Entry) Pending() bool { return e.Visibility == Pending }

// Store indexes media files under a root directory.
type Store struct {
	db   *sql.DB
	root string
}

// Open opens (creating if necessary) the index at dbPath for files under root.
func Open(ctx context.Context, root, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db, root)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle.
func New(ctx context.Context, db *sql.DB, root string) (*Store, error) {
	s := &Store{db: db, root: root}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS media (
        id TEXT PRIMARY KEY,
        display_name TEXT NOT NULL,
        mime_type TEXT NOT NULL,
        relative_path TEXT NOT NULL,
        is_pending INTEGER NOT NULL DEFAULT 1,
        size INTEGER NOT NULL DEFAULT 0,
        date_added TEXT NOT NULL,
        date_finalized TEXT
    );
    CREATE UNIQUE INDEX IF NOT EXISTS media_path ON media (relative_path, display_name);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Close closes the index.
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the directory files are stored under.
func (s *Store) Root() string { return s.root }

// Path returns the absolute file path of e.
func (s *Store) Path(e Entry) string {
	return filepath.Join(s.root, filepath.FromSlash(e.RelativePath), e.DisplayName)
}

// Insert creates a pending entry in folder and opens its file for writing.
// A name already taken in the folder gets a numeric suffix.
func (s *Store) Insert(ctx context.Context, folder, displayName, mimeType string) (*Slot, error) {
	folder = strings.Trim(filepath.ToSlash(folder), "/")
	dir := filepath.Join(s.root, filepath.FromSlash(folder))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}

	f, name, err := createUnique(dir, displayName)
	if err != nil {
		return nil, err
	}

	e := Entry{
		ID:           uuid.NewString(),
		DisplayName:  name,
		MimeType:     mimeType,
		RelativePath: folder,
		Visibility:   Pending,
		DateAdded:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO media (id, display_name, mime_type, relative_path, is_pending, size, date_added)
		 VALUES (?, ?, ?, ?, 1, 0, ?)`,
		e.ID, e.DisplayName, e.MimeType, e.RelativePath, e.DateAdded.Format(timeLayout))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("failed to insert media row: %w", err)
	}
	return &Slot{store: s, entry: e, file: f}, nil
}

func createUnique(dir, displayName string) (*os.File, string, error) {
	ext := filepath.Ext(displayName)
	base := strings.TrimSuffix(displayName, ext)
	name := displayName
	for i := 1; i <= maxNameAttempts; i++ {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create media file: %w", err)
		}
		name = fmt.Sprintf("%s (%d)%s", base, i, ext)
	}
	return nil, "", fmt.Errorf("create media file: too many entries named %q", displayName)
}

// Get returns the entry with id.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// ListOptions filters List.
type ListOptions struct {
	// IncludePending also returns entries that were never finalized.
	IncludePending bool
	Limit          int
}

// List returns entries, newest first. By default only visible entries are
// returned, as an ordinary consumer of the collection would see them.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	query := selectEntry
	if !opts.IncludePending {
		query += ` WHERE is_pending = 0`
	}
	query += ` ORDER BY date_added DESC, rowid DESC`
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) markVisible(ctx context.Context, id string, size int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media SET is_pending = 0, size = ?, date_finalized = ? WHERE id = ? AND is_pending = 1`,
		size, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	return err
}

const selectEntry = `SELECT id, display_name, mime_type, relative_path, is_pending, size, date_added, date_finalized FROM media`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e         Entry
		pending   int
		added     string
		finalized sql.NullString
	)
	if err := sc.Scan(&e.ID, &e.DisplayName, &e.MimeType, &e.RelativePath, &pending, &e.Size, &added, &finalized); err != nil {
		return Entry{}, err
	}
	if pending == 0 {
		e.Visibility = Visible
	}
	if t, err := time.Parse(timeLayout, added); err == nil {
		e.DateAdded = t
	}
	if finalized.Valid {
		if t, err := time.Parse(timeLayout, finalized.String); err == nil {
			e.DateFinal = &t
		}
	}
	return e, nil
}
