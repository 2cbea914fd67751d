// Package store provides reference SQL-backed implementations of the
// pushrebase and changeset packages' storage interfaces, built on
// modernc.org/sqlite (pure Go, no cgo). Production deployments may swap
// these for whatever the repo's existing metadata store is; these exist so
// the engine is runnable and testable end-to-end without one.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/scmforge/scmcore/pushrebase"
)

// BookmarkStore is a sqlite-backed pushrebase.BookmarkStore: the CAS move
// and every hook's extra steps run inside one transaction.
type BookmarkStore struct {
	db *sql.DB
}

// OpenBookmarkStore opens (creating if necessary) a bookmark store at path.
// Use ":memory:" for tests.
func OpenBookmarkStore(path string) (*BookmarkStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS bookmarks (
	name   TEXT PRIMARY KEY,
	target BLOB NOT NULL
)`); err != nil {
		db.Close()
		return nil, err
	}
	return &BookmarkStore{db: db}, nil
}

func (s *BookmarkStore) Close() error { return s.db.Close() }

// Get returns bookmark's current target.
func (s *BookmarkStore) Get(ctx context.Context, bookmark string) (pushrebase.BcsId, bool, error) {
	var target []byte
	err := s.db.QueryRowContext(ctx, `SELECT target FROM bookmarks WHERE name = ?`, bookmark).Scan(&target)
	if err == sql.ErrNoRows {
		return pushrebase.BcsId{}, false, nil
	}
	if err != nil {
		return pushrebase.BcsId{}, false, err
	}
	return toBcsId(target), true, nil
}

// CompareAndSet atomically moves bookmark from old to new, running
// extraSteps in the same transaction. A mismatch (current value != old)
// rolls back and returns (false, nil) so the caller retries.
func (s *BookmarkStore) CompareAndSet(ctx context.Context, bookmark string, old, new pushrebase.BcsId, extraSteps []pushrebase.TxStep) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT target FROM bookmarks WHERE name = ?`, bookmark).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if old != (pushrebase.BcsId{}) {
			return false, nil
		}
	case err != nil:
		return false, err
	default:
		if toBcsId(current) != old {
			return false, nil
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO bookmarks(name, target) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET target = excluded.target`, bookmark, new[:]); err != nil {
		return false, err
	}

	stepCtx := withTx(ctx, tx)
	for _, step := range extraSteps {
		if err := step(stepCtx); err != nil {
			return false, fmt.Errorf("store: transaction hook step failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func toBcsId(b []byte) pushrebase.BcsId {
	var id pushrebase.BcsId
	copy(id[:], b)
	return id
}
