package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scmforge/scmcore/internal/errs"
	"github.com/scmforge/scmcore/pushrebase"
)

func unixNanoToTime(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// ChangesetStore is a sqlite-backed pushrebase.Store.
type ChangesetStore struct {
	db *sql.DB
}

// OpenChangesetStore opens (creating if necessary) a changeset store at
// path. Use ":memory:" for tests.
func OpenChangesetStore(path string) (*ChangesetStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS bonsai_changesets (
	id           BLOB PRIMARY KEY,
	parents      TEXT NOT NULL,
	author       TEXT NOT NULL,
	author_date  INTEGER NOT NULL,
	message      TEXT NOT NULL,
	extra        TEXT NOT NULL,
	file_changes TEXT NOT NULL,
	generation   INTEGER NOT NULL
)`); err != nil {
		db.Close()
		return nil, err
	}
	return &ChangesetStore{db: db}, nil
}

func (s *ChangesetStore) Close() error { return s.db.Close() }

type changesetRow struct {
	Parents     [][32]byte
	Author      string
	AuthorDate  int64
	Message     string
	Extra       map[string]string
	FileChanges map[string]*pushrebase.FileChange
}

// Put persists cs, computing its generation from its parents' generations.
func (s *ChangesetStore) Put(ctx context.Context, cs *pushrebase.Changeset) error {
	gen := 1
	for _, p := range cs.Parents {
		pgen, err := s.Generation(ctx, p)
		if err != nil {
			return err
		}
		if pgen+1 > gen {
			gen = pgen + 1
		}
	}

	row := changesetRow{
		Author:      cs.Author,
		AuthorDate:  cs.AuthorDate.UnixNano(),
		Message:     cs.Message,
		Extra:       cs.Extra,
		FileChanges: cs.FileChanges,
	}
	for _, p := range cs.Parents {
		row.Parents = append(row.Parents, [32]byte(p))
	}

	parentsJSON, err := json.Marshal(row.Parents)
	if err != nil {
		return err
	}
	extraJSON, err := json.Marshal(row.Extra)
	if err != nil {
		return err
	}
	fcJSON, err := json.Marshal(row.FileChanges)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO bonsai_changesets(id, parents, author, author_date, message, extra, file_changes, generation)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		cs.ID[:], parentsJSON, row.Author, row.AuthorDate, row.Message, extraJSON, fcJSON, gen)
	return err
}

// Get loads a changeset by id.
func (s *ChangesetStore) Get(ctx context.Context, id pushrebase.BcsId) (*pushrebase.Changeset, error) {
	var parentsJSON, extraJSON, fcJSON []byte
	var author, message string
	var authorDateNS int64

	err := s.db.QueryRowContext(ctx, `
SELECT parents, author, author_date, message, extra, file_changes
FROM bonsai_changesets WHERE id = ?`, id[:]).Scan(&parentsJSON, &author, &authorDateNS, &message, &extraJSON, &fcJSON)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Kind: "bonsai_changeset", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}

	cs, err := decodeChangesetRow(id, parentsJSON, author, authorDateNS, message, extraJSON, fcJSON)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func decodeChangesetRow(id pushrebase.BcsId, parentsJSON []byte, author string, authorDateNS int64, message string, extraJSON, fcJSON []byte) (*pushrebase.Changeset, error) {
	var rawParents [][32]byte
	if err := json.Unmarshal(parentsJSON, &rawParents); err != nil {
		return nil, err
	}
	parents := make([]pushrebase.BcsId, len(rawParents))
	for i, p := range rawParents {
		parents[i] = pushrebase.BcsId(p)
	}

	var extra map[string]string
	if err := json.Unmarshal(extraJSON, &extra); err != nil {
		return nil, err
	}
	var fc map[string]*pushrebase.FileChange
	if err := json.Unmarshal(fcJSON, &fc); err != nil {
		return nil, err
	}

	return &pushrebase.Changeset{
		ID:          id,
		Parents:     parents,
		Author:      author,
		AuthorDate:  unixNanoToTime(authorDateNS),
		Message:     message,
		Extra:       extra,
		FileChanges: fc,
	}, nil
}

// Generation returns id's stored generation number.
func (s *ChangesetStore) Generation(ctx context.Context, id pushrebase.BcsId) (int, error) {
	if id == (pushrebase.BcsId{}) {
		return 0, nil
	}
	var gen int
	err := s.db.QueryRowContext(ctx, `SELECT generation FROM bonsai_changesets WHERE id = ?`, id[:]).Scan(&gen)
	if err == sql.ErrNoRows {
		return 0, &errs.NotFound{Kind: "bonsai_changeset", ID: id.String()}
	}
	return gen, err
}

// IsAncestor reports whether a is an ancestor of (or equal to) d, via a
// backward BFS over all parent edges from d.
func (s *ChangesetStore) IsAncestor(ctx context.Context, a, d pushrebase.BcsId) (bool, error) {
	if a == d {
		return true, nil
	}
	visited := map[pushrebase.BcsId]bool{d: true}
	queue := []pushrebase.BcsId{d}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		cs, err := s.Get(ctx, cur)
		if err != nil {
			if _, ok := err.(*errs.NotFound); ok {
				continue
			}
			return false, err
		}
		for _, p := range cs.Parents {
			if p == a {
				return true, nil
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// ancestorsInclusive returns id and every ancestor of id (via all parent
// edges), ordered by ascending generation so a replay of FileChanges in
// this order never applies a commit before one of its parents.
func (s *ChangesetStore) ancestorsInclusive(ctx context.Context, id pushrebase.BcsId) ([]*pushrebase.Changeset, error) {
	visited := map[pushrebase.BcsId]bool{}
	var out []*pushrebase.Changeset
	var walk func(cur pushrebase.BcsId) error
	walk = func(cur pushrebase.BcsId) error {
		if cur == (pushrebase.BcsId{}) || visited[cur] {
			return nil
		}
		visited[cur] = true
		cs, err := s.Get(ctx, cur)
		if err != nil {
			return err
		}
		for _, p := range cs.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		out = append(out, cs)
		return nil
	}
	if err := walk(id); err != nil {
		return nil, err
	}

	gens := make(map[pushrebase.BcsId]int, len(out))
	for _, cs := range out {
		gen, err := s.Generation(ctx, cs.ID)
		if err != nil {
			return nil, err
		}
		gens[cs.ID] = gen
	}
	sort.SliceStable(out, func(i, j int) bool {
		return gens[out[i].ID] < gens[out[j].ID]
	})
	return out, nil
}

// replayState computes the effective file-change state as of id by
// replaying every ancestor's FileChanges in generation order.
func (s *ChangesetStore) replayState(ctx context.Context, id pushrebase.BcsId) (map[string]*pushrebase.FileChange, error) {
	if id == (pushrebase.BcsId{}) {
		return map[string]*pushrebase.FileChange{}, nil
	}
	history, err := s.ancestorsInclusive(ctx, id)
	if err != nil {
		return nil, err
	}
	state := make(map[string]*pushrebase.FileChange)
	for _, cs := range history {
		for path, fc := range cs.FileChanges {
			if fc.Deleted {
				delete(state, path)
				continue
			}
			state[path] = fc
		}
	}
	return state, nil
}

// ChangedFiles returns the union of paths touched by any changeset
// strictly after since up to and including until, walking first-parent
// history, including copy-from source paths.
func (s *ChangesetStore) ChangedFiles(ctx context.Context, since, until pushrebase.BcsId) ([]string, error) {
	set := make(map[string]bool)
	cur := until
	for cur != since && cur != (pushrebase.BcsId{}) {
		cs, err := s.Get(ctx, cur)
		if err != nil {
			return nil, err
		}
		for path, fc := range cs.FileChanges {
			set[path] = true
			if fc.CopyFrom != nil {
				set[fc.CopyFrom.Path] = true
			}
		}
		if len(cs.Parents) == 0 {
			break
		}
		cur = cs.Parents[0]
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// CommitsBetween returns changesets in (since, until] in topological
// (root-to-head) order, walking first-parent history.
func (s *ChangesetStore) CommitsBetween(ctx context.Context, since, until pushrebase.BcsId) ([]*pushrebase.Changeset, error) {
	var rev []*pushrebase.Changeset
	cur := until
	for cur != since && cur != (pushrebase.BcsId{}) {
		cs, err := s.Get(ctx, cur)
		if err != nil {
			return nil, err
		}
		rev = append(rev, cs)
		if len(cs.Parents) == 0 {
			break
		}
		cur = cs.Parents[0]
	}
	out := make([]*pushrebase.Changeset, len(rev))
	for i, cs := range rev {
		out[len(rev)-1-i] = cs
	}
	return out, nil
}

// ManifestPaths returns every path present (not deleted) as of id.
func (s *ChangesetStore) ManifestPaths(ctx context.Context, id pushrebase.BcsId) (map[string]bool, error) {
	state, err := s.replayState(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(state))
	for path := range state {
		out[path] = true
	}
	return out, nil
}

// FileAt returns path's effective state as of id, or nil if absent.
func (s *ChangesetStore) FileAt(ctx context.Context, id pushrebase.BcsId, path string) (*pushrebase.FileChange, error) {
	state, err := s.replayState(ctx, id)
	if err != nil {
		return nil, err
	}
	fc, ok := state[path]
	if !ok {
		return nil, nil
	}
	return fc, nil
}
