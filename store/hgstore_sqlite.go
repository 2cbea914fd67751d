package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scmforge/scmcore/changeset"
	"github.com/scmforge/scmcore/internal/errs"
	"github.com/scmforge/scmcore/hg"
	"github.com/scmforge/scmcore/lfs/pointerstore"
	"github.com/scmforge/scmcore/pushrebase"
)

// HgStore opens the sqlite-backed hg-side tables and hands out typed
// sub-stores, one per changeset-package storage interface (Go methods
// can't be overloaded, so BonsaiHgMapping/ManifestStore/HgChangesetStore/
// FileNodeStore — which all define Get/Put with different signatures —
// need distinct receiver types even though they share one database).
type HgStore struct {
	db *sql.DB
}

// OpenHgStore opens (creating if necessary) an hg-side store at path. Use
// ":memory:" for tests.
func OpenHgStore(path string) (*HgStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS bonsai_hg_mapping (
	repo_id INTEGER NOT NULL,
	bcs_id  BLOB NOT NULL,
	hg_id   BLOB NOT NULL,
	PRIMARY KEY (repo_id, bcs_id)
);
CREATE TABLE IF NOT EXISTS manifests (
	hg_id BLOB PRIMARY KEY,
	data  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS hg_changesets (
	hg_id    BLOB PRIMARY KEY,
	parents  TEXT NOT NULL,
	manifest BLOB NOT NULL,
	author   TEXT NOT NULL,
	date     INTEGER NOT NULL,
	extra    TEXT NOT NULL,
	message  TEXT NOT NULL,
	files    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS file_nodes (
	path       TEXT NOT NULL,
	hg_id      BLOB NOT NULL,
	content_id TEXT NOT NULL,
	p1         BLOB,
	p2         BLOB,
	PRIMARY KEY (path, hg_id)
);
`); err != nil {
		db.Close()
		return nil, err
	}
	return &HgStore{db: db}, nil
}

func (s *HgStore) Close() error { return s.db.Close() }

// Mapping returns the changeset.BonsaiHgMapping view.
func (s *HgStore) Mapping() *BonsaiHgMappingStore { return &BonsaiHgMappingStore{db: s.db} }

// Manifests returns the changeset.ManifestStore view.
func (s *HgStore) Manifests() *ManifestStore { return &ManifestStore{db: s.db} }

// Changesets returns the changeset.HgChangesetStore view.
func (s *HgStore) Changesets() *HgChangesetStore { return &HgChangesetStore{db: s.db} }

// FileNodes returns the changeset.FileNodeStore view.
func (s *HgStore) FileNodes() *FileNodeStore { return &FileNodeStore{db: s.db} }

// BonsaiHgMappingStore implements changeset.BonsaiHgMapping.
type BonsaiHgMappingStore struct{ db *sql.DB }

func (s *BonsaiHgMappingStore) Get(ctx context.Context, repoID int32, bcs pushrebase.BcsId) (pointerstore.HgId, bool, error) {
	var hgID []byte
	err := s.db.QueryRowContext(ctx, `SELECT hg_id FROM bonsai_hg_mapping WHERE repo_id = ? AND bcs_id = ?`, repoID, bcs[:]).Scan(&hgID)
	if err == sql.ErrNoRows {
		return pointerstore.HgId{}, false, nil
	}
	if err != nil {
		return pointerstore.HgId{}, false, err
	}
	return toHgId(hgID), true, nil
}

func (s *BonsaiHgMappingStore) Put(ctx context.Context, repoID int32, bcs pushrebase.BcsId, hgID pointerstore.HgId) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bonsai_hg_mapping(repo_id, bcs_id, hg_id) VALUES (?, ?, ?)
ON CONFLICT(repo_id, bcs_id) DO UPDATE SET hg_id = excluded.hg_id`, repoID, bcs[:], hgID[:])
	return err
}

// ManifestStore implements changeset.ManifestStore.
type ManifestStore struct{ db *sql.DB }

func (s *ManifestStore) Get(ctx context.Context, id pointerstore.HgId) (changeset.Manifest, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM manifests WHERE hg_id = ?`, id[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Kind: "manifest", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	var m changeset.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *ManifestStore) Put(ctx context.Context, m changeset.Manifest) (pointerstore.HgId, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return pointerstore.HgId{}, err
	}
	id := contentHgId("manifest", data)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO manifests(hg_id, data) VALUES (?, ?) ON CONFLICT(hg_id) DO NOTHING`, id[:], data)
	return id, err
}

// HgChangesetStore implements changeset.HgChangesetStore.
type HgChangesetStore struct{ db *sql.DB }

func (s *HgChangesetStore) Get(ctx context.Context, id pointerstore.HgId) (*changeset.HgChangeset, error) {
	var parentsJSON, extraJSON, filesJSON []byte
	var manifest []byte
	var author, message string
	var dateNS int64
	err := s.db.QueryRowContext(ctx, `
SELECT parents, manifest, author, date, extra, message, files FROM hg_changesets WHERE hg_id = ?`, id[:]).
		Scan(&parentsJSON, &manifest, &author, &dateNS, &extraJSON, &message, &filesJSON)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFound{Kind: "hg_changeset", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}

	var rawParents [][20]byte
	if err := json.Unmarshal(parentsJSON, &rawParents); err != nil {
		return nil, err
	}
	parents := make([]pointerstore.HgId, len(rawParents))
	for i, p := range rawParents {
		parents[i] = pointerstore.HgId(p)
	}
	var extra map[string]string
	if err := json.Unmarshal(extraJSON, &extra); err != nil {
		return nil, err
	}
	var files []string
	if err := json.Unmarshal(filesJSON, &files); err != nil {
		return nil, err
	}

	return &changeset.HgChangeset{
		Parents:  parents,
		Manifest: toHgId(manifest),
		Author:   author,
		Date:     unixNanoToTime(dateNS),
		Extra:    extra,
		Message:  message,
		Files:    files,
	}, nil
}

func (s *HgChangesetStore) Put(ctx context.Context, cs *changeset.HgChangeset) (pointerstore.HgId, error) {
	rawParents := make([][20]byte, len(cs.Parents))
	for i, p := range cs.Parents {
		rawParents[i] = [20]byte(p)
	}
	parentsJSON, err := json.Marshal(rawParents)
	if err != nil {
		return pointerstore.HgId{}, err
	}
	extraJSON, err := json.Marshal(cs.Extra)
	if err != nil {
		return pointerstore.HgId{}, err
	}
	filesJSON, err := json.Marshal(cs.Files)
	if err != nil {
		return pointerstore.HgId{}, err
	}

	id := contentHgId("changeset", parentsJSON, cs.Manifest[:], []byte(cs.Author), []byte(cs.Date.Format(time.RFC3339Nano)), extraJSON, []byte(cs.Message), filesJSON)

	_, err = s.db.ExecContext(ctx, `
INSERT INTO hg_changesets(hg_id, parents, manifest, author, date, extra, message, files)
VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(hg_id) DO NOTHING`,
		id[:], parentsJSON, cs.Manifest[:], cs.Author, cs.Date.UnixNano(), extraJSON, cs.Message, filesJSON)
	return id, err
}

// FileNodeStore implements changeset.FileNodeStore.
type FileNodeStore struct{ db *sql.DB }

func (s *FileNodeStore) NewFileNode(path string, contentID string, parents hg.FileNodeParents) (pointerstore.HgId, error) {
	var p1, p2 []byte
	if parents.P1 != nil {
		p1 = parents.P1[:]
	}
	if parents.P2 != nil {
		p2 = parents.P2[:]
	}
	id := contentHgId("filenode", []byte(path), []byte(contentID), p1, p2)

	_, err := s.db.ExecContext(context.Background(), `
INSERT INTO file_nodes(path, hg_id, content_id, p1, p2) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(path, hg_id) DO NOTHING`, path, id[:], contentID, p1, p2)
	return id, err
}

func (s *FileNodeStore) ContentIDOf(id pointerstore.HgId) (string, error) {
	var contentID string
	err := s.db.QueryRowContext(context.Background(), `SELECT content_id FROM file_nodes WHERE hg_id = ? LIMIT 1`, id[:]).Scan(&contentID)
	if err == sql.ErrNoRows {
		return "", &errs.NotFound{Kind: "file_node", ID: id.String()}
	}
	return contentID, err
}

func (s *FileNodeStore) IsAncestor(path string, a, b pointerstore.HgId) (bool, error) {
	visited := map[pointerstore.HgId]bool{b: true}
	queue := []pointerstore.HgId{b}
	ctx := context.Background()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == a {
			return true, nil
		}
		var p1, p2 []byte
		err := s.db.QueryRowContext(ctx, `SELECT p1, p2 FROM file_nodes WHERE path = ? AND hg_id = ?`, path, cur[:]).Scan(&p1, &p2)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return false, err
		}
		for _, p := range [][]byte{p1, p2} {
			if len(p) == 0 {
				continue
			}
			id := toHgId(p)
			if !visited[id] {
				visited[id] = true
				queue = append(queue, id)
			}
		}
	}
	return false, nil
}

func toHgId(b []byte) pointerstore.HgId {
	var id pointerstore.HgId
	copy(id[:], b)
	return id
}
