package pointerstore

import (
	"bytes"
	"io"
	"os"

	"github.com/sasha-s/go-deadlock"

	"github.com/scmforge/scmcore/content"
)

// Store is the append-only indexed pointer log (C2): writes are idempotent
// over equal entries, reads return the latest entry by either key.
type Store struct {
	mu       deadlock.RWMutex
	path     string
	f        *os.File
	byHgID   map[HgId]Pointer
	bySha256 map[content.Hash][]HgId // a blob may be referenced by many hgids
}

// recordSeparator delimits pointer-text records in the log file. 0x00 can
// never appear inside a pointer text record (it's all printable ASCII), so
// it is a safe, simple framing byte.
const recordSeparator = 0x00

// Open opens (creating if necessary) the pointer log and replays it.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:     path,
		f:        f,
		byHgID:   make(map[HgId]Pointer),
		bySha256: make(map[content.Hash][]HgId),
	}
	if err := s.Repair(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Put appends a pointer for hgID. Idempotent over equal entries: if the
// current entry for hgID already equals p, this is a no-op.
func (s *Store) Put(hgID HgId, p Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byHgID[hgID]; ok && pointersEqual(existing, p) {
		return nil
	}
	rec := Encode(p)
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	buf := make([]byte, 0, len(hgID)+1+len(rec)+1)
	buf = append(buf, hgID[:]...)
	buf = append(buf, recordSeparator)
	buf = append(buf, rec...)
	buf = append(buf, recordSeparator)
	if _, err := s.f.Write(buf); err != nil {
		return err
	}
	if err := s.f.Sync(); err != nil {
		return err
	}
	s.index(hgID, p)
	return nil
}

func (s *Store) index(hgID HgId, p Pointer) {
	s.byHgID[hgID] = p
	s.bySha256[p.Sha256] = appendUnique(s.bySha256[p.Sha256], hgID)
}

func appendUnique(ids []HgId, id HgId) []HgId {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

func pointersEqual(a, b Pointer) bool {
	return bytes.Equal(Encode(a), Encode(b)) && a.HgID == b.HgID
}

// GetByHgID returns the latest pointer for hgID.
func (s *Store) GetByHgID(hgID HgId) (Pointer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byHgID[hgID]
	return p, ok
}

// GetBySha256 returns every hgid currently pointing at sha256.
func (s *Store) GetBySha256(h content.Hash) []HgId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HgId, len(s.bySha256[h]))
	copy(out, s.bySha256[h])
	return out
}

// Repair reconstructs both secondary indexes from the append-only log,
// discarding a torn trailing record (one missing its closing separator).
func (s *Store) Repair() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHgID = make(map[HgId]Pointer)
	s.bySha256 = make(map[content.Hash][]HgId)

	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(s.f)
	if err != nil {
		return err
	}

	var validEnd int
	off := 0
	for off < len(data) {
		if off+20 > len(data) {
			break
		}
		var hgID HgId
		copy(hgID[:], data[off:off+20])
		off += 20
		if off >= len(data) || data[off] != recordSeparator {
			break
		}
		off++
		end := bytes.IndexByte(data[off:], recordSeparator)
		if end < 0 {
			break // torn: no closing separator for the pointer text
		}
		rec := data[off : off+end]
		p, perr := Decode(rec)
		if perr != nil {
			break // torn/corrupt record
		}
		off += end + 1
		s.index(hgID, p)
		validEnd = off
	}

	if validEnd < len(data) {
		if err := s.f.Truncate(int64(validEnd)); err != nil {
			return err
		}
		if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
