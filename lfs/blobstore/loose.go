package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/sasha-s/go-deadlock"

	"github.com/scmforge/scmcore/content"
)

// Loose is the per-blob loose-file backend (§4.1): one file per blob under
// <root>/<hh>/<remaining-62-hex>. Reads are memory-mapped; writes fsync
// when Permanent is set ("fsyncs when the store is marked permanent/local").
type Loose struct {
	mu        deadlock.RWMutex
	root      string
	Permanent bool
}

// NewLoose opens (creating if necessary) a loose store rooted at root.
func NewLoose(root string, permanent bool) (*Loose, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Loose{root: root, Permanent: permanent}, nil
}

func (l *Loose) pathFor(h content.Hash) string {
	return filepath.Join(l.root, h.ShardDir(), h.ShardRest())
}

// Get reads the whole file and verifies it against expectedSize and the
// hash, per §4.1's `get`. A redacted blob (the marker bytes) is returned
// as-is without a hash check.
func (l *Loose) Get(h content.Hash, expectedSize uint64) ([]byte, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p := l.pathFor(h)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	if info.Size() == 0 {
		return []byte{}, expectedSize == 0, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, false, err
	}
	defer m.Unmap()

	data := make([]byte, len(m))
	copy(data, m)

	if IsRedactionMarker(data) {
		return data, true, nil
	}
	if uint64(len(data)) != expectedSize {
		return nil, false, nil
	}
	if got := content.SumSha256(data); !got.Equal(h) {
		return nil, false, nil
	}
	return data, true, nil
}

// Contains implements Store.
func (l *Loose) Contains(h content.Hash) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, err := os.Stat(l.pathFor(h))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Add verifies sha256(data)==h then writes the file, fsyncing when Permanent.
func (l *Loose) Add(h content.Hash, data []byte) error {
	if got := content.SumSha256(data); !got.Equal(h) {
		return fmt.Errorf("blobstore: hash mismatch on add: want %s, got %s", h, got)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.pathFor(h)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if l.Permanent {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

// AddRedaction writes the redaction marker in place of h's content.
func (l *Loose) AddRedaction(h content.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.pathFor(h)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, RedactionMarker, 0o644)
}

// Remove deletes the loose file. Idempotent: a missing file is not an error.
func (l *Loose) Remove(h content.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := os.Remove(l.pathFor(h))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var _ Store = (*Loose)(nil)
