package blobstore

import (
	"os"
	"path/filepath"
	"time"
)

// Purge implements `hgcache-purge.<key>` (§6, §9): a sweep of a cache
// directory that should run at most once per (key, date) pair, but must be
// re-entrant if a prior run was interrupted partway through — per the
// design note, the "run-once" marker is written last, after the sweep
// completes, and a missing marker always triggers a fresh (safe, idempotent)
// sweep rather than being treated as "never purged".
type Purge struct {
	Root string
	Key  string
	// MaxAge bounds how old a file may be before Purge deletes it.
	MaxAge time.Duration
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (p *Purge) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Purge) markerPath(date string) string {
	return filepath.Join(p.Root, ".purge-"+p.Key+"-"+date)
}

// Run performs the sweep if it has not already completed for today's date,
// and is safe to call again after a crash mid-sweep (it will simply finish
// deleting whatever is still old enough, then write the marker).
func (p *Purge) Run() error {
	date := p.now().Format("2006-01-02")
	marker := p.markerPath(date)
	if _, err := os.Stat(marker); err == nil {
		return nil // already completed for (key, date)
	}

	cutoff := p.now().Add(-p.MaxAge)
	err := filepath.WalkDir(p.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(path) // best-effort; a failed delete is swept next run
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Write the marker last: a crash before this point means the next Run
	// sees no marker and redoes the (idempotent) sweep.
	return os.WriteFile(marker, []byte(p.now().Format(time.RFC3339)), 0o644)
}
