// Package blobstore implements the content-addressed large-file store (C1):
// a union of a permanent loose-file backend and a rotated/caching chunked
// log backend, with chunk coalescing and integrity-checked reads.
package blobstore

import (
	"bytes"

	"github.com/scmforge/scmcore/content"
)

// RedactionMarker is the well-known byte sequence that replaces content
// whose delivery the server refused (§E2, §E4 glossary: "Redaction marker").
var RedactionMarker = []byte("PLACEHOLDER-REDACTED-CONTENT-SEE-MONOCORE-REDACTION-POLICY\n")

// IsRedactionMarker reports whether b is exactly the redaction sentinel.
func IsRedactionMarker(b []byte) bool { return bytes.Equal(b, RedactionMarker) }

// Range is a half-open byte range [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Len returns End-Start.
func (r Range) Len() uint64 { return r.End - r.Start }

// Chunk is a stored fragment of a blob (E2 BlobChunk).
type Chunk struct {
	Sha256 content.Hash
	Range  Range
	Data   []byte
	// seq is the append order, used to break ties when ranges overlap:
	// "later-inserted wins where overlapping" (E2).
	seq uint64
}

// Store is the interface all backends and the union implement.
type Store interface {
	// Get gathers all chunks for sha256, sorts by (range.start, append-order),
	// and reassembles them. Returns (nil, false) on any gap or when the
	// store has nothing for sha256; a redacted blob is returned as the
	// redaction marker bytes with true.
	Get(sha256 content.Hash, expectedSize uint64) ([]byte, bool, error)
	// Contains reports whether at least one chunk exists for sha256.
	Contains(sha256 content.Hash) (bool, error)
	// Add verifies sha256(data)==sha256 then splits into chunks and appends.
	Add(sha256 content.Hash, data []byte) error
	// Remove deletes all chunks for sha256. Idempotent. Backends that are
	// append-only (the chunk log) may implement this as a tombstone or
	// a no-op returning nil; the loose backend deletes the file.
	Remove(sha256 content.Hash) error
}

// assembleChunks implements the §4.1 `get` algorithm shared by all backends:
// sort by (start, append-order), walk filling a buffer, fail on any gap.
func assembleChunks(chunks []Chunk, expectedSize uint64) ([]byte, bool) {
	if len(chunks) == 0 {
		return nil, false
	}
	sortChunksForRead(chunks)

	// A redacted blob is a single chunk at offset 0 encoding the marker.
	if len(chunks) == 1 && chunks[0].Range.Start == 0 && IsRedactionMarker(chunks[0].Data) {
		return chunks[0].Data, true
	}

	buf := make([]byte, 0, expectedSize)
	var next uint64
	for _, c := range chunks {
		if c.Range.Start > next {
			return nil, false // gap
		}
		// The chunk applied later overwrites the bytes it overlaps.
		copy(buf[c.Range.Start:], c.Data)
		if c.Range.End > next {
			buf = append(buf, c.Data[next-c.Range.Start:]...)
			next = c.Range.End
		}
	}
	if uint64(len(buf)) != expectedSize {
		return nil, false
	}
	return buf, true
}

// sortChunksForRead sorts by (range.start asc, append-order asc) so that,
// for equal starts, the later-inserted chunk is applied last and therefore
// wins per E2's overlap rule.
func sortChunksForRead(chunks []Chunk) {
	// insertion sort is fine: chunk counts per blob are small in practice
	// (a handful of append events), and this keeps the comparison explicit.
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0; j-- {
			a, b := chunks[j-1], chunks[j]
			if a.Range.Start < b.Range.Start || (a.Range.Start == b.Range.Start && a.seq <= b.seq) {
				break
			}
			chunks[j-1], chunks[j] = chunks[j], chunks[j-1]
		}
	}
}
