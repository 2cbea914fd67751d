package blobstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/sasha-s/go-deadlock"

	"github.com/scmforge/scmcore/content"
)

// ChunkLog is the append-only chunked log backend (§4.1 "Chunked log").
// Each record is a length-prefixed, self-describing, xxhash-checked entry:
//
//	magic(4) | recLen(4) | sha256(32) | rangeStart(8) | rangeEnd(8) | seq(8) | data(recLen-56) | xxhash(8)
//
// recLen covers sha256+rangeStart+rangeEnd+seq+data. A torn write leaves a
// record whose declared recLen runs past EOF, or whose xxhash fails to
// verify; Repair discards everything from that point on, per §6's "Blob
// chunk log entry" note ("records past a torn length are discarded").
type ChunkLog struct {
	mu      deadlock.Mutex
	path    string
	f       *os.File
	index   map[content.Hash][]Chunk
	nextSeq uint64
	// TargetChunkSize is the configured chunk size new writes are split
	// into (default ~20 MiB per §4.1).
	TargetChunkSize uint64
}

const chunkLogMagic uint32 = 0x53434C31 // "SCL1"
const chunkRecordHeaderLen = 4 + 4 + 32 + 8 + 8 + 8
const chunkRecordTrailerLen = 8

// OpenChunkLog opens (creating if necessary) the chunk log at path and
// replays it into an in-memory index, discarding any torn trailing record.
func OpenChunkLog(path string, targetChunkSize uint64) (*ChunkLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	cl := &ChunkLog{
		path:            path,
		f:               f,
		index:           make(map[content.Hash][]Chunk),
		TargetChunkSize: targetChunkSize,
	}
	if err := cl.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return cl, nil
}

// replay reads every record from the start, stopping (and truncating) at
// the first torn or corrupt one.
func (cl *ChunkLog) replay() error {
	if _, err := cl.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := &countingReader{r: cl.f}
	var lastGood int64
	for {
		start := r.n
		hdr := make([]byte, 4)
		if _, err := io.ReadFull(r, hdr); err != nil {
			break
		}
		magic := binary.BigEndian.Uint32(hdr)
		if magic != chunkLogMagic {
			break
		}
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			break
		}
		recLen := binary.BigEndian.Uint32(lenBuf)
		body := make([]byte, recLen)
		if _, err := io.ReadFull(r, body); err != nil {
			break
		}
		trailer := make([]byte, chunkRecordTrailerLen)
		if _, err := io.ReadFull(r, trailer); err != nil {
			break
		}
		want := binary.BigEndian.Uint64(trailer)
		if xxhash.Sum64(body) != want {
			break
		}
		chunk, err := decodeChunkBody(body)
		if err != nil {
			break
		}
		chunk.seq = cl.nextSeq
		cl.nextSeq++
		cl.index[chunk.Sha256] = append(cl.index[chunk.Sha256], chunk)
		lastGood = r.n
		_ = start
	}
	// Discard anything past the last good record (a torn write).
	if err := cl.f.Truncate(lastGood); err != nil {
		return err
	}
	if _, err := cl.f.Seek(lastGood, io.SeekStart); err != nil {
		return err
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func decodeChunkBody(body []byte) (Chunk, error) {
	if len(body) < 32+8+8+8 {
		return Chunk{}, errors.New("blobstore: short chunk record body")
	}
	var h [32]byte
	copy(h[:], body[:32])
	start := binary.BigEndian.Uint64(body[32:40])
	end := binary.BigEndian.Uint64(body[40:48])
	seq := binary.BigEndian.Uint64(body[48:56])
	data := body[56:]
	return Chunk{
		Sha256: content.FromSha256Bytes(h),
		Range:  Range{Start: start, End: end},
		Data:   data,
		seq:    seq,
	}, nil
}

func encodeChunkBody(c Chunk) []byte {
	body := make([]byte, 56+len(c.Data))
	copy(body[:32], c.Sha256.Bytes())
	binary.BigEndian.PutUint64(body[32:40], c.Range.Start)
	binary.BigEndian.PutUint64(body[40:48], c.Range.End)
	binary.BigEndian.PutUint64(body[48:56], c.seq)
	copy(body[56:], c.Data)
	return body
}

// appendRecord writes one self-describing record and fsyncs.
func (cl *ChunkLog) appendRecord(c Chunk) error {
	body := encodeChunkBody(c)
	rec := make([]byte, 0, 8+len(body)+8)
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], chunkLogMagic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(body)))
	rec = append(rec, hdr...)
	rec = append(rec, body...)
	trailer := make([]byte, 8)
	binary.BigEndian.PutUint64(trailer, xxhash.Sum64(body))
	rec = append(rec, trailer...)

	if _, err := cl.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := cl.f.Write(rec); err != nil {
		return err
	}
	return cl.f.Sync()
}

// Get implements Store.
func (cl *ChunkLog) Get(sha256 content.Hash, expectedSize uint64) ([]byte, bool, error) {
	cl.mu.Lock()
	chunks := append([]Chunk(nil), cl.index[sha256]...)
	cl.mu.Unlock()
	b, ok := assembleChunks(chunks, expectedSize)
	return b, ok, nil
}

// Contains implements Store.
func (cl *ChunkLog) Contains(sha256 content.Hash) (bool, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.index[sha256]) > 0, nil
}

// Add implements Store: verifies the hash then splits into
// TargetChunkSize-sized pieces and appends each as its own record.
func (cl *ChunkLog) Add(sha256 content.Hash, data []byte) error {
	if got := content.SumSha256(data); !got.Equal(sha256) {
		return fmt.Errorf("blobstore: hash mismatch on add: want %s, got %s", sha256, got)
	}
	size := cl.TargetChunkSize
	if size == 0 {
		size = 20 << 20
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for off := uint64(0); off < uint64(len(data)) || (len(data) == 0 && off == 0); off += size {
		end := off + size
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		c := Chunk{Sha256: sha256, Range: Range{Start: off, End: end}, Data: data[off:end], seq: cl.nextSeq}
		if err := cl.appendRecord(c); err != nil {
			return err
		}
		cl.nextSeq++
		cl.index[sha256] = append(cl.index[sha256], c)
		if len(data) == 0 {
			break
		}
	}
	return nil
}

// AppendRaw appends a single already-sized chunk at a known range without
// verifying it against any whole-blob hash. This is the primitive the
// streaming inserter (C3) uses: the inserter itself maintains the rolling
// hash and verifies it at finalize, so the chunk log must not re-hash a
// partial fragment against the full-blob sha256.
func (cl *ChunkLog) AppendRaw(sha256 content.Hash, rangeStart uint64, data []byte) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	c := Chunk{Sha256: sha256, Range: Range{Start: rangeStart, End: rangeStart + uint64(len(data))}, Data: data, seq: cl.nextSeq}
	if err := cl.appendRecord(c); err != nil {
		return err
	}
	cl.nextSeq++
	cl.index[sha256] = append(cl.index[sha256], c)
	return nil
}

// AddRedaction writes the redaction marker as the single chunk for sha256.
func (cl *ChunkLog) AddRedaction(sha256 content.Hash) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	c := Chunk{Sha256: sha256, Range: Range{Start: 0, End: uint64(len(RedactionMarker))}, Data: RedactionMarker, seq: cl.nextSeq}
	if err := cl.appendRecord(c); err != nil {
		return err
	}
	cl.nextSeq++
	cl.index[sha256] = append(cl.index[sha256], c)
	return nil
}

// Remove writes nothing to the append-only chunk log: entries for sha256
// stay on disk (content-addressed, harmless) and only the in-memory index
// entry is cleared, so subsequent Get/Contains behave as if removed until
// the log is replayed again by Repair or a reopen.
func (cl *ChunkLog) Remove(sha256 content.Hash) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.index, sha256)
	return nil
}

// Repair re-replays the log from scratch, rebuilding the index and
// truncating at the first torn/corrupt record.
func (cl *ChunkLog) Repair() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.index = make(map[content.Hash][]Chunk)
	cl.nextSeq = 0
	return cl.replay()
}

// Close closes the underlying file.
func (cl *ChunkLog) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.f.Close()
}

var _ Store = (*ChunkLog)(nil)
