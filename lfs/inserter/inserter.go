// Package inserter implements the streaming blob inserter (C3): writes a
// blob of known (sha256, size) chunk-by-chunk without holding the full
// blob in memory.
package inserter

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"os"

	"github.com/scmforge/scmcore/content"
	"github.com/scmforge/scmcore/lfs/blobstore"
)

// Sink is the destination an Inserter writes into.
type Sink interface {
	// appendChunk is called once per add_chunk with the raw chunk as
	// received; LogSink buffers these into storage-sized chunks itself.
	appendChunk(off uint64, data []byte) error
	// finish is called once, after the hash has been verified (or redaction
	// applied); File sinks fsync here.
	finish() error
}

// Inserter is the per-sink state machine described in §4.3.
type Inserter struct {
	sink     Sink
	expected content.Hash
	size     uint64

	rolling      hash.Hash
	writtenSoFar uint64
	redacted     bool
	finished     bool
}

// New starts an inserter for a blob of the given expected hash and size,
// writing into sink.
func New(sink Sink, expected content.Hash, size uint64) *Inserter {
	return &Inserter{sink: sink, expected: expected, size: size, rolling: sha256.New()}
}

// AddChunk appends the next chunk of raw bytes.
func (ins *Inserter) AddChunk(chunk []byte) error {
	if ins.redacted {
		return fmt.Errorf("inserter: cannot add_chunk after redact")
	}
	if ins.finished {
		return fmt.Errorf("inserter: cannot add_chunk after finish")
	}
	if ins.writtenSoFar+uint64(len(chunk)) > ins.size {
		return fmt.Errorf("inserter: chunk overruns declared size %d", ins.size)
	}
	ins.rolling.Write(chunk)
	off := ins.writtenSoFar
	ins.writtenSoFar += uint64(len(chunk))

	if ins.writtenSoFar == ins.size {
		var sum [32]byte
		copy(sum[:], ins.rolling.Sum(nil))
		got := content.FromSha256Bytes(sum)
		if !got.Equal(ins.expected) {
			return fmt.Errorf("inserter: hash mismatch on finalize: want %s, got %s", ins.expected, got)
		}
	}

	return ins.sink.appendChunk(off, chunk)
}

// Redact is only valid at offset 0: it writes the redaction sentinel as the
// single chunk and marks the inserter redacted (no further AddChunk allowed).
func (ins *Inserter) Redact() error {
	if ins.writtenSoFar != 0 {
		return fmt.Errorf("inserter: redact only valid at offset 0")
	}
	if ins.finished {
		return fmt.Errorf("inserter: cannot redact after finish")
	}
	if err := ins.sink.appendChunk(0, blobstore.RedactionMarker); err != nil {
		return err
	}
	ins.redacted = true
	return nil
}

// Finish requires writtenSoFar == size unless redacted.
func (ins *Inserter) Finish() error {
	if ins.finished {
		return fmt.Errorf("inserter: already finished")
	}
	if !ins.redacted && ins.writtenSoFar != ins.size {
		return fmt.Errorf("inserter: finish before size reached: %d/%d", ins.writtenSoFar, ins.size)
	}
	ins.finished = true
	return ins.sink.finish()
}

// --- sinks ---

// RawAppender is the subset of *blobstore.ChunkLog the streaming inserter
// needs: append an already-sized fragment without re-verifying it against
// a whole-blob hash (the inserter owns that verification itself).
type RawAppender interface {
	AppendRaw(sha256 content.Hash, rangeStart uint64, data []byte) error
}

// LogSink accumulates whole storage-sized chunks and appends each as a
// BlobChunk entry to a ChunkLog-shaped store.
type LogSink struct {
	Store    RawAppender
	Sha256   content.Hash
	buf      []byte
	bufStart uint64
	target   uint64
}

// NewLogSink buffers up to targetChunkSize bytes before flushing a chunk to
// store, matching the chunk log's "storage-sized chunks" requirement.
func NewLogSink(store RawAppender, sha256 content.Hash, targetChunkSize uint64) *LogSink {
	if targetChunkSize == 0 {
		targetChunkSize = 20 << 20
	}
	return &LogSink{Store: store, Sha256: sha256, target: targetChunkSize}
}

func (s *LogSink) appendChunk(off uint64, data []byte) error {
	if len(s.buf) == 0 {
		s.bufStart = off
	}
	s.buf = append(s.buf, data...)
	for uint64(len(s.buf)) >= s.target {
		if err := s.flush(s.target); err != nil {
			return err
		}
	}
	return nil
}

func (s *LogSink) flush(n uint64) error {
	if n > uint64(len(s.buf)) {
		n = uint64(len(s.buf))
	}
	if n == 0 {
		return nil
	}
	chunk := s.buf[:n]
	if err := s.Store.AppendRaw(s.Sha256, s.bufStart, chunk); err != nil {
		return err
	}
	s.buf = s.buf[n:]
	s.bufStart += n
	return nil
}

func (s *LogSink) finish() error {
	return s.flush(uint64(len(s.buf)))
}

// FileSink writes through to an *os.File and fsyncs on finish.
type FileSink struct {
	File *os.File
}

func (s *FileSink) appendChunk(off uint64, data []byte) error {
	_, err := s.File.WriteAt(data, int64(off))
	return err
}

func (s *FileSink) finish() error {
	return s.File.Sync()
}

// MemorySink concatenates chunks into an in-memory buffer.
type MemorySink struct {
	Buf []byte
}

func (s *MemorySink) appendChunk(off uint64, data []byte) error {
	if uint64(len(s.Buf)) < off {
		return fmt.Errorf("inserter: memory sink gap at offset %d", off)
	}
	if uint64(len(s.Buf)) == off {
		s.Buf = append(s.Buf, data...)
		return nil
	}
	// overlap: later-inserted wins, per E2.
	end := off + uint64(len(data))
	if end > uint64(len(s.Buf)) {
		s.Buf = append(s.Buf, make([]byte, end-uint64(len(s.Buf)))...)
	}
	copy(s.Buf[off:end], data)
	return nil
}

func (s *MemorySink) finish() error {
	if s.Buf == nil {
		s.Buf = []byte{} // a zero-size blob reads back as empty, not nil
	}
	return nil
}
