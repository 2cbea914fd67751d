package blobstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/scmforge/scmcore/content"
	"github.com/scmforge/scmcore/lfs/blobstore"
)

func openTestChunkLog(t *testing.T) *blobstore.ChunkLog {
	t.Helper()
	cl, err := blobstore.OpenChunkLog(filepath.Join(t.TempDir(), "chunklog"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })
	return cl
}

// TestChunkLog_AddGetRoundTrip grounds P1: add(sha256(b), b) followed by
// get(sha256(b), len(b)) yields b, for arbitrary blob contents.
func TestChunkLog_AddGetRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cl := openTestChunkLog(t)
		b := rapid.SliceOfN(rapid.Byte(), 0, 8192).Draw(rt, "blob")
		h := content.SumSha256(b)

		require.NoError(rt, cl.Add(h, b))
		got, ok, err := cl.Get(h, uint64(len(b)))
		require.NoError(rt, err)
		require.True(rt, ok)
		require.Equal(rt, b, got)
	})
}

// TestChunkLog_AppendRawGapFailsCoverage grounds P2: a missing middle chunk
// must not assemble, even though the first and last chunks are present.
func TestChunkLog_AppendRawGapFailsCoverage(t *testing.T) {
	cl := openTestChunkLog(t)
	full := []byte("0123456789")
	h := content.SumSha256(full)

	require.NoError(t, cl.AppendRaw(h, 0, full[0:3]))
	// Skip [3,7) entirely.
	require.NoError(t, cl.AppendRaw(h, 7, full[7:10]))

	_, ok, err := cl.Get(h, uint64(len(full)))
	require.NoError(t, err)
	require.False(t, ok, "a gap in chunk coverage must not assemble")
}

// TestChunkLog_AppendRawContiguousChunksAssemble grounds P2's positive case:
// ranged chunks that exactly tile [0,size) reassemble in order.
func TestChunkLog_AppendRawContiguousChunksAssemble(t *testing.T) {
	cl := openTestChunkLog(t)
	full := []byte("abcdefg")
	h := content.SumSha256(full)

	require.NoError(t, cl.AppendRaw(h, 0, full[0:3]))
	require.NoError(t, cl.AppendRaw(h, 3, full[3:6]))
	require.NoError(t, cl.AppendRaw(h, 6, full[6:7]))

	got, ok, err := cl.Get(h, uint64(len(full)))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, full, got)
}

// TestChunkLog_LaterInsertedWinsOnOverlap grounds E2's overlap tie-break.
func TestChunkLog_LaterInsertedWinsOnOverlap(t *testing.T) {
	cl := openTestChunkLog(t)
	h := content.SumSha256([]byte("placeholder"))

	require.NoError(t, cl.AppendRaw(h, 0, []byte("aaaa")))
	require.NoError(t, cl.AppendRaw(h, 0, []byte("bbbb")))

	got, ok, err := cl.Get(h, 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("bbbb"), got)
}

func TestChunkLog_AddRejectsHashMismatch(t *testing.T) {
	cl := openTestChunkLog(t)
	wrong := content.SumSha256([]byte("not-this"))
	err := cl.Add(wrong, []byte("actual data"))
	require.Error(t, err)
}

func TestChunkLog_RedactionMarkerRoundTrips(t *testing.T) {
	cl := openTestChunkLog(t)
	h := content.SumSha256([]byte("original"))

	require.NoError(t, cl.AddRedaction(h))
	got, ok, err := cl.Get(h, uint64(len("original")))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, blobstore.IsRedactionMarker(got))
}
