package blobstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/scmforge/scmcore/content"
	"github.com/scmforge/scmcore/lfs/blobstore"
)

func openTestLoose(t *testing.T) *blobstore.Loose {
	t.Helper()
	l, err := blobstore.NewLoose(filepath.Join(t.TempDir(), "loose"), true)
	require.NoError(t, err)
	return l
}

// TestLoose_AddGetRoundTrip grounds P1 for the loose backend.
func TestLoose_AddGetRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l := openTestLoose(t)
		b := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(rt, "blob")
		h := content.SumSha256(b)

		require.NoError(rt, l.Add(h, b))
		got, ok, err := l.Get(h, uint64(len(b)))
		require.NoError(rt, err)
		require.True(rt, ok)
		require.Equal(rt, b, got)
	})
}

func TestLoose_GetMissingReturnsFalseNotError(t *testing.T) {
	l := openTestLoose(t)
	h := content.SumSha256([]byte("never added"))
	_, ok, err := l.Get(h, 11)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoose_AddRejectsHashMismatch(t *testing.T) {
	l := openTestLoose(t)
	wrong := content.SumSha256([]byte("something else"))
	require.Error(t, l.Add(wrong, []byte("actual data")))
}

func TestLoose_RemoveIsIdempotent(t *testing.T) {
	l := openTestLoose(t)
	h := content.SumSha256([]byte("x"))
	require.NoError(t, l.Add(h, []byte("x")))
	require.NoError(t, l.Remove(h))
	require.NoError(t, l.Remove(h))

	ok, err := l.Contains(h)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoose_AddRedactionThenGetReturnsMarker(t *testing.T) {
	l := openTestLoose(t)
	h := content.SumSha256([]byte("original content"))
	require.NoError(t, l.AddRedaction(h))

	got, ok, err := l.Get(h, uint64(len("original content")))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, blobstore.IsRedactionMarker(got))
}

func TestUnion_AddWritesThroughWriterOnly(t *testing.T) {
	writer := openTestLoose(t)
	reader := openTestLoose(t)
	u := &blobstore.Union{Writer: writer, Reader: reader}

	b := []byte("union data")
	h := content.SumSha256(b)
	require.NoError(t, u.Add(h, b))

	writerHas, err := writer.Contains(h)
	require.NoError(t, err)
	require.True(t, writerHas)

	readerHas, err := reader.Contains(h)
	require.NoError(t, err)
	require.False(t, readerHas)
}

func TestUnion_GetFallsBackToReader(t *testing.T) {
	writer := openTestLoose(t)
	reader := openTestLoose(t)
	u := &blobstore.Union{Writer: writer, Reader: reader}

	b := []byte("reader-only data")
	h := content.SumSha256(b)
	require.NoError(t, reader.Add(h, b))

	got, ok, err := u.Get(h, uint64(len(b)))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b, got)
}

func TestUnion_ContainsTrueIfEitherBackendHasIt(t *testing.T) {
	writer := openTestLoose(t)
	reader := openTestLoose(t)
	u := &blobstore.Union{Writer: writer, Reader: reader}

	b := []byte("only in reader")
	h := content.SumSha256(b)
	require.NoError(t, reader.Add(h, b))

	ok, err := u.Contains(h)
	require.NoError(t, err)
	require.True(t, ok)
}
