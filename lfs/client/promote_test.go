package client_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scmforge/scmcore/content"
	"github.com/scmforge/scmcore/lfs/blobstore"
	"github.com/scmforge/scmcore/lfs/client"
	"github.com/scmforge/scmcore/lfs/pointerstore"
)

func openTestPointerStore(t *testing.T, name string) *pointerstore.Store {
	t.Helper()
	s, err := pointerstore.Open(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openTestBlobstore(t *testing.T, name string) *blobstore.Loose {
	t.Helper()
	l, err := blobstore.NewLoose(filepath.Join(t.TempDir(), name), true)
	require.NoError(t, err)
	return l
}

// TestPromoter_Promote_MovesBlobOnly grounds the pre-existing contract for
// a Promoter with no pointer stores configured: only the blob moves.
func TestPromoter_Promote_MovesBlobOnly(t *testing.T) {
	local := openTestBlobstore(t, "local")
	shared := openTestBlobstore(t, "shared")

	data := []byte("promote me")
	h := content.SumSha256(data)
	require.NoError(t, local.Add(h, data))

	p := &client.Promoter{Local: local, Shared: shared}
	require.NoError(t, p.Promote(h, uint64(len(data))))

	got, ok, err := shared.Get(h, uint64(len(data)))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, data, got)
}

// TestPromoter_Promote_MovesPointerOnlyAfterBlob grounds §E11: promotion
// copies every local pointer referencing the blob into the shared pointer
// store, and only after the blob itself lands in Shared.
func TestPromoter_Promote_MovesPointerOnlyAfterBlob(t *testing.T) {
	local := openTestBlobstore(t, "local")
	shared := openTestBlobstore(t, "shared")
	localPointers := openTestPointerStore(t, "local.ptr")
	sharedPointers := openTestPointerStore(t, "shared.ptr")

	data := []byte("promote me with a pointer")
	h := content.SumSha256(data)
	require.NoError(t, local.Add(h, data))

	hgID := pointerstore.HgId{1, 2, 3}
	ptr := pointerstore.Pointer{HgID: hgID, Size: uint64(len(data)), Sha256: h}
	require.NoError(t, localPointers.Put(hgID, ptr))

	p := &client.Promoter{
		Local:          local,
		Shared:         shared,
		LocalPointers:  localPointers,
		SharedPointers: sharedPointers,
	}
	require.NoError(t, p.Promote(h, uint64(len(data))))

	_, ok, err := shared.Get(h, uint64(len(data)))
	require.NoError(t, err)
	require.True(t, ok, "blob must have been promoted")

	got, ok := sharedPointers.GetByHgID(hgID)
	require.True(t, ok, "pointer must have been promoted alongside the blob")
	require.Equal(t, ptr, got)
}

// TestPromoter_Promote_RemovesLocalBlobWhenConfigured grounds the
// lfs.moveafterupload tunable: the local blob is freed once promoted, but
// an unconfigured pointer store pair is left untouched rather than erroring.
func TestPromoter_Promote_RemovesLocalBlobWhenConfigured(t *testing.T) {
	local := openTestBlobstore(t, "local")
	shared := openTestBlobstore(t, "shared")

	data := []byte("move me")
	h := content.SumSha256(data)
	require.NoError(t, local.Add(h, data))

	p := &client.Promoter{Local: local, Shared: shared, MoveAfterUpload: true}
	require.NoError(t, p.Promote(h, uint64(len(data))))

	_, ok, err := local.Get(h, uint64(len(data)))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPromoter_Promote_NoOpWhenNotStagedLocally(t *testing.T) {
	local := openTestBlobstore(t, "local")
	shared := openTestBlobstore(t, "shared")

	h := content.SumSha256([]byte("never staged"))
	p := &client.Promoter{Local: local, Shared: shared}
	require.NoError(t, p.Promote(h, 11))

	_, ok, err := shared.Get(h, 11)
	require.NoError(t, err)
	require.False(t, ok)
}
