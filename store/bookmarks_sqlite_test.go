package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scmforge/scmcore/pushrebase"
)

func openTestBookmarkStore(t *testing.T) *BookmarkStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookmarks.sqlite")
	s, err := OpenBookmarkStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBookmarkStore_CompareAndSetCreateAndMove(t *testing.T) {
	s := openTestBookmarkStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "main")
	require.NoError(t, err)
	require.False(t, ok)

	a := idOf(1)
	ok, err = s.CompareAndSet(ctx, "main", pushrebase.BcsId{}, a, nil)
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := s.Get(ctx, "main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a, got)

	b := idOf(2)
	ok, err = s.CompareAndSet(ctx, "main", a, b, nil)
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err = s.Get(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestBookmarkStore_CompareAndSetMismatchFails(t *testing.T) {
	s := openTestBookmarkStore(t)
	ctx := context.Background()

	a := idOf(1)
	ok, err := s.CompareAndSet(ctx, "main", pushrebase.BcsId{}, a, nil)
	require.NoError(t, err)
	require.True(t, ok)

	wrongOld := idOf(9)
	c := idOf(3)
	ok, err = s.CompareAndSet(ctx, "main", wrongOld, c, nil)
	require.NoError(t, err)
	require.False(t, ok)

	got, _, err := s.Get(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, a, got, "bookmark must not move on a CAS mismatch")
}

func TestBookmarkStore_CompareAndSetRunsExtraSteps(t *testing.T) {
	s := openTestBookmarkStore(t)
	ctx := context.Background()

	ran := false
	step := func(stepCtx context.Context) error {
		tx, ok := TxFromContext(stepCtx)
		require.True(t, ok, "extra step must see the live bookmark-move transaction")
		require.NotNil(t, tx)
		ran = true
		return nil
	}

	a := idOf(1)
	ok, err := s.CompareAndSet(ctx, "main", pushrebase.BcsId{}, a, []pushrebase.TxStep{step})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ran)
}
