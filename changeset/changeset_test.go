package changeset_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scmforge/scmcore/changeset"
	"github.com/scmforge/scmcore/internal/metrics"
	"github.com/scmforge/scmcore/pushrebase"
	"github.com/scmforge/scmcore/store"

	"github.com/prometheus/client_golang/prometheus"
)

func idOf(b byte) pushrebase.BcsId {
	var id pushrebase.BcsId
	id[0] = b
	return id
}

func newTestDeps(t *testing.T) (*changeset.Deps, *store.ChangesetStore) {
	t.Helper()
	dir := t.TempDir()

	bonsai, err := store.OpenChangesetStore(filepath.Join(dir, "changesets.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { bonsai.Close() })

	hgStore, err := store.OpenHgStore(filepath.Join(dir, "hg.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { hgStore.Close() })

	meters := metrics.New(prometheus.NewRegistry())

	deps := &changeset.Deps{
		RepoID:            1,
		Bonsai:            bonsai,
		Mapping:           hgStore.Mapping(),
		Manifests:         hgStore.Manifests(),
		FileNodes:         hgStore.FileNodes(),
		Changesets:        hgStore.Changesets(),
		Leases:            changeset.NewLeaseManager(meters),
		CheckCaseConflict: true,
	}
	return deps, bonsai
}

func putBonsai(t *testing.T, s *store.ChangesetStore, id pushrebase.BcsId, parents []pushrebase.BcsId, files map[string]*pushrebase.FileChange) {
	t.Helper()
	cs := &pushrebase.Changeset{
		ID:          id,
		Parents:     parents,
		Author:      "alice",
		AuthorDate:  time.Unix(1000, 0).UTC(),
		Message:     "msg",
		Extra:       map[string]string{},
		FileChanges: files,
	}
	require.NoError(t, s.Put(context.Background(), cs))
}

func TestEnsureHgID_LinearHistory(t *testing.T) {
	deps, bonsai := newTestDeps(t)
	ctx := context.Background()

	root := idOf(1)
	putBonsai(t, bonsai, root, nil, map[string]*pushrebase.FileChange{
		"a.txt": {Path: "a.txt", ContentID: "c1"},
	})
	child := idOf(2)
	putBonsai(t, bonsai, child, []pushrebase.BcsId{root}, map[string]*pushrebase.FileChange{
		"b.txt": {Path: "b.txt", ContentID: "c2"},
	})

	hgID, err := deps.EnsureHgID(ctx, child)
	require.NoError(t, err)
	require.NotZero(t, hgID)

	// Deriving again must hit the bonsai<->hg mapping and return the same id.
	hgID2, err := deps.EnsureHgID(ctx, child)
	require.NoError(t, err)
	require.Equal(t, hgID, hgID2)

	hgCS, err := deps.Changesets.Get(ctx, hgID)
	require.NoError(t, err)
	require.Equal(t, []string{"b.txt"}, hgCS.Files)
	require.Len(t, hgCS.Parents, 1)

	manifest, err := deps.Manifests.Get(ctx, hgCS.Manifest)
	require.NoError(t, err)
	require.Contains(t, manifest, "a.txt")
	require.Contains(t, manifest, "b.txt")
}

func TestEnsureHgID_ReusesFileNodeAcrossUnchangedContent(t *testing.T) {
	deps, bonsai := newTestDeps(t)
	ctx := context.Background()

	root := idOf(1)
	putBonsai(t, bonsai, root, nil, map[string]*pushrebase.FileChange{
		"a.txt": {Path: "a.txt", ContentID: "same-content"},
	})
	rootHg, err := deps.EnsureHgID(ctx, root)
	require.NoError(t, err)
	rootCS, err := deps.Changesets.Get(ctx, rootHg)
	require.NoError(t, err)
	rootManifest, err := deps.Manifests.Get(ctx, rootCS.Manifest)
	require.NoError(t, err)
	rootFileNode := rootManifest["a.txt"].FileNode

	// Child re-records a.txt with the same content id (as a no-op edit
	// would) alongside a genuinely new file; the unchanged file-node must
	// be reused rather than re-uploaded.
	child := idOf(2)
	putBonsai(t, bonsai, child, []pushrebase.BcsId{root}, map[string]*pushrebase.FileChange{
		"a.txt": {Path: "a.txt", ContentID: "same-content"},
		"b.txt": {Path: "b.txt", ContentID: "c2"},
	})
	childHg, err := deps.EnsureHgID(ctx, child)
	require.NoError(t, err)
	childCS, err := deps.Changesets.Get(ctx, childHg)
	require.NoError(t, err)
	childManifest, err := deps.Manifests.Get(ctx, childCS.Manifest)
	require.NoError(t, err)

	require.Equal(t, rootFileNode, childManifest["a.txt"].FileNode)
}

func TestEnsureHgID_CaseConflictRejected(t *testing.T) {
	deps, bonsai := newTestDeps(t)
	ctx := context.Background()

	root := idOf(1)
	putBonsai(t, bonsai, root, nil, map[string]*pushrebase.FileChange{
		"README.md": {Path: "README.md", ContentID: "c1"},
	})
	_, err := deps.EnsureHgID(ctx, root)
	require.NoError(t, err)

	conflicting := idOf(2)
	putBonsai(t, bonsai, conflicting, []pushrebase.BcsId{root}, map[string]*pushrebase.FileChange{
		"readme.md": {Path: "readme.md", ContentID: "c2"},
	})
	_, err = deps.EnsureHgID(ctx, conflicting)
	require.Error(t, err)
}
