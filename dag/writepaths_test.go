package dag_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scmforge/scmcore/dag"
)

func openTestWriteStore(t *testing.T) *dag.WriteStore {
	t.Helper()
	ws, err := dag.OpenWriteStore(t.TempDir(), 64, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// TestWriteStore_FlushAssignsMasterHeads grounds the basic C7 write path:
// Flush with no prior NON_MASTER heads assigns the given pending list
// straight into MASTER and persists it.
func TestWriteStore_FlushAssignsMasterHeads(t *testing.T) {
	ws := openTestWriteStore(t)

	a, b := vtx(1), vtx(2)
	err := ws.Flush([]dag.PendingVertex{
		{Vertex: a},
		{Vertex: b, Parents: []dag.Vertex{a}},
	})
	require.NoError(t, err)

	idA, ok := ws.Graph.IdOf(a)
	require.True(t, ok)
	require.Equal(t, dag.Master, idA.Group())
	idB, ok := ws.Graph.IdOf(b)
	require.True(t, ok)
	require.Equal(t, idA.Next(), idB)
}

// TestWriteStore_AddHeadsThenFlushReassignsToMaster grounds P7: a vertex
// assigned in-memory to NON_MASTER via AddHeads is stripped and reinserted
// into MASTER once a later Flush names it (or its NON_MASTER descendant) in
// masterHeads.
func TestWriteStore_AddHeadsThenFlushReassignsToMaster(t *testing.T) {
	ws := openTestWriteStore(t)

	a := vtx(1)
	created, err := ws.AddHeads([]dag.PendingVertex{{Vertex: a}}, dag.NonMaster, nil)
	require.NoError(t, err)
	require.True(t, created)

	idBefore, ok := ws.Graph.IdOf(a)
	require.True(t, ok)
	require.Equal(t, dag.NonMaster, idBefore.Group())

	err = ws.Flush([]dag.PendingVertex{{Vertex: a}})
	require.NoError(t, err)

	idAfter, ok := ws.Graph.IdOf(a)
	require.True(t, ok)
	require.Equal(t, dag.Master, idAfter.Group())
}

// TestWriteStore_StripRemovesDescendants grounds Strip: stripping a vertex
// removes it and everything that descends from it, demoting their cached
// resolutions, while ancestors are left alone.
func TestWriteStore_StripRemovesDescendants(t *testing.T) {
	ws := openTestWriteStore(t)

	a, b, c := vtx(1), vtx(2), vtx(3)
	err := ws.Flush([]dag.PendingVertex{
		{Vertex: a},
		{Vertex: b, Parents: []dag.Vertex{a}},
		{Vertex: c, Parents: []dag.Vertex{b}},
	})
	require.NoError(t, err)

	idB, ok := ws.Graph.IdOf(b)
	require.True(t, ok)

	err = ws.Strip(dag.IdSetOf(idB))
	require.NoError(t, err)

	_, ok = ws.Graph.IdOf(a)
	require.True(t, ok, "ancestor of the stripped set must survive")
	_, ok = ws.Graph.IdOf(b)
	require.False(t, ok, "the stripped vertex itself must be gone")
	_, ok = ws.Graph.IdOf(c)
	require.False(t, ok, "descendants of the stripped set must be gone")
}

// TestWriteStore_StripRefusesWithPendingHeads guards Strip's documented
// precondition: it must not run while AddHeads has unflushed NON_MASTER
// heads outstanding.
func TestWriteStore_StripRefusesWithPendingHeads(t *testing.T) {
	ws := openTestWriteStore(t)

	_, err := ws.AddHeads([]dag.PendingVertex{{Vertex: vtx(1)}}, dag.NonMaster, nil)
	require.NoError(t, err)

	err = ws.Strip(dag.IdSetOf(dag.MinId(dag.Master)))
	require.Error(t, err)
}

// TestWriteStore_ImportCloneDataRequiresEmptyGraph grounds
// import_clone_data's precondition and its verbatim insertion of segments
// and IdMap entries.
func TestWriteStore_ImportCloneDataRequiresEmptyGraph(t *testing.T) {
	ws := openTestWriteStore(t)

	id0 := dag.MakeId(dag.Master, 0)
	id1 := dag.MakeId(dag.Master, 1)
	a, b := vtx(1), vtx(2)

	segs := []dag.PersistedSegment{
		{Group: dag.Master, Low: id0, High: id1, Parents: nil},
	}
	maps := []dag.PersistedMapping{
		{Vertex: a, Id: id0},
		{Vertex: b, Id: id1},
	}

	require.NoError(t, ws.ImportCloneData(segs, maps))

	gotA, ok := ws.Graph.IdOf(a)
	require.True(t, ok)
	require.Equal(t, id0, gotA)
	require.Equal(t, []dag.Id{id0}, ws.Graph.Parents(id1))

	// A second call onto the now-nonempty graph must be refused.
	require.Error(t, ws.ImportCloneData(segs, maps))
}

// TestWriteStore_ImportPullDataSplitsServerSegment grounds §4.5's
// segment-splitting clause (scenario 7): the server describes one big
// segment whose middle vertex is also the parent of an unrelated second
// segment, forcing the pull to split the big segment at that vertex so the
// client-side remap can proceed contiguously from each declared head.
func TestWriteStore_ImportPullDataSplitsServerSegment(t *testing.T) {
	ws := openTestWriteStore(t)

	base := vtx(0xB0)
	require.NoError(t, ws.Flush([]dag.PendingVertex{{Vertex: base}}))

	v0, v1, v2, v3, v4, v10 := vtx(10), vtx(11), vtx(12), vtx(13), vtx(14), vtx(20)

	serverID := func(n uint64) dag.Id { return dag.MakeId(dag.Master, n) }
	baseServerID := serverID(99)

	// bigSeg covers [0..4]; its Low (v0) is parented on base, which the
	// client already knows. v2 sits strictly inside the segment and is also
	// named as otherSeg's parent below, forcing a split at 2.
	bigSeg := dag.PersistedSegment{
		Group: dag.Master, Low: serverID(0), High: serverID(4),
		Parents: []dag.Id{baseServerID},
	}
	otherSeg := dag.PersistedSegment{
		Group: dag.Master, Low: serverID(10), High: serverID(10),
		Parents: []dag.Id{serverID(2)},
	}

	idmap := []dag.PersistedMapping{
		{Vertex: base, Id: baseServerID},
		{Vertex: v0, Id: serverID(0)},
		{Vertex: v1, Id: serverID(1)},
		{Vertex: v2, Id: serverID(2)},
		{Vertex: v3, Id: serverID(3)},
		{Vertex: v4, Id: serverID(4)},
		{Vertex: v10, Id: serverID(10)},
	}

	heads := []dag.PendingVertex{{Vertex: v10}, {Vertex: v4}}

	require.NoError(t, ws.ImportPullData([]dag.PersistedSegment{bigSeg, otherSeg}, idmap, heads))

	baseID, ok := ws.Graph.IdOf(base)
	require.True(t, ok)
	id2, ok := ws.Graph.IdOf(v2)
	require.True(t, ok)
	require.Equal(t, dag.Master, id2.Group())
	require.Equal(t, []dag.Id{baseID}, ws.Graph.Parents(id2))

	id10, ok := ws.Graph.IdOf(v10)
	require.True(t, ok)
	require.Equal(t, []dag.Id{id2}, ws.Graph.Parents(id10))

	id4, ok := ws.Graph.IdOf(v4)
	require.True(t, ok)
	require.Equal(t, []dag.Id{id2}, ws.Graph.Parents(id4))

	// v0/v1/v3 were never reachable from the declared heads, so the lazy
	// pull must not have materialized them locally.
	for _, v := range []dag.Vertex{v0, v1, v3} {
		_, ok := ws.Graph.IdOf(v)
		require.False(t, ok)
	}
}

// TestWriteStore_ImportPullDataRejectsNonMasterSegments grounds the
// "only MASTER supports lazy vertexes" precondition.
func TestWriteStore_ImportPullDataRejectsNonMasterSegments(t *testing.T) {
	ws := openTestWriteStore(t)

	seg := dag.PersistedSegment{Group: dag.NonMaster, Low: dag.MakeId(dag.NonMaster, 0), High: dag.MakeId(dag.NonMaster, 0)}
	err := ws.ImportPullData([]dag.PersistedSegment{seg}, nil, nil)
	require.Error(t, err)
}
