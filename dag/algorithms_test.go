package dag_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scmforge/scmcore/dag"
)

// buildDiamond constructs, via raw InsertSegment calls (one flat segment per
// Id, for full control over the parent graph independent of assign_head's
// free-span search):
//
//	a
//	|\
//	b c
//	|/
//	d
//
// d merges b and c, both of which descend from the single root a.
func buildDiamond(g *dag.Graph) (a, b, c, d dag.Id) {
	a = dag.MakeId(dag.Master, 0)
	b = dag.MakeId(dag.Master, 1)
	c = dag.MakeId(dag.Master, 2)
	d = dag.MakeId(dag.Master, 3)

	g.InsertSegment(dag.Master, dag.FlatSegment{Low: a, High: a})
	g.InsertSegment(dag.Master, dag.FlatSegment{Low: b, High: b, Parents: []dag.Id{a}})
	g.InsertSegment(dag.Master, dag.FlatSegment{Low: c, High: c, Parents: []dag.Id{a}})
	g.InsertSegment(dag.Master, dag.FlatSegment{Low: d, High: d, Parents: []dag.Id{b, c}})
	return a, b, c, d
}

func TestGraph_ParentsAndChildren(t *testing.T) {
	g := dag.NewGraph(64)
	a, b, c, d := buildDiamond(g)

	require.Empty(t, g.Parents(a))
	require.ElementsMatch(t, []dag.Id{a}, g.Parents(b))
	require.ElementsMatch(t, []dag.Id{a}, g.Parents(c))
	require.ElementsMatch(t, []dag.Id{b, c}, g.Parents(d))

	require.ElementsMatch(t, []dag.Id{b, c}, g.Children(a))
	require.ElementsMatch(t, []dag.Id{d}, g.Children(b))
	require.ElementsMatch(t, []dag.Id{d}, g.Children(c))
	require.Empty(t, g.Children(d))
}

func TestGraph_HeadsAndRoots(t *testing.T) {
	g := dag.NewGraph(64)
	a, b, c, d := buildDiamond(g)
	all := dag.IdSetOf(a, b, c, d)

	require.Equal(t, []dag.Id{d}, g.Heads(all).ToSliceAscending())
	require.Equal(t, []dag.Id{a}, g.Roots(all).ToSliceAscending())
}

func TestGraph_AncestorsAndDescendants(t *testing.T) {
	g := dag.NewGraph(64)
	a, b, c, d := buildDiamond(g)

	require.ElementsMatch(t, []dag.Id{a, b, c, d}, g.Ancestors(dag.IdSetOf(d)).ToSliceAscending())
	require.ElementsMatch(t, []dag.Id{a, b}, g.Ancestors(dag.IdSetOf(b)).ToSliceAscending())
	require.ElementsMatch(t, []dag.Id{a, b, c, d}, g.Descendants(dag.IdSetOf(a)).ToSliceAscending())
	require.ElementsMatch(t, []dag.Id{d}, g.Descendants(dag.IdSetOf(d)).ToSliceAscending())
}

func TestGraph_FirstAncestors(t *testing.T) {
	g := dag.NewGraph(64)
	a, b, _, d := buildDiamond(g)

	// d's sole first-parent chain goes d -> b -> a (Parents[0] of d is b).
	require.ElementsMatch(t, []dag.Id{a, b, d}, g.FirstAncestors(dag.IdSetOf(d)).ToSliceAscending())
}

func TestGraph_Range(t *testing.T) {
	g := dag.NewGraph(64)
	a, b, c, d := buildDiamond(g)

	require.ElementsMatch(t, []dag.Id{a, b, c, d}, g.Range(dag.IdSetOf(a), dag.IdSetOf(d)).ToSliceAscending())
	require.ElementsMatch(t, []dag.Id{b, d}, g.Range(dag.IdSetOf(b), dag.IdSetOf(d)).ToSliceAscending())
}

func TestGraph_IsAncestor(t *testing.T) {
	g := dag.NewGraph(64)
	a, b, c, d := buildDiamond(g)

	require.True(t, g.IsAncestor(a, d))
	require.True(t, g.IsAncestor(d, d))
	require.False(t, g.IsAncestor(b, c))
	require.False(t, g.IsAncestor(d, a))
}

func TestGraph_CommonAncestorsAndGca(t *testing.T) {
	g := dag.NewGraph(64)
	a, b, c, _ := buildDiamond(g)

	common := g.CommonAncestors(dag.IdSetOf(b, c))
	require.Equal(t, []dag.Id{a}, common.ToSliceAscending())

	gcaAll := g.GcaAll(dag.IdSetOf(b, c))
	require.Equal(t, []dag.Id{a}, gcaAll.ToSliceAscending())

	one, ok := g.GcaOne(dag.IdSetOf(b, c))
	require.True(t, ok)
	require.Equal(t, a, one)
}

func TestGraph_Merges(t *testing.T) {
	g := dag.NewGraph(64)
	a, b, c, d := buildDiamond(g)

	require.Equal(t, []dag.Id{d}, g.Merges(dag.IdSetOf(a, b, c, d)).ToSliceAscending())
}

func TestGraph_FirstAncestorNth(t *testing.T) {
	g := dag.NewGraph(64)
	a, b, _, d := buildDiamond(g)

	got, ok := g.FirstAncestorNth(d, 1)
	require.True(t, ok)
	require.Equal(t, b, got)

	got, ok = g.FirstAncestorNth(d, 2)
	require.True(t, ok)
	require.Equal(t, a, got)

	_, ok = g.FirstAncestorNth(d, 3)
	require.False(t, ok)
}

func TestGraph_KnownLookupAllHeadsOf(t *testing.T) {
	g := dag.NewGraph(64)
	a, _, _, d := buildDiamond(g)

	_, err := g.AssignHead([]dag.PendingVertex{{Vertex: vtx(1), Parents: nil}}, dag.Master, nil)
	require.NoError(t, err)
	known1, ok1 := g.IdOf(vtx(1))
	require.True(t, ok1)

	got := g.Known([]dag.Vertex{vtx(1), vtx(9)})
	require.Equal(t, []bool{true, false}, got)

	id, ok := g.Lookup(vtx(1))
	require.True(t, ok)
	require.Equal(t, known1, id)

	_, ok = g.Lookup(vtx(9))
	require.False(t, ok)

	all := g.All(dag.Master)
	require.True(t, all.Contains(a))
	require.True(t, all.Contains(d))
	require.True(t, all.Contains(known1))

	heads := g.HeadsOf(dag.Master)
	require.True(t, heads.Contains(d))
	require.True(t, heads.Contains(known1))
	require.False(t, heads.Contains(a))
}
