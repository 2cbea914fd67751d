package dag

import "github.com/sasha-s/go-deadlock"

// Graph is the in-memory segmented commit graph: the flat-segment index
// plus the derived reverse (child) edges needed for children()/heads().
// It holds no persistence or lock-file concerns itself — those live in
// writepaths.go and snapshot.go.
type Graph struct {
	mu deadlock.RWMutex

	segs       *FlatSegments
	childEdges map[Id][]Id // parent Id -> segment-low Ids that name it as a parent
	highLevel  map[Group][]HighLevelSegment

	idmap   *IdMap
	overlay *OverlayIdMap
}

// NewGraph returns an empty graph with the given overlay capacity.
func NewGraph(overlayCapacity int) *Graph {
	return &Graph{
		segs:       NewFlatSegments(),
		childEdges: make(map[Id][]Id),
		highLevel:  make(map[Group][]HighLevelSegment),
		idmap:      NewIdMap(),
		overlay:    NewOverlayIdMap(overlayCapacity),
	}
}

// InsertSegment adds a flat segment to the group's index and records its
// reverse (child) edges. Rebuilds that group's high-level segments.
func (g *Graph) InsertSegment(group Group, seg FlatSegment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.insertSegmentLocked(group, seg)
	g.rebuildHighLevelLocked(group)
}

func (g *Graph) insertSegmentLocked(group Group, seg FlatSegment) {
	g.segs.Insert(group, seg)
	for _, p := range seg.Parents {
		g.childEdges[p] = appendIdUnique(g.childEdges[p], seg.Low)
	}
}

func appendIdUnique(ids []Id, id Id) []Id {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

func (g *Graph) rebuildHighLevelLocked(group Group) {
	var flats []FlatSegment
	g.segs.AscendGroup(group, func(fs FlatSegment) bool {
		flats = append(flats, fs)
		return true
	})
	g.highLevel[group] = BuildHighLevelSegments(flats)
}

// segmentContaining finds the flat segment covering id. Only the group
// encoded in id's own top bits is searched.
func (g *Graph) segmentContaining(id Id) (FlatSegment, bool) {
	return g.segs.SegmentContaining(id.Group(), id)
}

// Parents implements parents(X) lifted to a single Id: the flat-segment
// linearity invariant (P6) means every non-Low member's sole parent is
// id-1; Low members carry their explicit parent list.
func (g *Graph) Parents(id Id) []Id {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.parentsLocked(id)
}

func (g *Graph) parentsLocked(id Id) []Id {
	seg, ok := g.segmentContaining(id)
	if !ok {
		return nil
	}
	if id == seg.Low {
		return append([]Id(nil), seg.Parents...)
	}
	return []Id{id.Prev()}
}

// Children implements children(X) lifted to a single Id.
func (g *Graph) Children(id Id) []Id {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.childrenLocked(id)
}

func (g *Graph) childrenLocked(id Id) []Id {
	seg, ok := g.segmentContaining(id)
	if !ok {
		return nil
	}
	if id != seg.High {
		return []Id{id.Next()}
	}
	return append([]Id(nil), g.childEdges[id]...)
}

// IdOf resolves a Vertex to its Id, consulting the persistent map then the
// overlay cache (C6 lazy resolution lands here once recorded).
func (g *Graph) IdOf(v Vertex) (Id, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id, ok := g.idmap.IdOf(v); ok {
		return id, true
	}
	return g.overlay.IdOf(v)
}

// VertexOf resolves an Id to its Vertex, consulting the persistent map then
// the overlay cache.
func (g *Graph) VertexOf(id Id) (Vertex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if v, ok := g.idmap.VertexOf(id); ok {
		return v, true
	}
	return g.overlay.VertexOf(id)
}

// Known answers the `known`/`knownnodes` wireprotocol surface: for each
// requested name, whether it resolves to a locally-known Id.
func (g *Graph) Known(names []Vertex) []bool {
	out := make([]bool, len(names))
	for i, n := range names {
		_, out[i] = g.IdOf(n)
	}
	return out
}

// Lookup answers the `lookup` wireprotocol surface: resolve a single name
// to its Id, if known.
func (g *Graph) Lookup(name Vertex) (Id, bool) {
	return g.IdOf(name)
}

// All returns every Id known in group, per dag.rs's all() convenience query.
func (g *Graph) All(group Group) *IdSet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := NewIdSet()
	g.segs.AscendGroup(group, func(fs FlatSegment) bool {
		out = out.Union(IdSetRange(fs.Low, fs.High))
		return true
	})
	return out
}

// HeadsOf returns heads(all(group)), per dag.rs's only_heads() convenience
// query — used by the clone export path to find what to advertise.
func (g *Graph) HeadsOf(group Group) *IdSet {
	return g.Heads(g.All(group))
}
