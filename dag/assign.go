package dag

import (
	"fmt"
)

// Reservation is the {reserve_size, desired_group} a head carries so
// children assigned later land on Ids immediately above it.
type Reservation struct {
	Vertex      Vertex
	ReserveSize uint32
	Group       Group
}

// PendingVertex is one not-yet-assigned vertex discovered during
// assign_head's DFS, along with its already-known parent vertexes (which
// may themselves be pending).
type PendingVertex struct {
	Vertex  Vertex
	Parents []Vertex
}

// assigner tracks per-group covered/reserved spans while assign_head runs.
type assigner struct {
	g        *Graph
	covered  map[Group]*IdSet
	reserved map[Group]*IdSet
}

func newAssigner(g *Graph) *assigner {
	a := &assigner{g: g, covered: map[Group]*IdSet{}, reserved: map[Group]*IdSet{}}
	for grp := Group(0); grp < numGroups; grp++ {
		a.covered[grp] = NewIdSet()
		a.reserved[grp] = NewIdSet()
	}
	markSpan := func(grp Group, fs FlatSegment) bool {
		a.covered[grp] = a.covered[grp].Union(IdSetRange(fs.Low, fs.High))
		return true
	}
	g.segs.AscendGroup(Master, func(fs FlatSegment) bool { return markSpan(Master, fs) })
	g.segs.AscendGroup(NonMaster, func(fs FlatSegment) bool { return markSpan(NonMaster, fs) })
	g.segs.AscendGroup(Virtual, func(fs FlatSegment) bool { return markSpan(Virtual, fs) })
	return a
}

// AssignHead assigns Ids to v and any unassigned ancestors reachable from
// the supplied pending list (ordered root-to-head by the caller, i.e. a
// vertex never precedes a vertex it depends on), landing v in targetGroup.
// Parents already known to the graph resolve through its IdMap; a
// PendingVertex with nil Parents is a root.
func (g *Graph) AssignHead(pending []PendingVertex, targetGroup Group, reservation *Reservation) (Id, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := newAssigner(g)

	assigned := make(map[Vertex]Id)
	for _, pv := range pending {
		for _, p := range pv.Parents {
			if id, ok := g.idmap.IdOf(p); ok {
				assigned[p] = id
			}
		}
	}

	var lastID Id
	for _, pv := range pending {
		if id, ok := g.idmap.IdOf(pv.Vertex); ok {
			assigned[pv.Vertex] = id
			lastID = id
			continue
		}
		parentIDs := make([]Id, 0, len(pv.Parents))
		maxParentGroup := Master
		for _, p := range pv.Parents {
			id, ok := assigned[p]
			if !ok {
				return 0, fmt.Errorf("dag: assign_head: parent %s of %s not yet assigned", p, pv.Vertex)
			}
			parentIDs = append(parentIDs, id)
			if id.Group() > maxParentGroup {
				maxParentGroup = id.Group()
			}
		}
		// P5 group monotonicity: v's group must be >= every parent's group.
		if maxParentGroup > targetGroup {
			return 0, fmt.Errorf("dag: assign_head: group monotonicity violated for %s: parent group %s > target %s", pv.Vertex, maxParentGroup, targetGroup)
		}

		lowerBound := MinId(targetGroup)
		for _, pid := range parentIDs {
			if pid.Group() == targetGroup && pid.Next() > lowerBound {
				lowerBound = pid.Next()
			}
		}
		id, err := a.findFreeSpan(targetGroup, lowerBound, 1)
		if err != nil {
			return 0, err
		}
		a.covered[targetGroup].Add(id)
		g.idmap.Insert(pv.Vertex, id)
		assigned[pv.Vertex] = id
		lastID = id

		seg := FlatSegment{Low: id, High: id, Parents: parentIDs}
		g.insertSegmentLocked(targetGroup, seg)
	}
	g.rebuildHighLevelLocked(targetGroup)

	if reservation != nil && reservation.ReserveSize > 0 {
		a.reserveAbove(targetGroup, lastID, reservation.ReserveSize)
	}

	return lastID, nil
}

// findFreeSpan implements find_free_span: first-fit search for the smallest
// free Id >= lowerBound (within targetGroup) such that [id, id+n) doesn't
// intersect covered or reserved.
func (a *assigner) findFreeSpan(g Group, lowerBound Id, n uint64) (Id, error) {
	covered := a.covered[g]
	reserved := a.reserved[g]
	candidate := lowerBound
	for {
		if candidate > MaxId(g) {
			return 0, fmt.Errorf("dag: find_free_span: group %s exhausted", g)
		}
		conflict := false
		for off := uint64(0); off < n; off++ {
			probe := candidate + Id(off)
			if covered.Contains(probe) || reserved.Contains(probe) {
				conflict = true
				candidate = probe.Next()
				break
			}
		}
		if !conflict {
			return candidate, nil
		}
	}
}

// reserveAbove marks [head+1, head+size] as reserved for g, no shrink-to-fit
// (callers that need the space will find a different free span instead).
func (a *assigner) reserveAbove(g Group, head Id, size uint32) {
	start := head.Next()
	for i := uint32(0); i < size; i++ {
		id := start + Id(i)
		if id > MaxId(g) {
			break
		}
		a.reserved[g].Add(id)
	}
}

// CalculateInitialReserved computes reservations for heads already present
// in the graph, e.g. right after import_clone_data, by re-deriving each
// head's declared {reserve_size, desired_group} and marking the span.
func (g *Graph) CalculateInitialReserved(heads []Reservation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := newAssigner(g)
	for _, r := range heads {
		id, ok := g.idmap.IdOf(r.Vertex)
		if !ok || r.ReserveSize == 0 {
			continue
		}
		a.reserveAbove(r.Group, id, r.ReserveSize)
	}
}
