package dag

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// IdMap is E9: a bidirectional finite map between Vertex and Id. Entries in
// the MASTER group may be absent locally ("lazy") and resolved remotely
// through the overlay (E10, C6).
type IdMap struct {
	toId  map[Vertex]Id
	toVtx map[Id]Vertex
}

// NewIdMap returns an empty map.
func NewIdMap() *IdMap {
	return &IdMap{toId: make(map[Vertex]Id), toVtx: make(map[Id]Vertex)}
}

// Insert records a bidirectional (Vertex, Id) pair.
func (m *IdMap) Insert(v Vertex, id Id) {
	m.toId[v] = id
	m.toVtx[id] = v
}

// IdOf looks up the locally-known Id for v.
func (m *IdMap) IdOf(v Vertex) (Id, bool) {
	id, ok := m.toId[v]
	return id, ok
}

// VertexOf looks up the locally-known Vertex for id.
func (m *IdMap) VertexOf(id Id) (Vertex, bool) {
	v, ok := m.toVtx[id]
	return v, ok
}

// Remove deletes both directions of the mapping for id, if present.
func (m *IdMap) Remove(id Id) {
	if v, ok := m.toVtx[id]; ok {
		delete(m.toVtx, id)
		delete(m.toId, v)
	}
}

// Len reports the number of entries.
func (m *IdMap) Len() int { return len(m.toId) }

// OverlayIdMap is E10: an in-memory cache of lazily-resolved (Vertex, Id)
// pairs, bounded by an LRU, plus the negative cache of names the remote has
// confirmed absent from the master group. It is only ever merged into the
// persistent IdMap under the C7 write-path lock, via flush_cached_idmap.
type OverlayIdMap struct {
	cache    *lru.Cache[Vertex, Id]
	reverse  *lru.Cache[Id, Vertex]
	negative map[Vertex]struct{}
	// pending holds raw (x~n -> names) paths accumulated since the last
	// flush_cached_idmap, so it can be re-walked against a freshly reopened
	// IdMap at flush time (§4.7).
	pending []PendingPath
}

// PendingPath is one x~n resolution awaiting persistent flush.
type PendingPath struct {
	X     Vertex
	N     int
	Names []Vertex
}

// NewOverlayIdMap builds an overlay bounded to capacity entries per direction.
func NewOverlayIdMap(capacity int) *OverlayIdMap {
	cache, _ := lru.New[Vertex, Id](capacity)
	reverse, _ := lru.New[Id, Vertex](capacity)
	return &OverlayIdMap{cache: cache, reverse: reverse, negative: make(map[Vertex]struct{})}
}

// Record stores a resolved (Vertex, Id) pair and queues its path for flush.
func (o *OverlayIdMap) Record(v Vertex, id Id, path PendingPath) {
	o.cache.Add(v, id)
	o.reverse.Add(id, v)
	delete(o.negative, v)
	o.pending = append(o.pending, path)
}

// IdOf looks up a cached resolution.
func (o *OverlayIdMap) IdOf(v Vertex) (Id, bool) { return o.cache.Get(v) }

// VertexOf looks up a cached reverse resolution.
func (o *OverlayIdMap) VertexOf(id Id) (Vertex, bool) { return o.reverse.Get(id) }

// MarkMissing records that the remote confirmed v absent from MASTER.
func (o *OverlayIdMap) MarkMissing(v Vertex) { o.negative[v] = struct{}{} }

// IsKnownMissing reports whether v is in the negative cache.
func (o *OverlayIdMap) IsKnownMissing(v Vertex) bool {
	_, ok := o.negative[v]
	return ok
}

// DemoteToMissing removes id's cached resolution (if any) and marks its
// vertex known-missing, per strip's "demote cached lazy resolutions to a
// known-missing negative cache" requirement.
func (o *OverlayIdMap) DemoteToMissing(id Id) {
	v, ok := o.reverse.Get(id)
	if !ok {
		return
	}
	o.reverse.Remove(id)
	o.cache.Remove(v)
	o.MarkMissing(v)
}

// DrainPending returns and clears the accumulated pending paths, for
// flush_cached_idmap to re-walk against a freshly reopened IdMap. Draining
// happens even if the flush only partially succeeds, per §4.7.
func (o *OverlayIdMap) DrainPending() []PendingPath {
	out := o.pending
	o.pending = nil
	return out
}

// InvalidateAll clears both caches and the negative cache, used when the
// persisted state diverges from what this overlay was built against
// (storage version or persisted id set spans changed on reopen).
func (o *OverlayIdMap) InvalidateAll() {
	o.cache.Purge()
	o.reverse.Purge()
	o.negative = make(map[Vertex]struct{})
	o.pending = nil
}
