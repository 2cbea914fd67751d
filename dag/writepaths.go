package dag

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/scmforge/scmcore/internal/errs"
	"github.com/scmforge/scmcore/internal/metrics"
)

// VirtualEdge is one (vertex, parents) pair of the managed virtual group
// (§4.7): re-inserted after every write-path operation and cleared at the
// start of the next one.
type VirtualEdge struct {
	Vertex  Vertex
	Parents []Vertex
}

// WriteStore owns the persisted state and the cross-process write lock for
// one repository's commit graph. It wraps a Graph with the C7 write paths.
type WriteStore struct {
	Graph *Graph

	storage   *FileStorage
	lock      *flock.Flock
	version   uint64
	pendingNM []PendingVertex // non-master heads queued by add_heads, applied at flush
	virtual   []VirtualEdge
	meters    *metrics.Meters

	Snapshots *SnapshotSource
}

// OpenWriteStore opens (or creates) the persisted graph state under dir.
func OpenWriteStore(dir string, overlayCapacity int, m *metrics.Meters) (*WriteStore, error) {
	ws := &WriteStore{
		Graph:   NewGraph(overlayCapacity),
		storage: &FileStorage{Dir: dir},
		lock:    flock.New(dir + "/.dag.lock"),
		meters:  m,
	}
	if err := ws.reload(); err != nil {
		return nil, err
	}
	ws.Snapshots = NewSnapshotSource(ws.Graph)
	return ws, nil
}

// reload reads persisted state into a fresh Graph, preserving the overlay
// and negative cache from the previous handle when the persisted
// storage_version is non-zero and equals the one this handle last saw —
// otherwise it discards them (§4.7 "Cache reuse across reopen"). The
// persisted id-set spans are not compared.
func (ws *WriteStore) reload() error {
	segs, maps, state, err := ws.storage.Load()
	if err != nil {
		return err
	}

	prevOverlay := ws.Graph.overlay
	samePersistence := ws.version == state.StorageVersion && ws.version != 0

	overlayCap := 4096
	g := NewGraph(overlayCap)
	for _, m := range maps {
		g.idmap.Insert(m.Vertex, m.Id)
	}
	for _, s := range segs {
		g.insertSegmentLocked(s.Group, FlatSegment{Low: s.Low, High: s.High, Parents: s.Parents})
	}
	for grp := Group(0); grp < numGroups; grp++ {
		g.rebuildHighLevelLocked(grp)
	}

	if samePersistence && prevOverlay != nil {
		g.overlay = prevOverlay
	}

	ws.Graph = g
	ws.version = state.StorageVersion
	return nil
}

// AddHeads is C7's in-memory, append-only assignment path: it assigns Ids
// to new non-master heads (and their unassigned ancestors) without
// touching persisted state. It errors if a named head already exists in a
// lower group than requested (callers needing reassignment must go through
// Flush / AddHeadsAndFlush instead).
func (ws *WriteStore) AddHeads(pending []PendingVertex, group Group, reservation *Reservation) (created bool, _ error) {
	for _, pv := range pending {
		if id, ok := ws.Graph.idmap.IdOf(pv.Vertex); ok && id.Group() < group {
			return false, fmt.Errorf("dag: add_heads: %s already assigned in a lower group; use flush", pv.Vertex)
		}
	}
	before := ws.Graph.segs.All()
	if _, err := ws.Graph.AssignHead(pending, group, reservation); err != nil {
		return false, err
	}
	ws.pendingNM = append(ws.pendingNM, pending...)
	created = len(ws.Graph.segs.All()) > len(before)
	ws.reapplyVirtual()
	return created, nil
}

// Flush takes the cross-process write lock, reopens persisted state,
// reapplies pending non-master heads plus the provided master heads via
// add_heads_and_flush semantics, persists IdMap then IdDag then state, and
// refreshes persisted_id_set.
func (ws *WriteStore) Flush(masterHeads []PendingVertex) error {
	if err := ws.lock.Lock(); err != nil {
		return fmt.Errorf("dag: flush: acquiring write lock: %w", err)
	}
	defer ws.lock.Unlock()

	ws.clearVirtualStart()

	if err := ws.reload(); err != nil {
		return err
	}

	if err := ws.addHeadsAndFlush(masterHeads); err != nil {
		return err
	}
	ws.pendingNM = nil

	if err := ws.persist(); err != nil {
		return err
	}
	ws.reapplyVirtual()
	return nil
}

// addHeadsAndFlush implements the detect-and-reassign loop: vertexes that
// need to move from NON_MASTER to MASTER are stripped then reinserted with
// MASTER Ids. Bounded to two iterations total — P7 reassignment bound.
func (ws *WriteStore) addHeadsAndFlush(masterHeads []PendingVertex) error {
	if _, err := ws.Graph.AssignHead(ws.pendingNM, NonMaster, nil); err != nil {
		return err
	}

	toReassign := ws.findNonMasterNeedingMaster(masterHeads)

	if len(toReassign) > 0 {
		stripSet := NewIdSet()
		for _, v := range toReassign {
			if id, ok := ws.Graph.idmap.IdOf(v); ok {
				stripSet.Add(id)
			}
		}
		if err := ws.stripLocked(stripSet); err != nil {
			return err
		}
		reinsert := make([]PendingVertex, 0, len(toReassign))
		for _, v := range toReassign {
			reinsert = append(reinsert, PendingVertex{Vertex: v})
		}
		if _, err := ws.Graph.AssignHead(reinsert, Master, nil); err != nil {
			return err
		}
	}

	_, err := ws.Graph.AssignHead(masterHeads, Master, nil)
	return err
}

// findNonMasterNeedingMaster reports which of the current NON_MASTER
// assigned vertexes are named (directly or transitively, via parents) in
// masterHeads and therefore must move to MASTER.
func (ws *WriteStore) findNonMasterNeedingMaster(masterHeads []PendingVertex) []Vertex {
	wanted := make(map[Vertex]bool, len(masterHeads))
	for _, pv := range masterHeads {
		wanted[pv.Vertex] = true
		for _, p := range pv.Parents {
			wanted[p] = true
		}
	}
	var out []Vertex
	for v, id := range ws.Graph.idmap.toId {
		if id.Group() == NonMaster && wanted[v] {
			out = append(out, v)
		}
	}
	return out
}

// Strip removes descendants(set) from the IdDag and IdMap. Cached lazy
// resolutions for stripped Ids are demoted to known-missing first. Must
// not be called with pending (unflushed) heads outstanding.
func (ws *WriteStore) Strip(set *IdSet) error {
	if len(ws.pendingNM) > 0 {
		return &errs.Programming{Msg: "dag: strip called with pending heads outstanding"}
	}
	if err := ws.lock.Lock(); err != nil {
		return err
	}
	defer ws.lock.Unlock()
	if err := ws.stripLocked(set); err != nil {
		return err
	}
	if ws.meters != nil {
		ws.meters.StripOperations.Inc()
	}
	return ws.persist()
}

func (ws *WriteStore) stripLocked(set *IdSet) error {
	doomed := ws.Graph.Descendants(set)
	doomed.ForEachDescending(func(id Id) bool {
		ws.Graph.overlay.DemoteToMissing(id)
		ws.Graph.idmap.Remove(id)
		if seg, ok := ws.Graph.segmentContaining(id); ok && seg.Low == id {
			ws.Graph.segs.Remove(id.Group(), id)
		}
		return true
	})
	for grp := Group(0); grp < numGroups; grp++ {
		ws.Graph.rebuildHighLevelLocked(grp)
	}
	return nil
}

// ImportCloneData requires an empty graph; it inserts IdMap entries and
// segments verbatim.
func (ws *WriteStore) ImportCloneData(segs []PersistedSegment, maps []PersistedMapping) error {
	if ws.Graph.idmap.Len() > 0 {
		return &errs.Programming{Msg: "dag: import_clone_data requires an empty graph"}
	}
	for _, m := range maps {
		ws.Graph.idmap.Insert(m.Vertex, m.Id)
	}
	for _, s := range segs {
		ws.Graph.insertSegmentLocked(s.Group, FlatSegment{Low: s.Low, High: s.High, Parents: s.Parents})
	}
	for grp := Group(0); grp < numGroups; grp++ {
		ws.Graph.rebuildHighLevelLocked(grp)
	}
	if err := ws.lock.Lock(); err != nil {
		return err
	}
	defer ws.lock.Unlock()
	return ws.persist()
}

// pullServerState indexes the server-provided segments/idmap for the
// duration of one ImportPullData call: by-high segment lookup (for
// "segment containing id" and splitting) plus both idmap directions.
type pullServerState struct {
	byHigh   map[Id]PersistedSegment
	nameByID map[Id]Vertex
	idByName map[Vertex]Id
}

func newPullServerState(segments []PersistedSegment, idmap []PersistedMapping) *pullServerState {
	s := &pullServerState{
		byHigh:   make(map[Id]PersistedSegment, len(segments)),
		nameByID: make(map[Id]Vertex, len(idmap)),
		idByName: make(map[Vertex]Id, len(idmap)),
	}
	for _, seg := range segments {
		s.byHigh[seg.High] = seg
	}
	for _, m := range idmap {
		s.nameByID[m.Id] = m.Vertex
		s.idByName[m.Vertex] = m.Id
	}
	return s
}

// segmentContaining finds the segment covering id by scanning byHigh
// entries at or above id; the server-supplied segment set is small enough
// (one pull's worth of history) that a linear scan is simpler than keeping
// a second sorted index alongside the one ImportCloneData/reload maintain
// for the local graph.
func (s *pullServerState) segmentContaining(id Id) (PersistedSegment, bool) {
	for _, seg := range s.byHigh {
		if seg.Low <= id && id <= seg.High {
			return seg, true
		}
	}
	return PersistedSegment{}, false
}

// splitAt splits the server segment ending at high into [low..middle] and
// [middle+1..high], so that middle (a parent of some other segment) becomes
// its own segment boundary and the client-side remap stays contiguous
// across the split, per §4.5's "segments may be split" clause.
func (s *pullServerState) splitAt(high, middle Id) {
	seg, ok := s.byHigh[high]
	if !ok || middle < seg.Low || middle >= seg.High {
		return
	}
	delete(s.byHigh, high)
	first := PersistedSegment{Group: seg.Group, Low: seg.Low, High: middle, Parents: seg.Parents}
	second := PersistedSegment{Group: seg.Group, Low: middle + 1, High: seg.High, Parents: []Id{middle}}
	s.byHigh[first.High] = first
	s.byHigh[second.High] = second
}

// ImportPullData implements §4.5's import_pull_data(segments, idmap, heads):
// it must see pure-MASTER heads, ensures the client already has every
// connected (outside-the-pull) parent and does NOT already have any root of
// the pulled data, then remaps server Ids onto client Ids by DFS from each
// head in the declared order, splitting server segments at vertexes that
// are themselves another segment's parent so the remapped run stays
// contiguous. Ids are actually assigned via Graph.AssignHead (same code
// path add_heads/flush use), which is what keeps the remap honest about
// group monotonicity and free-span allocation.
func (ws *WriteStore) ImportPullData(segments []PersistedSegment, idmap []PersistedMapping, heads []PendingVertex) error {
	for _, seg := range segments {
		if seg.Group != Master {
			return &errs.Programming{Msg: "dag: import_pull_data should only take MASTER group segments: only MASTER supports lazy vertexes"}
		}
	}

	server := newPullServerState(segments, idmap)

	pulled := NewIdSet()
	for _, seg := range segments {
		pulled = pulled.Union(IdSetRange(seg.Low, seg.High))
	}

	var parentIDs, rootIDs []Id
	for _, seg := range segments {
		connected := make([]Id, 0, len(seg.Parents))
		for _, p := range seg.Parents {
			if !pulled.Contains(p) {
				connected = append(connected, p)
			}
		}
		if len(connected) == len(seg.Parents) {
			rootIDs = append(rootIDs, seg.Low)
		}
		parentIDs = append(parentIDs, connected...)
	}

	nameOf := func(id Id) (Vertex, error) {
		v, ok := server.nameByID[id]
		if !ok {
			return Vertex{}, fmt.Errorf("dag: import_pull_data: server did not provide a name for id %d", id)
		}
		return v, nil
	}

	for _, id := range parentIDs {
		name, err := nameOf(id)
		if err != nil {
			return err
		}
		if _, ok := ws.Graph.idmap.IdOf(name); !ok {
			return &errs.NeedSlowPath{Msg: fmt.Sprintf("dag: import_pull_data: connected parent %s not locally known", name)}
		}
	}
	for _, id := range rootIDs {
		name, err := nameOf(id)
		if err != nil {
			return err
		}
		if _, ok := ws.Graph.idmap.IdOf(name); ok {
			return &errs.NeedSlowPath{Msg: fmt.Sprintf("dag: import_pull_data: root %s already known locally", name)}
		}
	}

	var pending []PendingVertex
	seenPending := map[Vertex]bool{}
	resolvedLocally := func(v Vertex) bool {
		_, ok := ws.Graph.idmap.IdOf(v)
		return ok
	}

	for _, head := range heads {
		serverHead, ok := server.idByName[head.Vertex]
		if !ok {
			// Not part of this pull's data at all; Flush will try to resolve
			// it (and its declared Parents) the ordinary way.
			pending = append(pending, head)
			continue
		}

		stack := []Id{serverHead}
		for len(stack) > 0 {
			id := stack[len(stack)-1]

			seg, ok := server.segmentContaining(id)
			if !ok {
				return fmt.Errorf("dag: import_pull_data: server does not provide a segment covering id %d", id)
			}
			if id < seg.High {
				server.splitAt(seg.High, id)
				seg, _ = server.segmentContaining(id)
			}

			highName, err := nameOf(id)
			if err != nil {
				return err
			}
			if resolvedLocally(highName) || seenPending[highName] {
				stack = stack[:len(stack)-1]
				continue
			}

			parentNames := make([]Vertex, 0, len(seg.Parents))
			missing := false
			for _, pid := range seg.Parents {
				pname, err := nameOf(pid)
				if err != nil {
					return err
				}
				parentNames = append(parentNames, pname)
				if !resolvedLocally(pname) && !seenPending[pname] {
					missing = true
					stack = append(stack, pid)
				}
			}
			if missing {
				continue
			}

			pending = append(pending, PendingVertex{Vertex: highName, Parents: parentNames})
			seenPending[highName] = true
			stack = stack[:len(stack)-1]
		}
	}

	return ws.Flush(pending)
}

// FlushCachedIdMap persists accumulated overlay paths: under lock, reopen
// fresh state, re-walk each pending (x~n, names) path against the new
// IdMap, insert the resulting (Id, Vertex) pairs, and persist. Pending
// paths are drained even on partial failure so a stuck path can't wedge
// every future flush.
func (ws *WriteStore) FlushCachedIdMap() error {
	if err := ws.lock.Lock(); err != nil {
		return err
	}
	defer ws.lock.Unlock()

	pending := ws.Graph.overlay.DrainPending()
	if err := ws.reload(); err != nil {
		return err
	}
	var firstErr error
	for _, pp := range pending {
		if err := ws.Graph.applyResolvedPathLocked(ResolvedPath{Path: Path{X: pp.X, N: pp.N}, Names: pp.Names}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := ws.persist(); err != nil {
		return err
	}
	return firstErr
}

// persist writes IdMap then IdDag then state, bumping the storage version.
func (ws *WriteStore) persist() error {
	var segs []PersistedSegment
	for grp := Group(0); grp < numGroups; grp++ {
		ws.Graph.segs.AscendGroup(grp, func(fs FlatSegment) bool {
			segs = append(segs, PersistedSegment{Group: grp, Low: fs.Low, High: fs.High, Parents: fs.Parents})
			return true
		})
	}

	maps := make([]PersistedMapping, 0, ws.Graph.idmap.Len())
	for v, id := range ws.Graph.idmap.toId {
		maps = append(maps, PersistedMapping{Vertex: v, Id: id})
	}

	ws.version++
	state := PersistedState{
		StorageVersion:     ws.version,
		PersistedIdSetLow:  map[Group]Id{},
		PersistedIdSetHigh: map[Group]Id{},
	}
	for grp := Group(0); grp < numGroups; grp++ {
		var all *IdSet
		ws.Graph.segs.AscendGroup(grp, func(fs FlatSegment) bool {
			if all == nil {
				all = NewIdSet()
			}
			all = all.Union(IdSetRange(fs.Low, fs.High))
			return true
		})
		if all != nil {
			lo, _ := all.Min()
			hi, _ := all.Max()
			state.PersistedIdSetLow[grp] = lo
			state.PersistedIdSetHigh[grp] = hi
		}
	}

	if err := ws.storage.Save(segs, maps, state); err != nil {
		return err
	}
	if ws.Snapshots != nil {
		ws.Snapshots.Publish(ws.version, ws.Graph)
	}
	return nil
}

// reapplyVirtual re-inserts the managed virtual group's edges after a
// write-path operation, per §4.7.
func (ws *WriteStore) reapplyVirtual() {
	if len(ws.virtual) == 0 {
		return
	}
	pending := make([]PendingVertex, 0, len(ws.virtual))
	for _, e := range ws.virtual {
		pending = append(pending, PendingVertex{Vertex: e.Vertex, Parents: e.Parents})
	}
	_, _ = ws.Graph.AssignHead(pending, Virtual, nil)
}

// clearVirtualStart clears the in-graph virtual-group edges at the start
// of a write-path operation; reapplyVirtual restores them at the end.
func (ws *WriteStore) clearVirtualStart() {
	for _, e := range ws.virtual {
		if id, ok := ws.Graph.idmap.IdOf(e.Vertex); ok && id.Group() == Virtual {
			ws.Graph.idmap.Remove(id)
			ws.Graph.segs.Remove(Virtual, id)
		}
	}
}

// SetManagedVirtualGroup replaces the configured virtual-group edges.
func (ws *WriteStore) SetManagedVirtualGroup(edges []VirtualEdge) {
	ws.virtual = edges
}

// Close releases the write lock handle (idempotent; Flock is reentrant
// per-process but this drops our reference).
func (ws *WriteStore) Close() error {
	return ws.lock.Unlock()
}
