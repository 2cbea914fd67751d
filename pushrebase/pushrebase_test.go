package pushrebase

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scmforge/scmcore/internal/errs"
)

// memStore is a small in-memory Store used to exercise Engine.Run without
// a real database; it implements the same ancestry/diff walks store's
// sqlite-backed implementation does, just over a plain map.
type memStore struct {
	mu  sync.Mutex
	by  map[BcsId]*Changeset
	gen map[BcsId]int
}

func newMemStore() *memStore {
	return &memStore{by: make(map[BcsId]*Changeset), gen: make(map[BcsId]int)}
}

func (s *memStore) Get(_ context.Context, id BcsId) (*Changeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.by[id]
	if !ok {
		return nil, &errs.NotFound{Kind: "changeset", ID: id.String()}
	}
	return cs, nil
}

func (s *memStore) Put(_ context.Context, cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := 1
	for _, p := range cs.Parents {
		if g := s.gen[p]; g+1 > gen {
			gen = g + 1
		}
	}
	s.by[cs.ID] = cs
	s.gen[cs.ID] = gen
	return nil
}

func (s *memStore) Generation(_ context.Context, id BcsId) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[id], nil
}

func (s *memStore) IsAncestor(_ context.Context, a, d BcsId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	visited := map[BcsId]bool{d: true}
	queue := []BcsId{d}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == a {
			return true, nil
		}
		cs, ok := s.by[cur]
		if !ok {
			continue
		}
		for _, p := range cs.Parents {
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// firstParentChain walks first-parent history from until down to (but not
// including) since, returning root-to-head order.
func (s *memStore) firstParentChain(since, until BcsId) []*Changeset {
	var chain []*Changeset
	cur := until
	for cur != since {
		cs, ok := s.by[cur]
		if !ok {
			break
		}
		chain = append(chain, cs)
		if len(cs.Parents) == 0 {
			break
		}
		cur = cs.Parents[0]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (s *memStore) CommitsBetween(_ context.Context, since, until BcsId) ([]*Changeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstParentChain(since, until), nil
}

func (s *memStore) ChangedFiles(ctx context.Context, since, until BcsId) ([]string, error) {
	chain, err := s.CommitsBetween(ctx, since, until)
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	for _, cs := range chain {
		for p, fc := range cs.FileChanges {
			set[p] = true
			if fc.CopyFrom != nil {
				set[fc.CopyFrom.Path] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// ancestorsInclusive collects id and every ancestor reachable via any
// parent edge, without duplicates.
func (s *memStore) ancestorsInclusive(id BcsId) []*Changeset {
	visited := map[BcsId]bool{}
	var out []*Changeset
	var walk func(BcsId)
	walk = func(cur BcsId) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		cs, ok := s.by[cur]
		if !ok {
			return
		}
		out = append(out, cs)
		for _, p := range cs.Parents {
			walk(p)
		}
	}
	walk(id)
	sort.Slice(out, func(i, j int) bool { return s.gen[out[i].ID] < s.gen[out[j].ID] })
	return out
}

func (s *memStore) replayState(id BcsId) map[string]*FileChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := map[string]*FileChange{}
	for _, cs := range s.ancestorsInclusive(id) {
		for p, fc := range cs.FileChanges {
			if fc.Deleted {
				delete(state, p)
				continue
			}
			state[p] = fc
		}
	}
	return state
}

func (s *memStore) ManifestPaths(_ context.Context, id BcsId) (map[string]bool, error) {
	state := s.replayState(id)
	out := make(map[string]bool, len(state))
	for p := range state {
		out[p] = true
	}
	return out, nil
}

func (s *memStore) FileAt(_ context.Context, id BcsId, path string) (*FileChange, error) {
	state := s.replayState(id)
	return state[path], nil
}

// memBookmarks is a small in-memory BookmarkStore.
type memBookmarks struct {
	mu     sync.Mutex
	values map[string]BcsId
}

func newMemBookmarks() *memBookmarks {
	return &memBookmarks{values: make(map[string]BcsId)}
}

func (b *memBookmarks) Get(_ context.Context, name string) (BcsId, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[name]
	return v, ok, nil
}

func (b *memBookmarks) CompareAndSet(_ context.Context, name string, old, new BcsId, steps []TxStep) (bool, error) {
	b.mu.Lock()
	cur, ok := b.values[name]
	if ok && cur != old {
		b.mu.Unlock()
		return false, nil
	}
	if !ok && old != (BcsId{}) {
		b.mu.Unlock()
		return false, nil
	}
	b.mu.Unlock()

	for _, step := range steps {
		if err := step(context.Background()); err != nil {
			return false, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[name] = new
	return true, nil
}

func putFile(cs *Changeset, path, contentID string) {
	if cs.FileChanges == nil {
		cs.FileChanges = map[string]*FileChange{}
	}
	cs.FileChanges[path] = &FileChange{Path: path, ContentID: contentID}
}

func mustPut(t *testing.T, s *memStore, cs *Changeset) BcsId {
	t.Helper()
	cs.ID = bcsIDOf(cs)
	require.NoError(t, s.Put(context.Background(), cs))
	return cs.ID
}

func TestEngineRun_LinearPushSucceeds(t *testing.T) {
	store := newMemStore()
	bookmarks := newMemBookmarks()
	ctx := context.Background()

	root := &Changeset{Author: "alice", AuthorDate: time.Unix(1000, 0).UTC(), Message: "root"}
	putFile(root, "a.txt", "c1")
	rootID := mustPut(t, store, root)
	bookmarks.values["main"] = rootID

	a := &Changeset{Parents: []BcsId{rootID}, Author: "bob", AuthorDate: time.Unix(1001, 0).UTC(), Message: "add b"}
	putFile(a, "b.txt", "c2")
	aID := mustPut(t, store, a)

	b := &Changeset{Parents: []BcsId{aID}, Author: "bob", AuthorDate: time.Unix(1002, 0).UTC(), Message: "add c"}
	putFile(b, "c.txt", "c3")
	bID := mustPut(t, store, b)

	engine := &Engine{Store: store, Bookmarks: bookmarks, Cfg: Config{CasefoldingCheck: true}}

	outcome, err := engine.Run(ctx, Request{OntoBookmark: "main", Pushed: []BcsId{aID, bID}})
	require.NoError(t, err)
	require.Len(t, outcome.Rebased, 2)
	require.Equal(t, 0, outcome.RetryNum)

	head, ok, err := bookmarks.Get(ctx, "main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, outcome.Head, head)
	// Rebasing onto an unmoved bookmark with no date rewrite reproduces the
	// same content hash: a true no-op rebase, not merely an equivalent one.
	require.Equal(t, bID, head)
}

func TestEngineRun_TooManyHeads(t *testing.T) {
	store := newMemStore()
	bookmarks := newMemBookmarks()
	ctx := context.Background()

	root := &Changeset{Author: "alice", AuthorDate: time.Unix(1000, 0).UTC(), Message: "root"}
	rootID := mustPut(t, store, root)
	bookmarks.values["main"] = rootID

	a := &Changeset{Parents: []BcsId{rootID}, Author: "bob", AuthorDate: time.Unix(1001, 0).UTC(), Message: "a"}
	putFile(a, "a.txt", "c1")
	aID := mustPut(t, store, a)

	b := &Changeset{Parents: []BcsId{rootID}, Author: "bob", AuthorDate: time.Unix(1002, 0).UTC(), Message: "b"}
	putFile(b, "b.txt", "c2")
	bID := mustPut(t, store, b)

	engine := &Engine{Store: store, Bookmarks: bookmarks}
	_, err := engine.Run(ctx, Request{OntoBookmark: "main", Pushed: []BcsId{aID, bID}})
	require.Error(t, err)
	var tooMany *errs.TooManyHeads
	require.ErrorAs(t, err, &tooMany)
	require.Equal(t, 2, tooMany.Heads)
}

func TestEngineRun_ConflictOnSharedPath(t *testing.T) {
	store := newMemStore()
	bookmarks := newMemBookmarks()
	ctx := context.Background()

	root := &Changeset{Author: "alice", AuthorDate: time.Unix(1000, 0).UTC(), Message: "root"}
	rootID := mustPut(t, store, root)
	bookmarks.values["main"] = rootID

	// Server-side commit landed on main after rootID, touching shared.txt.
	serverCommit := &Changeset{Parents: []BcsId{rootID}, Author: "carol", AuthorDate: time.Unix(1001, 0).UTC(), Message: "server edit"}
	putFile(serverCommit, "shared.txt", "server-version")
	serverID := mustPut(t, store, serverCommit)
	bookmarks.values["main"] = serverID

	// Locally pushed commit, based on the old rootID, also touches shared.txt.
	pushed := &Changeset{Parents: []BcsId{rootID}, Author: "bob", AuthorDate: time.Unix(1001, 0).UTC(), Message: "local edit"}
	putFile(pushed, "shared.txt", "local-version")
	pushedID := mustPut(t, store, pushed)

	engine := &Engine{Store: store, Bookmarks: bookmarks}
	_, err := engine.Run(ctx, Request{OntoBookmark: "main", Pushed: []BcsId{pushedID}})
	require.Error(t, err)
	var conflicts *errs.Conflicts
	require.ErrorAs(t, err, &conflicts)
	require.Equal(t, []string{"shared.txt"}, conflicts.Paths)
}

// TestEngineRun_StackedPushWithRenamePreservesRemappedCopyFrom grounds
// scenario 2 (§8): a stacked push where a later commit's file change
// carries copy-from information pointing at an earlier commit in the same
// pushed stack. The rebase must land on a bookmark value that differs from
// the pushed root (so every commit in the stack actually gets a new id),
// and the rebased copy-from must point at the rebased parent's new id, not
// the stale pre-rebase one.
func TestEngineRun_StackedPushWithRenamePreservesRemappedCopyFrom(t *testing.T) {
	store := newMemStore()
	bookmarks := newMemBookmarks()
	ctx := context.Background()

	root := &Changeset{Author: "alice", AuthorDate: time.Unix(1000, 0).UTC(), Message: "root"}
	rootID := mustPut(t, store, root)
	bookmarks.values["main"] = rootID

	// Server-side commit moves main ahead of root on an unrelated path, so
	// every rebased commit in the pushed stack gets parented differently
	// (and thus gets a new id) without any actual content conflict.
	serverCommit := &Changeset{Parents: []BcsId{rootID}, Author: "carol", AuthorDate: time.Unix(1001, 0).UTC(), Message: "server edit"}
	putFile(serverCommit, "unrelated.txt", "server-version")
	serverID := mustPut(t, store, serverCommit)
	bookmarks.values["main"] = serverID

	c1 := &Changeset{Parents: []BcsId{rootID}, Author: "bob", AuthorDate: time.Unix(1001, 0).UTC(), Message: "add a.txt"}
	putFile(c1, "a.txt", "v1")
	c1ID := mustPut(t, store, c1)

	c2 := &Changeset{Parents: []BcsId{c1ID}, Author: "bob", AuthorDate: time.Unix(1002, 0).UTC(), Message: "rename a.txt to b.txt"}
	c2.FileChanges = map[string]*FileChange{
		"b.txt": {Path: "b.txt", ContentID: "v1", CopyFrom: &CopyFrom{Path: "a.txt", FromID: c1ID}},
	}
	c2ID := mustPut(t, store, c2)

	engine := &Engine{Store: store, Bookmarks: bookmarks}
	outcome, err := engine.Run(ctx, Request{OntoBookmark: "main", Pushed: []BcsId{c1ID, c2ID}})
	require.NoError(t, err)
	require.Len(t, outcome.Rebased, 2)

	var rebasedC1, rebasedC2 BcsId
	for _, pair := range outcome.Rebased {
		switch pair.Old {
		case c1ID:
			rebasedC1 = pair.New
		case c2ID:
			rebasedC2 = pair.New
		}
	}
	require.NotEqual(t, BcsId{}, rebasedC1)
	require.NotEqual(t, BcsId{}, rebasedC2)
	// Rebasing onto a moved bookmark reparents c1, so it must get a new id
	// distinct from its pre-rebase one; otherwise this test would pass
	// vacuously even with a stale copy-from.
	require.NotEqual(t, c1ID, rebasedC1)

	rebasedCS, err := store.Get(ctx, rebasedC2)
	require.NoError(t, err)
	fc := rebasedCS.FileChanges["b.txt"]
	require.NotNil(t, fc.CopyFrom)
	require.Equal(t, rebasedC1, fc.CopyFrom.FromID)
}

// TestEngineRun_CasefoldingConflictOnLiveCollision grounds the first half
// of scenario 4: an existing FILE that the pushed branch never deletes
// collides (case-insensitively) with a newly added file.
func TestEngineRun_CasefoldingConflictOnLiveCollision(t *testing.T) {
	store := newMemStore()
	bookmarks := newMemBookmarks()
	ctx := context.Background()

	root := &Changeset{Author: "alice", AuthorDate: time.Unix(1000, 0).UTC(), Message: "root"}
	putFile(root, "FILE", "c0")
	rootID := mustPut(t, store, root)
	bookmarks.values["main"] = rootID

	pushed := &Changeset{Parents: []BcsId{rootID}, Author: "bob", AuthorDate: time.Unix(1001, 0).UTC(), Message: "add file"}
	putFile(pushed, "file", "c1")
	pushedID := mustPut(t, store, pushed)

	engine := &Engine{Store: store, Bookmarks: bookmarks, Cfg: Config{CasefoldingCheck: true}}
	_, err := engine.Run(ctx, Request{OntoBookmark: "main", Pushed: []BcsId{pushedID}})
	require.Error(t, err)
	var conflict *errs.PotentialCaseConflict
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "file", conflict.Path)
}

// TestEngineRun_CasefoldingSucceedsWhenEarlierDeleteClearsLiveness grounds
// the second half of scenario 4: the pushed stack deletes FILE before
// adding file, so by the time the case-colliding add is checked FILE is no
// longer live and the push succeeds.
func TestEngineRun_CasefoldingSucceedsWhenEarlierDeleteClearsLiveness(t *testing.T) {
	store := newMemStore()
	bookmarks := newMemBookmarks()
	ctx := context.Background()

	root := &Changeset{Author: "alice", AuthorDate: time.Unix(1000, 0).UTC(), Message: "root"}
	putFile(root, "FILE", "c0")
	rootID := mustPut(t, store, root)
	bookmarks.values["main"] = rootID

	deleteFile := &Changeset{Parents: []BcsId{rootID}, Author: "bob", AuthorDate: time.Unix(1001, 0).UTC(), Message: "delete FILE"}
	deleteFile.FileChanges = map[string]*FileChange{"FILE": {Path: "FILE", Deleted: true}}
	deleteID := mustPut(t, store, deleteFile)

	addFile := &Changeset{Parents: []BcsId{deleteID}, Author: "bob", AuthorDate: time.Unix(1002, 0).UTC(), Message: "add file"}
	putFile(addFile, "file", "c1")
	addID := mustPut(t, store, addFile)

	engine := &Engine{Store: store, Bookmarks: bookmarks, Cfg: Config{CasefoldingCheck: true}}
	outcome, err := engine.Run(ctx, Request{OntoBookmark: "main", Pushed: []BcsId{deleteID, addID}})
	require.NoError(t, err)
	require.Len(t, outcome.Rebased, 2)
}

func TestEngineRun_ForceFailPushrebase(t *testing.T) {
	store := newMemStore()
	bookmarks := newMemBookmarks()
	ctx := context.Background()

	root := &Changeset{Author: "alice", AuthorDate: time.Unix(1000, 0).UTC(), Message: "root"}
	rootID := mustPut(t, store, root)
	bookmarks.values["main"] = rootID

	poisoned := &Changeset{Parents: []BcsId{rootID}, Author: "carol", AuthorDate: time.Unix(1001, 0).UTC(), Message: "poisoned", Extra: map[string]string{"failpushrebase": "1"}}
	poisonedID := mustPut(t, store, poisoned)
	bookmarks.values["main"] = poisonedID

	pushed := &Changeset{Parents: []BcsId{rootID}, Author: "bob", AuthorDate: time.Unix(1001, 0).UTC(), Message: "local"}
	putFile(pushed, "x.txt", "c1")
	pushedID := mustPut(t, store, pushed)

	engine := &Engine{Store: store, Bookmarks: bookmarks}
	_, err := engine.Run(ctx, Request{OntoBookmark: "main", Pushed: []BcsId{pushedID}})
	require.Error(t, err)
	var forced *errs.ForceFailPushrebase
	require.ErrorAs(t, err, &forced)
}
