package dag

import (
	"context"
	"fmt"

	"github.com/scmforge/scmcore/internal/errs"
)

// Path is an x~n path (§4.6): "follow the first-parent chain n times from
// x", where x is universally-known (present locally since initial clone).
type Path struct {
	X Vertex
	N int
}

// RemoteResolver is the client side of the lazy remote protocol (C6).
// Implementations speak whatever wire protocol the server exposes; this
// package only defines the shape of the request/response and the
// post-processing rules.
type RemoteResolver interface {
	ResolveNamesToRelativePaths(ctx context.Context, heads []Vertex, names []Vertex) ([]ResolvedPath, error)
	ResolveRelativePathsToNames(ctx context.Context, paths []Path) ([]ResolvedPath, error)
}

// ResolvedPath pairs a Path with the trailing vertex list the server
// returned along its first-parent chain.
type ResolvedPath struct {
	Path  Path
	Names []Vertex
}

// ResolveNames looks up names against the overlay and negative cache first;
// anything still unresolved is sent to remote, validated, and recorded.
func (g *Graph) ResolveNames(ctx context.Context, remote RemoteResolver, heads []Vertex, names []Vertex) (map[Vertex]Id, error) {
	out := make(map[Vertex]Id, len(names))
	var unresolved []Vertex

	g.mu.RLock()
	for _, n := range names {
		if id, ok := g.idmap.IdOf(n); ok {
			out[n] = id
			continue
		}
		if id, ok := g.overlay.IdOf(n); ok {
			out[n] = id
			continue
		}
		if g.overlay.IsKnownMissing(n) {
			continue
		}
		unresolved = append(unresolved, n)
	}
	g.mu.RUnlock()

	if len(unresolved) == 0 {
		return out, nil
	}

	resolved, err := remote.ResolveNamesToRelativePaths(ctx, heads, unresolved)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rp := range resolved {
		if err := g.applyResolvedPathLocked(rp); err != nil {
			return nil, err
		}
	}
	for v, id := range g.namesFromPathsLocked(resolved) {
		out[v] = id
	}
	return out, nil
}

// applyResolvedPathLocked validates x is known and within the overlay's
// master span, walks the chain, and records each (Id, Vertex) pair plus
// the raw path for later flush_cached_idmap, per §4.6's post-processing
// rules. Callers must hold g.mu.
func (g *Graph) applyResolvedPathLocked(rp ResolvedPath) error {
	xID, ok := g.idmap.IdOf(rp.Path.X)
	if !ok {
		return &errs.Programming{Msg: fmt.Sprintf("dag: resolved path root %s is not locally known", rp.Path.X)}
	}
	if xID.Group() != Master {
		return &errs.Programming{Msg: fmt.Sprintf("dag: resolved path root %s is not in the master group", rp.Path.X)}
	}

	cur := xID
	for i := 0; i < rp.Path.N; i++ {
		parents := g.parentsLocked(cur)
		if len(parents) == 0 {
			return &errs.NeedSlowPath{Msg: "dag: first-parent chain shorter than declared path length"}
		}
		cur = parents[0]
	}

	for _, name := range rp.Names {
		g.overlay.Record(name, cur, PendingPath{X: rp.Path.X, N: rp.Path.N, Names: rp.Names})
		next := g.parentsLocked(cur)
		if len(next) == 0 {
			break
		}
		cur = next[0]
	}
	return nil
}

func (g *Graph) namesFromPathsLocked(resolved []ResolvedPath) map[Vertex]Id {
	out := make(map[Vertex]Id)
	for _, rp := range resolved {
		for _, name := range rp.Names {
			if id, ok := g.overlay.IdOf(name); ok {
				out[name] = id
			}
		}
	}
	return out
}

// ResolveIds is the reverse direction: id -> vertex via
// resolve_relative_paths_to_names, for ids only known as x~n paths.
func (g *Graph) ResolveIds(ctx context.Context, remote RemoteResolver, paths []Path) (map[Path][]Vertex, error) {
	resolved, err := remote.ResolveRelativePathsToNames(ctx, paths)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[Path][]Vertex, len(resolved))
	for _, rp := range resolved {
		if err := g.applyResolvedPathLocked(rp); err != nil {
			return nil, err
		}
		out[rp.Path] = rp.Names
	}
	return out, nil
}
