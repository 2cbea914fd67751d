package dag

// This file implements the §4.5 Id-set algorithms. Vertex-level callers
// should resolve via Graph.IdOf/VertexOf first; these operate purely on
// Ids and the segment/child-edge structure, in descending-Id iteration
// order per §4.5 unless the operation's definition says otherwise.

// ParentsSet implements parents(X): the union of Parents(id) for id in X.
func (g *Graph) ParentsSet(x *IdSet) *IdSet {
	out := NewIdSet()
	x.ForEachDescending(func(id Id) bool {
		for _, p := range g.Parents(id) {
			out.Add(p)
		}
		return true
	})
	return out
}

// ChildrenSet implements children(X).
func (g *Graph) ChildrenSet(x *IdSet) *IdSet {
	out := NewIdSet()
	x.ForEachDescending(func(id Id) bool {
		for _, c := range g.Children(id) {
			out.Add(c)
		}
		return true
	})
	return out
}

// Heads implements heads(X): members of X with no child also in X.
func (g *Graph) Heads(x *IdSet) *IdSet {
	out := NewIdSet()
	x.ForEachDescending(func(id Id) bool {
		hasChildInX := false
		for _, c := range g.Children(id) {
			if x.Contains(c) {
				hasChildInX = true
				break
			}
		}
		if !hasChildInX {
			out.Add(id)
		}
		return true
	})
	return out
}

// Roots implements roots(X): members of X with no parent also in X.
func (g *Graph) Roots(x *IdSet) *IdSet {
	out := NewIdSet()
	x.ForEachDescending(func(id Id) bool {
		hasParentInX := false
		for _, p := range g.Parents(id) {
			if x.Contains(p) {
				hasParentInX = true
				break
			}
		}
		if !hasParentInX {
			out.Add(id)
		}
		return true
	})
	return out
}

// Ancestors implements ancestors(X): the closure of X under Parents,
// including X itself.
func (g *Graph) Ancestors(x *IdSet) *IdSet {
	return g.closure(x, g.Parents)
}

// FirstAncestors implements first_ancestors(X): the closure of X under the
// first-parent relation only.
func (g *Graph) FirstAncestors(x *IdSet) *IdSet {
	firstParent := func(id Id) []Id {
		p := g.Parents(id)
		if len(p) == 0 {
			return nil
		}
		return p[:1]
	}
	return g.closure(x, firstParent)
}

// Descendants implements descendants(X): the closure of X under Children,
// including X itself.
func (g *Graph) Descendants(x *IdSet) *IdSet {
	return g.closure(x, g.Children)
}

func (g *Graph) closure(seed *IdSet, step func(Id) []Id) *IdSet {
	out := seed.Clone()
	queue := seed.ToSliceDescending()
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, next := range step(id) {
			if !out.Contains(next) {
				out.Add(next)
				queue = append(queue, next)
			}
		}
	}
	return out
}

// Range implements range(R,H) = descendants(R) ∩ ancestors(H).
func (g *Graph) Range(r, h *IdSet) *IdSet {
	return g.Descendants(r).Intersect(g.Ancestors(h))
}

// IsAncestor reports whether a is an ancestor of (or equal to) d.
func (g *Graph) IsAncestor(a, d Id) bool {
	return g.Ancestors(IdSetOf(d)).Contains(a)
}

// CommonAncestors implements common_ancestors(X): Ids that are ancestors
// of every member of X.
func (g *Graph) CommonAncestors(x *IdSet) *IdSet {
	members := x.ToSliceAscending()
	if len(members) == 0 {
		return NewIdSet()
	}
	acc := g.Ancestors(IdSetOf(members[0]))
	for _, m := range members[1:] {
		acc = acc.Intersect(g.Ancestors(IdSetOf(m)))
	}
	return acc
}

// GcaAll implements gca_all(X): the maximal elements of common_ancestors(X)
// — common ancestors that are not themselves an ancestor of another common
// ancestor.
func (g *Graph) GcaAll(x *IdSet) *IdSet {
	common := g.CommonAncestors(x)
	return g.Heads(common)
}

// GcaOne implements gca_one(X): the greatest (by Id) member of gca_all(X).
func (g *Graph) GcaOne(x *IdSet) (Id, bool) {
	return g.GcaAll(x).Max()
}

// HeadsAncestors implements heads_ancestors(X): the smallest Y ⊆ X with
// ancestors(Y) = ancestors(X). When X is already closed under ancestors
// (the expected calling convention — see §4.5), this is exactly heads(X),
// computed without the extra ancestors(heads(X)) pass heads(ancestors(X))
// would need.
func (g *Graph) HeadsAncestors(x *IdSet) *IdSet {
	return g.Heads(x)
}

// Merges implements merges(X): members of X with more than one parent.
func (g *Graph) Merges(x *IdSet) *IdSet {
	out := NewIdSet()
	x.ForEachDescending(func(id Id) bool {
		if len(g.Parents(id)) > 1 {
			out.Add(id)
		}
		return true
	})
	return out
}

// FirstAncestorNth implements first_ancestor_nth(v, n): walk the
// first-parent chain n times from v.
func (g *Graph) FirstAncestorNth(v Id, n int) (Id, bool) {
	cur := v
	for i := 0; i < n; i++ {
		parents := g.Parents(cur)
		if len(parents) == 0 {
			return 0, false
		}
		cur = parents[0]
	}
	return cur, true
}
