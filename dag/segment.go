package dag

import (
	"fmt"
	"sort"

	"github.com/google/btree"
)

// FlatSegment is E7: a maximal linear run of Ids where every non-low member
// has its immediate predecessor as its sole parent (P6 flat segment
// linearity). `Parents` holds the parents of `Low` itself (zero or more;
// more than one only at the very first Id of a merge).
type FlatSegment struct {
	Low, High Id
	Parents   []Id
}

// Len returns the number of Ids the segment covers.
func (s FlatSegment) Len() uint64 { return uint64(s.High) - uint64(s.Low) + 1 }

// Contains reports whether id falls within [Low, High].
func (s FlatSegment) Contains(id Id) bool { return id >= s.Low && id <= s.High }

// segKey orders flat segments by (group, low) so a btree gives O(log n)
// "segment containing id" and range queries.
type segKey struct {
	group Group
	low   Id
}

func (a segKey) Less(b segKey) bool {
	if a.group != b.group {
		return a.group < b.group
	}
	return a.low < b.low
}

type segItem struct {
	key segKey
	seg FlatSegment
}

func segItemLess(a, b segItem) bool { return a.key.Less(b.key) }

// FlatSegments indexes a group's flat segments by Low Id in a BTreeG, the
// way the teacher's snapshot-range index does for its own interval lookups.
type FlatSegments struct {
	tree *btree.BTreeG[segItem]
}

// NewFlatSegments returns an empty index.
func NewFlatSegments() *FlatSegments {
	return &FlatSegments{tree: btree.NewG(32, segItemLess)}
}

// Insert adds or replaces the flat segment starting at seg.Low within its group.
func (fs *FlatSegments) Insert(g Group, seg FlatSegment) {
	fs.tree.ReplaceOrInsert(segItem{key: segKey{group: g, low: seg.Low}, seg: seg})
}

// Remove deletes the segment starting at low within g, if any.
func (fs *FlatSegments) Remove(g Group, low Id) {
	fs.tree.Delete(segItem{key: segKey{group: g, low: low}})
}

// SegmentContaining returns the flat segment covering id, if any.
func (fs *FlatSegments) SegmentContaining(g Group, id Id) (FlatSegment, bool) {
	var found FlatSegment
	var ok bool
	fs.tree.DescendLessOrEqual(segItem{key: segKey{group: g, low: id}}, func(item segItem) bool {
		if item.key.group != g {
			return false
		}
		if item.seg.Contains(id) {
			found, ok = item.seg, true
		}
		return false
	})
	return found, ok
}

// AscendGroup visits every flat segment of g in ascending Low order.
func (fs *FlatSegments) AscendGroup(g Group, fn func(FlatSegment) bool) {
	fs.tree.AscendGreaterOrEqual(segItem{key: segKey{group: g, low: MinId(g)}}, func(item segItem) bool {
		if item.key.group != g {
			return false
		}
		return fn(item.seg)
	})
}

// All returns every flat segment across all groups, ordered by (group, low).
func (fs *FlatSegments) All() []FlatSegment {
	var out []FlatSegment
	fs.tree.Ascend(func(item segItem) bool {
		out = append(out, item.seg)
		return true
	})
	return out
}

// HighLevelSegment is E8: derived metadata grouping a run of adjacent flat
// segments to accelerate ancestor/range queries. It must always be
// rebuildable from, and consistent with, the flat segments it covers.
type HighLevelSegment struct {
	Low, High Id
	// FlatLows are the Low ids of each flat segment this high-level segment
	// spans, in ascending order.
	FlatLows []Id
}

// BuildHighLevelSegments groups consecutive flat segments of a group into
// high-level segments, merging runs where each segment's Low is exactly
// one past the previous segment's High (i.e. no branch point between them
// beyond the ordinary single-parent chain).
func BuildHighLevelSegments(flats []FlatSegment) []HighLevelSegment {
	sorted := append([]FlatSegment(nil), flats...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Low < sorted[j].Low })

	var out []HighLevelSegment
	var cur *HighLevelSegment
	for _, f := range sorted {
		if cur != nil && f.Low == cur.High.Next() && len(f.Parents) <= 1 {
			cur.High = f.High
			cur.FlatLows = append(cur.FlatLows, f.Low)
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &HighLevelSegment{Low: f.Low, High: f.High, FlatLows: []Id{f.Low}}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

func (s HighLevelSegment) String() string {
	return fmt.Sprintf("HighLevelSegment[%d..%d over %d flat segs]", s.Low, s.High, len(s.FlatLows))
}
