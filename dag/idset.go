package dag

import (
	roaring "github.com/RoaringBitmap/roaring/v2/roaring64"
)

// IdSet is a set of Ids backed by a 64-bit roaring bitmap. Because Id packs
// its Group into the top bits, a single bitmap naturally keeps MASTER <
// NON_MASTER < VIRTUAL ordering without any extra bookkeeping, and
// group-crossing unions (which should never happen in practice, but are
// cheap to support) are explicit bitmap unions.
type IdSet struct {
	bm *roaring.Bitmap
}

// NewIdSet returns an empty set.
func NewIdSet() *IdSet { return &IdSet{bm: roaring.New()} }

// IdSetOf builds a set from explicit members.
func IdSetOf(ids ...Id) *IdSet {
	s := NewIdSet()
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// IdSetRange builds the inclusive [low, high] span as a set.
func IdSetRange(low, high Id) *IdSet {
	s := NewIdSet()
	if low > high {
		return s
	}
	s.bm.AddRange(uint64(low), uint64(high)+1)
	return s
}

func (s *IdSet) Add(id Id)      { s.bm.Add(uint64(id)) }
func (s *IdSet) Remove(id Id)   { s.bm.Remove(uint64(id)) }
func (s *IdSet) Contains(id Id) bool { return s.bm.Contains(uint64(id)) }
func (s *IdSet) IsEmpty() bool  { return s.bm.IsEmpty() }
func (s *IdSet) Len() uint64    { return s.bm.GetCardinality() }

// Clone returns a deep copy.
func (s *IdSet) Clone() *IdSet { return &IdSet{bm: s.bm.Clone()} }

// Union returns the union of s and other, without mutating either.
func (s *IdSet) Union(other *IdSet) *IdSet {
	out := s.bm.Clone()
	out.Or(other.bm)
	return &IdSet{bm: out}
}

// Intersect returns s ∩ other.
func (s *IdSet) Intersect(other *IdSet) *IdSet {
	out := s.bm.Clone()
	out.And(other.bm)
	return &IdSet{bm: out}
}

// Difference returns s \ other.
func (s *IdSet) Difference(other *IdSet) *IdSet {
	out := s.bm.Clone()
	out.AndNot(other.bm)
	return &IdSet{bm: out}
}

// Max returns the greatest Id in s, or (0, false) if empty.
func (s *IdSet) Max() (Id, bool) {
	if s.bm.IsEmpty() {
		return 0, false
	}
	return Id(s.bm.Maximum()), true
}

// Min returns the smallest Id in s, or (0, false) if empty.
func (s *IdSet) Min() (Id, bool) {
	if s.bm.IsEmpty() {
		return 0, false
	}
	return Id(s.bm.Minimum()), true
}

// ToSliceAscending returns the members in ascending Id order.
func (s *IdSet) ToSliceAscending() []Id {
	raw := s.bm.ToArray()
	out := make([]Id, len(raw))
	for i, v := range raw {
		out[i] = Id(v)
	}
	return out
}

// ToSliceDescending returns the members in descending Id order, the
// default iteration order for query results per §4.5.
func (s *IdSet) ToSliceDescending() []Id {
	asc := s.ToSliceAscending()
	out := make([]Id, len(asc))
	for i, id := range asc {
		out[len(asc)-1-i] = id
	}
	return out
}

// ForEachDescending calls fn for each member, from greatest to least,
// stopping early if fn returns false.
func (s *IdSet) ForEachDescending(fn func(Id) bool) {
	for _, id := range s.ToSliceDescending() {
		if !fn(id) {
			return
		}
	}
}
