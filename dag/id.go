// Package dag implements the segmented commit graph (C5), its lazy remote
// protocol (C6), and its write paths (C7): Id/Group assignment, flat and
// high-level segments, the bidirectional IdMap with an overlay cache, and
// the algorithms that operate over Id sets.
package dag

import "fmt"

// Group partitions the Id space (E6). MASTER < NON_MASTER < VIRTUAL, and an
// assigned vertex's group must be >= the group of every one of its parents
// (P5 group monotonicity).
type Group uint8

const (
	Master Group = iota
	NonMaster
	Virtual
	numGroups
)

func (g Group) String() string {
	switch g {
	case Master:
		return "MASTER"
	case NonMaster:
		return "NON_MASTER"
	case Virtual:
		return "VIRTUAL"
	default:
		return fmt.Sprintf("Group(%d)", uint8(g))
	}
}

// groupBits is the number of high bits of an Id reserved for the group tag.
// Two bits cover the three defined groups with room for a future one.
const groupBits = 2
const groupShift = 64 - groupBits

// Id is a 64-bit vertex identifier (E6). The top groupBits bits encode the
// Group; the remaining bits are the in-group sequence number.
type Id uint64

// MakeId packs a group and an in-group sequence number into an Id.
func MakeId(g Group, seq uint64) Id {
	return Id(uint64(g)<<groupShift | (seq &^ (uint64(0b11) << groupShift)))
}

// Group extracts the group tag from id.
func (id Id) Group() Group { return Group(uint64(id) >> groupShift) }

// Seq extracts the in-group sequence number.
func (id Id) Seq() uint64 { return uint64(id) &^ (uint64(0b11) << groupShift) }

// MaxId is the largest Id assignable within g ("max_id(group)").
func MaxId(g Group) Id { return MakeId(g, (uint64(1)<<groupShift)-1) }

// MinId is the smallest Id within g (seq 0).
func MinId(g Group) Id { return MakeId(g, 0) }

// Next returns id+1, staying within the same group. Callers must check
// against MaxId before relying on this not overflowing into the next group.
func (id Id) Next() Id { return id + 1 }

// Prev returns id-1.
func (id Id) Prev() Id { return id - 1 }

// Less orders Ids naturally: within a group by sequence, and across groups
// by MASTER < NON_MASTER < VIRTUAL (true because of how the bits are packed).
func (id Id) Less(other Id) bool { return id < other }

// Vertex is an opaque commit identifier (E5): 20 raw bytes, as produced by
// the hg/bonsai hashing schemes.
type Vertex [20]byte

func (v Vertex) String() string { return fmt.Sprintf("%x", v[:]) }

// IsNull reports whether v is the all-zero sentinel used for "no parent".
func (v Vertex) IsNull() bool { return v == Vertex{} }
