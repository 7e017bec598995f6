package region

import (
	"bytes"
	"encoding/json"

	"github.com/google/btree"
)

// Entry pairs a region with the value assigned to it.
type Entry[T any] struct {
	Region Region
	Value  T
}

// Map is a total function from a region to values of type T, represented as
// a set of disjoint rectangles. Entries are kept ordered by (key start, hash
// begin), so Visit walks key subshards first and hash slices within each.
type Map[T any] struct {
	tree *btree.BTreeG[Entry[T]]
}

func entryLess[T any](a, b Entry[T]) bool {
	if c := bytes.Compare(a.Region.Keys.Start, b.Region.Keys.Start); c != 0 {
		return c < 0
	}
	return a.Region.Hash.Begin < b.Region.Hash.Begin
}

func newTree[T any]() *btree.BTreeG[Entry[T]] {
	return btree.NewG(8, entryLess[T])
}

// NewMap builds a constant map assigning v to every point of r.
func NewMap[T any](r Region, v T) *Map[T] {
	m := &Map[T]{tree: newTree[T]()}
	if !r.IsEmpty() {
		m.tree.ReplaceOrInsert(Entry[T]{Region: r, Value: v})
	}
	return m
}

// Len returns the number of stored entries.
func (m *Map[T]) Len() int {
	return m.tree.Len()
}

// Entries returns the stored entries in canonical visit order.
func (m *Map[T]) Entries() []Entry[T] {
	out := make([]Entry[T], 0, m.tree.Len())
	m.tree.Ascend(func(e Entry[T]) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Visit calls fn for every stored piece intersecting r, clipped to r, in
// canonical order.
func (m *Map[T]) Visit(r Region, fn func(Region, T)) {
	if r.IsEmpty() {
		return
	}
	m.tree.Ascend(func(e Entry[T]) bool {
		piece := e.Region.Intersect(r)
		if !piece.IsEmpty() {
			fn(piece, e.Value)
		}
		return true
	})
}

// Update splits the stored entries along the boundary of r and replaces the
// value of every piece inside r with fn(piece, clone(old)). clone must
// return a value safe to mutate independently of the original; pieces that
// stay outside r keep a cloned value as well, since splitting an entry may
// otherwise alias reference-typed values.
func (m *Map[T]) Update(r Region, clone func(T) T, fn func(Region, T) T) {
	if r.IsEmpty() {
		return
	}
	next := newTree[T]()
	m.tree.Ascend(func(e Entry[T]) bool {
		piece := e.Region.Intersect(r)
		if piece.IsEmpty() {
			next.ReplaceOrInsert(e)
			return true
		}
		for _, rest := range subtract(e.Region, piece) {
			next.ReplaceOrInsert(Entry[T]{Region: rest, Value: clone(e.Value)})
		}
		next.ReplaceOrInsert(Entry[T]{Region: piece, Value: fn(piece, clone(e.Value))})
		return true
	})
	m.tree = next
}

// subtract returns outer minus inner as up to four rectangles. inner must be
// contained in outer (it is always an intersection with outer).
func subtract(outer, inner Region) []Region {
	var out []Region
	add := func(r Region) {
		if !r.IsEmpty() {
			out = append(out, r)
		}
	}
	if len(inner.Keys.Start) > 0 {
		add(Region{Hash: outer.Hash, Keys: KeyRange{Start: outer.Keys.Start, End: inner.Keys.Start}})
	}
	if !inner.Keys.Unbounded() {
		add(Region{Hash: outer.Hash, Keys: KeyRange{Start: inner.Keys.End, End: outer.Keys.End}})
	}
	add(Region{Hash: HashRange{Begin: outer.Hash.Begin, End: inner.Hash.Begin}, Keys: inner.Keys})
	add(Region{Hash: HashRange{Begin: inner.Hash.End, End: outer.Hash.End}, Keys: inner.Keys})
	return out
}

// MapValues builds a new map over r by transforming each visited piece.
func MapValues[T, U any](m *Map[T], r Region, fn func(Region, T) U) *Map[U] {
	out := &Map[U]{tree: newTree[U]()}
	m.Visit(r, func(reg Region, v T) {
		out.tree.ReplaceOrInsert(Entry[U]{Region: reg, Value: fn(reg, v)})
	})
	return out
}

// MapMulti builds a new map over r where fn may itself subdivide each piece.
// The map returned by fn must cover the piece it was called for.
func MapMulti[T, U any](m *Map[T], r Region, fn func(Region, T) *Map[U]) *Map[U] {
	out := &Map[U]{tree: newTree[U]()}
	m.Visit(r, func(reg Region, v T) {
		sub := fn(reg, v)
		sub.Visit(reg, func(subReg Region, u U) {
			out.tree.ReplaceOrInsert(Entry[U]{Region: subReg, Value: u})
		})
	})
	return out
}

// FromFragments assembles a map from disjoint fragments in any order, then
// coalesces adjacent fragments with equal values. Empty fragments are
// dropped.
func FromFragments[T any](frags []Entry[T], eq func(a, b T) bool) *Map[T] {
	m := &Map[T]{tree: newTree[T]()}
	for _, f := range frags {
		if !f.Region.IsEmpty() {
			m.tree.ReplaceOrInsert(f)
		}
	}
	m.Coalesce(eq)
	return m
}

// Coalesce joins adjacent regions holding equal values until no join is
// possible. Two regions join when they tile a rectangle exactly, either
// along the key axis or along the hash axis.
func (m *Map[T]) Coalesce(eq func(a, b T) bool) {
	entries := m.Entries()
	for {
		merged, changed := coalesceOnce(entries, eq)
		entries = merged
		if !changed {
			break
		}
	}
	next := newTree[T]()
	for _, e := range entries {
		next.ReplaceOrInsert(e)
	}
	m.tree = next
}

func coalesceOnce[T any](entries []Entry[T], eq func(a, b T) bool) ([]Entry[T], bool) {
	for i := range entries {
		for j := range entries {
			if i == j {
				continue
			}
			joined, ok := join(entries[i].Region, entries[j].Region)
			if !ok || !eq(entries[i].Value, entries[j].Value) {
				continue
			}
			out := make([]Entry[T], 0, len(entries)-1)
			for k, e := range entries {
				if k == i || k == j {
					continue
				}
				out = append(out, e)
			}
			out = append(out, Entry[T]{Region: joined, Value: entries[i].Value})
			return out, true
		}
	}
	return entries, false
}

type entryJSON[T any] struct {
	Region Region `json:"region"`
	Value  T      `json:"value"`
}

// MarshalJSON serializes the map as its entry list in canonical order.
func (m *Map[T]) MarshalJSON() ([]byte, error) {
	entries := make([]entryJSON[T], 0, m.Len())
	for _, e := range m.Entries() {
		entries = append(entries, entryJSON[T]{Region: e.Region, Value: e.Value})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON restores the map from an entry list.
func (m *Map[T]) UnmarshalJSON(data []byte) error {
	var entries []entryJSON[T]
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	m.tree = newTree[T]()
	for _, e := range entries {
		if !e.Region.IsEmpty() {
			m.tree.ReplaceOrInsert(Entry[T]{Region: e.Region, Value: e.Value})
		}
	}
	return nil
}

// join returns the union of a and b when they tile a rectangle exactly, with
// a preceding b along the joined axis.
func join(a, b Region) (Region, bool) {
	if a.Hash == b.Hash && !a.Keys.Unbounded() && bytes.Equal(a.Keys.End, b.Keys.Start) {
		return Region{Hash: a.Hash, Keys: KeyRange{Start: a.Keys.Start, End: b.Keys.End}}, true
	}
	if a.Keys.Equal(b.Keys) && a.Hash.End == b.Hash.Begin {
		return Region{Hash: HashRange{Begin: a.Hash.Begin, End: b.Hash.End}, Keys: a.Keys}, true
	}
	return Region{}, false
}
