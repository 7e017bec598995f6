package region

import (
	"bytes"
	"fmt"
)

const (
	// HashSize is the exclusive upper bound of the hash space. Every hash
	// range lies inside [0, HashSize).
	HashSize uint64 = 1 << 60

	// CPUShardingFactor is the fixed number of hash-space slices used to
	// spread a table across data-plane threads. Contracts never span a CPU
	// shard boundary.
	CPUShardingFactor = 8
)

// KeyRange describes the inclusive-exclusive key range of a region.
// An empty End denotes infinity; the empty Start is the minimum key.
type KeyRange struct {
	Start []byte
	End   []byte
}

// Unbounded reports whether the range extends to the maximum key.
func (k KeyRange) Unbounded() bool {
	return len(k.End) == 0
}

// IsEmpty reports whether the range contains no keys.
func (k KeyRange) IsEmpty() bool {
	return !k.Unbounded() && bytes.Compare(k.Start, k.End) >= 0
}

// Equal reports whether two key ranges cover the same keys.
func (k KeyRange) Equal(o KeyRange) bool {
	return bytes.Equal(k.Start, o.Start) && k.Unbounded() == o.Unbounded() &&
		bytes.Equal(k.End, o.End)
}

// Intersect returns the overlap of two key ranges. The result may be empty.
func (k KeyRange) Intersect(o KeyRange) KeyRange {
	out := KeyRange{Start: k.Start, End: k.End}
	if bytes.Compare(o.Start, out.Start) > 0 {
		out.Start = o.Start
	}
	if !o.Unbounded() && (out.Unbounded() || bytes.Compare(o.End, out.End) < 0) {
		out.End = o.End
	}
	return out
}

// Clone returns a copy that shares no byte slices with the receiver.
func (k KeyRange) Clone() KeyRange {
	out := KeyRange{Start: append([]byte(nil), k.Start...)}
	if !k.Unbounded() {
		out.End = append([]byte(nil), k.End...)
	}
	return out
}

// HashRange is a half-open interval [Begin, End) of the hash space.
type HashRange struct {
	Begin uint64
	End   uint64
}

// IsEmpty reports whether the interval contains no hash values.
func (h HashRange) IsEmpty() bool {
	return h.Begin >= h.End
}

// Intersect returns the overlap of two hash ranges.
func (h HashRange) Intersect(o HashRange) HashRange {
	out := h
	if o.Begin > out.Begin {
		out.Begin = o.Begin
	}
	if o.End < out.End {
		out.End = o.End
	}
	return out
}

// Region is a rectangle in (hash, key) space: the cross product of a hash
// range and a key range.
type Region struct {
	Hash HashRange
	Keys KeyRange
}

// Universe covers the entire hash and key space.
func Universe() Region {
	return Region{Hash: HashRange{Begin: 0, End: HashSize}}
}

// KeySpan covers the given key range across the full hash space.
func KeySpan(keys KeyRange) Region {
	return Region{Hash: HashRange{Begin: 0, End: HashSize}, Keys: keys}
}

// IsEmpty reports whether the region covers nothing.
func (r Region) IsEmpty() bool {
	return r.Hash.IsEmpty() || r.Keys.IsEmpty()
}

// Intersect returns the rectangle common to both regions.
func (r Region) Intersect(o Region) Region {
	return Region{Hash: r.Hash.Intersect(o.Hash), Keys: r.Keys.Intersect(o.Keys)}
}

// Equal reports whether two regions cover exactly the same rectangle.
func (r Region) Equal(o Region) bool {
	return r.Hash == o.Hash && r.Keys.Equal(o.Keys)
}

// Clone returns a copy sharing no byte slices with the receiver.
func (r Region) Clone() Region {
	return Region{Hash: r.Hash, Keys: r.Keys.Clone()}
}

// Compare orders regions by (hash begin, key start). This is the order used
// when region sets are reported or persisted.
func Compare(a, b Region) int {
	if a.Hash.Begin != b.Hash.Begin {
		if a.Hash.Begin < b.Hash.Begin {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.Keys.Start, b.Keys.Start)
}

func (r Region) String() string {
	end := "inf"
	if !r.Keys.Unbounded() {
		end = fmt.Sprintf("%q", r.Keys.End)
	}
	return fmt.Sprintf("{hash [%#x,%#x) keys [%q,%s)}", r.Hash.Begin, r.Hash.End, r.Keys.Start, end)
}

// CPUShardSubspace returns the hash-space slice assigned to CPU shard i.
func CPUShardSubspace(i int) Region {
	width := HashSize / CPUShardingFactor
	return Region{
		Hash: HashRange{Begin: uint64(i) * width, End: uint64(i+1) * width},
	}
}

// CPUShardApproxNumber maps a region to the index of the CPU shard its hash
// range begins in. Used only for log line identifiers.
func CPUShardApproxNumber(r Region) int {
	width := HashSize / CPUShardingFactor
	return int(r.Hash.Begin / width)
}
