// Package hashvec implements the fixed-width content hash used
// throughout the sync protocol and the length-prefixed sorted hash
// vector encoding used on the wire.
package hashvec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

// Length is the size in bytes of a Hash.
const Length = 32

// ErrHashLength is returned when a byte slice is not exactly Length bytes.
var ErrHashLength = errors.New("hashvec: hash must be exactly 32 bytes")

// Hash is the 32-byte content hash of a change. It is comparable and usable
// as a map key, and sorts by its lowercase hex form.
type Hash [Length]byte

// FromBytes builds a Hash from a byte slice, which must be exactly Length
// bytes long.
func FromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Length {
		return h, fmt.Errorf("%w: got %d", ErrHashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Bytes returns the raw 32 bytes of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the 64-character lowercase hex representation of the hash.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// String implements fmt.Stringer as the hex form.
func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Less reports whether h sorts strictly before other by hex form.
func (h Hash) Less(other Hash) bool {
	for i := 0; i < Length; i++ {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// HexToHash parses a 64-character lowercase hex string into a Hash.
func HexToHash(s string) (Hash, error) {
	var h Hash
	if len(s) != Length*2 {
		return h, fmt.Errorf("%w: hex string length %d", ErrHashLength, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hashvec: invalid hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Sort sorts a slice of hashes ascending by hex form, in place.
func Sort(hashes []Hash) {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
}

// IsSorted reports whether hashes is strictly ascending with no
// equal-adjacent duplicates.
func IsSorted(hashes []Hash) bool {
	for i := 1; i < len(hashes); i++ {
		if !hashes[i-1].Less(hashes[i]) {
			return false
		}
	}
	return true
}

// Dedup returns a new slice with adjacent duplicates removed from an
// already-sorted input. The input is assumed sorted; callers that cannot
// guarantee this should call SortDedup instead.
func Dedup(hashes []Hash) []Hash {
	if len(hashes) == 0 {
		return hashes
	}
	out := make([]Hash, 0, len(hashes))
	out = append(out, hashes[0])
	for _, h := range hashes[1:] {
		if h != out[len(out)-1] {
			out = append(out, h)
		}
	}
	return out
}

// SortDedup returns a new sorted slice of hashes with duplicates removed.
func SortDedup(hashes []Hash) []Hash {
	cp := make([]Hash, len(hashes))
	copy(cp, hashes)
	Sort(cp)
	return Dedup(cp)
}

// Union returns the sorted, deduplicated union of a and b.
func Union(a, b []Hash) []Hash {
	combined := make([]Hash, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	return SortDedup(combined)
}

// Intersect returns the sorted, deduplicated intersection of a and b.
func Intersect(a, b []Hash) []Hash {
	set := make(map[Hash]struct{}, len(b))
	for _, h := range b {
		set[h] = struct{}{}
	}
	var out []Hash
	for _, h := range a {
		if _, ok := set[h]; ok {
			out = append(out, h)
		}
	}
	return SortDedup(out)
}

// Diff returns the sorted, deduplicated set a \ b.
func Diff(a, b []Hash) []Hash {
	set := make(map[Hash]struct{}, len(b))
	for _, h := range b {
		set[h] = struct{}{}
	}
	var out []Hash
	for _, h := range a {
		if _, ok := set[h]; !ok {
			out = append(out, h)
		}
	}
	return SortDedup(out)
}

// Equal reports whether a and b contain the same hashes in the same order.
func Equal(a, b []Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EqualAsSets reports whether a and b contain the same hashes, ignoring order.
func EqualAsSets(a, b []Hash) bool {
	return Equal(SortDedup(a), SortDedup(b))
}
