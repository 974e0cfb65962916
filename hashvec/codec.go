package hashvec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsorted is returned by Encode when the input is not strictly
// ascending.
var ErrUnsorted = errors.New("hashvec: hash vector is not strictly ascending")

// ErrTruncated is returned by Decode when the input ends before a
// length-prefixed field is fully present.
var ErrTruncated = errors.New("hashvec: truncated hash vector")

// Encode appends the wire encoding of a sorted hash vector to dst: a
// 32-bit little-endian count followed by that many 32-byte hashes in
// ascending order. It is an invariant error to encode an unsorted or
// duplicate-containing vector.
func Encode(dst []byte, hashes []Hash) ([]byte, error) {
	if !IsSorted(hashes) {
		return nil, fmt.Errorf("%w: %d entries", ErrUnsorted, len(hashes))
	}
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(hashes)))
	dst = append(dst, countBuf[:]...)
	for _, h := range hashes {
		dst = append(dst, h[:]...)
	}
	return dst, nil
}

// Decode reads a hash vector from the front of src and returns the
// decoded hashes plus the number of bytes consumed. It does not re-sort
// or validate ordering: whatever order was on the wire is returned
// verbatim.
func Decode(src []byte) ([]Hash, int, error) {
	if len(src) < 4 {
		return nil, 0, ErrTruncated
	}
	count := binary.LittleEndian.Uint32(src[:4])
	need := 4 + int(count)*Length
	if need < 4 || len(src) < need {
		return nil, 0, ErrTruncated
	}
	hashes := make([]Hash, count)
	off := 4
	for i := range hashes {
		copy(hashes[i][:], src[off:off+Length])
		off += Length
	}
	return hashes, need, nil
}
