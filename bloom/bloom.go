// Package bloom implements the content-addressed Bloom filter used for
// set-reconciliation between sync peers. It uses
// Dillinger-Manolios triple hashing over the first 12 bytes of each
// 32-byte hash, with no false negatives and a serialization format that
// is bit-exact with the wire protocol.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/crdtsync/crdtsync/hashvec"
)

// Default filter parameters.
const (
	DefaultBitsPerEntry uint32 = 10
	DefaultProbes       uint32 = 7
)

// ErrHashLength names the format error of a hash that is not exactly 32
// bytes. Every entry point of this package takes a hashvec.Hash, a
// fixed 32-byte array, so none of them returns it.
var ErrHashLength = errors.New("bloom: hash must be exactly 32 bytes")

// Filter is a probabilistic set of hashes.
type Filter struct {
	numEntries      uint32
	numBitsPerEntry uint32
	numProbes       uint32
	bits            []byte
}

// numBits returns the bit-length of the filter's bit array.
func (f *Filter) numBits() uint64 {
	if f == nil {
		return 0
	}
	return uint64(len(f.bits)) * 8
}

// byteLen returns ceil(numEntries*numBitsPerEntry/8).
func byteLen(numEntries, numBitsPerEntry uint32) int {
	bits := uint64(numEntries) * uint64(numBitsPerEntry)
	return int((bits + 7) / 8)
}

// New builds an empty filter sized for numEntries hashes with the given
// parameters. A numEntries of 0 produces an empty filter.
func New(numEntries, numBitsPerEntry, numProbes uint32) *Filter {
	if numEntries == 0 {
		return &Filter{}
	}
	return &Filter{
		numEntries:      numEntries,
		numBitsPerEntry: numBitsPerEntry,
		numProbes:       numProbes,
		bits:            make([]byte, byteLen(numEntries, numBitsPerEntry)),
	}
}

// FromHashes constructs a filter containing exactly the given hashes,
// using the default parameters.
func FromHashes(hashes []hashvec.Hash) *Filter {
	f := New(uint32(len(hashes)), DefaultBitsPerEntry, DefaultProbes)
	for _, h := range hashes {
		f.Insert(h)
	}
	return f
}

// probeIndices returns the numProbes bit indices for h against a filter
// with bit-length m, using the Dillinger-Manolios recurrence over the
// little-endian uint32 triple (x, y, z) taken from hash bytes 0-11.
func probeIndices(h hashvec.Hash, m uint64, numProbes uint32) []uint64 {
	if m == 0 {
		return nil
	}
	x := uint64(binary.LittleEndian.Uint32(h[0:4]))
	y := uint64(binary.LittleEndian.Uint32(h[4:8]))
	z := uint64(binary.LittleEndian.Uint32(h[8:12]))

	indices := make([]uint64, numProbes)
	for i := uint32(0); i < numProbes; i++ {
		indices[i] = x % m
		x = (x + y) % m
		y = (y + z) % m
	}
	return indices
}

func setBit(bits []byte, idx uint64) {
	bits[idx/8] |= 1 << (idx % 8)
}

func testBit(bits []byte, idx uint64) bool {
	return bits[idx/8]&(1<<(idx%8)) != 0
}

// Insert adds h to the filter. Inserting into a zero-valued (empty)
// filter is a silent no-op: an empty filter has no capacity.
func (f *Filter) Insert(h hashvec.Hash) {
	if f == nil {
		return
	}
	m := f.numBits()
	if m == 0 {
		return
	}
	for _, idx := range probeIndices(h, m, f.numProbes) {
		setBit(f.bits, idx)
	}
}

// Contains reports whether h was (probably) inserted. It never returns a
// false negative. An empty filter (numBits == 0) always returns false.
func (f *Filter) Contains(h hashvec.Hash) bool {
	if f == nil {
		return false
	}
	m := f.numBits()
	if m == 0 {
		return false
	}
	for _, idx := range probeIndices(h, m, f.numProbes) {
		if !testBit(f.bits, idx) {
			return false
		}
	}
	return true
}

// NumEntries returns the number of hashes the filter was sized for.
func (f *Filter) NumEntries() uint32 {
	if f == nil {
		return 0
	}
	return f.numEntries
}

// Encode appends the serialized form of f to dst. An empty filter
// (numEntries == 0) encodes as the zero-length byte string.
func (f *Filter) Encode(dst []byte) []byte {
	if f == nil || f.numEntries == 0 {
		return dst
	}
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], f.numEntries)
	binary.LittleEndian.PutUint32(hdr[4:8], f.numBitsPerEntry)
	binary.LittleEndian.PutUint32(hdr[8:12], f.numProbes)
	dst = append(dst, hdr[:]...)
	dst = append(dst, f.bits...)
	return dst
}

// Decode parses a filter from its serialized form. An empty input yields
// a zero-parameter (empty) filter.
func Decode(src []byte) (*Filter, error) {
	if len(src) == 0 {
		return &Filter{}, nil
	}
	if len(src) < 12 {
		return nil, fmt.Errorf("bloom: truncated header (%d bytes)", len(src))
	}
	f := &Filter{
		numEntries:      binary.LittleEndian.Uint32(src[0:4]),
		numBitsPerEntry: binary.LittleEndian.Uint32(src[4:8]),
		numProbes:       binary.LittleEndian.Uint32(src[8:12]),
	}
	want := byteLen(f.numEntries, f.numBitsPerEntry)
	body := src[12:]
	if len(body) != want {
		return nil, fmt.Errorf("bloom: bit array length %d, want %d", len(body), want)
	}
	f.bits = append([]byte(nil), body...)
	return f, nil
}
