package backend

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/crdtsync/crdtsync/hashvec"
)

// Change blob layout. The sync layer fixes only the checksum's byte
// offset; the rest is this backend's own choice:
//
//	bytes[0:4]  format version (currently 0)
//	bytes[4:8]  32-bit checksum, little-endian (low 32 bits of xxhash64
//	            over bytes[8:]: dependency count, hashes and payload)
//	bytes[8:12] dependency count, little-endian
//	bytes[12:12+32*depCount] dependency hashes
//	remainder   opaque payload
const (
	changeHeaderLen = 12
)

// ErrMalformedChange is returned when a blob is too short to contain its
// own header.
var ErrMalformedChange = errors.New("backend: malformed change blob")

// NewChange builds a change blob from a dependency list and payload. The
// returned blob's hash (sha256 of the whole blob) is the change's
// identity.
func NewChange(deps []hashvec.Hash, payload []byte) []byte {
	body := make([]byte, 0, 4+len(deps)*hashvec.Length+len(payload))
	var depCountBuf [4]byte
	binary.LittleEndian.PutUint32(depCountBuf[:], uint32(len(deps)))
	body = append(body, depCountBuf[:]...)
	for _, d := range deps {
		body = append(body, d[:]...)
	}
	body = append(body, payload...)

	checksum := uint32(xxhash.Sum64(body))

	blob := make([]byte, 0, changeHeaderLen+len(body))
	blob = append(blob, 0, 0, 0, 0)
	var checksumBuf [4]byte
	binary.LittleEndian.PutUint32(checksumBuf[:], checksum)
	blob = append(blob, checksumBuf[:]...)
	blob = append(blob, body...)
	return blob
}

// HashChange returns the content hash (sha256) of a change blob.
func HashChange(blob []byte) hashvec.Hash {
	return sha256.Sum256(blob)
}

// DecodeChangeMeta extracts the hash and dependencies from a blob built
// by NewChange.
func DecodeChangeMeta(blob []byte) (ChangeMeta, error) {
	if len(blob) < changeHeaderLen {
		return ChangeMeta{}, fmt.Errorf("%w: %d bytes", ErrMalformedChange, len(blob))
	}
	depCount := binary.LittleEndian.Uint32(blob[8:12])
	need := changeHeaderLen + int(depCount)*hashvec.Length
	if need < changeHeaderLen || len(blob) < need {
		return ChangeMeta{}, fmt.Errorf("%w: truncated dependency list", ErrMalformedChange)
	}
	deps := make([]hashvec.Hash, depCount)
	off := changeHeaderLen
	for i := range deps {
		copy(deps[i][:], blob[off:off+hashvec.Length])
		off += hashvec.Length
	}
	return ChangeMeta{Hash: HashChange(blob), Deps: deps}, nil
}

// ChangeChecksum reads the 32-bit checksum at bytes 4-7 of a change
// blob.
func ChangeChecksum(blob []byte) (uint32, error) {
	if len(blob) < 8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformedChange, len(blob))
	}
	return binary.LittleEndian.Uint32(blob[4:8]), nil
}
