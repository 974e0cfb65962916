// Package wire implements the sync message and persisted peer-state wire
// codecs: bit-exact binary formats for exchanging sync
// state between peers and for persisting the durable subset of a peer's
// sync state across restarts.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/crdtsync/crdtsync/bloom"
	"github.com/crdtsync/crdtsync/hashvec"
)

// Magic bytes identifying the two wire formats.
const (
	MagicSyncMessage byte = 0x42
	MagicPeerState   byte = 0x43
)

// RecommendedMaxMessageSize is a host-level soft limit. The codec
// itself has no size limit and never enforces this.
const RecommendedMaxMessageSize = 1 << 20

var (
	// ErrBadMagic is returned when the leading type byte doesn't match
	// the expected format.
	ErrBadMagic = errors.New("wire: unrecognised message magic byte")
	// ErrTruncated is returned when the input ends before a field is
	// fully present.
	ErrTruncated = errors.New("wire: truncated input")
)

// HaveEntry is a peer's claim: "I hold everything reachable from
// LastSync, plus what Bloom probabilistically matches".
type HaveEntry struct {
	LastSync []hashvec.Hash
	Bloom    *bloom.Filter
}

// SyncMessage is the unit exchanged between peers.
type SyncMessage struct {
	Heads   []hashvec.Hash
	Need    []hashvec.Hash
	Have    []HaveEntry
	Changes [][]byte
}

// appendUint32 appends v as 4 little-endian bytes.
func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// appendPrefixedBytes appends a uint32 length prefix followed by data.
func appendPrefixedBytes(dst, data []byte) []byte {
	dst = appendUint32(dst, uint32(len(data)))
	return append(dst, data...)
}

// readUint32 reads a little-endian uint32 from the front of src.
func readUint32(src []byte) (uint32, int, error) {
	if len(src) < 4 {
		return 0, 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(src[:4]), 4, nil
}

// readPrefixedBytes reads a uint32 length prefix plus that many bytes
// from the front of src, returning the data and bytes consumed. Every
// caller in this package invokes it exactly once per field.
func readPrefixedBytes(src []byte) ([]byte, int, error) {
	length, n, err := readUint32(src)
	if err != nil {
		return nil, 0, err
	}
	end := n + int(length)
	if end < n || len(src) < end {
		return nil, 0, ErrTruncated
	}
	return src[n:end], end, nil
}

// EncodeSyncMessage serializes msg. A nil Changes field is
// treated identically to an empty slice, so the encoded message always
// carries a well-formed (possibly zero-length) change count.
func EncodeSyncMessage(msg SyncMessage) ([]byte, error) {
	out := []byte{MagicSyncMessage}

	var err error
	out, err = hashvec.Encode(out, msg.Heads)
	if err != nil {
		return nil, fmt.Errorf("wire: encode heads: %w", err)
	}
	out, err = hashvec.Encode(out, msg.Need)
	if err != nil {
		return nil, fmt.Errorf("wire: encode need: %w", err)
	}

	out = appendUint32(out, uint32(len(msg.Have)))
	for i, have := range msg.Have {
		out, err = hashvec.Encode(out, have.LastSync)
		if err != nil {
			return nil, fmt.Errorf("wire: encode have[%d].lastSync: %w", i, err)
		}
		out = appendPrefixedBytes(out, have.Bloom.Encode(nil))
	}

	changes := msg.Changes
	out = appendUint32(out, uint32(len(changes)))
	for _, change := range changes {
		out = appendPrefixedBytes(out, change)
	}

	return out, nil
}

// DecodeSyncMessage parses a SyncMessage from raw wire bytes. Trailing
// bytes after the final change are ignored for forward compatibility.
func DecodeSyncMessage(src []byte) (SyncMessage, error) {
	var msg SyncMessage
	if len(src) == 0 || src[0] != MagicSyncMessage {
		return msg, fmt.Errorf("%w: sync message", ErrBadMagic)
	}
	cur := src[1:]

	heads, n, err := hashvec.Decode(cur)
	if err != nil {
		return msg, fmt.Errorf("wire: decode heads: %w", err)
	}
	cur = cur[n:]

	need, n, err := hashvec.Decode(cur)
	if err != nil {
		return msg, fmt.Errorf("wire: decode need: %w", err)
	}
	cur = cur[n:]

	haveCount, n, err := readUint32(cur)
	if err != nil {
		return msg, fmt.Errorf("wire: decode haveCount: %w", err)
	}
	cur = cur[n:]

	haves := make([]HaveEntry, haveCount)
	for i := range haves {
		lastSync, n, err := hashvec.Decode(cur)
		if err != nil {
			return msg, fmt.Errorf("wire: decode have[%d].lastSync: %w", i, err)
		}
		cur = cur[n:]

		bloomBytes, n, err := readPrefixedBytes(cur)
		if err != nil {
			return msg, fmt.Errorf("wire: decode have[%d].bloom: %w", i, err)
		}
		cur = cur[n:]

		filter, err := bloom.Decode(bloomBytes)
		if err != nil {
			return msg, fmt.Errorf("wire: decode have[%d].bloom: %w", i, err)
		}

		haves[i] = HaveEntry{LastSync: lastSync, Bloom: filter}
	}

	changeCount, n, err := readUint32(cur)
	if err != nil {
		return msg, fmt.Errorf("wire: decode changeCount: %w", err)
	}
	cur = cur[n:]

	changes := make([][]byte, changeCount)
	for i := range changes {
		data, n, err := readPrefixedBytes(cur)
		if err != nil {
			return msg, fmt.Errorf("wire: decode changes[%d]: %w", i, err)
		}
		cur = cur[n:]
		changes[i] = append([]byte(nil), data...)
	}

	msg.Heads = heads
	msg.Need = need
	msg.Have = haves
	msg.Changes = changes
	return msg, nil
}
