// Package dedup filters already-sent changes out of a candidate batch
// before it goes on the wire. It is checksum-indexed so a
// peer with a long sync history doesn't pay an O(n·m) full-bytes
// comparison on every send.
package dedup

import (
	"bytes"
	"encoding/binary"
)

// Tracker holds a peer's sentChanges history and a checksum index over
// it. The zero value is ready to use.
type Tracker struct {
	sent  [][]byte
	index map[uint32][]int
}

// Clone returns a Tracker holding the same sent history as t but
// independent of it: recording into the clone never mutates t. Callers
// that must treat a Tracker as immutable (the sync state machine's
// pure transitions) clone before recording.
func (t *Tracker) Clone() *Tracker {
	if t == nil {
		return NewTracker()
	}
	cp := &Tracker{
		sent:  append([][]byte(nil), t.sent...),
		index: make(map[uint32][]int, len(t.index)),
	}
	for sum, positions := range t.index {
		cp.index[sum] = append([]int(nil), positions...)
	}
	return cp
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{index: make(map[uint32][]int)}
}

func checksumOf(blob []byte) (uint32, bool) {
	if len(blob) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(blob[4:8]), true
}

// Contains reports whether blob has already been recorded as sent, by
// checksum lookup followed by a full-bytes comparison on collision.
func (t *Tracker) Contains(blob []byte) bool {
	if t == nil {
		return false
	}
	sum, ok := checksumOf(blob)
	if !ok {
		return false
	}
	for _, pos := range t.index[sum] {
		if bytes.Equal(t.sent[pos], blob) {
			return true
		}
	}
	return false
}

// Filter returns the subset of candidates not already present in the
// tracker's sent history, preserving order. It does not record them;
// call Record once the caller has committed to actually sending them.
func (t *Tracker) Filter(candidates [][]byte) [][]byte {
	if t == nil || len(candidates) == 0 {
		return candidates
	}
	var out [][]byte
	for _, c := range candidates {
		if !t.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// Record appends changes to the sent history and indexes them by
// checksum. Blobs too short to carry a checksum are recorded (and
// counted by Len) but are never matched by Contains.
func (t *Tracker) Record(changes [][]byte) {
	if t.index == nil {
		t.index = make(map[uint32][]int)
	}
	for _, c := range changes {
		pos := len(t.sent)
		t.sent = append(t.sent, c)
		if sum, ok := checksumOf(c); ok {
			t.index[sum] = append(t.index[sum], pos)
		}
	}
}

// Len reports how many changes have been recorded as sent.
func (t *Tracker) Len() int {
	if t == nil {
		return 0
	}
	return len(t.sent)
}
