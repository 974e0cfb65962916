package wire

import (
	"fmt"

	"github.com/crdtsync/crdtsync/hashvec"
)

// PersistedPeerState is the durable subset of a peer's sync state;
// only the shared heads survive a restart.
type PersistedPeerState struct {
	SharedHeads []hashvec.Hash
}

// EncodeSyncState serializes the persisted fields of a peer's sync
// state.
func EncodeSyncState(s PersistedPeerState) ([]byte, error) {
	out := []byte{MagicPeerState}
	out, err := hashvec.Encode(out, s.SharedHeads)
	if err != nil {
		return nil, fmt.Errorf("wire: encode sharedHeads: %w", err)
	}
	return out, nil
}

// DecodeSyncState parses the persisted peer state from raw bytes.
// Trailing bytes are ignored.
func DecodeSyncState(src []byte) (PersistedPeerState, error) {
	var s PersistedPeerState
	if len(src) == 0 || src[0] != MagicPeerState {
		return s, fmt.Errorf("%w: peer state", ErrBadMagic)
	}
	sharedHeads, _, err := hashvec.Decode(src[1:])
	if err != nil {
		return s, fmt.Errorf("wire: decode sharedHeads: %w", err)
	}
	s.SharedHeads = sharedHeads
	return s, nil
}
