package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/crdtsync/crdtsync/syncstate"
	"github.com/crdtsync/crdtsync/wire"
)

// peerStateFile is the file within a Config's DataDir holding the
// persisted subset of a peer's sync state (wire.PersistedPeerState).
const peerStateFile = "peerstate.bin"

func loadPeerState(dataDir string, cfg *syncstate.Config) (*syncstate.State, error) {
	path := filepath.Join(dataDir, peerStateFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return syncstate.New(cfg), nil
	}
	if err != nil {
		return nil, fmt.Errorf("syncpeerd: read peer state: %w", err)
	}
	persisted, err := wire.DecodeSyncState(raw)
	if err != nil {
		return nil, fmt.Errorf("syncpeerd: decode peer state: %w", err)
	}
	return syncstate.FromPersisted(persisted, cfg), nil
}

// savePeerState writes state's durable subset to dataDir, replacing any
// prior contents via rename so a crash mid-write cannot corrupt the
// previous, still-valid snapshot.
func savePeerState(dataDir string, state *syncstate.State) error {
	encoded, err := wire.EncodeSyncState(state.Persisted())
	if err != nil {
		return fmt.Errorf("syncpeerd: encode peer state: %w", err)
	}
	path := filepath.Join(dataDir, peerStateFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return fmt.Errorf("syncpeerd: write peer state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("syncpeerd: replace peer state: %w", err)
	}
	return nil
}
