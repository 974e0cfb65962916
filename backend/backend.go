// Package backend specifies the document-store contract the sync core
// requires of its host and provides a reference implementation,
// LevelBackend, backed by an embedded key-value store. The sync core
// never imports this package's concrete type; it only ever depends on
// the Backend interface, so a host can substitute the real document
// store used by its CRDT engine.
package backend

import (
	"github.com/crdtsync/crdtsync/hashvec"
)

// ChangeMeta is the metadata the sync core needs from an opaque change
// blob: its content hash and explicit dependency hashes.
type ChangeMeta struct {
	Hash hashvec.Hash
	Deps []hashvec.Hash
}

// Patch describes the effect of applying changes on the document. It is
// opaque to the sync core: hosts define its real shape, and the
// reference backend returns a minimal summary.
type Patch struct {
	AppliedHashes []hashvec.Hash
}

// Backend is the contract between the sync core and the document
// store. The sync
// core only ever calls these methods; document semantics, CRDT merge
// rules, and on-disk storage are the implementation's concern.
type Backend interface {
	// Heads returns the current heads of the change DAG (order is not
	// significant; the sync core sorts where needed).
	Heads() ([]hashvec.Hash, error)

	// GetChangeByHash returns the change blob for h, or ok == false if
	// the backend does not have it.
	GetChangeByHash(h hashvec.Hash) (blob []byte, ok bool, err error)

	// GetMissingChanges returns all locally known changes not reachable
	// from frontier, in DAG-topological order (dependencies before
	// dependents).
	GetMissingChanges(frontier []hashvec.Hash) ([][]byte, error)

	// GetMissingDeps returns the hashes referenced as dependencies (or
	// as target heads) that the backend lacks even after considering
	// changes.
	GetMissingDeps(changes [][]byte, heads []hashvec.Hash) ([]hashvec.Hash, error)

	// ApplyChanges applies changes to the document, in DAG order,
	// tolerating duplicates idempotently, and returns the resulting
	// patch. The backend mutates itself in place.
	ApplyChanges(changes [][]byte) (Patch, error)

	// DecodeChangeMeta extracts the hash and dependency list from a
	// change blob.
	DecodeChangeMeta(blob []byte) (ChangeMeta, error)

	// ChangeChecksum returns the 32-bit checksum at bytes 4-7 of a
	// change blob, used only for deduplication.
	ChangeChecksum(blob []byte) (uint32, error)
}
