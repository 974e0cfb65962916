// Package selector implements the change selector: given a
// peer's Have entries and explicit Need, it computes the
// dependency-closed set of changes to transmit, compensating for
// Bloom-filter false negatives via dependency closure and for false
// positives via the peer's explicit Need on a later round.
package selector

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/crdtsync/crdtsync/backend"
	"github.com/crdtsync/crdtsync/hashvec"
	"github.com/crdtsync/crdtsync/wire"
)

// Select computes the ordered list of change blobs to send to a peer
// that reported the given Have entries and explicit Need.
func Select(be backend.Backend, have []wire.HaveEntry, need []hashvec.Hash) ([][]byte, error) {
	// Fast path: no Have entries means the peer is
	// only asking for explicit hashes.
	if len(have) == 0 {
		var out [][]byte
		for _, h := range need {
			blob, ok, err := be.GetChangeByHash(h)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, blob)
			}
		}
		return out, nil
	}

	// L: union of all lastSync hashes across the Have entries.
	lSet := mapset.NewThreadUnsafeSet[hashvec.Hash]()
	for _, h := range have {
		for _, s := range h.LastSync {
			lSet.Add(s)
		}
	}
	c, err := be.GetMissingChanges(lSet.ToSlice())
	if err != nil {
		return nil, err
	}

	// H (hashes past the lastSync frontier) and the dependents
	// adjacency list.
	type entry struct {
		hash hashvec.Hash
		blob []byte
	}
	entries := make([]entry, len(c))
	hSet := mapset.NewThreadUnsafeSet[hashvec.Hash]()
	dependents := make(map[hashvec.Hash][]hashvec.Hash)
	for i, blob := range c {
		meta, err := be.DecodeChangeMeta(blob)
		if err != nil {
			return nil, err
		}
		entries[i] = entry{hash: meta.Hash, blob: blob}
		hSet.Add(meta.Hash)
		for _, dep := range meta.Deps {
			dependents[dep] = append(dependents[dep], meta.Hash)
		}
	}

	// Bloom-negative candidates: absent from every Have entry's
	// filter, so the peer definitely lacks them.
	sSet := mapset.NewThreadUnsafeSet[hashvec.Hash]()
	for _, e := range entries {
		absentEverywhere := true
		for _, h := range have {
			if h.Bloom.Contains(e.hash) {
				absentEverywhere = false
				break
			}
		}
		if absentEverywhere {
			sSet.Add(e.hash)
		}
	}

	// Dependency closure over S: anything depending on a change the
	// peer lacks must be sent too, or a filter false positive would
	// leave the peer with an unfillable gap.
	frontier := sSet.ToSlice()
	for len(frontier) > 0 {
		var next []hashvec.Hash
		for _, h := range frontier {
			for _, dep := range dependents[h] {
				if !sSet.Contains(dep) {
					sSet.Add(dep)
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	// Explicit Need outside H, added directly in Need order. A Need
	// inside H (a change the peer's filter falsely reported present) is
	// added to S instead and goes out with the store-order pass below.
	var out [][]byte
	for _, h := range need {
		if hSet.Contains(h) {
			sSet.Add(h)
			continue
		}
		blob, ok, err := be.GetChangeByHash(h)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, blob)
		}
	}

	// Append C in the backend's order, filtered by S.
	for _, e := range entries {
		if sSet.Contains(e.hash) {
			out = append(out, e.blob)
		}
	}

	return out, nil
}
