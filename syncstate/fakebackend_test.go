package syncstate

import (
	"github.com/crdtsync/crdtsync/backend"
	"github.com/crdtsync/crdtsync/hashvec"
)

// fakeBackend is a minimal, entirely in-memory backend.Backend used to
// exercise the state machine without LevelBackend's storage concerns.
// Insertion order doubles as topological order, exactly as LevelBackend
// documents for its own `order` slice.
type fakeBackend struct {
	blobs map[hashvec.Hash][]byte
	order []hashvec.Hash
	deps  map[hashvec.Hash][]hashvec.Hash
	heads map[hashvec.Hash]struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		blobs: make(map[hashvec.Hash][]byte),
		deps:  make(map[hashvec.Hash][]hashvec.Hash),
		heads: make(map[hashvec.Hash]struct{}),
	}
}

// add stores a change directly (bypassing ApplyChanges), for seeding a
// backend's initial state in a test.
func (f *fakeBackend) add(deps []hashvec.Hash, payload string) hashvec.Hash {
	return f.addBlob(backend.NewChange(deps, []byte(payload)))
}

// addBlob stores a pre-built change blob directly.
func (f *fakeBackend) addBlob(blob []byte) hashvec.Hash {
	meta, err := backend.DecodeChangeMeta(blob)
	if err != nil {
		panic(err)
	}
	h := meta.Hash
	deps := meta.Deps
	if _, known := f.deps[h]; known {
		return h
	}
	f.blobs[h] = blob
	f.order = append(f.order, h)
	f.deps[h] = deps
	for _, d := range deps {
		delete(f.heads, d)
	}
	f.heads[h] = struct{}{}
	return h
}

func (f *fakeBackend) Heads() ([]hashvec.Hash, error) {
	out := make([]hashvec.Hash, 0, len(f.heads))
	for h := range f.heads {
		out = append(out, h)
	}
	hashvec.Sort(out)
	return out, nil
}

func (f *fakeBackend) GetChangeByHash(h hashvec.Hash) ([]byte, bool, error) {
	blob, ok := f.blobs[h]
	return blob, ok, nil
}

func (f *fakeBackend) GetMissingChanges(frontier []hashvec.Hash) ([][]byte, error) {
	reachable := make(map[hashvec.Hash]struct{})
	stack := append([]hashvec.Hash(nil), frontier...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := reachable[h]; ok {
			continue
		}
		reachable[h] = struct{}{}
		stack = append(stack, f.deps[h]...)
	}
	var out [][]byte
	for _, h := range f.order {
		if _, ok := reachable[h]; !ok {
			out = append(out, f.blobs[h])
		}
	}
	return out, nil
}

func (f *fakeBackend) GetMissingDeps(changes [][]byte, heads []hashvec.Hash) ([]hashvec.Hash, error) {
	available := make(map[hashvec.Hash]struct{}, len(changes))
	metas := make([]backend.ChangeMeta, 0, len(changes))
	for _, c := range changes {
		meta, err := backend.DecodeChangeMeta(c)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
		available[meta.Hash] = struct{}{}
	}
	has := func(h hashvec.Hash) bool {
		if _, ok := available[h]; ok {
			return true
		}
		_, ok := f.deps[h]
		return ok
	}
	var missing []hashvec.Hash
	for _, meta := range metas {
		for _, d := range meta.Deps {
			if !has(d) {
				missing = append(missing, d)
			}
		}
	}
	for _, h := range heads {
		if !has(h) {
			missing = append(missing, h)
		}
	}
	return hashvec.SortDedup(missing), nil
}

func (f *fakeBackend) ApplyChanges(changes [][]byte) (backend.Patch, error) {
	remaining := make([]backend.ChangeMeta, 0, len(changes))
	blobByHash := make(map[hashvec.Hash][]byte, len(changes))
	for _, c := range changes {
		meta, err := backend.DecodeChangeMeta(c)
		if err != nil {
			return backend.Patch{}, err
		}
		if _, known := f.deps[meta.Hash]; known {
			continue
		}
		remaining = append(remaining, meta)
		blobByHash[meta.Hash] = c
	}

	var applied []hashvec.Hash
	for progress := true; progress && len(remaining) > 0; {
		progress = false
		var next []backend.ChangeMeta
		for _, meta := range remaining {
			ready := true
			for _, d := range meta.Deps {
				if _, ok := f.deps[d]; !ok {
					ready = false
					break
				}
			}
			if !ready {
				next = append(next, meta)
				continue
			}
			blob := blobByHash[meta.Hash]
			f.blobs[meta.Hash] = blob
			f.order = append(f.order, meta.Hash)
			f.deps[meta.Hash] = meta.Deps
			for _, d := range meta.Deps {
				delete(f.heads, d)
			}
			f.heads[meta.Hash] = struct{}{}
			applied = append(applied, meta.Hash)
			progress = true
		}
		remaining = next
	}
	return backend.Patch{AppliedHashes: hashvec.SortDedup(applied)}, nil
}

func (f *fakeBackend) DecodeChangeMeta(blob []byte) (backend.ChangeMeta, error) {
	return backend.DecodeChangeMeta(blob)
}

func (f *fakeBackend) ChangeChecksum(blob []byte) (uint32, error) {
	return backend.ChangeChecksum(blob)
}
