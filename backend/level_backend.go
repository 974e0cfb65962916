package backend

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/crdtsync/crdtsync/hashvec"
)

// LevelBackend is a reference Backend storing change blobs
// snappy-compressed in an embedded goleveldb database, keyed by content
// hash, with a fastcache read-through cache in front of lookups. It
// maintains the change DAG's head set and dependency index in memory,
// rebuilt from the database on open.
//
// LevelBackend is not part of the sync protocol; it exists so the
// Backend contract has a concrete, runnable home.
type LevelBackend struct {
	mu sync.RWMutex

	db    *leveldb.DB
	cache *fastcache.Cache

	// order is the insertion order of all known changes. Because a
	// change can only be inserted once its dependencies are already
	// present, insertion order is automatically a valid topological
	// order.
	order []hashvec.Hash
	deps  map[hashvec.Hash][]hashvec.Hash
	heads map[hashvec.Hash]struct{}
}

// DefaultCacheBytes is the default fastcache size for LevelBackend.
const DefaultCacheBytes = 32 * 1024 * 1024

// OpenLevelBackend opens (or creates) a LevelBackend at path with a
// fastcache of cacheBytes in front of it.
func OpenLevelBackend(path string, cacheBytes int) (*LevelBackend, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("backend: open leveldb at %s: %w", path, err)
	}
	if cacheBytes <= 0 {
		cacheBytes = DefaultCacheBytes
	}
	b := &LevelBackend{
		db:    db,
		cache: fastcache.New(cacheBytes),
		deps:  make(map[hashvec.Hash][]hashvec.Hash),
		heads: make(map[hashvec.Hash]struct{}),
	}
	if err := b.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the underlying database handle.
func (b *LevelBackend) Close() error {
	return b.db.Close()
}

func (b *LevelBackend) rebuildIndex() error {
	it := b.db.NewIterator(nil, nil)
	defer it.Release()

	dependents := make(map[hashvec.Hash]int)
	var pending []struct {
		hash hashvec.Hash
		meta ChangeMeta
	}
	for it.Next() {
		blob, err := snappy.Decode(nil, it.Value())
		if err != nil {
			return fmt.Errorf("backend: decompress %x: %w", it.Key(), err)
		}
		meta, err := DecodeChangeMeta(blob)
		if err != nil {
			return fmt.Errorf("backend: decode meta %x: %w", it.Key(), err)
		}
		pending = append(pending, struct {
			hash hashvec.Hash
			meta ChangeMeta
		}{meta.Hash, meta})
		for _, d := range meta.Deps {
			dependents[d]++
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("backend: iterate index: %w", err)
	}

	// The iterator walks in key (hash) order, which is not topological;
	// re-admit changes in dependency order so order stays a valid
	// topological sequence.
	for len(pending) > 0 {
		progress := false
		var next []struct {
			hash hashvec.Hash
			meta ChangeMeta
		}
		for _, p := range pending {
			ready := true
			for _, d := range p.meta.Deps {
				if _, ok := b.deps[d]; !ok {
					ready = false
					break
				}
			}
			if !ready {
				next = append(next, p)
				continue
			}
			b.order = append(b.order, p.hash)
			b.deps[p.hash] = p.meta.Deps
			if dependents[p.hash] == 0 {
				b.heads[p.hash] = struct{}{}
			}
			progress = true
		}
		if !progress {
			return fmt.Errorf("backend: store contains %d changes with unresolved dependencies", len(next))
		}
		pending = next
	}
	return nil
}

// Heads implements Backend.
func (b *LevelBackend) Heads() ([]hashvec.Hash, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]hashvec.Hash, 0, len(b.heads))
	for h := range b.heads {
		out = append(out, h)
	}
	hashvec.Sort(out)
	return out, nil
}

// GetChangeByHash implements Backend.
func (b *LevelBackend) GetChangeByHash(h hashvec.Hash) ([]byte, bool, error) {
	if v := b.cache.Get(nil, h[:]); v != nil {
		return v, true, nil
	}
	b.mu.RLock()
	compressed, err := b.db.Get(h[:], nil)
	b.mu.RUnlock()
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("backend: get %s: %w", h.Hex(), err)
	}
	blob, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, fmt.Errorf("backend: decompress %s: %w", h.Hex(), err)
	}
	b.cache.Set(h[:], blob)
	return blob, true, nil
}

// Put stores a new change blob (as produced by NewChange), updating the
// in-memory DAG index. It is idempotent: re-putting a known hash is a
// no-op. Every dependency must already be stored; otherwise Put
// returns an error and stores nothing.
func (b *LevelBackend) Put(blob []byte) (hashvec.Hash, error) {
	meta, err := DecodeChangeMeta(blob)
	if err != nil {
		return hashvec.Hash{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.deps[meta.Hash]; ok {
		return meta.Hash, nil
	}
	for _, d := range meta.Deps {
		if _, ok := b.deps[d]; !ok {
			return hashvec.Hash{}, fmt.Errorf("backend: put %s: missing dependency %s", meta.Hash.Hex(), d.Hex())
		}
	}

	compressed := snappy.Encode(nil, blob)
	if err := b.db.Put(meta.Hash[:], compressed, nil); err != nil {
		return hashvec.Hash{}, fmt.Errorf("backend: put %s: %w", meta.Hash.Hex(), err)
	}

	b.order = append(b.order, meta.Hash)
	b.deps[meta.Hash] = meta.Deps
	for _, d := range meta.Deps {
		delete(b.heads, d)
	}
	b.heads[meta.Hash] = struct{}{}
	b.cache.Set(meta.Hash[:], blob)
	return meta.Hash, nil
}

// GetMissingChanges implements Backend: all known changes not reachable
// (as ancestors) from frontier, in topological order.
func (b *LevelBackend) GetMissingChanges(frontier []hashvec.Hash) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	reachable := make(map[hashvec.Hash]struct{})
	stack := append([]hashvec.Hash(nil), frontier...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := reachable[h]; ok {
			continue
		}
		reachable[h] = struct{}{}
		stack = append(stack, b.deps[h]...)
	}

	var out [][]byte
	for _, h := range b.order {
		if _, ok := reachable[h]; ok {
			continue
		}
		blob, ok, err := b.getLocked(h)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, blob)
		}
	}
	return out, nil
}

// getLocked fetches a blob while b.mu is already held.
func (b *LevelBackend) getLocked(h hashvec.Hash) ([]byte, bool, error) {
	if v := b.cache.Get(nil, h[:]); v != nil {
		return v, true, nil
	}
	compressed, err := b.db.Get(h[:], nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("backend: get %s: %w", h.Hex(), err)
	}
	blob, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, fmt.Errorf("backend: decompress %s: %w", h.Hex(), err)
	}
	return blob, true, nil
}

// GetMissingDeps implements Backend.
func (b *LevelBackend) GetMissingDeps(changes [][]byte, heads []hashvec.Hash) ([]hashvec.Hash, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	available := make(map[hashvec.Hash]struct{}, len(changes))
	metas := make([]ChangeMeta, 0, len(changes))
	for _, c := range changes {
		meta, err := DecodeChangeMeta(c)
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
		_, ok := b.deps[h]
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

// ApplyChanges implements Backend. It applies whichever changes have
// all dependencies already satisfied, repeating until no further
// progress is made, so callers do not need to pre-sort the batch. Already
// known changes are skipped (idempotent).
func (b *LevelBackend) ApplyChanges(changes [][]byte) (Patch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := make([]ChangeMeta, 0, len(changes))
	blobByHash := make(map[hashvec.Hash][]byte, len(changes))
	for _, c := range changes {
		meta, err := DecodeChangeMeta(c)
		if err != nil {
			return Patch{}, err
		}
		if _, known := b.deps[meta.Hash]; known {
			continue
		}
		remaining = append(remaining, meta)
		blobByHash[meta.Hash] = c
	}

	satisfied := func(h hashvec.Hash) bool {
		if _, ok := b.deps[h]; ok {
			return true
		}
		return false
	}

	var applied []hashvec.Hash
	for progress := true; progress && len(remaining) > 0; {
		progress = false
		var next []ChangeMeta
		for _, meta := range remaining {
			ready := true
			for _, d := range meta.Deps {
				if !satisfied(d) {
					ready = false
					break
				}
			}
			if !ready {
				next = append(next, meta)
				continue
			}
			blob := blobByHash[meta.Hash]
			compressed := snappy.Encode(nil, blob)
			if err := b.db.Put(meta.Hash[:], compressed, nil); err != nil {
				return Patch{}, fmt.Errorf("backend: apply %s: %w", meta.Hash.Hex(), err)
			}
			b.order = append(b.order, meta.Hash)
			b.deps[meta.Hash] = meta.Deps
			for _, d := range meta.Deps {
				delete(b.heads, d)
			}
			b.heads[meta.Hash] = struct{}{}
			b.cache.Set(meta.Hash[:], blob)
			applied = append(applied, meta.Hash)
			progress = true
		}
		remaining = next
	}

	return Patch{AppliedHashes: hashvec.SortDedup(applied)}, nil
}

// DecodeChangeMeta implements Backend.
func (b *LevelBackend) DecodeChangeMeta(blob []byte) (ChangeMeta, error) {
	return DecodeChangeMeta(blob)
}

// ChangeChecksum implements Backend.
func (b *LevelBackend) ChangeChecksum(blob []byte) (uint32, error) {
	return ChangeChecksum(blob)
}

