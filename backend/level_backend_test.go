package backend

import (
	"path/filepath"
	"testing"

	"github.com/crdtsync/crdtsync/hashvec"
)

func openTestBackend(t *testing.T) *LevelBackend {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	b, err := OpenLevelBackend(dir, 1<<20)
	if err != nil {
		t.Fatalf("OpenLevelBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestLevelBackendPutAndGet(t *testing.T) {
	b := openTestBackend(t)

	blob := NewChange(nil, []byte("root change"))
	h, err := b.Put(blob)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := b.GetChangeByHash(h)
	if err != nil {
		t.Fatalf("GetChangeByHash: %v", err)
	}
	if !ok {
		t.Fatal("expected change to be found")
	}
	if string(got) != string(blob) {
		t.Fatal("round-tripped blob mismatch")
	}
}

func TestLevelBackendHeadsTracking(t *testing.T) {
	b := openTestBackend(t)

	rootBlob := NewChange(nil, []byte("root"))
	rootHash, err := b.Put(rootBlob)
	if err != nil {
		t.Fatalf("put root: %v", err)
	}

	heads, err := b.Heads()
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 1 || heads[0] != rootHash {
		t.Fatalf("expected single head %v, got %v", rootHash, heads)
	}

	childBlob := NewChange([]hashvec.Hash{rootHash}, []byte("child"))
	childHash, err := b.Put(childBlob)
	if err != nil {
		t.Fatalf("put child: %v", err)
	}

	heads, err = b.Heads()
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 1 || heads[0] != childHash {
		t.Fatalf("expected head to advance to child, got %v", heads)
	}
}

func TestLevelBackendGetMissingChanges(t *testing.T) {
	b := openTestBackend(t)

	rootHash, err := b.Put(NewChange(nil, []byte("root")))
	if err != nil {
		t.Fatalf("put root: %v", err)
	}
	childBlob := NewChange([]hashvec.Hash{rootHash}, []byte("child"))
	childHash, err := b.Put(childBlob)
	if err != nil {
		t.Fatalf("put child: %v", err)
	}

	missing, err := b.GetMissingChanges(nil)
	if err != nil {
		t.Fatalf("GetMissingChanges: %v", err)
	}
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing changes from empty frontier, got %d", len(missing))
	}

	// rootHash's only ancestor is itself, so everything beyond it (the
	// child) still counts as missing from that frontier.
	missingFromRoot, err := b.GetMissingChanges([]hashvec.Hash{rootHash})
	if err != nil {
		t.Fatalf("GetMissingChanges: %v", err)
	}
	if len(missingFromRoot) != 1 || HashChange(missingFromRoot[0]) != childHash {
		t.Fatalf("expected only the child as missing from the root frontier, got %d", len(missingFromRoot))
	}

	// The child is itself a head, so using it as the frontier reaches
	// the whole DAG and nothing remains missing.
	missingFromChild, err := b.GetMissingChanges([]hashvec.Hash{childHash})
	if err != nil {
		t.Fatalf("GetMissingChanges: %v", err)
	}
	if len(missingFromChild) != 0 {
		t.Fatalf("expected 0 missing changes when frontier is the newest head, got %d", len(missingFromChild))
	}
}

func TestLevelBackendApplyChangesOutOfOrder(t *testing.T) {
	b := openTestBackend(t)

	root := NewChange(nil, []byte("root"))
	rootHash := HashChange(root)
	child := NewChange([]hashvec.Hash{rootHash}, []byte("child"))

	// Apply child before root in the batch; ApplyChanges must still
	// converge since it retries until no more progress is made.
	patch, err := b.ApplyChanges([][]byte{child, root})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	if len(patch.AppliedHashes) != 2 {
		t.Fatalf("expected 2 applied changes, got %d", len(patch.AppliedHashes))
	}

	heads, err := b.Heads()
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 1 || heads[0] != HashChange(child) {
		t.Fatalf("expected child to be the sole head, got %v", heads)
	}
}

func TestLevelBackendApplyChangesIdempotent(t *testing.T) {
	b := openTestBackend(t)
	blob := NewChange(nil, []byte("x"))

	if _, err := b.ApplyChanges([][]byte{blob}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	patch, err := b.ApplyChanges([][]byte{blob})
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(patch.AppliedHashes) != 0 {
		t.Fatalf("expected no-op on duplicate apply, got %v", patch.AppliedHashes)
	}
}

func TestLevelBackendGetMissingDeps(t *testing.T) {
	b := openTestBackend(t)

	unknownDep := HashChange(NewChange(nil, []byte("never stored")))
	change := NewChange([]hashvec.Hash{unknownDep}, []byte("needs unknownDep"))

	missing, err := b.GetMissingDeps([][]byte{change}, nil)
	if err != nil {
		t.Fatalf("GetMissingDeps: %v", err)
	}
	if len(missing) != 1 || missing[0] != unknownDep {
		t.Fatalf("expected missing=[%v], got %v", unknownDep, missing)
	}
}

func TestLevelBackendRebuildIndexOnReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	b, err := OpenLevelBackend(dir, 1<<20)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rootHash, err := b.Put(NewChange(nil, []byte("root")))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenLevelBackend(dir, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	heads, err := reopened.Heads()
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 1 || heads[0] != rootHash {
		t.Fatalf("expected heads to survive reopen, got %v", heads)
	}
}
