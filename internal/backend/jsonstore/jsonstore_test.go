package jsonstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/NahomAnteneh/ostree-upload/internal/backend"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "jsonstore-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := Create(dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return store
}

func TestCreateReportsArchiveMode(t *testing.T) {
	store := newTestStore(t)
	if store.Mode() != backend.ModeArchive {
		t.Fatalf("Mode() = %q, want %q", store.Mode(), backend.ModeArchive)
	}
}

func TestRefsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.ResolveRev("stable"); err != backend.ErrRefNotFound {
		t.Fatalf("ResolveRev on absent ref = %v, want ErrRefNotFound", err)
	}

	if err := store.SetRef("stable", "deadbeef"); err != nil {
		t.Fatalf("SetRef: %v", err)
	}
	rev, err := store.ResolveRev("stable")
	if err != nil {
		t.Fatalf("ResolveRev: %v", err)
	}
	if rev != "deadbeef" {
		t.Fatalf("ResolveRev = %q, want deadbeef", rev)
	}

	refs, err := store.ListRefs()
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if refs["stable"] != "deadbeef" {
		t.Fatalf("ListRefs()[stable] = %q, want deadbeef", refs["stable"])
	}
}

func TestObjectPathLayout(t *testing.T) {
	store := newTestStore(t)
	got := store.ObjectPath("abcdef0123.commit")
	want := filepath.Join(store.RootPath(), "objects", "ab", "cdef0123.commit")
	if got != want {
		t.Fatalf("ObjectPath = %q, want %q", got, want)
	}
}

func TestWriteFileRoundTripsContentAndFingerprint(t *testing.T) {
	store := newTestStore(t)
	content := []byte("hello archive")

	checksum, err := store.WriteFile(content)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	name := checksum + ".filez"
	if !store.ObjectExists(name) {
		t.Fatalf("expected object %s to exist", name)
	}

	roundTripped, err := DecompressFile(store.ObjectPath(name))
	if err != nil {
		t.Fatalf("DecompressFile: %v", err)
	}
	if string(roundTripped) != string(content) {
		t.Fatalf("DecompressFile = %q, want %q", roundTripped, content)
	}

	fp1, err := store.Fingerprint(name)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fp2, err := store.Fingerprint(name)
	if err != nil {
		t.Fatalf("Fingerprint (cached): %v", err)
	}
	if fp1 != fp2 {
		t.Fatalf("Fingerprint not stable across calls: %q != %q", fp1, fp2)
	}
}

// buildLinearHistory creates two commits, root -> child, each with a tiny
// tree containing one file, and returns their checksums.
func buildLinearHistory(t *testing.T, store *Store) (root, child string) {
	t.Helper()

	fileChecksum, err := store.WriteFile([]byte("root content"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	treeChecksum, err := store.WriteDirTree([]FileEntry{NewFileEntry("a.txt", fileChecksum)}, nil)
	if err != nil {
		t.Fatalf("WriteDirTree: %v", err)
	}
	root, err = store.WriteCommit("", treeChecksum, "root", 1)
	if err != nil {
		t.Fatalf("WriteCommit(root): %v", err)
	}

	childFileChecksum, err := store.WriteFile([]byte("child content"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	childTreeChecksum, err := store.WriteDirTree([]FileEntry{NewFileEntry("a.txt", childFileChecksum)}, nil)
	if err != nil {
		t.Fatalf("WriteDirTree: %v", err)
	}
	child, err = store.WriteCommit(root, childTreeChecksum, "child", 2)
	if err != nil {
		t.Fatalf("WriteCommit(child): %v", err)
	}

	return root, child
}

func TestTraverseCommitReachesFileAndTree(t *testing.T) {
	store := newTestStore(t)
	root, _ := buildLinearHistory(t, store)

	objects, err := store.TraverseCommit(root)
	if err != nil {
		t.Fatalf("TraverseCommit: %v", err)
	}

	var sawCommit, sawTree, sawFile bool
	for _, o := range objects {
		switch o.Type {
		case backend.TypeCommit:
			sawCommit = true
		case backend.TypeDirTree:
			sawTree = true
		case backend.TypeFile:
			sawFile = true
		}
	}
	if !sawCommit || !sawTree || !sawFile {
		t.Fatalf("TraverseCommit(%s) missing object kinds: %+v", root, objects)
	}
}

func TestLoadCommitParentChain(t *testing.T) {
	store := newTestStore(t)
	root, child := buildLinearHistory(t, store)

	commit, err := store.LoadCommit(child)
	if err != nil {
		t.Fatalf("LoadCommit: %v", err)
	}
	if commit.Parent != root {
		t.Fatalf("LoadCommit(child).Parent = %q, want %q", commit.Parent, root)
	}
}

func TestPruneRemovesUnreferencedObjects(t *testing.T) {
	store := newTestStore(t)
	root, child := buildLinearHistory(t, store)
	_ = root

	if err := store.SetRef("stable", child); err != nil {
		t.Fatalf("SetRef: %v", err)
	}

	// An orphan object with nothing pointing at it.
	orphan, err := store.WriteFile([]byte("orphaned bytes"))
	if err != nil {
		t.Fatalf("WriteFile(orphan): %v", err)
	}

	examined, removed, _, err := store.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed == 0 {
		t.Fatalf("Prune removed 0 objects, expected at least the orphan")
	}
	if examined < removed {
		t.Fatalf("Prune examined %d < removed %d", examined, removed)
	}
	if store.ObjectExists(orphan + ".filez") {
		t.Fatalf("orphan object %s survived Prune", orphan)
	}

	// The referenced chain must survive.
	if _, err := store.LoadCommit(child); err != nil {
		t.Fatalf("LoadCommit(child) after Prune: %v", err)
	}
}
