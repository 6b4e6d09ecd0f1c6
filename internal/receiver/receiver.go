// Package receiver implements the server-side, repo-facing half of the
// protocol: reporting repository state, validating a proposed update set
// against it, and rewriting refs once objects have been staged. It holds no
// session state of its own — that lives in internal/session — only the
// repository operations SPEC_FULL.md §4.2 assigns to the Receiver.
//
// Grounded on the teacher's internal/server.Server, which likewise reopens
// no cached handle and instead calls straight through to its backing store
// per request.
package receiver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NahomAnteneh/ostree-upload/internal/backend"
	"github.com/NahomAnteneh/ostree-upload/internal/wire"
)

// Receiver is constructed once per server process and reopens the
// repository backend for every operation, per SPEC_FULL.md §4.2's "handles
// are not cached" design choice (avoiding cross-goroutine handle sharing;
// see §5).
type Receiver struct {
	repoPath string
	open     func(path string) (backend.Repo, error)
}

// New creates the repository's staging directory if absent and returns a
// Receiver bound to repoPath. open is the backend factory (normally
// jsonstore.Open) used to get a fresh handle per operation.
func New(repoPath string, open func(path string) (backend.Repo, error)) (*Receiver, error) {
	tmp := filepath.Join(repoPath, ".tmp")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory %s: %w", tmp, err)
	}
	return &Receiver{repoPath: repoPath, open: open}, nil
}

// TempPath returns the staging-area path for an uploaded-but-not-yet-
// promoted object.
func (r *Receiver) TempPath(objectName string) string {
	return filepath.Join(r.repoPath, ".tmp", objectName)
}

func (r *Receiver) repo() (backend.Repo, error) {
	repo, err := r.open(r.repoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", r.repoPath, err)
	}
	return repo, nil
}

// OpenRepo returns a fresh backend handle, for callers that need direct
// access to object existence/fingerprint checks beyond the Receiver's own
// methods.
func (r *Receiver) OpenRepo() (backend.Repo, error) {
	return r.repo()
}

// GetInfo reports the repository's mode and current refs.
func (r *Receiver) GetInfo() (wire.Info, error) {
	repo, err := r.repo()
	if err != nil {
		return wire.Info{}, err
	}
	refs, err := repo.ListRefs()
	if err != nil {
		return wire.Info{}, fmt.Errorf("listing refs: %w", err)
	}
	return wire.Info{Mode: repo.Mode().String(), Refs: refs}, nil
}

// CheckUpdate validates update against the current repository state. It is
// read-only: a mutation-free negotiation step. Returns a failing Status
// (not an error) for any ordinary negotiation mismatch; only infrastructure
// failures are returned as errors.
func (r *Receiver) CheckUpdate(update wire.UpdateSet) (wire.Status, error) {
	repo, err := r.repo()
	if err != nil {
		return wire.Status{}, err
	}

	for branch, ft := range update {
		localRev, err := repo.ResolveRev(branch)
		switch {
		case err == nil:
			if ft.From != localRev {
				return wire.Fail(fmt.Sprintf("Branch %s is at %s, not %s", branch, localRev, ft.From)), nil
			}
		case err == backend.ErrRefNotFound:
			if ft.From != wire.RevNull {
				return wire.Fail(fmt.Sprintf("Invalid from commit %s for new branch %s", ft.From, branch)), nil
			}
		default:
			return wire.Status{}, fmt.Errorf("resolving branch %s: %w", branch, err)
		}
	}

	return wire.Ok(), nil
}

// UpdateRefs sets every branch in update to its declared to-revision,
// immediately and without transaction. A failure partway through leaves
// earlier refs already updated — accepted per SPEC_FULL.md §7.
func (r *Receiver) UpdateRefs(update wire.UpdateSet) error {
	repo, err := r.repo()
	if err != nil {
		return err
	}
	for branch, ft := range update {
		if err := repo.SetRef(branch, ft.To); err != nil {
			return fmt.Errorf("setting ref %s to %s: %w", branch, ft.To, err)
		}
	}
	return nil
}

// PromoteObject renames a staged object into the object store, creating the
// destination prefix directory if needed. Rename is atomic within a single
// filesystem; the staging area and objects directory must share one.
func (r *Receiver) PromoteObject(objectName string) error {
	repo, err := r.repo()
	if err != nil {
		return err
	}
	dest := repo.ObjectPath(objectName)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating object directory for %s: %w", objectName, err)
	}
	if err := os.Rename(r.TempPath(objectName), dest); err != nil {
		return fmt.Errorf("promoting %s: %w", objectName, err)
	}
	return nil
}

// ObjectFingerprint computes the fingerprint of objectName wherever it
// currently lives: staged in .tmp if present there, otherwise the promoted
// copy under objects/, otherwise backend.ErrObjectNotFound.
//
// This is the corrected behavior for the known /missing_objects bug
// (SPEC_FULL.md §9 open question 2): the reference implementation
// fingerprints the staging path even when only the promoted copy exists.
// Here the existing path is always the one fingerprinted.
func (r *Receiver) ObjectFingerprint(objectName string) (string, error) {
	if info, err := os.Stat(r.TempPath(objectName)); err == nil && !info.IsDir() {
		f, err := os.Open(r.TempPath(objectName))
		if err != nil {
			return "", fmt.Errorf("opening staged object %s: %w", objectName, err)
		}
		defer f.Close()
		fp, err := wire.FingerprintReader(f)
		if err != nil {
			return "", fmt.Errorf("fingerprinting staged object %s: %w", objectName, err)
		}
		return fp, nil
	}

	repo, err := r.repo()
	if err != nil {
		return "", err
	}
	if !repo.ObjectExists(objectName) {
		return "", backend.ErrObjectNotFound
	}
	return repo.Fingerprint(objectName)
}
