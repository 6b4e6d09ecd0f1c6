// Package pusher implements the client side of the replication protocol:
// computing which branches need updating, walking commit ancestry to find
// the commits to ship, and expanding those commits into the flat object
// list the protocol endpoint layer uploads. Grounded on the teacher's own
// push planning (internal/remote/push.go's isFastForwardUpdateRepo /
// getObjectsToSendRepo BFS-over-objects shape), generalized from the
// teacher's packfile model to this protocol's flat NeededObject list.
package pusher

import (
	"fmt"

	"github.com/NahomAnteneh/ostree-upload/internal/backend"
	"github.com/NahomAnteneh/ostree-upload/internal/wire"
)

// ShallowHistoryError is returned by NeededCommits when the local history
// does not reach far enough back to explain itself — the commit walk hit a
// parent that isn't present in the local store.
type ShallowHistoryError struct {
	Revision string
}

func (e *ShallowHistoryError) Error() string {
	return fmt.Sprintf("local history is too shallow: commit %s is not present locally", e.Revision)
}

// NotDescendantError is returned by NeededCommits when the remote revision
// is not an ancestor of the local head — the walk ran out of parents before
// reaching it.
type NotDescendantError struct {
	Remote string
	Local  string
}

func (e *NotDescendantError) Error() string {
	return fmt.Sprintf("remote revision %s is not an ancestor of local revision %s", e.Remote, e.Local)
}

// MissingLocalObjectError is returned by NeededObjects when a reachable
// object is not present on disk.
type MissingLocalObjectError struct {
	ObjectName string
}

func (e *MissingLocalObjectError) Error() string {
	return fmt.Sprintf("required local object %s is missing on disk", e.ObjectName)
}

// Pusher drives the sending side of one push: it owns the set of local
// branches (and their current revisions) that are candidates to ship.
type Pusher struct {
	repo backend.Repo
	refs map[string]string // branch -> local revision
}

// New constructs a Pusher over repo. If refspecs is empty, every local ref
// is a push candidate. Otherwise each refspec is resolved against the
// backend; failure to resolve any of them is fatal, per SPEC_FULL.md §4.1.
func New(repo backend.Repo, refspecs []string) (*Pusher, error) {
	p := &Pusher{repo: repo, refs: map[string]string{}}

	if len(refspecs) == 0 {
		all, err := repo.ListRefs()
		if err != nil {
			return nil, fmt.Errorf("listing local refs: %w", err)
		}
		p.refs = all
		return p, nil
	}

	for _, spec := range refspecs {
		rev, err := repo.ResolveRev(spec)
		if err != nil {
			return nil, fmt.Errorf("resolving refspec %q: %w", spec, err)
		}
		p.refs[spec] = rev
	}
	return p, nil
}

// LocalRefs returns the branch -> local revision map this Pusher was
// constructed with.
func (p *Pusher) LocalRefs() map[string]string {
	out := make(map[string]string, len(p.refs))
	for k, v := range p.refs {
		out[k] = v
	}
	return out
}

// CheckUpdate is a pure function: given the remote's advertised refs, it
// returns the set of local branches that diverge from them.
func (p *Pusher) CheckUpdate(remoteRefs map[string]string) wire.UpdateSet {
	updates := wire.UpdateSet{}
	for branch, localRev := range p.refs {
		remoteRev, ok := remoteRefs[branch]
		if ok && remoteRev == localRev {
			continue
		}
		from := wire.RevNull
		if ok {
			from = remoteRev
		}
		updates[branch] = wire.FromTo{From: from, To: localRev}
	}
	return updates
}

// NeededCommits walks parent links from localRev back towards remoteRev,
// returning the chain in child-to-ancestor order, localRev first and the
// child of remoteRev last. remoteRev may be wire.RevNull, in which case the
// walk returns the complete ancestor chain down to the root commit.
func (p *Pusher) NeededCommits(remoteRev, localRev string) ([]string, error) {
	var target *string
	if remoteRev != wire.RevNull {
		t := remoteRev
		target = &t
	}

	var chain []string
	current := localRev

	for {
		chain = append(chain, current)

		commit, err := p.repo.LoadCommit(current)
		if err != nil {
			return nil, &ShallowHistoryError{Revision: current}
		}

		parent := commit.Parent
		if target != nil && parent == *target {
			return chain, nil
		}
		if parent == "" {
			if target != nil {
				return nil, &NotDescendantError{Remote: remoteRev, Local: localRev}
			}
			return chain, nil
		}
		current = parent
	}
}

// NeededObjects expands a list of commits into the flat, deduplicated list
// of objects that must be present on the destination, per SPEC_FULL.md
// §4.1's shipping rules (filez for files, commit+commitmeta for commits,
// verbatim suffix otherwise).
func (p *Pusher) NeededObjects(commits []string) ([]wire.NeededObject, error) {
	seen := map[string]bool{}
	var needed []wire.NeededObject

	for _, commit := range commits {
		reachable, err := p.repo.TraverseCommit(commit)
		if err != nil {
			return nil, fmt.Errorf("traversing commit %s: %w", commit, err)
		}

		for _, obj := range reachable {
			name := obj.Checksum + "." + obj.Type.Suffix()
			entry, err := p.shipObject(obj.Checksum, name, seen)
			if err != nil {
				return nil, err
			}
			if entry != nil {
				needed = append(needed, *entry)
			}

			if obj.Type == backend.TypeCommit {
				metaName := obj.Checksum + ".commitmeta"
				if !p.repo.ObjectExists(metaName) {
					continue
				}
				metaEntry, err := p.shipObject(obj.Checksum, metaName, seen)
				if err != nil {
					return nil, err
				}
				if metaEntry != nil {
					needed = append(needed, *metaEntry)
				}
			}
		}
	}

	return needed, nil
}

func (p *Pusher) shipObject(rev, name string, seen map[string]bool) (*wire.NeededObject, error) {
	if seen[name] {
		return nil, nil
	}
	seen[name] = true

	if !p.repo.ObjectExists(name) {
		return nil, &MissingLocalObjectError{ObjectName: name}
	}
	fingerprint, err := p.repo.Fingerprint(name)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting %s: %w", name, err)
	}
	return &wire.NeededObject{
		Rev:        rev,
		ObjectName: name,
		ObjectPath: p.repo.ObjectPath(name),
		Checksum:   fingerprint,
	}, nil
}

// Retrieve prunes the local store, then walks every branch in updates to
// its needed commits, and returns the combined, deduplicated object list to
// upload. Order across branches is unspecified but each branch's own chain
// stays contiguous.
func (p *Pusher) Retrieve(updates wire.UpdateSet) ([]wire.NeededObject, error) {
	if _, _, _, err := p.repo.Prune(); err != nil {
		return nil, fmt.Errorf("pruning before retrieve: %w", err)
	}

	var allCommits []string
	for branch, ft := range updates {
		commits, err := p.NeededCommits(ft.From, ft.To)
		if err != nil {
			return nil, fmt.Errorf("computing needed commits for %s: %w", branch, err)
		}
		allCommits = append(allCommits, commits...)
	}

	return p.NeededObjects(allCommits)
}
