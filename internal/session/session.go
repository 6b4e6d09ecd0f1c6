// Package session holds the protocol's per-push mutable state as an
// explicit, mutex-guarded value rather than module-level statics —
// SPEC_FULL.md §9's redesign of the reference implementation's process-
// global session. The protocol still assumes one session at a time (single
// client), so a single Session value serializes every writing handler
// behind one lock, per §5.
package session

import (
	"sync"

	"github.com/NahomAnteneh/ostree-upload/internal/wire"
)

// State names where a session sits in the update -> missing_objects* ->
// upload* -> done state machine.
type State string

const (
	StateIdle       State = "idle"
	StateNegotiated State = "negotiated"
	StateReceiving  State = "receiving"
)

// Session is the server's view of one in-flight push. The zero value is a
// ready-to-use Idle session.
//
// Session's methods are NOT self-locking: per SPEC_FULL.md §5, the lock
// must be held for a whole handler's duration (/update, /missing_objects,
// /upload, /done), not just around each individual field access — matching
// the original's `state.lock().unwrap()` held across the entire synchronous
// handler body (server.rs). Callers take the lock once via Lock/Unlock and
// then call these methods directly for the rest of the handler.
type Session struct {
	mu sync.Mutex

	state           State
	updateRefs      wire.UpdateSet
	receivedObjects []string
	received        map[string]bool // receivedObjects membership, for O(1) dedup checks
}

// New returns a fresh, Idle session.
func New() *Session {
	return &Session{state: StateIdle}
}

// Lock acquires the session's lock. Callers must call Unlock, typically via
// defer immediately after Lock, holding it across the rest of the handler.
func (s *Session) Lock() {
	s.mu.Lock()
}

// Unlock releases the session's lock.
func (s *Session) Unlock() {
	s.mu.Unlock()
}

// State returns the session's current state. Callers must hold the lock.
func (s *Session) State() State {
	return s.state
}

// BeginUpdate overwrites the session's update set and moves it to
// Negotiated, regardless of whether the caller will go on to validate it —
// this reproduces the reference implementation's "mutate before validate"
// behavior (SPEC_FULL.md §9 open question 1): a rejected /update still
// leaves the session holding the rejected set. Callers must hold the lock.
func (s *Session) BeginUpdate(update wire.UpdateSet) {
	s.updateRefs = update
	s.state = StateNegotiated
}

// UpdateRefs returns a copy of the session's current update set. Callers
// must hold the lock.
func (s *Session) UpdateRefs() wire.UpdateSet {
	out := make(wire.UpdateSet, len(s.updateRefs))
	for k, v := range s.updateRefs {
		out[k] = v
	}
	return out
}

// MarkReceiving transitions Negotiated -> Receiving on the first
// missing_objects/upload call of a session. Safe to call repeatedly.
// Callers must hold the lock.
func (s *Session) MarkReceiving() {
	if s.state == StateNegotiated {
		s.state = StateReceiving
	}
}

// RecordReceived appends objectName to the received-objects sequence if it
// is not already present, preserving SPEC_FULL.md invariant 2: no duplicate
// entries for the same object. Callers must hold the lock.
func (s *Session) RecordReceived(objectName string) {
	if s.received == nil {
		s.received = map[string]bool{}
	}
	if s.received[objectName] {
		return
	}
	s.received[objectName] = true
	s.receivedObjects = append(s.receivedObjects, objectName)
}

// ReceivedObjects returns a copy of the accumulated received-object
// sequence, in the order objects were recorded. Callers must hold the lock.
func (s *Session) ReceivedObjects() []string {
	out := make([]string, len(s.receivedObjects))
	copy(out, s.receivedObjects)
	return out
}

// Reset clears received objects and the update set and returns the session
// to Idle, called once /done has successfully rewritten every ref. Callers
// must hold the lock.
func (s *Session) Reset() {
	s.updateRefs = nil
	s.receivedObjects = nil
	s.received = nil
	s.state = StateIdle
}
