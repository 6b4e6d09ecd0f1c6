package apiserver

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/NahomAnteneh/ostree-upload/internal/apierr"
	"github.com/NahomAnteneh/ostree-upload/internal/backend"
	"github.com/NahomAnteneh/ostree-upload/internal/wire"
)

// chunkSize is the buffer used to stream /upload bodies to disk, one chunk
// at a time, per SPEC_FULL.md §5's "chunked; each chunk is written before
// the next is read" requirement.
const chunkSize = 64 * 1024

// handlePing answers /ping with an empty JSON object and no state effect.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{})
}

// handleInfo answers /info with the repository's mode and refs. The session
// lock is held so the refs are never read while /done is rewriting them.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	s.sess.Lock()
	defer s.sess.Unlock()
	info, err := s.receiver.GetInfo()
	if err != nil {
		s.writeInternalError(w, requestID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// missingObjectsBodyCap is the maximum /missing_objects request body size,
// SPEC_FULL.md §6 ("body cap 10 MiB"), matching the original's
// web::JsonConfig::default().limit(1024 * 1024 * 10) registered on that
// resource in bin/ostree-receive.rs.
const missingObjectsBodyCap = 10 * 1024 * 1024

// handleUpdate accepts the client's proposed update set. The copy into
// session state happens before validation, reproducing the reference
// implementation's known quirk (SPEC_FULL.md §9 open question 1): a
// rejected update still leaves the session holding it. The session lock is
// held for the handler's full duration, per SPEC_FULL.md §5.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	s.sess.Lock()
	defer s.sess.Unlock()

	var req wire.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, requestID, &apierr.Error{Kind: apierr.KindGeneric, Message: "malformed update request: " + err.Error()})
		return
	}

	s.sess.BeginUpdate(req.Refs)

	status, err := s.receiver.CheckUpdate(req.Refs)
	if err != nil {
		s.writeInternalError(w, requestID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleMissingObjects reports which of the client's wanted objects the
// server still needs, fingerprinting whichever copy (staged, then
// promoted) currently exists — the corrected behavior for SPEC_FULL.md §9
// open question 2. The session lock is held for the handler's full
// duration, per SPEC_FULL.md §5, so this never races a concurrent /done.
func (s *Server) handleMissingObjects(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	s.sess.Lock()
	defer s.sess.Unlock()

	r.Body = http.MaxBytesReader(w, r.Body, missingObjectsBodyCap)

	var args wire.MissingObjectsArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		s.writeError(w, requestID, &apierr.Error{Kind: apierr.KindGeneric, Message: "malformed missing_objects request: " + err.Error()})
		return
	}

	s.sess.MarkReceiving()

	var missing []wire.NeededObject
	for _, wanted := range args.Wanted {
		fingerprint, err := s.receiver.ObjectFingerprint(wanted.ObjectName)
		switch {
		case err == backend.ErrObjectNotFound:
			missing = append(missing, wanted)
		case err != nil:
			s.writeInternalError(w, requestID, err)
			return
		case !wire.FingerprintEqual(fingerprint, wanted.Checksum):
			missing = append(missing, wanted)
		}
	}

	s.writeJSON(w, http.StatusOK, wire.MissingObjectsResponse{Missing: missing})
}

// handleUpload accepts one multipart-encoded object per request, streaming
// the file part to the staging area a chunk at a time, offloaded to the
// I/O worker pool. The session lock is held for the handler's full
// duration, including across each chunk's read-then-write step, per
// SPEC_FULL.md §5.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	s.sess.Lock()
	defer s.sess.Unlock()
	s.sess.MarkReceiving()

	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, requestID, &apierr.Error{Kind: apierr.KindGeneric, Message: "expected multipart/form-data body"})
		return
	}

	var rev, objectName, checksum string
	for _, field := range []*string{&rev, &objectName, &checksum} {
		part, err := reader.NextPart()
		if err != nil {
			s.writeError(w, requestID, &apierr.Error{Kind: apierr.KindGeneric, Message: "truncated upload form: " + err.Error()})
			return
		}
		value, err := io.ReadAll(io.LimitReader(part, 4096))
		if err != nil {
			s.writeInternalError(w, requestID, err)
			return
		}
		*field = string(value)
	}

	filePart, err := reader.NextPart()
	if err != nil {
		s.writeError(w, requestID, &apierr.Error{Kind: apierr.KindGeneric, Message: "missing file part: " + err.Error()})
		return
	}

	// Empty values for any of the first three fields is a defensive no-op:
	// ignore the file part entirely and report success, per SPEC_FULL.md §4.3.
	if rev == "" || objectName == "" || checksum == "" {
		_, _ = io.Copy(io.Discard, filePart)
		s.writeJSON(w, http.StatusOK, wire.Ok())
		return
	}

	// Idempotent-retry / already-stored short circuits: drain the file part
	// without writing, since the object is already satisfied.
	if fp, err := s.receiver.ObjectFingerprint(objectName); err == nil && wire.FingerprintEqual(fp, checksum) {
		_, _ = io.Copy(io.Discard, filePart)
		if tmpExists(s.receiver.TempPath(objectName)) {
			s.sess.RecordReceived(objectName)
			s.writeJSON(w, http.StatusOK, wire.OkMessage(objectName+" previously received"))
		} else {
			s.writeJSON(w, http.StatusOK, wire.OkMessage(objectName+" already stored"))
		}
		return
	}

	if err := s.streamToStaging(objectName, filePart); err != nil {
		s.writeInternalError(w, requestID, err)
		return
	}
	s.sess.RecordReceived(objectName)
	s.writeJSON(w, http.StatusOK, wire.Ok())
}

func tmpExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// streamToStaging copies src into the object's staging path a chunk at a
// time, each write offloaded to the I/O worker pool. The caller
// (handleUpload) already holds the session lock for the handler's full
// duration, so each chunk's read-then-write step runs under that lock too,
// per SPEC_FULL.md §5 — the one place Go's usual instinct to drop a lock
// around blocking I/O is deliberately overridden.
func (s *Server) streamToStaging(objectName string, src io.Reader) error {
	dest, err := os.Create(s.receiver.TempPath(objectName))
	if err != nil {
		return err
	}
	defer dest.Close()

	buf := make([]byte, chunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if err := s.pool.Submit(func() error {
				_, err := dest.Write(chunk)
				return err
			}); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// handleDone promotes every received object from staging into the object
// store and rewrites refs, then resets the session to Idle. The session
// lock is held for the handler's full duration, per SPEC_FULL.md §5, so a
// concurrent /upload's RecordReceived cannot land between the read of
// ReceivedObjects and the Reset that follows.
func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	s.sess.Lock()
	defer s.sess.Unlock()

	received := s.sess.ReceivedObjects()
	for _, name := range received {
		if err := s.receiver.PromoteObject(name); err != nil {
			s.writeInternalError(w, requestID, err)
			return
		}
	}

	if err := s.receiver.UpdateRefs(s.sess.UpdateRefs()); err != nil {
		s.writeInternalError(w, requestID, err)
		return
	}

	s.sess.Reset()
	s.writeJSON(w, http.StatusOK, wire.Ok())
}
