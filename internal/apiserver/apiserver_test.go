package apiserver

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/NahomAnteneh/ostree-upload/internal/backend"
	"github.com/NahomAnteneh/ostree-upload/internal/backend/jsonstore"
	"github.com/NahomAnteneh/ostree-upload/internal/wire"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "apiserver-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	if _, err := jsonstore.Create(dir); err != nil {
		t.Fatalf("jsonstore.Create: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := Config{Host: "127.0.0.1", Port: 0, RepoPath: dir}
	srv, err := New(cfg, log, func(path string) (backend.Repo, error) { return jsonstore.Open(path) }, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, dir
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+apiPrefix+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp
}

func TestPingReturnsEmptyObject(t *testing.T) {
	_, ts, _ := newTestServer(t)
	var body map[string]interface{}
	resp := doJSON(t, ts, http.MethodGet, "/ping", nil, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ping status = %d, want 200", resp.StatusCode)
	}
	if len(body) != 0 {
		t.Fatalf("ping body = %+v, want empty object", body)
	}
}

func TestInfoOnEmptyRepo(t *testing.T) {
	_, ts, _ := newTestServer(t)
	var info wire.Info
	resp := doJSON(t, ts, http.MethodGet, "/info", nil, &info)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status = %d, want 200", resp.StatusCode)
	}
	if info.Mode != "archive" {
		t.Fatalf("info.Mode = %q, want archive", info.Mode)
	}
	if len(info.Refs) != 0 {
		t.Fatalf("info.Refs = %+v, want empty", info.Refs)
	}
}

func TestUpdateNewBranchSucceeds(t *testing.T) {
	_, ts, _ := newTestServer(t)

	req := wire.UpdateRequest{Refs: wire.UpdateSet{
		"stable": {From: wire.RevNull, To: "A"},
	}}
	var status wire.Status
	resp := doJSON(t, ts, http.MethodPost, "/update", req, &status)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status code = %d, want 200", resp.StatusCode)
	}
	if !status.StatusOK {
		t.Fatalf("update status = %+v, want ok", status)
	}
}

func TestUpdateNonFastForwardRejected(t *testing.T) {
	srv, ts, dir := newTestServer(t)
	_ = srv

	store, err := jsonstore.Open(dir)
	if err != nil {
		t.Fatalf("jsonstore.Open: %v", err)
	}
	if err := store.SetRef("stable", "C"); err != nil {
		t.Fatalf("SetRef: %v", err)
	}

	req := wire.UpdateRequest{Refs: wire.UpdateSet{
		"stable": {From: "B", To: "A"},
	}}
	var status wire.Status
	doJSON(t, ts, http.MethodPost, "/update", req, &status)
	if status.StatusOK {
		t.Fatalf("expected non-fast-forward update to be rejected")
	}
	if status.Message == nil || *status.Message != "Branch stable is at C, not B" {
		t.Fatalf("status.Message = %v, want %q", status.Message, "Branch stable is at C, not B")
	}
}

// uploadObject performs one /upload multipart request and returns the
// decoded Status.
func uploadObject(t *testing.T, ts *httptest.Server, rev, objectName, checksum string, content []byte) wire.Status {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range []struct{ name, value string }{
		{"rev", rev}, {"object_name", objectName}, {"checksum", checksum},
	} {
		if err := w.WriteField(f.name, f.value); err != nil {
			t.Fatalf("WriteField(%s): %v", f.name, err)
		}
	}
	part, err := w.CreateFormFile("file", objectName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Write file part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL+apiPrefix+"/upload", &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	var status wire.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decoding upload response: %v", err)
	}
	return status
}

func TestUploadThenDonePromotesObject(t *testing.T) {
	_, ts, dir := newTestServer(t)

	content := []byte("file contents")
	fingerprint := wire.Fingerprint(content)
	objectName := "abc123.filez"

	status := uploadObject(t, ts, "abc123", objectName, fingerprint, content)
	if !status.StatusOK {
		t.Fatalf("upload status = %+v, want ok", status)
	}

	if _, err := os.Stat(dir + "/.tmp/" + objectName); err != nil {
		t.Fatalf("expected staged object, stat error: %v", err)
	}

	var done wire.Status
	resp := doJSON(t, ts, http.MethodPost, "/done", nil, &done)
	if resp.StatusCode != http.StatusOK || !done.StatusOK {
		t.Fatalf("done = %+v (status %d), want ok", done, resp.StatusCode)
	}

	if _, err := os.Stat(dir + "/.tmp/" + objectName); !os.IsNotExist(err) {
		t.Fatalf("expected staged object to be gone after /done, stat error: %v", err)
	}
	if _, err := os.Stat(dir + "/objects/ab/c123.filez"); err != nil {
		t.Fatalf("expected promoted object, stat error: %v", err)
	}
}

func TestUploadIdempotentRetry(t *testing.T) {
	_, ts, _ := newTestServer(t)

	content := []byte("retry me")
	fingerprint := wire.Fingerprint(content)
	objectName := "retry01.filez"

	first := uploadObject(t, ts, "retry01", objectName, fingerprint, content)
	if !first.StatusOK {
		t.Fatalf("first upload = %+v, want ok", first)
	}

	second := uploadObject(t, ts, "retry01", objectName, fingerprint, content)
	if !second.StatusOK {
		t.Fatalf("second upload = %+v, want ok", second)
	}
	if second.Message == nil {
		t.Fatalf("expected a message on idempotent retry")
	}
}

func TestRequestWithoutUserAgentRejected(t *testing.T) {
	_, ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+apiPrefix+"/info", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("User-Agent", "") // explicit empty value suppresses the default

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected request without User-Agent to be rejected, got 200")
	}
}

func TestMissingObjectsRejectsOversizedBody(t *testing.T) {
	_, ts, _ := newTestServer(t)

	args := wire.MissingObjectsArgs{Wanted: []wire.NeededObject{
		{Rev: "r", ObjectName: strings.Repeat("x", missingObjectsBodyCap+1024), Checksum: "c"},
	}}
	data, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+apiPrefix+"/missing_objects", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected oversized missing_objects body to be rejected, got 200")
	}
}

func TestMissingObjectsReportsAbsentAndOmitsPresent(t *testing.T) {
	_, ts, dir := newTestServer(t)

	store, err := jsonstore.Open(dir)
	if err != nil {
		t.Fatalf("jsonstore.Open: %v", err)
	}
	presentChecksum, err := store.WriteFile([]byte("already have this"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	presentName := presentChecksum + ".filez"
	presentFingerprint, err := store.Fingerprint(presentName)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	args := wire.MissingObjectsArgs{Wanted: []wire.NeededObject{
		{Rev: presentChecksum, ObjectName: presentName, Checksum: presentFingerprint},
		{Rev: "absent", ObjectName: "absent123.filez", Checksum: "deadbeef"},
	}}

	var response wire.MissingObjectsResponse
	resp := doJSON(t, ts, http.MethodGet, "/missing_objects", args, &response)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("missing_objects status = %d, want 200", resp.StatusCode)
	}
	if len(response.Missing) != 1 || response.Missing[0].ObjectName != "absent123.filez" {
		t.Fatalf("missing_objects response = %+v, want only absent123.filez", response.Missing)
	}
}
