// Package apiclient is the Pusher's transport: it speaks the six wire
// operations of SPEC_FULL.md §6 against a Receiver, with retry/backoff on
// transient network failures. Grounded on the teacher's
// internal/remote/http.Client (an http.Client wrapper with an Auth
// interface and a buildURL helper), generalized to bearer-token auth, JSON
// bodies for GET requests (the protocol's /missing_objects is "GET with
// JSON body"), and multipart streaming for /upload.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/NahomAnteneh/ostree-upload/internal/apierr"
	"github.com/NahomAnteneh/ostree-upload/internal/wire"
)

// MissingObjectsChunkSize is the reference chunk size for /missing_objects
// requests, keeping each request body under the protocol's 10 MiB limit
// (SPEC_FULL.md §6).
const MissingObjectsChunkSize = 100

const userAgent = "ostree-upload-pusher/1.0"

// Client speaks the protocol against one Receiver base URL.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	retry      func(context.Context, func() error) error
}

// New builds a Client. baseURL is the Receiver's address, e.g.
// "http://127.0.0.1:8080/api/v1".
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      token,
		retry:      retryTransient,
	}
}

// retryTransient retries op with an exponential backoff, matching the
// teacher's corpus-wide preference (via make-os-kit) for
// cenkalti/backoff/v4 over hand-rolled retry loops for transient network
// failures. Protocol-level failures (negotiation rejection, 4xx errors)
// are not retried — only transport errors are.
func retryTransient(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if _, ok := err.(*apierr.Error); ok {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s request: %w", method, path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// do executes req and decodes a successful JSON body into out (if out is
// non-nil), translating non-2xx responses into *apierr.Error.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to receiver failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			ErrorType string `json:"error-type"`
			Message   string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &apierr.Error{Kind: apierr.Kind(body.ErrorType), Message: body.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// Ping calls GET /ping.
func (c *Client) Ping(ctx context.Context) error {
	return c.retry(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/ping", nil, "")
		if err != nil {
			return err
		}
		return c.do(req, nil)
	})
}

// Info calls GET /info.
func (c *Client) Info(ctx context.Context) (wire.Info, error) {
	var info wire.Info
	err := c.retry(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/info", nil, "")
		if err != nil {
			return err
		}
		return c.do(req, &info)
	})
	return info, err
}

// Update calls POST /update.
func (c *Client) Update(ctx context.Context, updates wire.UpdateSet) (wire.Status, error) {
	var status wire.Status
	body, err := json.Marshal(wire.UpdateRequest{Refs: updates})
	if err != nil {
		return status, fmt.Errorf("encoding update request: %w", err)
	}
	err = c.retry(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodPost, "/update", bytes.NewReader(body), "application/json")
		if err != nil {
			return err
		}
		return c.do(req, &status)
	})
	return status, err
}

// MissingObjects calls GET /missing_objects for one chunk of wanted
// objects. Callers chunk the full wanted list at MissingObjectsChunkSize.
func (c *Client) MissingObjects(ctx context.Context, wanted []wire.NeededObject) ([]wire.NeededObject, error) {
	var response wire.MissingObjectsResponse
	body, err := json.Marshal(wire.MissingObjectsArgs{Wanted: wanted})
	if err != nil {
		return nil, fmt.Errorf("encoding missing_objects request: %w", err)
	}
	err = c.retry(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/missing_objects", bytes.NewReader(body), "application/json")
		if err != nil {
			return err
		}
		return c.do(req, &response)
	})
	return response.Missing, err
}

// Upload streams one object to POST /upload, with the fields in the order
// the protocol requires: rev, object_name, checksum, file.
func (c *Client) Upload(ctx context.Context, obj wire.NeededObject, content io.Reader) (wire.Status, error) {
	var status wire.Status
	// The body is built once so that every retry sends the same bytes;
	// content is a one-shot reader.
	body, contentType, err := buildUploadBody(obj, content)
	if err != nil {
		return status, err
	}
	err = c.retry(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodPost, "/upload", bytes.NewReader(body), contentType)
		if err != nil {
			return err
		}
		return c.do(req, &status)
	})
	return status, err
}

func buildUploadBody(obj wire.NeededObject, content io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	// Field order matters: the server reads rev, object_name, checksum, file
	// as positional parts, not by name.
	orderedFields := []struct{ name, value string }{
		{"rev", obj.Rev},
		{"object_name", obj.ObjectName},
		{"checksum", obj.Checksum},
	}
	for _, f := range orderedFields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("writing %s field: %w", f.name, err)
		}
	}

	part, err := w.CreateFormFile("file", obj.ObjectName)
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", fmt.Errorf("writing file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Done calls POST /done.
func (c *Client) Done(ctx context.Context) (wire.Status, error) {
	var status wire.Status
	err := c.retry(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodPost, "/done", nil, "")
		if err != nil {
			return err
		}
		return c.do(req, &status)
	})
	return status, err
}

// ChunkNeededObjects splits objects into request-sized chunks for
// MissingObjects, per the 100-object reference chunk size.
func ChunkNeededObjects(objects []wire.NeededObject) [][]wire.NeededObject {
	if len(objects) == 0 {
		return nil
	}
	var chunks [][]wire.NeededObject
	for i := 0; i < len(objects); i += MissingObjectsChunkSize {
		end := i + MissingObjectsChunkSize
		if end > len(objects) {
			end = len(objects)
		}
		chunks = append(chunks, objects[i:end])
	}
	return chunks
}
