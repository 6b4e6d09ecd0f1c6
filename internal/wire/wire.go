// Package wire defines the JSON and multipart shapes exchanged between the
// Pusher and the Receiver, and the fingerprint format that both sides must
// agree on.
package wire

// RevNull is the sentinel revision denoting "no prior revision" (a new
// branch on the receiving side).
const RevNull = "0000000000000000000000000000000000000000000000000000000000000000"

// FromTo is the (from, to) revision pair the client declares for a branch
// it wants updated.
type FromTo struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UpdateSet maps a branch name to the revision range the client wants to
// push for it.
type UpdateSet map[string]FromTo

// Info is the response body of GET /info.
type Info struct {
	Mode string            `json:"mode"`
	Refs map[string]string `json:"refs"`
}

// UpdateRequest is the request body of POST /update.
//
// The wire shape of each value is a two-element [from, to] array rather
// than an object, matching the original protocol's tuple encoding; FromTo
// implements json.Marshaler/Unmarshaler below to reproduce that exactly.
type UpdateRequest struct {
	Refs UpdateSet `json:"refs"`
}

// NeededObject names one on-disk object the sender may need to upload.
//
// ObjectPath is client-local and ignored by the server; it rides along on
// the wire for historical reasons (the original protocol always included
// it).
type NeededObject struct {
	Rev        string `json:"rev"`
	ObjectName string `json:"object_name"`
	ObjectPath string `json:"object_path"`
	Checksum   string `json:"checksum"`
}

// MissingObjectsArgs is the request body of GET /missing_objects.
type MissingObjectsArgs struct {
	Wanted []NeededObject `json:"wanted"`
}

// MissingObjectsResponse is the response body of GET /missing_objects.
type MissingObjectsResponse struct {
	Missing []NeededObject `json:"missing"`
}

// Status is the response body shared by /update, /upload and /done.
type Status struct {
	StatusOK bool    `json:"status"`
	Message  *string `json:"message"`
}

// Ok builds a successful Status with no message.
func Ok() Status {
	return Status{StatusOK: true}
}

// OkMessage builds a successful Status carrying an informational message.
func OkMessage(msg string) Status {
	return Status{StatusOK: true, Message: &msg}
}

// Fail builds a failed Status with a human-readable message.
func Fail(msg string) Status {
	return Status{StatusOK: false, Message: &msg}
}
