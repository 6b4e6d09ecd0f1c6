package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/NahomAnteneh/ostree-upload/internal/apierr"
)

func unauthorized(msg string) *apierr.Error {
	return &apierr.Error{Kind: apierr.KindInvalidToken, Message: msg}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Error("encoding JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, apiErr *apierr.Error) {
	s.log.WithFields(map[string]interface{}{
		"request_id": requestID,
		"error_type": apiErr.Kind,
	}).Warn(apiErr.Message)
	s.writeJSON(w, apiErr.StatusCode(), apiErr.JSON())
}

func (s *Server) writeInternalError(w http.ResponseWriter, requestID string, err error) {
	s.log.WithFields(map[string]interface{}{
		"request_id": requestID,
	}).WithError(err).Error("internal error")
	s.writeJSON(w, apierr.Internal(err).StatusCode(), apierr.Internal(err).JSON())
}
