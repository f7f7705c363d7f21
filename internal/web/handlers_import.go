package web

import (
	"errors"
	"net/http"
	"strings"
)

type startImportRequest struct {
	QueueID string `json:"queueId"`
}

// handleStartImport queues a tracked batch for import and returns at once.
// Progress is read back through the batch endpoints.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var req startImportRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	id := strings.TrimSpace(req.QueueID)
	if id == "" {
		respondError(w, r, &badRequestError{errors.New("queueId is required")})
		return
	}

	ticket, err := s.deps.Pipeline.StartImport(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, ticket)
}
