package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/cityingest/internal/delivery"
	"github.com/JonMunkholm/cityingest/internal/logging"
	"github.com/JonMunkholm/cityingest/internal/pipeline"
	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

type transformRequest struct {
	Cities []record.RawRecord `json:"cities"`
}

// transformResponse carries the submission and, when the hand-off to the
// delivery channel failed, the mapped error.
type transformResponse struct {
	pipeline.Submission
	Error *ErrorResponse `json:"error,omitempty"`
}

// handleTransform validates a batch and publishes it when it is clean.
// Validation problems are part of a 200 response; only store or
// delivery failures change the status.
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Cities == nil {
		req.Cities = []record.RawRecord{}
	}

	sub, err := s.deps.Pipeline.Submit(r.Context(), req.Cities)
	if err != nil {
		if !sentinel.IsTransport(err) {
			respondError(w, r, err)
			return
		}
		msg := MapError(err)
		logging.WithFields(r.Context(), "batch_id", sub.BatchID).Error("batch transformed but not published", "error", err)
		writeJSON(w, r, msg.Status, transformResponse{
			Submission: sub,
			Error:      &ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code},
		})
		return
	}

	writeJSON(w, r, http.StatusOK, transformResponse{Submission: sub})
}

type enqueueResponse struct {
	CorrelationID string    `json:"correlationId"`
	AcceptedAt    time.Time `json:"acceptedAt"`
}

// handleEnqueue publishes a caller-built transform message.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var msg delivery.TransformMessage
	if err := s.decodeJSON(w, r, &msg); err != nil {
		respondError(w, r, err)
		return
	}

	out, err := s.deps.Pipeline.Enqueue(r.Context(), msg)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, enqueueResponse{
		CorrelationID: out.CorrelationID,
		AcceptedAt:    time.Now().UTC(),
	})
}
