package web

// errors.go provides unified error response handling for the HTTP surface.
//
// Every handler error goes through respondError, which logs the technical
// error with the request and correlation ids and returns a short user message
// with a support code. Codes are grouped by category:
//
//	VAL001 - Malformed request body or URL parameter       400
//	VAL002 - Batch rejected (validation errors or empty)   400
//	VAL003 - Unknown batch or item status                  400
//	VAL004 - Request body too large                        413
//	NF001  - Batch or item not found                       404
//	CONF001 - Coordinates already exist                    409
//	BUSY001 - Import workers are all busy                  429
//	BUSY002 - Service is shutting down                     503
//	TRN001 - Delivery channel failure                      502
//	TRN002 - Store or tracker unavailable                  503
//	TRN003 - Request timed out                             504
//	ERR000 - Unexpected error                              500
//
// Classification uses errors.Is and errors.As against the sentinel taxonomy,
// so wrapped errors from any backend map the same way.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/cityingest/internal/importer"
	"github.com/JonMunkholm/cityingest/internal/logging"
	"github.com/JonMunkholm/cityingest/internal/queue"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
	Status  int    // HTTP status
}

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Action        string `json:"action,omitempty"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlationId,omitempty"`
	Row           *int   `json:"rowIndex,omitempty"`
}

// badRequestError marks a request that could not be decoded.
type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return "bad request: " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

// MapError converts an error to a user-friendly message.
// Returns the default message when no category matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		badReq  *badRequestError
		tooBig  *http.MaxBytesError
		pipeErr *sentinel.PipelineError
	)

	switch {
	case errors.As(err, &tooBig):
		return UserMessage{"Request body is too large", "Split the batch into smaller requests", "VAL004", http.StatusRequestEntityTooLarge}
	case errors.As(err, &badReq):
		return UserMessage{"Request is malformed", "Check the request format", "VAL001", http.StatusBadRequest}
	case errors.As(err, &pipeErr) && pipeErr.Kind == sentinel.KindConflict, errors.Is(err, sentinel.ErrConflict):
		return UserMessage{"Coordinates already exist", "Remove the conflicting city and resubmit", "CONF001", http.StatusConflict}
	case errors.Is(err, sentinel.ErrInvalidBatch):
		return UserMessage{"Batch was rejected", "Fix the reported errors and resubmit", "VAL002", http.StatusBadRequest}
	case errors.Is(err, queue.ErrInvalidStatus):
		return UserMessage{"Unknown status", "Use one of the documented status values", "VAL003", http.StatusBadRequest}
	case errors.Is(err, sentinel.ErrNotFound):
		return UserMessage{"Batch not found", "The batch may have expired. Please submit it again", "NF001", http.StatusNotFound}
	case errors.Is(err, importer.ErrPoolBusy):
		return UserMessage{"All import workers are busy", "Please wait a moment and try again", "BUSY001", http.StatusTooManyRequests}
	case errors.Is(err, importer.ErrPoolClosed):
		return UserMessage{"Service is shutting down", "Please try again shortly", "BUSY002", http.StatusServiceUnavailable}
	case sentinel.IsTransport(err):
		return UserMessage{"Batch could not be handed to the delivery channel", "Please try again", "TRN001", http.StatusBadGateway}
	case errors.Is(err, sentinel.ErrUnavailable):
		return UserMessage{"A backing service is unavailable", "Please try again in a few moments", "TRN002", http.StatusServiceUnavailable}
	case errors.Is(err, context.DeadlineExceeded):
		return UserMessage{"Request timed out", "Try a smaller batch or try again later", "TRN003", http.StatusGatewayTimeout}
	}
	return defaultMessage
}

// respondError logs the technical error server-side and writes the mapped
// user message as JSON.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := MapError(err)

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var pipeErr *sentinel.PipelineError
	if errors.As(err, &pipeErr) {
		resp.CorrelationID = pipeErr.CorrelationID
		if pipeErr.Row >= 0 {
			row := pipeErr.Row
			resp.Row = &row
		}
	}

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", msg.Status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if msg.Status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(msg.Status)
	_ = json.NewEncoder(w).Encode(resp)
}
