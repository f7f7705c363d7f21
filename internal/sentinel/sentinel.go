// Package sentinel holds the error taxonomy shared by the pipeline stages.
//
// Stores, trackers and transports return these values (optionally wrapped) so
// the HTTP layer and the Kafka handler can classify failures with errors.Is
// and errors.As without knowing which backend produced them:
//
//   - ErrNotFound: a batch, item or record does not exist
//   - ErrConflict: coordinates already taken in the store
//   - ErrUnavailable: a collaborator (store, broker) cannot be reached
//   - ErrAlreadyImported: a redelivered message whose batch was already applied
//   - ErrInvalidBatch: a batch that violates the all-or-nothing rule
//
// Field-level validation problems are not errors at all: they are reported as
// record.ValidationError values inside a BatchResult.
package sentinel

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("unavailable")
	ErrAlreadyImported = errors.New("already imported")
	ErrInvalidBatch    = errors.New("invalid batch")
)

// PipelineKind names why a batch as a whole could not proceed.
type PipelineKind string

const (
	KindInvalidBatch PipelineKind = "invalid_batch"
	KindConflict     PipelineKind = "conflict"
	KindSnapshot     PipelineKind = "snapshot"
)

// PipelineError aborts an entire transform or import call.
type PipelineError struct {
	Kind          PipelineKind
	CorrelationID string
	Row           int // index of the offending record, -1 when not row specific
	Message       string
	Err           error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("pipeline %s: %s", e.Kind, e.Message)
	if e.CorrelationID != "" {
		msg += " (correlation_id=" + e.CorrelationID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Err }

// InvalidBatch returns a PipelineError for a batch that must not be delivered
// or imported.
func InvalidBatch(correlationID, message string) *PipelineError {
	return &PipelineError{
		Kind:          KindInvalidBatch,
		CorrelationID: correlationID,
		Row:           -1,
		Message:       message,
		Err:           ErrInvalidBatch,
	}
}

// Conflict returns a PipelineError for a coordinate collision at row.
func Conflict(correlationID string, row int, message string, err error) *PipelineError {
	if err == nil {
		err = ErrConflict
	}
	return &PipelineError{
		Kind:          KindConflict,
		CorrelationID: correlationID,
		Row:           row,
		Message:       message,
		Err:           err,
	}
}

// TransportError reports a failed hand-off to or from the delivery channel.
// The core never retries; that is the transport's job.
type TransportError struct {
	Op  string // "publish", "consume", "commit"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is or wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
