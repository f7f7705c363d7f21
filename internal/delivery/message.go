// Package delivery carries transform results from the producer side of the
// pipeline to the import consumer.
//
// The channel is at-least-once: a message may be delivered more than once and
// consumers must tolerate that. Only messages that satisfy the all-or-nothing
// rule (no errors, at least one valid record) are ever published.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

// TransformMessage is the unit handed to the delivery channel, keyed by
// CorrelationID.
type TransformMessage struct {
	CorrelationID string                   `json:"correlationId" msgpack:"correlationId"`
	BatchID       string                   `json:"batchId,omitempty" msgpack:"batchId,omitempty"`
	ValidCities   []record.ValidatedRecord `json:"validCities" msgpack:"validCities"`
	Errors        []record.ValidationError `json:"errors" msgpack:"errors"`
	Stats         record.Stats             `json:"stats" msgpack:"stats"`
	ProducedAt    time.Time                `json:"producedAt" msgpack:"producedAt"`
}

// NewMessage wraps a transform result for delivery.
func NewMessage(correlationID, batchID string, res record.BatchResult, producedAt time.Time) TransformMessage {
	errs := res.Errors
	if errs == nil {
		errs = []record.ValidationError{}
	}
	return TransformMessage{
		CorrelationID: correlationID,
		BatchID:       batchID,
		ValidCities:   res.Valid,
		Errors:        errs,
		Stats:         res.Stats,
		ProducedAt:    producedAt.UTC(),
	}
}

// CheckPublishable enforces the all-or-nothing rule.
func (m TransformMessage) CheckPublishable() error {
	if len(m.Errors) > 0 {
		return sentinel.InvalidBatch(m.CorrelationID,
			fmt.Sprintf("batch carries %d validation errors", len(m.Errors)))
	}
	if len(m.ValidCities) == 0 {
		return sentinel.InvalidBatch(m.CorrelationID, "batch has no valid records")
	}
	return nil
}

// Publisher hands messages to the channel.
type Publisher interface {
	// Publish refuses messages that fail CheckPublishable. Transport failures
	// are returned as *sentinel.TransportError.
	Publish(ctx context.Context, msg TransformMessage) error
	Close()
}

// Handler processes one delivered message.
type Handler func(ctx context.Context, msg TransformMessage) error

// Consumer delivers messages to a Handler until its context is cancelled.
type Consumer interface {
	Run(ctx context.Context, h Handler) error
}
