package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Tracker owns Batch state. Every method is safe for concurrent use and every
// mutation of one batch is atomic. Unknown batch ids yield an error wrapping
// sentinel.ErrNotFound.
type Tracker interface {
	// Create registers a new batch with one PENDING item per payload.
	Create(ctx context.Context, payloads []json.RawMessage) (*Batch, error)
	Get(ctx context.Context, id string) (*Batch, error)
	// List returns every tracked batch ordered by creation time.
	List(ctx context.Context) ([]*Batch, error)
	UpdateItem(ctx context.Context, id string, index int, status ItemStatus, msg string) (*Batch, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Batch, error)
	Delete(ctx context.Context, id string) error
	// EvictOlderThan removes batches not updated within maxAge and returns
	// how many were removed.
	EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}

// Option configures a tracker backend.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides batch id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}
