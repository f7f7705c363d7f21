// Package queue tracks the progress of batches after they leave the transform
// engine: per-item status, the aggregate batch status and age-based eviction.
//
// Two Tracker backends exist. MemoryTracker keeps state in a lock-striped map
// inside the process; RedisTracker keeps one key per batch in Redis so several
// server replicas share the same view. Both guarantee that every mutation of a
// single batch is atomic and that callers only ever see copies.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

// Status is the aggregate state of a batch.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether s is a known batch status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ItemStatus is the state of one item in a batch.
type ItemStatus string

const (
	ItemPending ItemStatus = "PENDING"
	ItemSuccess ItemStatus = "SUCCESS"
	ItemError   ItemStatus = "ERROR"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemPending, ItemSuccess, ItemError:
		return true
	}
	return false
}

var (
	// ErrItemOutOfRange is returned by UpdateItem for an index outside the batch.
	ErrItemOutOfRange = fmt.Errorf("item index out of range: %w", sentinel.ErrNotFound)

	// ErrInvalidStatus is returned for a status value the tracker does not know.
	ErrInvalidStatus = errors.New("invalid status")
)

// Item is one tracked record. Payload is opaque to the tracker.
type Item struct {
	Index   int             `json:"index" msgpack:"index"`
	Payload json.RawMessage `json:"cityData" msgpack:"cityData"`
	Status  ItemStatus      `json:"status" msgpack:"status"`
	Error   string          `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Batch is the tracked state of one submitted batch.
type Batch struct {
	ID             string    `json:"queueId" msgpack:"id"`
	Items          []Item    `json:"items" msgpack:"items"`
	Status         Status    `json:"status" msgpack:"status"`
	CreatedAt      time.Time `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" msgpack:"updatedAt"`
	TotalItems     int       `json:"totalItems" msgpack:"totalItems"`
	ProcessedItems int       `json:"processedItems" msgpack:"processedItems"`
}

func newBatch(id string, payloads []json.RawMessage, now time.Time) *Batch {
	items := make([]Item, len(payloads))
	for i, p := range payloads {
		items[i] = Item{Index: i, Payload: cloneRaw(p), Status: ItemPending}
	}
	return &Batch{
		ID:         id,
		Items:      items,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		TotalItems: len(items),
	}
}

// Clone returns a deep copy of b.
func (b *Batch) Clone() *Batch {
	out := *b
	out.Items = make([]Item, len(b.Items))
	for i, it := range b.Items {
		it.Payload = cloneRaw(it.Payload)
		out.Items[i] = it
	}
	return &out
}

// applyItem sets one item's outcome and recomputes the aggregate fields.
// Once every item is processed the batch is FAILED if any item is ERROR and
// COMPLETED otherwise.
func (b *Batch) applyItem(index int, status ItemStatus, msg string, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: item status %q", ErrInvalidStatus, status)
	}
	if index < 0 || index >= len(b.Items) {
		return fmt.Errorf("batch %s index %d: %w", b.ID, index, ErrItemOutOfRange)
	}

	b.Items[index].Status = status
	b.Items[index].Error = msg

	processed, failed := 0, false
	for _, it := range b.Items {
		if it.Status != ItemPending {
			processed++
		}
		if it.Status == ItemError {
			failed = true
		}
	}
	b.ProcessedItems = processed
	b.UpdatedAt = now

	switch {
	case processed == b.TotalItems && failed:
		b.Status = StatusFailed
	case processed == b.TotalItems:
		b.Status = StatusCompleted
	case processed > 0 && b.Status == StatusPending:
		b.Status = StatusProcessing
	}
	return nil
}

func (b *Batch) applyStatus(status Status, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: batch status %q", ErrInvalidStatus, status)
	}
	b.Status = status
	b.UpdatedAt = now
	return nil
}

func cloneRaw(p json.RawMessage) json.RawMessage {
	if p == nil {
		return nil
	}
	return append(json.RawMessage(nil), p...)
}

func notFound(id string) error {
	return fmt.Errorf("batch %s: %w", id, sentinel.ErrNotFound)
}
