package queue

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	batches map[string]*Batch
}

// MemoryTracker is an in-process Tracker. Batches are spread across
// independently locked shards so updates to different batches rarely contend.
// State is lost on restart.
type MemoryTracker struct {
	shards [shardCount]*shard
	opts   options
}

var _ Tracker = (*MemoryTracker)(nil)

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker(opts ...Option) *MemoryTracker {
	t := &MemoryTracker{opts: options{now: time.Now, newID: uuid.NewString}}
	for _, opt := range opts {
		if opt != nil {
			opt(&t.opts)
		}
	}
	for i := range t.shards {
		t.shards[i] = &shard{batches: make(map[string]*Batch)}
	}
	return t
}

func (t *MemoryTracker) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return t.shards[h.Sum32()%shardCount]
}

func (t *MemoryTracker) Create(_ context.Context, payloads []json.RawMessage) (*Batch, error) {
	b := newBatch(t.opts.newID(), payloads, t.opts.now())
	s := t.shardFor(b.ID)
	s.mu.Lock()
	s.batches[b.ID] = b
	s.mu.Unlock()
	return b.Clone(), nil
}

func (t *MemoryTracker) Get(_ context.Context, id string) (*Batch, error) {
	s := t.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, notFound(id)
	}
	return b.Clone(), nil
}

func (t *MemoryTracker) List(_ context.Context) ([]*Batch, error) {
	var out []*Batch
	for _, s := range t.shards {
		s.mu.RLock()
		for _, b := range s.batches {
			out = append(out, b.Clone())
		}
		s.mu.RUnlock()
	}
	sortBatches(out)
	return out, nil
}

func (t *MemoryTracker) UpdateItem(_ context.Context, id string, index int, status ItemStatus, msg string) (*Batch, error) {
	return t.mutate(id, func(b *Batch) error {
		return b.applyItem(index, status, msg, t.opts.now())
	})
}

func (t *MemoryTracker) UpdateStatus(_ context.Context, id string, status Status) (*Batch, error) {
	return t.mutate(id, func(b *Batch) error {
		return b.applyStatus(status, t.opts.now())
	})
}

// mutate applies fn to a working copy and swaps it in only on success, so a
// rejected update leaves the stored batch untouched.
func (t *MemoryTracker) mutate(id string, fn func(*Batch) error) (*Batch, error) {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, notFound(id)
	}
	next := b.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.batches[id] = next
	return next.Clone(), nil
}

func (t *MemoryTracker) Delete(_ context.Context, id string) error {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[id]; !ok {
		return notFound(id)
	}
	delete(s.batches, id)
	return nil
}

func (t *MemoryTracker) EvictOlderThan(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := t.opts.now().Add(-maxAge)
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for id, b := range s.batches {
			if b.UpdatedAt.Before(cutoff) {
				delete(s.batches, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func sortBatches(bs []*Batch) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}
		return bs[i].ID < bs[j].ID
	})
}
