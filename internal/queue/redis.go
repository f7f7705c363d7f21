package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultKeyPrefix = "cityingest:"
	maxWatchRetries  = 32
)

// RedisTracker is a Tracker backed by Redis. Each batch is one msgpack-encoded
// string key; a sorted set scored by updatedAt indexes them for listing and
// eviction. Updates run as WATCH/MULTI transactions and retry on contention.
type RedisTracker struct {
	client redis.UniversalClient
	prefix string
	opts   options
}

var _ Tracker = (*RedisTracker)(nil)

// NewRedisTracker creates a tracker using client. The client's lifecycle is
// managed by the caller.
func NewRedisTracker(client redis.UniversalClient, opts ...Option) *RedisTracker {
	t := &RedisTracker{
		client: client,
		prefix: defaultKeyPrefix,
		opts:   options{now: time.Now, newID: uuid.NewString},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&t.opts)
		}
	}
	return t
}

// WithPrefix returns a copy of t that namespaces its keys under prefix.
func (t *RedisTracker) WithPrefix(prefix string) *RedisTracker {
	cp := *t
	cp.prefix = prefix
	return &cp
}

func (t *RedisTracker) batchKey(id string) string { return t.prefix + "batch:" + id }
func (t *RedisTracker) indexKey() string         { return t.prefix + "batches" }

func score(ts time.Time) float64 { return float64(ts.UnixMilli()) }

func (t *RedisTracker) Create(ctx context.Context, payloads []json.RawMessage) (*Batch, error) {
	b := newBatch(t.opts.newID(), payloads, t.opts.now())
	data, err := msgpack.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, t.batchKey(b.ID), data, 0)
		pipe.ZAdd(ctx, t.indexKey(), redis.Z{Score: score(b.UpdatedAt), Member: b.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return b, nil
}

func (t *RedisTracker) Get(ctx context.Context, id string) (*Batch, error) {
	data, err := t.client.Get(ctx, t.batchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return decodeBatch(data)
}

func (t *RedisTracker) List(ctx context.Context) ([]*Batch, error) {
	ids, err := t.client.ZRange(ctx, t.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	if len(ids) == 0 {
		return []*Batch{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = t.batchKey(id)
	}
	vals, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	out := make([]*Batch, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // removed between ZRANGE and MGET
		}
		b, err := decodeBatch([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	sortBatches(out)
	return out, nil
}

func (t *RedisTracker) UpdateItem(ctx context.Context, id string, index int, status ItemStatus, msg string) (*Batch, error) {
	return t.mutate(ctx, id, func(b *Batch) error {
		return b.applyItem(index, status, msg, t.opts.now())
	})
}

func (t *RedisTracker) UpdateStatus(ctx context.Context, id string, status Status) (*Batch, error) {
	return t.mutate(ctx, id, func(b *Batch) error {
		return b.applyStatus(status, t.opts.now())
	})
}

// mutate reads, modifies and writes one batch under WATCH. A concurrent write
// to the same key aborts the EXEC with redis.TxFailedErr and the whole
// read-modify-write is retried.
func (t *RedisTracker) mutate(ctx context.Context, id string, fn func(*Batch) error) (*Batch, error) {
	key := t.batchKey(id)
	var result *Batch

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		b, err := decodeBatch(data)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		enc, err := msgpack.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode batch: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, enc, 0)
			pipe.ZAdd(ctx, t.indexKey(), redis.Z{Score: score(b.UpdatedAt), Member: id})
			return nil
		})
		if err != nil {
			return err
		}
		result = b
		return nil
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := t.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("update batch %s: %w", id, redis.TxFailedErr)
}

func (t *RedisTracker) Delete(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, t.batchKey(id))
		pipe.ZRem(ctx, t.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", id, err)
	}
	if removed.Val() == 0 {
		return notFound(id)
	}
	return nil
}

func (t *RedisTracker) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := t.opts.now().Add(-maxAge)
	// Exclusive upper bound: updatedAt strictly before the cutoff.
	ids, err := t.client.ZRangeByScore(ctx, t.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatFloat(score(cutoff), 'f', -1, 64),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("evict: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = t.batchKey(id)
		members[i] = id
	}
	var deleted *redis.IntCmd
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, t.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("evict: %w", err)
	}
	return int(deleted.Val()), nil
}

// Health pings Redis.
func (t *RedisTracker) Health(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func decodeBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &b, nil
}
