package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

var errChannelClosed = errors.New("channel closed")

type envelope struct {
	contentType string
	body        []byte
}

// MemoryChannel is an in-process Publisher and Consumer pair. Messages go
// through the configured codec so the wire path matches the Kafka backend.
type MemoryChannel struct {
	codec  Codec
	logger *slog.Logger
	queue  chan envelope

	mu     sync.RWMutex
	closed bool
}

var (
	_ Publisher = (*MemoryChannel)(nil)
	_ Consumer  = (*MemoryChannel)(nil)
)

// NewMemoryChannel creates a channel buffering up to size messages.
func NewMemoryChannel(codec Codec, size int, opts ...Option) *MemoryChannel {
	o := applyOptions(opts)
	if codec == nil {
		codec = JSON
	}
	if size <= 0 {
		size = 64
	}
	return &MemoryChannel{codec: codec, logger: o.logger, queue: make(chan envelope, size)}
}

func (c *MemoryChannel) Publish(ctx context.Context, msg TransformMessage) error {
	if err := msg.CheckPublishable(); err != nil {
		return err
	}
	body, err := c.codec.Encode(msg)
	if err != nil {
		return &sentinel.TransportError{Op: "publish", Err: err}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return &sentinel.TransportError{Op: "publish", Err: errChannelClosed}
	}
	select {
	case c.queue <- envelope{contentType: c.codec.ContentType(), body: body}:
		return nil
	case <-ctx.Done():
		return &sentinel.TransportError{Op: "publish", Err: ctx.Err()}
	}
}

// Close stops accepting messages. Buffered messages are still delivered.
func (c *MemoryChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// Run delivers messages to h until ctx is cancelled or the channel is closed
// and drained. Handler failures are logged; the message is not retried.
func (c *MemoryChannel) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-c.queue:
			if !ok {
				return nil
			}
			c.deliver(ctx, env, h)
		}
	}
}

func (c *MemoryChannel) deliver(ctx context.Context, env envelope, h Handler) {
	codec, err := CodecForContentType(env.contentType)
	if err != nil {
		c.logger.Error("dropping undecodable message", "error", err)
		return
	}
	var msg TransformMessage
	if err := codec.Decode(env.body, &msg); err != nil {
		c.logger.Error("dropping undecodable message", "error", err)
		return
	}
	if err := h(ctx, msg); err != nil {
		c.logger.Error("message handler failed",
			"correlation_id", msg.CorrelationID,
			"error", err,
		)
	}
}

// Pending returns the number of buffered, undelivered messages.
func (c *MemoryChannel) Pending() int { return len(c.queue) }
