// Package pipeline wires the transform engine, the batch tracker, the
// delivery channel and the importer into the operations the HTTP surface
// exposes.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/cityingest/internal/delivery"
	"github.com/JonMunkholm/cityingest/internal/importer"
	"github.com/JonMunkholm/cityingest/internal/logging"
	"github.com/JonMunkholm/cityingest/internal/metrics"
	"github.com/JonMunkholm/cityingest/internal/queue"
	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
	"github.com/JonMunkholm/cityingest/internal/store"
	"github.com/JonMunkholm/cityingest/internal/transform"
)

// Deps are the collaborators of a Service. Metrics and Logger are optional.
type Deps struct {
	Engine        *transform.Engine
	Snapshots     store.Snapshotter
	Tracker       queue.Tracker
	Publisher     delivery.Publisher
	Importer      *importer.Importer
	Pool          *importer.Pool
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	ImportTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
}

// Service runs the pipeline operations.
type Service struct {
	deps Deps
}

// New creates a Service.
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Service{deps: deps}
}

// Submission is the outcome of Submit. The embedded result is always present;
// the delivery fields are set only for a publishable batch.
type Submission struct {
	record.BatchResult
	CorrelationID string `json:"correlationId,omitempty"`
	BatchID       string `json:"queueId,omitempty"`
	Published     bool   `json:"published"`
}

// Submit transforms raws against a fresh store snapshot.
//
// A batch that passes the all-or-nothing rule is registered with the tracker
// and published. The tracker batch id doubles as the correlation id so that a
// batch imported through StartImport and through the delivery channel is
// recognized as the same batch. A publish failure is returned as a
// *sentinel.TransportError together with the submission; the tracker batch
// stays PENDING.
func (s *Service) Submit(ctx context.Context, raws []record.RawRecord) (Submission, error) {
	logger := logging.Enrich(ctx, s.deps.Logger)

	snapshot, err := s.deps.Snapshots.ListCoordinates(ctx)
	if err != nil {
		return Submission{}, &sentinel.PipelineError{
			Kind:    sentinel.KindSnapshot,
			Row:     -1,
			Message: "existing coordinates could not be read",
			Err:     err,
		}
	}

	res := s.deps.Engine.Transform(raws, snapshot)
	s.deps.Metrics.ObserveTransform(res.Stats.Valid, res.Stats.Invalid, res.Stats.Duplicates)
	sub := Submission{BatchResult: res}

	if !res.Publishable() {
		logger.Warn("batch not published",
			"records", res.Stats.Total,
			"errors", len(res.Errors),
		)
		return sub, nil
	}

	payloads := make([]json.RawMessage, len(res.Valid))
	for i, rec := range res.Valid {
		b, err := json.Marshal(rec)
		if err != nil {
			return sub, fmt.Errorf("encode record %d: %w", i, err)
		}
		payloads[i] = b
	}
	batch, err := s.deps.Tracker.Create(ctx, payloads)
	if err != nil {
		return sub, fmt.Errorf("track batch: %w", err)
	}
	sub.BatchID = batch.ID
	sub.CorrelationID = batch.ID
	logger = logger.With("correlation_id", sub.CorrelationID)

	msg := delivery.NewMessage(sub.CorrelationID, batch.ID, res, s.deps.Now())
	if err := s.deps.Publisher.Publish(ctx, msg); err != nil {
		s.deps.Metrics.IncrementPublishFailure()
		logger.Error("publish failed", "error", err)
		return sub, err
	}
	s.deps.Metrics.IncrementPublished()
	sub.Published = true

	logger.Info("batch published",
		"records", res.Stats.Total,
		"valid", res.Stats.Valid,
	)
	return sub, nil
}

// Enqueue publishes a caller-built message. A missing correlation id or
// production time is filled in.
func (s *Service) Enqueue(ctx context.Context, msg delivery.TransformMessage) (delivery.TransformMessage, error) {
	if len(msg.ValidCities) == 0 {
		return msg, sentinel.InvalidBatch(msg.CorrelationID, "validCities must not be empty")
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = s.deps.NewID()
	}
	if msg.ProducedAt.IsZero() {
		msg.ProducedAt = s.deps.Now().UTC()
	}
	if msg.Errors == nil {
		msg.Errors = []record.ValidationError{}
	}

	if err := s.deps.Publisher.Publish(ctx, msg); err != nil {
		if sentinel.IsTransport(err) {
			s.deps.Metrics.IncrementPublishFailure()
		}
		return msg, err
	}
	s.deps.Metrics.IncrementPublished()
	logging.Enrich(logging.WithCorrelationID(ctx, msg.CorrelationID), s.deps.Logger).
		Info("message enqueued", "records", len(msg.ValidCities))
	return msg, nil
}

// ImportTicket acknowledges an accepted import request.
type ImportTicket struct {
	Message       string `json:"message"`
	BatchID       string `json:"queueId"`
	CorrelationID string `json:"correlationId"`
	Records       int    `json:"records"`
}

// StartImport hands a tracked batch to the worker pool and returns as soon as
// the job is accepted. The outcome is visible through the tracker.
func (s *Service) StartImport(ctx context.Context, batchID string) (ImportTicket, error) {
	batch, err := s.deps.Tracker.Get(ctx, batchID)
	if err != nil {
		return ImportTicket{}, err
	}

	cities := make([]record.ValidatedRecord, len(batch.Items))
	for i, it := range batch.Items {
		if err := json.Unmarshal(it.Payload, &cities[i]); err != nil {
			return ImportTicket{}, sentinel.InvalidBatch(batch.ID,
				fmt.Sprintf("item %d does not hold a validated city: %v", i, err))
		}
	}
	msg := delivery.TransformMessage{
		CorrelationID: batch.ID,
		BatchID:       batch.ID,
		ValidCities:   cities,
		Errors:        []record.ValidationError{},
		Stats:         record.Stats{Total: len(cities), Valid: len(cities)},
		ProducedAt:    batch.CreatedAt,
	}
	if err := msg.CheckPublishable(); err != nil {
		return ImportTicket{}, err
	}

	logger := logging.Enrich(logging.WithCorrelationID(ctx, msg.CorrelationID), s.deps.Logger)
	err = s.deps.Pool.Submit(ctx, func(base context.Context) {
		jobCtx := logging.WithCorrelationID(base, msg.CorrelationID)
		if s.deps.ImportTimeout > 0 {
			var cancel context.CancelFunc
			jobCtx, cancel = context.WithTimeout(jobCtx, s.deps.ImportTimeout)
			defer cancel()
		}
		if _, err := s.deps.Importer.ImportBatch(jobCtx, msg); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyImported) {
				logger.Info("batch already imported")
				return
			}
			logger.Error("import failed", "error", err)
		}
	})
	if err != nil {
		return ImportTicket{}, err
	}

	return ImportTicket{
		Message:       "Import started",
		BatchID:       batch.ID,
		CorrelationID: msg.CorrelationID,
		Records:       len(cities),
	}, nil
}
