// Package importer persists delivered batches.
//
// A batch is one logical transaction: either every record is written or, on a
// coordinate conflict, none are. The all-or-nothing rule is checked again here
// even though producers already enforce it. Cancellation is the one exception
// to whole-batch atomicity: records written before the context was cancelled
// stay committed.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/cityingest/internal/delivery"
	"github.com/JonMunkholm/cityingest/internal/logging"
	"github.com/JonMunkholm/cityingest/internal/metrics"
	"github.com/JonMunkholm/cityingest/internal/queue"
	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
	"github.com/JonMunkholm/cityingest/internal/store"
)

// Import outcomes, used as metric labels.
const (
	outcomeImported    = "imported"
	outcomeRejected    = "rejected"
	outcomeConflict    = "conflict"
	outcomeRedelivered = "redelivered"
	outcomeCancelled   = "cancelled"
	outcomeError       = "error"
)

const rolledBackMessage = "batch rolled back"

// Reporter receives per-item progress for batches that carry a tracker id.
// queue.Tracker satisfies it.
type Reporter interface {
	UpdateItem(ctx context.Context, id string, index int, status queue.ItemStatus, msg string) (*queue.Batch, error)
	UpdateStatus(ctx context.Context, id string, status queue.Status) (*queue.Batch, error)
}

// Result summarizes one import call.
type Result struct {
	CorrelationID string `json:"correlationId"`
	Imported      int    `json:"imported"`
}

// Importer writes TransformMessages to a Store.
type Importer struct {
	store    store.Store
	reporter Reporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithReporter enables progress reporting to a batch tracker.
func WithReporter(r Reporter) Option {
	return func(im *Importer) { im.reporter = r }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(im *Importer) { im.metrics = m }
}

// WithLogger sets the base logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(im *Importer) {
		if l != nil {
			im.logger = l
		}
	}
}

// WithClock overrides the time source used for creation dates.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) {
		if now != nil {
			im.now = now
		}
	}
}

// New creates an importer writing to s.
func New(s store.Store, opts ...Option) *Importer {
	im := &Importer{store: s, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(im)
		}
	}
	return im
}

// ImportBatch persists every valid record of msg in one transaction.
//
// Errors:
//   - *sentinel.PipelineError (invalid_batch) when msg breaks the all-or-nothing
//     rule; the store is not touched
//   - *sentinel.PipelineError (conflict) when a record's coordinates are taken;
//     nothing from msg is persisted
//   - sentinel.ErrAlreadyImported when the correlation id was committed before,
//     including by a concurrent import of the same message
//   - a wrapped context error on cancellation, with Result.Imported holding
//     the number of records that stayed committed
func (im *Importer) ImportBatch(ctx context.Context, msg delivery.TransformMessage) (Result, error) {
	start := im.now()
	ctx = logging.WithCorrelationID(ctx, msg.CorrelationID)
	logger := logging.Enrich(ctx, im.logger)
	if msg.BatchID != "" {
		logger = logger.With("batch_id", msg.BatchID)
	}
	res := Result{CorrelationID: msg.CorrelationID}

	if err := msg.CheckPublishable(); err != nil {
		im.observe(outcomeRejected, start)
		logger.Warn("import rejected", "error", err)
		return res, err
	}

	tx, err := im.store.Begin(ctx)
	if err != nil {
		im.observe(outcomeError, start)
		return res, fmt.Errorf("begin import: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				logger.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	seen, err := tx.AlreadyImported(ctx, msg.CorrelationID)
	if err != nil {
		im.observe(outcomeError, start)
		return res, err
	}
	if seen {
		im.observe(outcomeRedelivered, start)
		return res, fmt.Errorf("correlation id %s: %w", msg.CorrelationID, sentinel.ErrAlreadyImported)
	}

	im.reportStatus(ctx, logger, msg.BatchID, queue.StatusProcessing)
	logger.Info("import started", "records", len(msg.ValidCities))

	created := im.now()
	for i, rec := range msg.ValidCities {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return im.commitPartial(ctx, logger, tx, msg, i, ctxErr, start, &committed)
		}

		exists, err := tx.ExistsAt(ctx, rec.Coordinates)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return im.commitPartial(ctx, logger, tx, msg, i, ctxErr, start, &committed)
			}
			im.observe(outcomeError, start)
			return res, fmt.Errorf("check coordinates of record %d: %w", i, err)
		}
		if exists {
			return res, im.conflict(ctx, logger, msg, i, rec, nil, start)
		}

		if _, err := tx.Insert(ctx, rec, created); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return res, im.conflict(ctx, logger, msg, i, rec, err, start)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return im.commitPartial(ctx, logger, tx, msg, i, ctxErr, start, &committed)
			}
			im.observe(outcomeError, start)
			return res, fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.MarkImported(ctx, msg.CorrelationID, len(msg.ValidCities)); err != nil {
		if errors.Is(err, sentinel.ErrConflict) && im.importedConcurrently(ctx, logger, msg) {
			return res, im.redelivered(ctx, logger, msg, start)
		}
		im.observe(outcomeError, start)
		return res, err
	}
	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, sentinel.ErrConflict) && im.importedConcurrently(ctx, logger, msg) {
			return res, im.redelivered(ctx, logger, msg, start)
		}
		im.observe(outcomeError, start)
		return res, err
	}
	committed = true
	res.Imported = len(msg.ValidCities)

	im.reportItems(ctx, logger, msg.BatchID, 0, len(msg.ValidCities), queue.ItemSuccess, "")
	im.observe(outcomeImported, start)
	logger.Info("import completed",
		"records", res.Imported,
		"duration_ms", im.now().Sub(start).Milliseconds(),
	)
	return res, nil
}

// conflict reports a coordinate collision at row. The deferred rollback
// discards everything staged so far.
//
// A concurrent import of the same message that committed after our ledger
// check also surfaces as a conflict. The ledger is read again outside the
// transaction and, if the batch is there, the call is a redelivery and the
// winner's progress is left alone.
func (im *Importer) conflict(ctx context.Context, logger *slog.Logger, msg delivery.TransformMessage,
	row int, rec record.ValidatedRecord, cause error, start time.Time) error {
	if im.importedConcurrently(ctx, logger, msg) {
		return im.redelivered(ctx, logger, msg, start)
	}

	text := fmt.Sprintf("coordinates (%d, %d) already exist", rec.Coordinates.X, rec.Coordinates.Y)
	err := sentinel.Conflict(msg.CorrelationID, row, text, cause)

	if msg.BatchID != "" && im.reporter != nil {
		for i := range msg.ValidCities {
			itemMsg := rolledBackMessage
			if i == row {
				itemMsg = text
			}
			im.reportItem(ctx, logger, msg.BatchID, i, queue.ItemError, itemMsg)
		}
	}
	im.observe(outcomeConflict, start)
	logger.Warn("import aborted on conflict", "row", row, "error", err)
	return err
}

// importedConcurrently reports whether msg's correlation id reached the
// ledger through another import. Lookup failures count as not imported.
func (im *Importer) importedConcurrently(ctx context.Context, logger *slog.Logger, msg delivery.TransformMessage) bool {
	seen, err := im.store.AlreadyImported(context.WithoutCancel(ctx), msg.CorrelationID)
	if err != nil {
		logger.Warn("import ledger lookup failed", "error", err)
		return false
	}
	return seen
}

func (im *Importer) redelivered(ctx context.Context, logger *slog.Logger, msg delivery.TransformMessage, start time.Time) error {
	// Undo our PROCESSING mark in case it landed after the winner finished.
	im.reportStatus(ctx, logger, msg.BatchID, queue.StatusCompleted)
	im.observe(outcomeRedelivered, start)
	logger.Info("batch imported concurrently", "records", len(msg.ValidCities))
	return fmt.Errorf("correlation id %s: %w", msg.CorrelationID, sentinel.ErrAlreadyImported)
}

// commitPartial keeps records [0, done) after cancellation. The ledger entry is
// not written, so a redelivery of the same message would conflict on the
// committed records.
func (im *Importer) commitPartial(ctx context.Context, logger *slog.Logger, tx store.ImportTx,
	msg delivery.TransformMessage, done int, cause error, start time.Time, committed *bool) (Result, error) {
	res := Result{CorrelationID: msg.CorrelationID}
	detached := context.WithoutCancel(ctx)

	if done > 0 {
		if err := tx.Commit(detached); err != nil {
			im.reportItems(ctx, logger, msg.BatchID, 0, len(msg.ValidCities), queue.ItemError, "import cancelled")
			im.observe(outcomeError, start)
			logger.Error("partial commit failed", "records", done, "error", err)
			return res, errors.Join(fmt.Errorf("import cancelled: %w", cause), err)
		}
		*committed = true
		res.Imported = done
	}

	im.reportItems(ctx, logger, msg.BatchID, 0, done, queue.ItemSuccess, "")
	im.reportItems(ctx, logger, msg.BatchID, done, len(msg.ValidCities), queue.ItemError, "import cancelled")
	im.observe(outcomeCancelled, start)
	logger.Warn("import cancelled",
		"imported", done,
		"records", len(msg.ValidCities),
		"error", cause,
	)
	return res, fmt.Errorf("import cancelled after %d of %d records: %w", done, len(msg.ValidCities), cause)
}

func (im *Importer) reportStatus(ctx context.Context, logger *slog.Logger, batchID string, status queue.Status) {
	if batchID == "" || im.reporter == nil {
		return
	}
	if _, err := im.reporter.UpdateStatus(context.WithoutCancel(ctx), batchID, status); err != nil {
		logger.Warn("progress report failed", "status", string(status), "error", err)
	}
}

func (im *Importer) reportItems(ctx context.Context, logger *slog.Logger, batchID string, from, to int, status queue.ItemStatus, msg string) {
	if batchID == "" || im.reporter == nil {
		return
	}
	for i := from; i < to; i++ {
		im.reportItem(ctx, logger, batchID, i, status, msg)
	}
}

func (im *Importer) reportItem(ctx context.Context, logger *slog.Logger, batchID string, index int, status queue.ItemStatus, msg string) {
	if _, err := im.reporter.UpdateItem(context.WithoutCancel(ctx), batchID, index, status, msg); err != nil {
		logger.Warn("progress report failed", "index", index, "error", err)
	}
}

func (im *Importer) observe(outcome string, start time.Time) {
	im.metrics.ObserveImport(outcome, im.now().Sub(start))
}
