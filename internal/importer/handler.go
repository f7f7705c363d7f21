package importer

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/cityingest/internal/delivery"
	"github.com/JonMunkholm/cityingest/internal/logging"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

// Handler adapts the importer to a delivery consumer. Each message gets its
// own timeout when timeout > 0.
//
// A redelivered message whose batch is already in the import ledger is a
// benign no-op and returns nil. Every other failure is returned for the
// consumer to log.
func (im *Importer) Handler(timeout time.Duration) delivery.Handler {
	return func(ctx context.Context, msg delivery.TransformMessage) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		_, err := im.ImportBatch(ctx, msg)
		if errors.Is(err, sentinel.ErrAlreadyImported) {
			logging.Enrich(logging.WithCorrelationID(ctx, msg.CorrelationID), im.logger).
				Info("skipping redelivered batch", "records", len(msg.ValidCities))
			return nil
		}
		return err
	}
}
