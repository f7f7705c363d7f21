package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/cityingest/internal/config"
	"github.com/JonMunkholm/cityingest/internal/delivery"
	"github.com/JonMunkholm/cityingest/internal/importer"
	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/store"
	"github.com/JonMunkholm/cityingest/internal/transform"
)

var errRejected = errors.New("batch rejected")

type transformOptions struct {
	againstStore bool
}

func newTransformCmd() *cobra.Command {
	var opts transformOptions

	cmd := &cobra.Command{
		Use:   "transform FILE",
		Short: "Validate, normalize and dedup a city file and print the result",
		Long: "Reads a JSON array of cities (or an object with a \"cities\" array) and prints\n" +
			"the batch result. FILE may be - for stdin. Exits 3 when the batch is not importable.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raws, err := readRecords(cmd.InOrStdin(), args[0])
			if err != nil {
				return withCode(exitUsage, err)
			}
			rules, err := loadRules()
			if err != nil {
				return withCode(exitUsage, err)
			}

			existing := record.CoordinateSet{}
			if opts.againstStore {
				pg, closeFn, err := connectPostgres(cmd.Context())
				if err != nil {
					return err
				}
				defer closeFn()
				if existing, err = pg.ListCoordinates(cmd.Context()); err != nil {
					return err
				}
			}
			return runTransform(cmd.OutOrStdout(), transform.NewEngine(rules), raws, existing)
		},
	}

	cmd.Flags().BoolVar(&opts.againstStore, "against-store", false, "Also reject cities whose coordinates already exist in DATABASE_URL")
	return cmd
}

func runTransform(out io.Writer, engine *transform.Engine, raws []record.RawRecord, existing record.CoordinateSet) error {
	res := engine.Transform(raws, existing)
	if err := printJSON(out, res); err != nil {
		return err
	}
	if !res.Publishable() {
		return withCode(exitRejected, fmt.Errorf("%w: %d errors, %d valid", errRejected, len(res.Errors), len(res.Valid)))
	}
	return nil
}

type importOptions struct {
	correlationID string
	timeout       time.Duration
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Transform a city file against the store and import it in one transaction",
		Long: "Imports directly into DATABASE_URL, bypassing the tracker and delivery channel.\n" +
			"Re-running with the same --correlation-id is a no-op once the batch has been committed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raws, err := readRecords(cmd.InOrStdin(), args[0])
			if err != nil {
				return withCode(exitUsage, err)
			}
			rules, err := loadRules()
			if err != nil {
				return withCode(exitUsage, err)
			}
			pg, closeFn, err := connectPostgres(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}
			return runImport(ctx, cmd.OutOrStdout(), pg, transform.NewEngine(rules), raws, opts.correlationID)
		},
	}

	cmd.Flags().StringVar(&opts.correlationID, "correlation-id", "", "Correlation id recorded in the import ledger (default: random)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Maximum duration of the import")
	return cmd
}

func runImport(ctx context.Context, out io.Writer, s store.Store, engine *transform.Engine, raws []record.RawRecord, correlationID string) error {
	existing, err := s.ListCoordinates(ctx)
	if err != nil {
		return err
	}
	res := engine.Transform(raws, existing)
	if !res.Publishable() {
		if err := printJSON(out, res); err != nil {
			return err
		}
		return withCode(exitRejected, fmt.Errorf("%w: %d errors, %d valid", errRejected, len(res.Errors), len(res.Valid)))
	}

	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	msg := delivery.NewMessage(correlationID, "", res, time.Now())
	result, err := importer.New(s).ImportBatch(ctx, msg)
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

// readRecords decodes a city file. Both a bare array and {"cities": [...]}
// are accepted.
func readRecords(stdin io.Reader, path string) ([]record.RawRecord, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: empty input", path)
	}
	if data[0] == '[' {
		var raws []record.RawRecord
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return raws, nil
	}
	var wrapped struct {
		Cities []record.RawRecord `json:"cities"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wrapped.Cities, nil
}

func loadRules() (transform.Rules, error) {
	var vc config.ValidationConfig
	if err := config.LoadInto(&vc); err != nil {
		return transform.Rules{}, err
	}
	return vc.Rules()
}

// connectPostgres opens the store named by the DATABASE_URL settings.
func connectPostgres(ctx context.Context) (*store.Postgres, func(), error) {
	var dc config.DatabaseConfig
	if err := config.LoadInto(&dc); err != nil {
		return nil, nil, withCode(exitUsage, err)
	}
	if dc.URL == "" {
		return nil, nil, withCode(exitUsage, errors.New("DATABASE_URL is required"))
	}

	poolConfig, err := pgxpool.ParseConfig(dc.URL)
	if err != nil {
		return nil, nil, withCode(exitUsage, fmt.Errorf("invalid DATABASE_URL: %w", err))
	}
	poolConfig.MaxConns = int32(dc.MaxConns)
	poolConfig.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return store.NewPostgres(pool), pool.Close, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
