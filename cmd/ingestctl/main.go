// Command ingestctl is the operator tool for the city ingestion service. It
// transforms and imports city files without the HTTP surface and prepares
// the database schema and Kafka topic.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/cityingest/internal/config"
	"github.com/JonMunkholm/cityingest/internal/logging"
)

const (
	exitFailure  = 1
	exitUsage    = 2
	exitRejected = 3
)

// codedError carries the process exit code for an error.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

func exitCode(err error) int {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitFailure
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ingestctl",
		Short:         "Operate the city ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var lc config.LoggingConfig
			if err := config.LoadInto(&lc); err != nil {
				return withCode(exitUsage, err)
			}
			// stdout carries command output
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), lc.Level, lc.Format))
			return nil
		},
	}

	root.AddCommand(
		newTransformCmd(),
		newImportCmd(),
		newSchemaCmd(),
		newTopicCmd(),
	)
	return root
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
