package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/cityingest/internal/config"
	"github.com/JonMunkholm/cityingest/internal/delivery"
	"github.com/JonMunkholm/cityingest/internal/store"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect or apply the city store schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the schema DDL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), store.Schema())
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Apply the schema to DATABASE_URL (idempotent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pg, closeFn, err := connectPostgres(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := pg.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			slog.Info("schema applied")
			return nil
		},
	})
	return cmd
}

type topicOptions struct {
	partitions  int32
	replication int16
}

func newTopicCmd() *cobra.Command {
	var opts topicOptions

	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Manage the Kafka delivery topic",
	}

	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create KAFKA_TOPIC if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.partitions < 1 || opts.replication < 1 {
				return withCode(exitUsage, fmt.Errorf("--partitions and --replication must be at least 1"))
			}
			var kc config.KafkaConfig
			if err := config.LoadInto(&kc); err != nil {
				return withCode(exitUsage, err)
			}
			cfg := delivery.KafkaConfig{Brokers: kc.Brokers, Topic: kc.Topic, ClientID: kc.ClientID}
			if err := delivery.EnsureTopic(cmd.Context(), cfg, opts.partitions, opts.replication); err != nil {
				return err
			}
			slog.Info("topic ready", "topic", kc.Topic, "brokers", kc.Brokers)
			return nil
		},
	}
	ensure.Flags().Int32Var(&opts.partitions, "partitions", 3, "Partition count for a new topic")
	ensure.Flags().Int16Var(&opts.replication, "replication", 1, "Replication factor for a new topic")

	cmd.AddCommand(ensure)
	return cmd
}
