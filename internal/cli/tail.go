package cli

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"postback-engine/internal/kafka"
)

func NewTailCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print conversion events from the Kafka feed as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cfg.KafkaBroker == "" {
				return errors.New("KAFKA_BROKER is not set")
			}

			consumer := kafka.NewConsumer(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroupID, opts.log)
			defer consumer.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for n := 0; limit == 0 || n < limit; n++ {
				event, err := consumer.Next(cmd.Context())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				if err := enc.Encode(event); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after n events (0 means follow)")

	return cmd
}
