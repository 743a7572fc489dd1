package main

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"taxwire/internal/acks"
	"taxwire/internal/batchstore"
	"taxwire/internal/logging"
	"taxwire/internal/objectstore"
)

func newPendingCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List batches and acknowledgements still awaiting processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			objects, err := objectstore.Open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open object storage: %w", err)
			}
			store := batchstore.New(objects, cfg.Batching.ApplicationID, logging.NewNop())

			controlYear := batchstore.ControlYear(time.Now())
			// Pass the highest id as the writing batch so every stored
			// batch shows up, including one still being assembled.
			batches, err := store.UnprocessedBatches(ctx, controlYear, math.MaxInt64)
			if err != nil {
				return fmt.Errorf("list batches: %w", err)
			}
			errorBatches, err := store.ErrorBatches(ctx, controlYear)
			if err != nil {
				return fmt.Errorf("list error batches: %w", err)
			}

			rows := make([][]string, 0, len(batches)+len(errorBatches))
			for _, batch := range append(batches, errorBatches...) {
				count, err := store.Count(ctx, batch)
				if err != nil {
					return fmt.Errorf("count %s: %w", batch, err)
				}
				kind := "regular"
				if batch.IsError() {
					kind = "error"
				}
				rows = append(rows, []string{batch.String(), kind, strconv.Itoa(count)})
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "No stored batches for control year %d\n", controlYear)
			} else {
				fmt.Fprintln(out, renderTable(
					[]string{"Batch", "Kind", "Submissions"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
			}

			ackStore, err := acks.Open(cfg)
			if err != nil {
				return fmt.Errorf("open acknowledgement store: %w", err)
			}
			defer ackStore.Close()

			pending, err := ackStore.Pending(ctx, cfg.Acknowledgements.PodID)
			if err != nil {
				return fmt.Errorf("list pending acknowledgements: %w", err)
			}
			fmt.Fprintf(out, "Pending acknowledgements: %d\n", len(pending))
			return nil
		},
	}
}
