package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type statusPayload struct {
	Running       bool           `json:"running"`
	Offline       bool           `json:"offline"`
	StartedAt     string         `json:"started_at"`
	QueuePending  int            `json:"queue_pending"`
	QueueActive   int            `json:"queue_in_progress"`
	InFlight      int            `json:"batches_in_flight"`
	PendingAcks   int            `json:"pending_acknowledgements"`
	CompletedAcks map[string]int `json:"completed_acknowledgements"`
}

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(fmt.Sprintf("http://%s/api/status", cfg.Paths.APIBind))
			if err != nil {
				return fmt.Errorf("daemon unreachable at %s (is it running?): %w", cfg.Paths.APIBind, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon returned status %d", resp.StatusCode)
			}

			var status statusPayload
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}

			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(status)
			}

			mode := "online"
			if status.Offline {
				mode = "offline"
			}
			rows := [][]string{
				{"Running", strconv.FormatBool(status.Running)},
				{"Mode", mode},
				{"Started", status.StartedAt},
				{"Queue pending", strconv.Itoa(status.QueuePending)},
				{"Queue in progress", strconv.Itoa(status.QueueActive)},
				{"Batches in flight", strconv.Itoa(status.InFlight)},
				{"Pending acknowledgements", strconv.Itoa(status.PendingAcks)},
			}
			for ackStatus, count := range status.CompletedAcks {
				rows = append(rows, []string{"Acks " + ackStatus, strconv.Itoa(count)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Field", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
