package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mlow-diag/elmcore/internal/adapter"
	"github.com/mlow-diag/elmcore/internal/capture"
	"github.com/mlow-diag/elmcore/internal/engine"
	"github.com/mlow-diag/elmcore/internal/transport"
)

var replaySessionID string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a captured session through the full stack, no adapter attached",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgCaptureDB == "" {
			return fmt.Errorf("--capture-db is required")
		}
		if replaySessionID == "" {
			return fmt.Errorf("--session is required")
		}

		store, err := capture.OpenStore(cfgCaptureDB)
		if err != nil {
			return err
		}
		defer store.Close()

		exchanges, err := store.LoadSession(replaySessionID)
		if err != nil {
			return err
		}
		if len(exchanges) == 0 {
			return fmt.Errorf("session %s has no recorded exchanges", replaySessionID)
		}

		log := slog.Default()
		port := capture.NewReplayPort(exchanges)
		tr := transport.New(port, log)
		ctrl := adapter.New(tr, log)
		eng := engine.New(ctrl, log)
		eng.OnLog(func(line string) { fmt.Println(line) })
		defer eng.Disconnect()

		ctx := cmd.Context()
		if err := eng.Connect(ctx); err != nil {
			return fmt.Errorf("replay connect: %w", err)
		}
		fmt.Printf("replayed %d exchanges from session %s\n", len(exchanges), replaySessionID)
		for _, e := range eng.DetectedEcus() {
			fmt.Printf("  %s (tx=%s rx=%s)\n", e.Code, e.Tx, e.Rx)
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replaySessionID, "session", "", "Recorded session id to replay")
	rootCmd.AddCommand(replayCmd)
}
