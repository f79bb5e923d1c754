package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlow-diag/elmcore/internal/bridge"
	"github.com/mlow-diag/elmcore/internal/telemetry"
)

var (
	serveAddr       string
	influxURL       string
	influxToken     string
	influxOrg       string
	influxBucket    string
	influxPollEvery time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect and serve the HTTP/WS bridge for a presentation layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		if influxURL != "" {
			sink, err := telemetry.NewSink(ctx, influxURL, influxToken, influxOrg, influxBucket, slog.Default())
			if err != nil {
				return err
			}
			defer sink.Close()
			stop := pollTelemetry(ctx, sess, sink)
			defer close(stop)
			fmt.Printf("mirroring telemetry to %s every %s\n", influxURL, influxPollEvery)
		}

		srv := bridge.NewServer(sess.Engine, slog.Default())
		fmt.Printf("serving bridge on %s\n", serveAddr)
		return http.ListenAndServe(serveAddr, srv.Handler())
	},
}

// pollTelemetry periodically reads the engine and DPF snapshots plus the
// DTC table and mirrors them into sink, in the same fire-and-log-past-errors
// spirit as the teacher's telemetry collection loop. The returned channel
// stops the loop when closed.
func pollTelemetry(ctx context.Context, sess *session, sink *telemetry.Sink) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(influxPollEvery)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				now := time.Now()
				ecu := cfgEcu

				if snap, err := sess.Engine.ReadEngineSnapshot(ctx); err == nil {
					if err := sink.WriteEngineSnapshot(ctx, ecu, snap, now); err != nil {
						slog.Default().Warn("telemetry: engine snapshot write failed", "error", err)
					}
				} else {
					slog.Default().Warn("telemetry: engine snapshot read failed", "error", err)
				}

				if snap, err := sess.Engine.ReadDpfSnapshot(ctx); err == nil {
					if err := sink.WriteDpfSnapshot(ctx, ecu, snap, now); err != nil {
						slog.Default().Warn("telemetry: dpf snapshot write failed", "error", err)
					}
				} else {
					slog.Default().Warn("telemetry: dpf snapshot read failed", "error", err)
				}

				if dtcs, err := sess.Engine.ReadDtcs(ctx); err == nil {
					sink.WriteDtcs(ctx, ecu, dtcs, now)
				} else {
					slog.Default().Warn("telemetry: dtc read failed", "error", err)
				}
			}
		}
	}()
	return stop
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Address to serve the HTTP/WS bridge on")
	serveCmd.Flags().StringVar(&influxURL, "influx-url", "", "InfluxDB server URL; enables telemetry mirroring when set")
	serveCmd.Flags().StringVar(&influxToken, "influx-token", "", "InfluxDB auth token")
	serveCmd.Flags().StringVar(&influxOrg, "influx-org", "", "InfluxDB organization")
	serveCmd.Flags().StringVar(&influxBucket, "influx-bucket", "", "InfluxDB bucket")
	serveCmd.Flags().DurationVar(&influxPollEvery, "influx-interval", 5*time.Second, "Telemetry poll interval")
	rootCmd.AddCommand(serveCmd)
}
