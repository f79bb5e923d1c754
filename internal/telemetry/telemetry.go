// Package telemetry is an optional sink that mirrors decoded engine
// snapshots and DTC transitions into InfluxDB for long-term fleet history.
// It has no bearing on the diagnostic protocol core: a caller that never
// constructs a Sink never imports this package's write path at runtime.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mlow-diag/elmcore/internal/engine"
)

// Sink writes decoded engine output to an InfluxDB bucket, tagged by the
// vehicle's selected ECU code so a single bucket can hold a fleet.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      *slog.Logger
}

// NewSink connects to an InfluxDB server and verifies it is reachable.
func NewSink(ctx context.Context, url, token, org, bucket string, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	client := influxdb2.NewClient(url, token)
	if _, err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry: connect to %s: %w", url, err)
	}
	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      log,
	}, nil
}

// Close releases the InfluxDB client.
func (s *Sink) Close() {
	s.client.Close()
}

// engineSnapshotPoint builds the point for an engine.EngineSnapshot, kept
// separate from the write so its tag/field shape can be tested without a
// live InfluxDB connection.
func engineSnapshotPoint(ecuCode string, snap engine.EngineSnapshot, at time.Time) *write.Point {
	return influxdb2.NewPoint(
		"engine_snapshot",
		map[string]string{"ecu": ecuCode},
		map[string]interface{}{
			"engine_speed_rpm": snap.EngineSpeed.Scalar,
		},
		at,
	)
}

// dpfSnapshotPoint builds the point for an engine.DpfSnapshot.
func dpfSnapshotPoint(ecuCode string, snap engine.DpfSnapshot, at time.Time) *write.Point {
	return influxdb2.NewPoint(
		"dpf_snapshot",
		map[string]string{"ecu": ecuCode},
		map[string]interface{}{
			"soot_loading_g_per_l": snap.SootLoading.Scalar,
			"regeneration_text":    snap.RegenerationText,
		},
		at,
	)
}

// dtcTransitionPoint builds the point for a single observed DTC, distinct
// from the snapshot measurements so DTC history can be queried independently
// of polled sensor cadence.
func dtcTransitionPoint(ecuCode string, dtc engine.Dtc, at time.Time) *write.Point {
	return influxdb2.NewPoint(
		"dtc_transition",
		map[string]string{
			"ecu":  ecuCode,
			"code": dtc.Code,
		},
		map[string]interface{}{
			"status":      dtc.Status,
			"description": dtc.Description,
		},
		at,
	)
}

// WriteEngineSnapshot records an engine.EngineSnapshot as a single point.
func (s *Sink) WriteEngineSnapshot(ctx context.Context, ecuCode string, snap engine.EngineSnapshot, at time.Time) error {
	if err := s.writeAPI.WritePoint(ctx, engineSnapshotPoint(ecuCode, snap, at)); err != nil {
		return fmt.Errorf("telemetry: write engine snapshot: %w", err)
	}
	return nil
}

// WriteDpfSnapshot records an engine.DpfSnapshot as a single point.
func (s *Sink) WriteDpfSnapshot(ctx context.Context, ecuCode string, snap engine.DpfSnapshot, at time.Time) error {
	if err := s.writeAPI.WritePoint(ctx, dpfSnapshotPoint(ecuCode, snap, at)); err != nil {
		return fmt.Errorf("telemetry: write dpf snapshot: %w", err)
	}
	return nil
}

// WriteDtcTransition records a single DTC's observed status.
func (s *Sink) WriteDtcTransition(ctx context.Context, ecuCode string, dtc engine.Dtc, at time.Time) error {
	if err := s.writeAPI.WritePoint(ctx, dtcTransitionPoint(ecuCode, dtc, at)); err != nil {
		return fmt.Errorf("telemetry: write dtc transition: %w", err)
	}
	return nil
}

// WriteDtcs records every DTC as its own point, one blocking write per DTC,
// logging and continuing past any single point failure rather than aborting
// the whole scan's telemetry.
func (s *Sink) WriteDtcs(ctx context.Context, ecuCode string, dtcs []engine.Dtc, at time.Time) {
	for _, d := range dtcs {
		if err := s.WriteDtcTransition(ctx, ecuCode, d, at); err != nil {
			s.log.Warn("telemetry: dropped dtc point", "code", d.Code, "error", err)
		}
	}
}
