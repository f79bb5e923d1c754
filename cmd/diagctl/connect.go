package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goserial "go.bug.st/serial"

	"github.com/mlow-diag/elmcore/internal/adapter"
	"github.com/mlow-diag/elmcore/internal/capture"
	"github.com/mlow-diag/elmcore/internal/engine"
	"github.com/mlow-diag/elmcore/internal/transport"
)

// session bundles an initialized Engine with the teardown needed to release
// its adapter, transport, and optional capture store.
type session struct {
	Engine *engine.Engine
	close  func()
}

// connect opens the serial port (optionally through a capture.RecordingPort
// when --capture-db is set), brings the adapter up, and selects --ecu.
func connect(ctx context.Context) (*session, error) {
	if cfgPort == "" {
		return nil, fmt.Errorf("--port is required")
	}
	log := slog.Default()

	mode := &goserial.Mode{
		BaudRate: cfgBaud,
		DataBits: 8,
		StopBits: goserial.OneStopBit,
		Parity:   goserial.NoParity,
	}
	rawPort, err := goserial.Open(cfgPort, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfgPort, err)
	}
	if err := rawPort.SetReadTimeout(50 * time.Millisecond); err != nil {
		rawPort.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	var port transport.Port = rawPort
	var store *capture.Store
	if cfgCaptureDB != "" {
		store, err = capture.OpenStore(cfgCaptureDB)
		if err != nil {
			rawPort.Close()
			return nil, err
		}
		sessionID, err := store.NewSession(cfgCaptureTag)
		if err != nil {
			store.Close()
			rawPort.Close()
			return nil, err
		}
		port = capture.NewRecordingPort(rawPort, store, sessionID, log)
		fmt.Printf("recording session %s to %s\n", sessionID, cfgCaptureDB)
	}

	tr := transport.New(port, log)
	ctrl := adapter.New(tr, log)
	eng := engine.New(ctrl, log)
	eng.OnLog(func(line string) { fmt.Println(line) })

	if err := eng.Connect(ctx); err != nil {
		tr.Close()
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	if err := eng.SelectEcu(ctx, cfgEcu); err != nil {
		eng.Disconnect()
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	return &session{
		Engine: eng,
		close: func() {
			eng.Disconnect()
			if store != nil {
				store.Close()
			}
		},
	}, nil
}

func (s *session) Close() {
	s.close()
}
