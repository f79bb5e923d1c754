// Package transport owns the physical serial link to the adapter. It knows
// nothing about AT commands or ISO-TP; it only moves bytes and frames them
// by the adapter's own conventions: a command line terminated by CR, a reply
// terminated by the '>' prompt character.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/mlow-diag/elmcore/internal/diagerr"
)

// DefaultReadDeadline is used when a caller does not override it; slow
// operations (0x19, 0x14) may ask for up to 5s.
const DefaultReadDeadline = 2000 * time.Millisecond

// pollInterval is the cooperative sleep between readUntilPrompt polls when
// no bytes are currently available.
const pollInterval = 10 * time.Millisecond

// Port is the minimal duplex byte channel Transport needs. go.bug.st/serial's
// serial.Port satisfies it; a capture-backed fake satisfies it for tests.
type Port interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// Transport serializes access to one Port and frames commands/replies per
// the ELM327 line convention.
type Transport struct {
	mu   sync.Mutex
	port Port
	log  *slog.Logger
}

// New wraps an already-open Port.
func New(port Port, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{port: port, log: log}
}

// Open opens a physical serial port by name at the given baud rate, 8N1, no
// flow control.
func Open(portName string, baudRate int, log *slog.Logger) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w: %w", portName, diagerr.ErrIo, err)
	}
	if err := p.SetReadTimeout(50 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("transport: set read timeout: %w: %w", diagerr.ErrIo, err)
	}
	return New(p, log), nil
}

// ListPorts returns the available serial ports on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w: %w", diagerr.ErrIo, err)
	}
	return ports, nil
}

// Close releases the underlying port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port.Close()
}

// WriteLine emits cmd followed by CR.
func (t *Transport) WriteLine(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.port.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("transport: write %q: %w: %w", cmd, diagerr.ErrIo, err)
	}
	return nil
}

// ReadUntilPrompt accumulates bytes until a '>' prompt is observed or ctx is
// done, whichever happens first, then returns the buffer with the prompt
// stripped. deadline is measured from the call, not from ctx's own deadline.
func (t *Transport) ReadUntilPrompt(ctx context.Context, deadline time.Duration) (string, error) {
	if deadline <= 0 {
		deadline = DefaultReadDeadline
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	deadlineAt := time.Now().Add(deadline)
	var buf []byte
	chunk := make([]byte, 256)

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("transport: read cancelled: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadlineAt) {
			return "", fmt.Errorf("transport: no prompt within %s: %w", deadline, diagerr.ErrReadTimeout)
		}

		n, err := t.port.Read(chunk)
		if err != nil {
			return "", fmt.Errorf("transport: read: %w: %w", diagerr.ErrIo, err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("transport: read cancelled: %w", ctx.Err())
			case <-time.After(pollInterval):
			}
			continue
		}

		buf = append(buf, chunk[:n]...)
		if idx := strings.IndexByte(string(buf), '>'); idx >= 0 {
			return string(buf[:idx]), nil
		}
	}
}
