package capture

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mlow-diag/elmcore/internal/transport"
)

// RecordingPort wraps a transport.Port, persisting every command/reply
// exchange to a Store as it passes through. It sits below Transport and
// AdapterController, which remain unaware it is there.
type RecordingPort struct {
	inner     transport.Port
	store     *Store
	sessionID string
	log       *slog.Logger

	mu      sync.Mutex
	seq     int
	cmd     string
	pending []byte
}

// NewRecordingPort wraps inner so every WriteLine/ReadUntilPrompt exchange
// that passes through it is appended to store under sessionID.
func NewRecordingPort(inner transport.Port, store *Store, sessionID string, log *slog.Logger) *RecordingPort {
	if log == nil {
		log = slog.Default()
	}
	return &RecordingPort{inner: inner, store: store, sessionID: sessionID, log: log}
}

func (r *RecordingPort) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.cmd = strings.TrimSuffix(string(p), "\r")
	r.pending = r.pending[:0]
	r.mu.Unlock()
	return r.inner.Write(p)
}

func (r *RecordingPort) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n == 0 {
		return n, err
	}

	r.mu.Lock()
	r.pending = append(r.pending, p[:n]...)
	idx := strings.IndexByte(string(r.pending), '>')
	if idx < 0 {
		r.mu.Unlock()
		return n, err
	}
	// The final CR before the prompt is not stored; ReplayPort appends it
	// again together with the prompt.
	reply := strings.TrimSuffix(string(r.pending[:idx]), "\r")
	cmd, seq := r.cmd, r.seq
	r.seq++
	r.pending = r.pending[:0]
	r.mu.Unlock()

	if recErr := r.store.RecordExchange(r.sessionID, seq, cmd, reply, time.Now()); recErr != nil {
		r.log.Warn("capture: failed to persist exchange", "seq", seq, "command", cmd, "error", recErr)
	}
	return n, err
}

func (r *RecordingPort) Close() error {
	return r.inner.Close()
}

// ReplayPort satisfies transport.Port by replaying a recorded session's
// exchanges in sequence, independent of what the caller actually writes.
// Adapter bring-up and exchange logic is deterministic in the order it
// issues commands, so positional replay reproduces a captured session
// faithfully without needing to match on command text.
type ReplayPort struct {
	mu        sync.Mutex
	exchanges []Exchange
	idx       int
	pending   []byte
}

// NewReplayPort builds a Port that replays exchanges in order.
func NewReplayPort(exchanges []Exchange) *ReplayPort {
	return &ReplayPort{exchanges: exchanges}
}

func (p *ReplayPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idx >= len(p.exchanges) {
		return len(b), nil
	}
	reply := p.exchanges[p.idx].Reply
	p.idx++
	p.pending = append(p.pending, []byte(reply+"\r>")...)
	return len(b), nil
}

func (p *ReplayPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return 0, nil
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *ReplayPort) Close() error { return nil }
