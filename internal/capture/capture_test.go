package capture

import (
	"strings"
	"sync"
	"testing"
)

// fakePort is a minimal transport.Port used only to drive RecordingPort in
// isolation; it echoes back one canned reply per Write regardless of what
// was sent.
type fakePort struct {
	mu      sync.Mutex
	replies []string
	idx     int
	pending []byte
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx < len(p.replies) {
		p.pending = append(p.pending, []byte(p.replies[p.idx]+"\r>")...)
		p.idx++
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0, nil
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Close() error { return nil }

func drainPrompt(t *testing.T, port *RecordingPort) string {
	t.Helper()
	var out []byte
	buf := make([]byte, 64)
	for {
		n, err := port.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			t.Fatal("expected a reply before running out of bytes")
		}
		out = append(out, buf[:n]...)
		if idx := strings.IndexByte(string(out), '>'); idx >= 0 {
			return string(out[:idx])
		}
	}
}

func TestRecordAndReplayRoundTrip(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	sessionID, err := store.NewSession("unit test")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	inner := &fakePort{replies: []string{"OK", "7E8 06 41 00 BE 3F A8 13"}}
	rec := NewRecordingPort(inner, store, sessionID, nil)

	if _, err := rec.Write([]byte("ATZ\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := drainPrompt(t, rec); got != "OK\r" {
		t.Fatalf("got reply %q, want \"OK\\r\"", got)
	}

	if _, err := rec.Write([]byte("0100\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := drainPrompt(t, rec); got != "7E8 06 41 00 BE 3F A8 13\r" {
		t.Fatalf("got reply %q", got)
	}

	exchanges, err := store.LoadSession(sessionID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(exchanges) != 2 {
		t.Fatalf("expected 2 recorded exchanges, got %d", len(exchanges))
	}
	if exchanges[0].Command != "ATZ" || exchanges[0].Reply != "OK" {
		t.Fatalf("unexpected first exchange: %+v", exchanges[0])
	}
	if exchanges[1].Command != "0100" || exchanges[1].Reply != "7E8 06 41 00 BE 3F A8 13" {
		t.Fatalf("unexpected second exchange: %+v", exchanges[1])
	}

	replay := NewReplayPort(exchanges)
	if _, err := replay.Write([]byte("ATZ\r")); err != nil {
		t.Fatalf("replay write: %v", err)
	}
	buf := make([]byte, 64)
	n, err := replay.Read(buf)
	if err != nil {
		t.Fatalf("replay read: %v", err)
	}
	if string(buf[:n]) != "OK\r>" {
		t.Fatalf("got replay %q, want \"OK\\r>\"", buf[:n])
	}
}

func TestLoadSessionUnknownIdIsEmpty(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	exchanges, err := store.LoadSession("does-not-exist")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(exchanges) != 0 {
		t.Fatalf("expected no exchanges, got %d", len(exchanges))
	}
}
