package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mlow-diag/elmcore/internal/diagerr"
	"github.com/mlow-diag/elmcore/internal/transport"
)

// scriptedPort answers each WriteLine'd command with a canned reply line
// terminated by the ELM prompt, looked up by the command text (CR and
// trailing \r stripped). Unscripted commands get a bare "OK".
type scriptedPort struct {
	mu      sync.Mutex
	replies map[string]string
	pending []byte
}

func newScriptedPort(replies map[string]string) *scriptedPort {
	return &scriptedPort{replies: replies}
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := strings.TrimSuffix(string(b), "\r")
	reply, ok := p.replies[cmd]
	if !ok {
		reply = "OK"
	}
	p.pending = append(p.pending, []byte(reply+"\r>")...)
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0, nil
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *scriptedPort) Close() error { return nil }

func baseInitScript() map[string]string {
	return map[string]string{
		"ATZ":          "ELM327 v1.5",
		"ATE0":         "OK",
		"ATL0":         "OK",
		"ATH1":         "OK",
		"ATS1":         "OK",
		"ATSP6":        "OK",
		"ATST64":       "OK",
		"ATAT1":        "OK",
		"0100":         "7E8 06 41 00 BE 3F A8 13",
		"ATCRA7E8":     "OK",
		"ATFCSH7E0":    "OK",
		"ATFCSD300000": "OK",
		"ATFCSM1":      "OK",
		"ATSH7DF":      "OK",
	}
}

func newReadyController(t *testing.T, extra map[string]string) *Controller {
	t.Helper()
	script := baseInitScript()
	for k, v := range extra {
		script[k] = v
	}
	port := newScriptedPort(script)
	tr := transport.New(port, nil)
	c := New(tr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c
}

func TestInitializeDetectsEcmAndProgramsBroadcast(t *testing.T) {
	c := newReadyController(t, nil)
	st := c.State()

	if st.Phase != PhaseReady {
		t.Fatalf("expected phase Ready, got %s", st.Phase)
	}
	if !st.CanBusActive {
		t.Fatal("expected CanBusActive true")
	}
	if st.TxHeader != "7DF" {
		t.Fatalf("expected tx header 7DF, got %s", st.TxHeader)
	}
	if st.RxFilter != "7E8" || st.FlowControlHeader != "7E0" {
		t.Fatalf("expected rx filter 7E8 / fc header 7E0, got rx=%s fc=%s", st.RxFilter, st.FlowControlHeader)
	}
	if len(st.DetectedEcus) != 1 || st.DetectedEcus[0].Code != "ECM" {
		t.Fatalf("expected single detected ECM, got %+v", st.DetectedEcus)
	}
}

func TestExchangeInterceptsNonBroadcastAtsh(t *testing.T) {
	c := newReadyController(t, map[string]string{
		"ATCRA7E9":  "OK",
		"ATFCSH7E1": "OK",
	})

	ctx := context.Background()
	if _, err := c.Exchange(ctx, "ATSH7E1", time.Second); err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	st := c.State()
	if st.RxFilter != "7E9" || st.FlowControlHeader != "7E1" {
		t.Fatalf("expected rewritten rx/fc 7E9/7E1, got rx=%s fc=%s", st.RxFilter, st.FlowControlHeader)
	}
	if st.TxHeader != "7DF" {
		t.Fatalf("expected header rewritten back to broadcast, got %s", st.TxHeader)
	}
}

func TestExchangeRefusesForbiddenCommandOnceBusActive(t *testing.T) {
	c := newReadyController(t, nil)

	_, err := c.Exchange(context.Background(), "ATZ", time.Second)
	if err == nil {
		t.Fatal("expected ATZ to be refused once the bus is active")
	}
	if !errors.Is(err, diagerr.ErrForbiddenAfterBusActive) {
		t.Fatalf("expected errors.Is ErrForbiddenAfterBusActive, got %v", err)
	}
}

func TestSelectEcuIsIdempotent(t *testing.T) {
	c := newReadyController(t, nil)

	if err := c.SelectEcu(context.Background(), "7E0", "7E8"); err != nil {
		t.Fatalf("SelectEcu no-op: %v", err)
	}
}
