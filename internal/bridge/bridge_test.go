package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mlow-diag/elmcore/internal/adapter"
	"github.com/mlow-diag/elmcore/internal/engine"
	"github.com/mlow-diag/elmcore/internal/transport"
)

// scriptedPort mirrors the fake used by internal/adapter and internal/engine's
// own tests: each WriteLine'd command is answered by a canned reply keyed on
// the command text, terminated with the ELM prompt.
type scriptedPort struct {
	mu      sync.Mutex
	replies map[string]string
	pending []byte
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

func baseScript() map[string]string {
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
		"1003":         "7E8 02 50 03",
	}
}

func newTestServer(t *testing.T, extra map[string]string) *Server {
	t.Helper()
	script := baseScript()
	for k, v := range extra {
		script[k] = v
	}
	port := &scriptedPort{replies: script}
	tr := transport.New(port, nil)
	ctrl := adapter.New(tr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	eng := engine.New(ctrl, nil)
	t.Cleanup(func() { eng.Disconnect() })
	return NewServer(eng, nil)
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleListEcus(t *testing.T) {
	s := newTestServer(t, nil)
	w := doRequest(s, http.MethodGet, "/api/ecus")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	var ecus []struct{ Code string }
	if err := json.Unmarshal(w.Body.Bytes(), &ecus); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	found := false
	for _, e := range ecus {
		if e.Code == "ECM" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ECM among detected ECUs, got %+v", ecus)
	}
}

func TestHandleSelectEcuUnknownCode(t *testing.T) {
	s := newTestServer(t, nil)
	w := doRequest(s, http.MethodPost, "/api/ecus/NOPE/select")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}
}

func TestHandleEngineSnapshot(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"22D41F": "7E8 06 62 D4 1F 0B B8",
	})
	w := doRequest(s, http.MethodGet, "/api/engine-snapshot")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	var snap engine.EngineSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.EngineSpeed.Scalar != 750.0 {
		t.Fatalf("got engine speed %v, want 750", snap.EngineSpeed.Scalar)
	}
}

func TestHandleClearDtcs(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"14FFFFFF": "7E8 01 54",
	})
	w := doRequest(s, http.MethodDelete, "/api/dtcs/ECM")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	var body map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body["cleared"] {
		t.Fatalf("expected cleared=true, got %+v", body)
	}
}
