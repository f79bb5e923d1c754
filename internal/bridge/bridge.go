// Package bridge exposes the engine's Core API surface as JSON HTTP
// endpoints and a websocket event feed, for the graphical presentation
// layer that lives outside this module. It holds no diagnostic state of its
// own; every handler is a thin call into an *engine.Engine.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mlow-diag/elmcore/internal/adapter"
	"github.com/mlow-diag/elmcore/internal/engine"
)

// Server wraps a gorilla/mux router over an Engine and fans out its
// state/log observer callbacks to connected websocket clients.
type Server struct {
	router *mux.Router
	engine *engine.Engine
	log    *slog.Logger
	hub    *eventHub
}

// NewServer builds the route table and subscribes to the engine's
// OnStateChanged/OnLog callbacks so every connected websocket client sees
// them as they happen.
func NewServer(eng *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		router: mux.NewRouter(),
		engine: eng,
		log:    log,
		hub:    newEventHub(log),
	}

	eng.OnStateChanged(func(phase adapter.Phase) {
		s.hub.broadcast(event{Type: "state", State: phase.String()})
	})
	eng.OnLog(func(line string) {
		s.hub.broadcast(event{Type: "log", Log: line})
	})

	s.routes()
	return s
}

// Handler returns the http.Handler to mount or serve directly.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/ecus", s.handleListEcus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ecus/{code}/select", s.handleSelectEcu).Methods(http.MethodPost)
	s.router.HandleFunc("/api/engine-snapshot", s.handleEngineSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/api/dpf-snapshot", s.handleDpfSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/api/dtcs/{code}", s.handleReadDtcs).Methods(http.MethodGet)
	s.router.HandleFunc("/api/dtcs/{code}", s.handleClearDtcs).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/identify/{code}", s.handleIdentify).Methods(http.MethodGet)
	s.router.HandleFunc("/api/scan/{code}", s.handleScan).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events", s.hub.serveWS)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// selectEcuFromPath resolves the {code} path variable and selects that ECU
// before the caller performs a read against it, since every Core API call
// other than listing/selecting is implicitly scoped to "the selected ECU".
func (s *Server) selectEcuFromPath(ctx context.Context, r *http.Request) error {
	code := mux.Vars(r)["code"]
	return s.engine.SelectEcu(ctx, code)
}

func (s *Server) handleListEcus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.DetectedEcus())
}

func (s *Server) handleSelectEcu(w http.ResponseWriter, r *http.Request) {
	if err := s.selectEcuFromPath(r.Context(), r); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "selected"})
}

func (s *Server) handleEngineSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.ReadEngineSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDpfSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.ReadDpfSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReadDtcs(w http.ResponseWriter, r *http.Request) {
	if err := s.selectEcuFromPath(r.Context(), r); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dtcs, err := s.engine.ReadDtcs(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, dtcs)
}

func (s *Server) handleClearDtcs(w http.ResponseWriter, r *http.Request) {
	if err := s.selectEcuFromPath(r.Context(), r); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.engine.ClearDtcs(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": ok})
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if err := s.selectEcuFromPath(r.Context(), r); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.IdentifyEcu(r.Context()))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := s.selectEcuFromPath(r.Context(), r); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := s.engine.ScanDidGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// upgrader is package-level like the teacher's own websocket.Upgrader;
// CheckOrigin is permissive because the bridge is meant to sit behind a
// locally-trusted reverse proxy, not face the open internet directly.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}
