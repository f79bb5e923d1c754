package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// event is what gets fanned out to every connected /api/events client.
type event struct {
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
	Log   string `json:"log,omitempty"`
}

// eventHub tracks connected websocket clients and broadcasts engine
// observer callbacks to all of them, in the same clients-map-plus-mutex
// shape as the teacher-adjacent repo's wsHandler/broadcastTelemetry pair.
type eventHub struct {
	log     *slog.Logger
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newEventHub(log *slog.Logger) *eventHub {
	return &eventHub{log: log, clients: make(map[*websocket.Conn]bool)}
}

func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("bridge: websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[ws] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, ws)
		h.mu.Unlock()
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *eventHub) broadcast(e event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Warn("bridge: failed to marshal event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Debug("bridge: dropping websocket client", "error", err)
			client.Close()
			delete(h.clients, client)
		}
	}
}
