// Package debughttp serves the debug/health HTTP surface spec §11
// names: /healthz, /debug/sessions, /debug/metrics, and /debug/stream
// pushing live broker events to a browser over a websocket. Grounded on
// nothing in the teacher (no chi router appears in the retrieval pack)
// but chi and gorilla/websocket are direct teacher go.mod dependencies
// that need a concrete home (see DESIGN.md).
package debughttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/event"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/session"
)

// StatsSource is the narrow surface debughttp needs from the session
// registry — kept as an interface so this package never imports
// *session.Registry's full API surface.
type StatsSource interface {
	Stats() []session.Stats
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the debug HTTP surface. Router is exported so tests (and
// httptest.NewServer) can drive it directly.
type Server struct {
	Router *chi.Mux

	logger   *slog.Logger
	sessions StatsSource
	broker   *event.Broker
}

// New builds the router. broker may be nil (no /debug/stream).
func New(logger *slog.Logger, sessions StatsSource, broker *event.Broker) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Router: chi.NewRouter(), logger: logger, sessions: sessions, broker: broker}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(middleware.Logger)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/debug/sessions", s.handleSessions)
	s.Router.Get("/debug/metrics", s.handleMetrics)
	if broker != nil {
		s.Router.Get("/debug/stream", s.handleStream)
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sessions.Stats())
}

// handleMetrics renders the same per-connection metrics as
// /debug/sessions in a flatter shape convenient for the `mediaproxy
// stats` terminal client (§4.11/§11).
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.sessions.Stats()
	out := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		out = append(out, map[string]any{
			"session_id":              st.SessionID,
			"transport_state":         st.TransportState.String(),
			"transactions_successful": st.TransportMetrics.TransactionsSuccessful,
			"transactions_failed":     st.TransportMetrics.TransactionsFailed,
			"inbound_bytes":           st.TransportMetrics.InboundBytes,
			"outbound_bytes":          st.TransportMetrics.OutboundBytes,
			"errors":                  st.TransportMetrics.Errors,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleStream upgrades to a websocket and forwards every broker event
// for a short-lived synthetic "*" subscription — a debug tap, not a
// per-session production subscriber.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("debughttp: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := make(chan event.Event, 64)
	unsubscribe := s.broker.SubscribeAll(event.SubscriberFunc(func(ctx meshctx.Context, ev event.Event) bool {
		select {
		case events <- ev:
			return true
		default:
			return false
		}
	}))
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(time.Hour))
	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
