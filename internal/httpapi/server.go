// Package httpapi exposes the ingestion API: event creation and retrieval,
// plus the live push channels (SSE and websocket) fed by the fan-out bus.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/surfacelabs/surfacetag/internal/fanout"
	"github.com/surfacelabs/surfacetag/internal/telemetry"
)

const defaultPageSize = 20

type ServerConfig struct {
	// MaxBodyBytes caps POST bodies; defaults to 1 MiB.
	MaxBodyBytes int64
	// PageSize caps an un-bounded GET (no since filter); defaults to 20.
	// A since-bounded GET is never capped: the incremental-sync path
	// trusts the server to return every qualifying record.
	PageSize int
}

type Server struct {
	store telemetry.EventStore
	bus   fanout.NotificationBus
	cfg   ServerConfig
}

func NewServer(store telemetry.EventStore, bus fanout.NotificationBus) *Server {
	return NewServerWithConfig(store, bus, ServerConfig{})
}

func NewServerWithConfig(store telemetry.EventStore, bus fanout.NotificationBus, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Server{store: store, bus: bus, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
	case "/api/events":
		switch r.Method {
		case http.MethodPost:
			s.handleCreateEvent(w, r)
			return
		case http.MethodGet:
			s.handleListEvents(w, r)
			return
		}
	case "/api/events/stream":
		if r.Method == http.MethodGet {
			s.handleStream(w, r)
			return
		}
	case "/api/events/ws":
		if r.Method == http.MethodGet {
			s.handleStreamWebsocket(w, r)
			return
		}
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "route not found"})
		return
	}
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	env, issues, err := telemetry.ValidateEnvelope(body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "Failed to record event",
			"error":   err.Error(),
		})
		return
	}
	if len(issues) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "Invalid request body",
			"errors":  issues,
		})
		return
	}

	event, err := s.store.CreateEvent(r.Context(), env)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "Failed to record event",
			"error":   err.Error(),
		})
		return
	}

	// Best-effort: persistence success and broadcast delivery are
	// independent, and no failure here reaches the sender.
	if s.bus != nil {
		if payload, marshalErr := json.Marshal(event); marshalErr == nil {
			s.bus.Broadcast(payload)
		} else {
			log.Printf("event %s not broadcast: %v", event.ID, marshalErr)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Event recorded successfully",
		"event":   event,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query, issues := telemetry.ParseListQuery(r.URL.Query())
	if len(issues) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "Invalid query parameters",
			"errors":  issues,
		})
		return
	}
	if query.Since.IsZero() {
		query.Limit = s.cfg.PageSize
	}
	events, err := s.store.ListEvents(r.Context(), query)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "Failed to fetch events",
			"error":   err.Error(),
		})
		return
	}
	if events == nil {
		events = []telemetry.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "streaming unsupported"})
		return
	}
	if s.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "event stream unavailable"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	fmt.Fprint(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, open := <-sub.C():
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"message": "request body exceeds configured limit"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "failed to read request body"})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
