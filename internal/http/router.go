// Package http exposes the recording controller over REST and a live WebSocket feed.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"dialogue-transcriber/internal/models"
	"dialogue-transcriber/internal/observability"
	"dialogue-transcriber/internal/observability/metrics"
	"dialogue-transcriber/internal/service/recording"
	"dialogue-transcriber/internal/service/stream"
)

// Recorder is the controller surface served over HTTP.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() recording.State
	SpeakerNames() models.SpeakerNames
	SetSpeakerNames(names models.SpeakerNames)
	Utterances() []models.Utterance
	ClearUtterances()
	Transcript() string
	Subscribe() (<-chan recording.Update, func())
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Local control surface
	},
}

// SpeakerNamesRequest is the body of PUT /v1/speakers.
type SpeakerNamesRequest struct {
	Speaker0 string `json:"speaker0"`
	Speaker1 string `json:"speaker1"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter constructs the HTTP router for the service. ready, when non-nil,
// decides the readiness response.
func NewRouter(rec Recorder, ready func() error) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(metrics.DefaultMetrics))
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	h := &handlers{rec: rec}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/recording", h.state)
		r.Post("/recording/start", h.start)
		r.Post("/recording/stop", h.stop)
		r.Get("/speakers", h.speakers)
		r.Put("/speakers", h.setSpeakers)
		r.Get("/utterances", h.utterances)
		r.Delete("/utterances", h.clearUtterances)
		r.Get("/live", h.live)
	})

	return r
}

type handlers struct {
	rec Recorder
}

func (h *handlers) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rec.State())
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	if err := h.rec.Start(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.rec.State())
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.rec.Stop(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.rec.State())
}

func (h *handlers) speakers(w http.ResponseWriter, r *http.Request) {
	names := h.rec.SpeakerNames()
	writeJSON(w, http.StatusOK, SpeakerNamesRequest{Speaker0: names.Label(0), Speaker1: names.Label(1)})
}

func (h *handlers) setSpeakers(w http.ResponseWriter, r *http.Request) {
	var req SpeakerNamesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.rec.SetSpeakerNames(models.SpeakerNames{req.Speaker0, req.Speaker1})
	h.speakers(w, r)
}

func (h *handlers) utterances(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(h.rec.Transcript()))
		return
	}
	writeJSON(w, http.StatusOK, h.rec.Utterances())
}

func (h *handlers) clearUtterances(w http.ResponseWriter, r *http.Request) {
	h.rec.ClearUtterances()
	w.WriteHeader(http.StatusNoContent)
}

// live streams the current state followed by every update until the client
// disconnects or the controller shuts down.
func (h *handlers) live(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.rec.Subscribe()
	defer unsubscribe()

	// Read pump: only control frames are expected; any read error ends the feed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	state := h.rec.State()
	if err := writeUpdate(conn, recording.Update{Type: recording.UpdateStatus, State: &state}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := writeUpdate(conn, u); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func writeUpdate(conn *websocket.Conn, u recording.Update) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(u)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stream.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
