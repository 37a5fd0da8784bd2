// Transcript Viewer - follows the published transcript topics and relays them
// to browsers over a WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"dialogue-transcriber/internal/models"
	"dialogue-transcriber/internal/observability/logging"
)

// viewerEvent is what the browser receives: either a preview or a batch.
type viewerEvent struct {
	EventType  string             `json:"eventType"`
	SessionID  string             `json:"sessionId"`
	Timestamp  int64              `json:"timestamp"`
	Text       string             `json:"text,omitempty"`
	Utterances []models.Utterance `json:"utterances,omitempty"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Hub keeps the connected browsers and fans events out to them.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan viewerEvent
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

func newHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) add(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *Hub) remove(c *client) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return len(h.clients), false
	}
	delete(h.clients, c)
	close(c.send)
	return len(h.clients), true
}

// Broadcast queues an event for every client. A client whose queue is full is
// disconnected rather than stalling the consumers.
func (h *Hub) Broadcast(ev viewerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			delete(h.clients, c)
			close(c.send)
			log.Warn().Msg("Client too slow; disconnected")
		}
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	c := &client{conn: conn, send: make(chan viewerEvent, 64)}
	log.Info().Int("clients", h.add(c)).Msg("Client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only watches for the browser going away.
func (h *Hub) readPump(c *client) {
	defer func() {
		if n, ok := h.remove(c); ok {
			log.Info().Int("clients", n).Msg("Client disconnected")
		}
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Warn().Err(err).Msg("Write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decode(value []byte) (viewerEvent, error) {
	var event viewerEvent
	err := json.Unmarshal(value, &event)
	return event, err
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek; reading from current offset")
	}

	log.Info().Str("topic", topic).Msg("Consuming partition 0 (last hour)")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		event, err := decode(msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Invalid event payload")
			continue
		}

		switch event.EventType {
		case models.EventTypePreview:
			log.Debug().Str("sessionId", event.SessionID).Str("text", truncate(event.Text, 40)).Msg("Preview")
		case models.EventTypeUtterances:
			log.Info().Str("sessionId", event.SessionID).Int("utterances", len(event.Utterances)).Msg("Utterances")
		}

		hub.Broadcast(event)
	}
}

const page = `<!doctype html>
<html><head><meta charset="utf-8"><title>Transcript Viewer</title>
<style>body{font-family:sans-serif;margin:2em}#preview{color:#888;min-height:1.5em}.u{margin:.3em 0}.l{font-weight:bold;margin-right:.5em}</style>
</head><body>
<h1>Transcript</h1>
<div id="log"></div>
<div id="preview"></div>
<script>
const log = document.getElementById("log");
const preview = document.getElementById("preview");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const e = JSON.parse(m.data);
  if (e.eventType === "transcript.preview") { preview.textContent = e.text || ""; return; }
  for (const u of e.utterances || []) {
    const d = document.createElement("div"); d.className = "u";
    const l = document.createElement("span"); l.className = "l"; l.textContent = "[" + u.speakerLabel + "]";
    d.appendChild(l); d.appendChild(document.createTextNode(u.transcript));
    log.appendChild(d);
  }
  preview.textContent = "";
};
</script></body></html>`

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPreview := flag.String("topic-preview", "conversation.transcript.preview", "Preview topic")
	topicUtterances := flag.String("topic-utterances", "conversation.transcript.utterances", "Utterance batch topic")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Format = "console"
	logging.Init(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	defer hub.CloseAll()

	go consumeKafka(ctx, hub, *brokers, *topicPreview)
	go consumeKafka(ctx, hub, *brokers, *topicUtterances)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	mux.HandleFunc("/ws", hub.serve)

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().
		Str("addr", "http://localhost:"+*port).
		Str("brokers", *brokers).
		Strs("topics", []string{*topicPreview, *topicUtterances}).
		Msg("Transcript viewer starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Server error")
		os.Exit(1)
	}
}
