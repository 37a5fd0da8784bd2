// Package mock provides an in-process streaming transcription service for running
// without cloud credentials. It simulates realistic behavior: progressive interim
// results as audio arrives, exactly one final result per utterance with diarized
// words, and two speakers taking turns.
package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"dialogue-transcriber/internal/models"
	"dialogue-transcriber/internal/service/stt"
)

// SimulatedUtterance is one speaker turn with progressive transcripts.
type SimulatedUtterance struct {
	Speaker    int
	Partials   []string // Progressive interim transcripts
	Words      []string // Final words, punctuation attached
	Confidence float64
}

// DefaultUtterances provides a short two-speaker exchange.
var DefaultUtterances = []SimulatedUtterance{
	{
		Speaker:    0,
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Words:      []string{"I", "want", "to", "cancel", "my", "subscription."},
		Confidence: 0.94,
	},
	{
		Speaker:    1,
		Partials:   []string{"Sure", "Sure, can"},
		Words:      []string{"Sure,", "can", "I", "have", "your", "account", "number?"},
		Confidence: 0.97,
	},
	{
		Speaker:    0,
		Partials:   []string{"It's", "It's four"},
		Words:      []string{"It's", "four", "two", "seven", "one."},
		Confidence: 0.91,
	},
	{
		Speaker:    1,
		Partials:   []string{"Thank you"},
		Words:      []string{"Thank", "you,", "one", "moment."},
		Confidence: 0.98,
	},
}

// FramesPerStep is how many audio frames advance the simulation by one message.
const FramesPerStep = 4

// Dialer hands out simulated connections. Each connection continues the script
// where the previous one stopped.
type Dialer struct {
	Utterances []SimulatedUtterance
	Separator  string

	mu   sync.Mutex
	next int
	urls []string
}

// New creates a Dialer over DefaultUtterances.
func New() *Dialer {
	return &Dialer{Utterances: DefaultUtterances, Separator: " "}
}

// Dial returns a new simulated connection.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (stt.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, &stt.CloseError{Code: stt.CloseAbnormal, Reason: err.Error(), Err: err}
	}

	d.mu.Lock()
	d.urls = append(d.urls, rawURL)
	d.mu.Unlock()

	return &Conn{
		dialer: d,
		inbox:  make(chan []byte, 64),
		done:   make(chan struct{}),
	}, nil
}

// URLs returns the URLs dialed so far.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *Dialer) take() (SimulatedUtterance, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	utt := d.Utterances[d.next%len(d.Utterances)]
	offset := float64(d.next) * 3.0
	d.next++
	return utt, offset
}

// Conn is a simulated streaming socket.
type Conn struct {
	dialer *Dialer
	inbox  chan []byte

	mu           sync.Mutex
	active       bool
	utterance    SimulatedUtterance
	offset       float64
	frames       int
	partialIndex int
	keepAlives   int
	closeCode    int
	closeReason  string
	done         chan struct{}
	closed       bool
}

// WriteMessage consumes audio and control frames. Every FramesPerStep audio frames
// produce the next interim result, and the final result once interims run out.
func (c *Conn) WriteMessage(t stt.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &stt.CloseError{Code: stt.CloseAbnormal, Reason: "use of closed connection"}
	}

	if t == stt.TextMessage {
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err == nil {
			switch msg.Type {
			case "KeepAlive":
				c.keepAlives++
			case "CloseStream":
				c.flushLocked()
				c.closeLocked(stt.CloseNormal, "stream closed")
			}
		}
		return nil
	}

	c.frames++
	if c.frames%FramesPerStep != 0 {
		return nil
	}

	if !c.active {
		c.utterance, c.offset = c.dialer.take()
		c.partialIndex = 0
		c.active = true
	}

	if c.partialIndex < len(c.utterance.Partials) {
		c.emitLocked(interim(c.utterance.Partials[c.partialIndex]))
		c.partialIndex++
		return nil
	}
	c.flushLocked()
	return nil
}

// flushLocked emits the final result for the utterance in progress.
func (c *Conn) flushLocked() {
	if !c.active {
		return
	}
	c.emitLocked(final(c.utterance, c.offset, c.dialer.Separator))
	c.active = false
}

func (c *Conn) emitLocked(msg []byte) {
	select {
	case c.inbox <- msg:
	default:
		// Reader is not keeping up; drop like a congested socket would.
	}
}

// ReadMessage returns the next simulated message or the close reason.
func (c *Conn) ReadMessage() (stt.MessageType, []byte, error) {
	select {
	case msg := <-c.inbox:
		return stt.TextMessage, msg, nil
	case <-c.done:
		select {
		case msg := <-c.inbox:
			return stt.TextMessage, msg, nil
		default:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return 0, nil, &stt.CloseError{Code: c.closeCode, Reason: c.closeReason}
	}
}

// Close ends the simulated session.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(stt.CloseNormal, "")
	return nil
}

// Drop simulates the service closing the socket with code.
func (c *Conn) Drop(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
}

// KeepAlives returns the number of keepalive frames received.
func (c *Conn) KeepAlives() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlives
}

func (c *Conn) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeReason = code, reason
	close(c.done)
}

type result struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string           `json:"transcript"`
	Confidence float64          `json:"confidence"`
	Words      []models.RawWord `json:"words"`
}

func interim(text string) []byte {
	var r result
	r.Type = "Results"
	r.Channel.Alternatives = []alternative{{Transcript: text}}
	b, _ := json.Marshal(r)
	return b
}

func final(utt SimulatedUtterance, offset float64, sep string) []byte {
	words := make([]models.RawWord, len(utt.Words))
	for i, w := range utt.Words {
		start := offset + float64(i)*0.3
		end := start + 0.25
		conf := utt.Confidence
		speaker := utt.Speaker
		words[i] = models.RawWord{
			Word:           strings.ToLower(strings.Trim(w, ".,?!")),
			PunctuatedWord: w,
			Start:          &start,
			End:            &end,
			Confidence:     &conf,
			Speaker:        &speaker,
		}
	}

	var r result
	r.Type = "Results"
	r.IsFinal = true
	r.Channel.Alternatives = []alternative{{
		Transcript: strings.Join(utt.Words, sep),
		Confidence: utt.Confidence,
		Words:      words,
	}}
	b, _ := json.Marshal(r)
	return b
}
