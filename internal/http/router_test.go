package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dialogue-transcriber/internal/models"
	"dialogue-transcriber/internal/service/recording"
	"dialogue-transcriber/internal/service/stream"
)

type fakeRecorder struct {
	mu         sync.Mutex
	startErr   error
	starts     int
	stops      int
	names      models.SpeakerNames
	utterances []models.Utterance
	updates    chan recording.Update
	unsubbed   bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		names:   models.DefaultSpeakerNames(),
		updates: make(chan recording.Update, 4),
		utterances: []models.Utterance{
			{ID: "u1", SpeakerID: 0, SpeakerLabel: "Speaker A", Transcript: "hello"},
			{ID: "u2", SpeakerID: 1, SpeakerLabel: "Speaker B", Transcript: "hi"},
		},
	}
}

func (f *fakeRecorder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeRecorder) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRecorder) State() recording.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return recording.State{IsRecording: f.starts > f.stops, Phase: stream.StateIdle, Elapsed: "00:00"}
}

func (f *fakeRecorder) SpeakerNames() models.SpeakerNames {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names
}

func (f *fakeRecorder) SetSpeakerNames(names models.SpeakerNames) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = names
}

func (f *fakeRecorder) Utterances() []models.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Utterance(nil), f.utterances...)
}

func (f *fakeRecorder) ClearUtterances() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = nil
}

func (f *fakeRecorder) Transcript() string {
	return recording.ConversationLog(f.Utterances(), f.SpeakerNames())
}

func (f *fakeRecorder) Subscribe() (<-chan recording.Update, func()) {
	return f.updates, func() {
		f.mu.Lock()
		f.unsubbed = true
		f.mu.Unlock()
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	h := NewRouter(newFakeRecorder(), nil)
	if rec := do(t, h, http.MethodGet, "/v1/liveness", ""); rec.Code != http.StatusOK {
		t.Errorf("liveness = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/readiness", ""); rec.Code != http.StatusOK {
		t.Errorf("readiness = %d", rec.Code)
	}

	h = NewRouter(newFakeRecorder(), func() error { return errors.New("publisher down") })
	if rec := do(t, h, http.MethodGet, "/v1/readiness", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness when not ready = %d", rec.Code)
	}
}

func TestRouter_StartStop(t *testing.T) {
	fr := newFakeRecorder()
	h := NewRouter(fr, nil)

	rec := do(t, h, http.MethodPost, "/v1/recording/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start = %d", rec.Code)
	}
	var state recording.State
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !state.IsRecording {
		t.Error("expected recording state in response")
	}

	if rec := do(t, h, http.MethodPost, "/v1/recording/stop", ""); rec.Code != http.StatusOK {
		t.Errorf("stop = %d", rec.Code)
	}
	if fr.starts != 1 || fr.stops != 1 {
		t.Errorf("expected one start and one stop, got %d/%d", fr.starts, fr.stops)
	}

	rec = do(t, h, http.MethodGet, "/v1/recording", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"phase":"IDLE"`) {
		t.Errorf("unexpected state response %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_StartErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{stream.ErrNotRunning, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusRequestTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		fr := newFakeRecorder()
		fr.startErr = tt.err
		rec := do(t, NewRouter(fr, nil), http.MethodPost, "/v1/recording/start", "")
		if rec.Code != tt.want {
			t.Errorf("start with %v = %d, want %d", tt.err, rec.Code, tt.want)
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Errorf("expected error body, got %s", rec.Body.String())
		}
	}
}

func TestRouter_Speakers(t *testing.T) {
	fr := newFakeRecorder()
	h := NewRouter(fr, nil)

	rec := do(t, h, http.MethodPut, "/v1/speakers", `{"speaker0":"Interviewer","speaker1":"Guest"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put speakers = %d %s", rec.Code, rec.Body.String())
	}
	if fr.names != (models.SpeakerNames{"Interviewer", "Guest"}) {
		t.Errorf("names not applied: %v", fr.names)
	}

	// Blank names fall back to the default labels.
	rec = do(t, h, http.MethodPut, "/v1/speakers", `{"speaker0":""}`)
	var got SpeakerNamesRequest
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Speaker0 != models.DefaultSpeaker0 || got.Speaker1 != models.DefaultSpeaker1 {
		t.Errorf("expected default labels, got %+v", got)
	}

	for _, body := range []string{`{bad`, `{"speaker2":"x"}`} {
		if rec := do(t, h, http.MethodPut, "/v1/speakers", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s = %d, want 400", body, rec.Code)
		}
	}
}

func TestRouter_Utterances(t *testing.T) {
	fr := newFakeRecorder()
	h := NewRouter(fr, nil)

	rec := do(t, h, http.MethodGet, "/v1/utterances", "")
	var utts []models.Utterance
	if err := json.NewDecoder(rec.Body).Decode(&utts); err != nil || len(utts) != 2 {
		t.Fatalf("unexpected utterances %v %v", utts, err)
	}

	rec = do(t, h, http.MethodGet, "/v1/utterances?format=text", "")
	if got := rec.Body.String(); got != "[Speaker A] hello\n[Speaker B] hi" {
		t.Errorf("unexpected text log %q", got)
	}

	if rec := do(t, h, http.MethodDelete, "/v1/utterances", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
	if len(fr.Utterances()) != 0 {
		t.Error("expected log cleared")
	}
}

func TestRouter_Live(t *testing.T) {
	fr := newFakeRecorder()
	srv := httptest.NewServer(NewRouter(fr, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first recording.Update
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if first.Type != recording.UpdateStatus || first.State == nil {
		t.Errorf("expected initial status, got %+v", first)
	}

	fr.updates <- recording.Update{
		Type:       recording.UpdateUtterances,
		Utterances: []models.Utterance{{ID: "u3", Transcript: "new"}},
	}
	var next recording.Update
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Type != recording.UpdateUtterances || next.Utterances[0].ID != "u3" {
		t.Errorf("unexpected update %+v", next)
	}

	// Closing the subscription ends the feed with a close frame.
	close(fr.updates)
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}
