// Package recording provides the session controller that coordinates the
// streaming session, the in-memory conversation log and the event publisher.
package recording

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dialogue-transcriber/internal/events"
	"dialogue-transcriber/internal/models"
	"dialogue-transcriber/internal/observability/logging"
	"dialogue-transcriber/internal/observability/metrics"
	"dialogue-transcriber/internal/schema"
	"dialogue-transcriber/internal/service/segment"
	"dialogue-transcriber/internal/service/stream"
	"dialogue-transcriber/internal/service/stt"
)

// Config holds controller settings.
type Config struct {
	Session        stream.Config
	QueueSize      int           // pending publish jobs before events are dropped
	PublishTimeout time.Duration // per-event publish deadline
	SubscriberSize int           // buffered updates per subscriber
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Session:        stream.DefaultConfig(),
		QueueSize:      256,
		PublishTimeout: 5 * time.Second,
		SubscriberSize: 32,
	}
}

// State is the observable controller state.
type State struct {
	IsRecording       bool             `json:"isRecording"`
	LivePreviewText   string           `json:"livePreviewText"`
	ElapsedSeconds    int              `json:"elapsedSeconds"`
	Elapsed           string           `json:"elapsed"`
	LastError         *string          `json:"lastError"`
	ErrorKind         stream.ErrorKind `json:"errorKind"`
	Phase             stream.State     `json:"phase"`
	SafeMode          bool             `json:"safeMode"`
	ReconnectAttempts int              `json:"reconnectAttempts"`
	SessionID         string           `json:"sessionId,omitempty"`
}

// UpdateType tags a subscriber update.
type UpdateType string

const (
	UpdateStatus     UpdateType = "status"
	UpdateUtterances UpdateType = "utterances"
)

// Update is pushed to subscribers on every status change and every appended batch.
type Update struct {
	Type       UpdateType         `json:"type"`
	State      *State             `json:"state,omitempty"`
	Utterances []models.Utterance `json:"utterances,omitempty"`
}

type publishJob struct {
	key     string
	preview *models.TranscriptPreview
	batch   *models.UtteranceBatch
}

// Controller owns one streaming session and the application-side conversation log.
type Controller struct {
	cfg       Config
	session   *stream.Session
	publisher events.Sink
	validator *schema.Validator
	batches   *segment.Generator
	metrics   *metrics.Metrics
	log       zerolog.Logger

	queue chan publishJob

	mu         sync.RWMutex
	utterances []models.Utterance
	subs       map[int]chan Update
	nextSub    int
}

// NewController wires a session to the given collaborators. A nil publisher
// logs events only.
func NewController(
	cfg Config,
	dialer stt.Dialer,
	creds stt.CredentialProvider,
	capture stream.Capture,
	publisher events.Sink,
	names models.SpeakerNames,
) *Controller {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	if cfg.SubscriberSize <= 0 {
		cfg.SubscriberSize = DefaultConfig().SubscriberSize
	}
	if publisher == nil {
		publisher = events.New(nil)
	}

	c := &Controller{
		cfg:       cfg,
		publisher: publisher,
		validator: schema.New(),
		batches:   segment.NewGenerator(),
		metrics:   metrics.DefaultMetrics,
		log:       logging.WithComponent("recording"),
		queue:     make(chan publishJob, cfg.QueueSize),
		subs:      make(map[int]chan Update),
	}

	bindings := stream.NewBindings(stream.Sink{
		Speakers:     names,
		OnUtterances: c.onUtterances,
		OnPreview:    c.onPreview,
		OnStatus:     c.onStatus,
	})
	c.session = stream.New(cfg.Session, dialer, creds, capture, bindings)
	return c
}

// Run drives the session loop and the publish worker until ctx is canceled.
// Events still queued at shutdown are flushed with a bounded deadline.
func (c *Controller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.publishLoop()
	}()

	err := c.session.Run(ctx)

	// The session loop is the only producer.
	close(c.queue)
	wg.Wait()

	c.mu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	return err
}

// Start begins recording.
func (c *Controller) Start(ctx context.Context) error {
	return c.session.Start(ctx)
}

// Stop ends recording.
func (c *Controller) Stop(ctx context.Context) error {
	return c.session.Stop(ctx)
}

// State returns the current observable state.
func (c *Controller) State() State {
	return stateFrom(c.session.Status())
}

// SpeakerNames returns the names applied to newly emitted utterances.
func (c *Controller) SpeakerNames() models.SpeakerNames {
	return c.session.Bindings().Load().Speakers
}

// SetSpeakerNames replaces the names used for utterances emitted from now on.
// Utterances already in the log keep their labels.
func (c *Controller) SetSpeakerNames(names models.SpeakerNames) {
	c.session.Bindings().SetSpeakers(names)
	c.log.Info().Str("speaker0", names[0]).Str("speaker1", names[1]).Msg("Speaker names updated")
}

// Utterances returns a copy of the conversation log.
func (c *Controller) Utterances() []models.Utterance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Utterance, len(c.utterances))
	copy(out, c.utterances)
	return out
}

// ClearUtterances empties the conversation log.
func (c *Controller) ClearUtterances() {
	c.mu.Lock()
	c.utterances = nil
	c.mu.Unlock()
}

// Transcript renders the conversation log one utterance per line as
// "[label] transcript", labeling speakers with the current names.
func (c *Controller) Transcript() string {
	return ConversationLog(c.Utterances(), c.SpeakerNames())
}

// ConversationLog renders utterances as "[label] transcript" lines.
func ConversationLog(utterances []models.Utterance, names models.SpeakerNames) string {
	lines := make([]string, len(utterances))
	for i, u := range utterances {
		lines[i] = fmt.Sprintf("[%s] %s", names.Label(u.SpeakerID), u.Transcript)
	}
	return strings.Join(lines, "\n")
}

// FormatElapsed renders seconds as zero-padded mm:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Subscribe registers for updates. Slow subscribers miss updates rather than
// stall the session. The returned function unsubscribes.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, c.cfg.SubscriberSize)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
			c.mu.Unlock()
		})
	}
}

func (c *Controller) broadcast(u Update) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
			c.metrics.RecordPublishDropped("subscriber_full")
		}
	}
}

func stateFrom(st stream.Status) State {
	s := State{
		IsRecording:       st.Recording,
		LivePreviewText:   st.Preview,
		ElapsedSeconds:    st.ElapsedSeconds,
		Elapsed:           FormatElapsed(st.ElapsedSeconds),
		ErrorKind:         st.ErrorKind,
		Phase:             st.State,
		SafeMode:          st.SafeMode,
		ReconnectAttempts: st.ReconnectAttempts,
		SessionID:         st.SessionID,
	}
	if st.LastError != "" {
		msg := st.LastError
		s.LastError = &msg
	}
	return s
}

// --- stream.Sink callbacks, all invoked on the session loop ---

func (c *Controller) onStatus(st stream.Status) {
	s := stateFrom(st)
	c.broadcast(Update{Type: UpdateStatus, State: &s})
}

func (c *Controller) onPreview(text string) {
	sessionID := c.session.Status().SessionID
	c.enqueue(publishJob{
		key: sessionID,
		preview: &models.TranscriptPreview{
			EventType: models.EventTypePreview,
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
			Text:      text,
		},
	})
}

func (c *Controller) onUtterances(batch []models.Utterance) {
	c.mu.Lock()
	c.utterances = append(c.utterances, batch...)
	c.mu.Unlock()

	c.broadcast(Update{Type: UpdateUtterances, Utterances: batch})

	sessionID := c.session.Status().SessionID
	c.enqueue(publishJob{
		key: sessionID,
		batch: &models.UtteranceBatch{
			EventType:  models.EventTypeUtterances,
			SessionID:  sessionID,
			BatchID:    c.batches.Next(sessionID),
			Timestamp:  time.Now().UnixMilli(),
			Utterances: batch,
		},
	})
}

func (c *Controller) enqueue(job publishJob) {
	select {
	case c.queue <- job:
	default:
		c.metrics.RecordPublishDropped("queue_full")
		c.log.Warn().Str("sessionId", job.key).Msg("Publish queue full; event dropped")
	}
}

func (c *Controller) publishLoop() {
	for job := range c.queue {
		c.publish(job)
	}
}

func (c *Controller) publish(job publishJob) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
	defer cancel()

	var err error
	switch {
	case job.preview != nil:
		if err = c.validator.Validate(*job.preview); err == nil {
			err = c.publisher.PublishPreview(ctx, job.key, *job.preview)
		}
	case job.batch != nil:
		if err = c.validator.Validate(*job.batch); err == nil {
			err = c.publisher.PublishUtterances(ctx, job.key, *job.batch)
		}
	}
	if err != nil {
		c.log.Warn().Err(err).Str("sessionId", job.key).Msg("Failed to publish event")
	}
}
