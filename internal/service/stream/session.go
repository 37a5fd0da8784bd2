package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dialogue-transcriber/internal/observability/logging"
	"dialogue-transcriber/internal/observability/metrics"
	"dialogue-transcriber/internal/service/segment"
	"dialogue-transcriber/internal/service/stt"
)

// Config holds session timing and protocol settings.
type Config struct {
	Endpoint             string
	Params               stt.Params
	KeepAliveInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	ElapsedTick          time.Duration
	DedupeOverlap        bool
	WordSeparator        string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Endpoint:             "wss://api.deepgram.com/v1/listen",
		Params:               stt.DefaultParams(),
		KeepAliveInterval:    8 * time.Second,
		ReconnectDelay:       1500 * time.Millisecond,
		MaxReconnectAttempts: 3,
		ElapsedTick:          time.Second,
	}
}

// Capture is the audio source started on every socket open and stopped on every
// close. Start returns a channel of encoded frames that closes when capture ends.
type Capture interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop() error
}

// Status is an observable snapshot of the session.
type Status struct {
	SessionID         string    `json:"sessionId,omitempty"`
	State             State     `json:"state"`
	SafeMode          bool      `json:"safeMode"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	Recording         bool      `json:"recording"`
	Preview           string    `json:"preview"`
	ElapsedSeconds    int       `json:"elapsedSeconds"`
	LastError         string    `json:"lastError,omitempty"`
	ErrorKind         ErrorKind `json:"errorKind"`
}

type event interface{}

type (
	startEvent      struct{ done chan<- error }
	stopEvent       struct{ done chan<- error }
	credentialEvent struct {
		gen  uint64
		cred stt.Credential
		err  error
		took time.Duration
	}
	dialEvent struct {
		gen  uint64
		conn stt.Conn
		err  error
	}
	messageEvent struct {
		gen  uint64
		data []byte
	}
	closeEvent struct {
		gen    uint64
		code   int
		reason string
	}
	captureEvent struct {
		gen    uint64
		frames <-chan []byte
		err    error
	}
	retryEvent struct{ gen uint64 }
)

// Session drives one recording at a time. All state changes happen on the
// goroutine running Run; every asynchronous task reports back through a single
// event channel, tagged with the connection generation it belongs to. Events from
// an earlier generation are ignored, which is how a manual stop or a teardown
// silences sockets and timers that are still winding down.
type Session struct {
	cfg       Config
	dialer    stt.Dialer
	creds     stt.CredentialProvider
	capture   Capture
	bindings  *Bindings
	segmenter *segment.Segmenter
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	events  chan event
	stopped chan struct{}
	status  atomic.Pointer[Status]

	// Owned by the control loop.
	runCtx         context.Context
	log            zerolog.Logger
	phase          Phase
	id             string
	startedAt      time.Time
	gen            uint64
	taskCtx        context.Context
	cancelTask     context.CancelFunc
	cred           stt.Credential
	conn           stt.Conn
	everStreamed   bool
	keepAlive      *time.Ticker
	elapsedTick    *time.Ticker
	retryTimer     *time.Timer
	elapsed        int
	preview        string
	lastErr        *SessionError
	recording      bool
	captureOn      bool
	capturePending bool
	captureWanted  bool
	watermark      segment.Watermark
}

// New creates a Session. Run must be started before Start or Stop are called.
func New(cfg Config, dialer stt.Dialer, creds stt.CredentialProvider, capture Capture, bindings *Bindings) *Session {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultConfig().KeepAliveInterval
	}
	if cfg.ElapsedTick <= 0 {
		cfg.ElapsedTick = time.Second
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if bindings == nil {
		bindings = NewBindings(Sink{})
	}

	seg := segment.New()
	seg.Separator = cfg.WordSeparator

	s := &Session{
		cfg:       cfg,
		dialer:    dialer,
		creds:     creds,
		capture:   capture,
		bindings:  bindings,
		segmenter: seg,
		metrics:   metrics.DefaultMetrics,
		tracer:    otel.Tracer("dialogue-transcriber/stream"),
		now:       time.Now,
		events:    make(chan event, 64),
		stopped:   make(chan struct{}),
		log:       logging.WithComponent("stream"),
	}
	s.status.Store(&Status{State: StateIdle})
	return s
}

// Bindings returns the session's sink bindings.
func (s *Session) Bindings() *Bindings { return s.bindings }

// Status returns the latest snapshot.
func (s *Session) Status() Status { return *s.status.Load() }

// Start begins a session. It returns once the session has left Idle; connection
// progress is reported through Status. Starting an active session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	return s.request(ctx, func(done chan<- error) event { return startEvent{done: done} })
}

// Stop ends the session and returns after teardown has completed. Stopping an
// inactive session is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	return s.request(ctx, func(done chan<- error) event { return stopEvent{done: done} })
}

func (s *Session) request(ctx context.Context, mk func(chan<- error) event) error {
	done := make(chan error, 1)
	select {
	case s.events <- mk(done):
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

// Run is the control loop. It returns when ctx is canceled, tearing down any
// active session first.
func (s *Session) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			if s.phase.State.IsActive() {
				if err := s.disconnect(true); err != nil {
					s.log.Warn().Err(err).Msg("Teardown incomplete on shutdown")
				}
				s.phase = Phase{State: StateIdle}
				s.endSession()
				s.publish()
			}
			return ctx.Err()

		case ev := <-s.events:
			s.dispatch(ev)

		case <-tickerC(s.keepAlive):
			s.sendKeepAlive()

		case <-tickerC(s.elapsedTick):
			s.elapsed++
			s.publish()
		}
	}
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (s *Session) dispatch(ev event) {
	switch ev := ev.(type) {
	case startEvent:
		ev.done <- s.handleStart()
	case stopEvent:
		ev.done <- s.handleStop()
	case credentialEvent:
		s.handleCredential(ev)
	case dialEvent:
		s.handleDial(ev)
	case messageEvent:
		s.handleMessage(ev)
	case closeEvent:
		s.handleClose(ev)
	case captureEvent:
		s.handleCapture(ev)
	case retryEvent:
		s.handleRetry(ev)
	}
}

func (s *Session) handleStart() error {
	if s.phase.State.IsActive() {
		return nil
	}
	next, err := s.phase.Start()
	if err != nil {
		return err
	}

	s.phase = next
	s.id = uuid.NewString()
	s.log = logging.WithSession(s.id).With().Str("component", "stream").Logger()
	s.startedAt = s.now()
	s.everStreamed = false
	s.elapsed = 0
	s.preview = ""
	s.lastErr = nil
	s.cred = stt.Credential{}
	s.watermark.Reset()

	s.metrics.RecordSessionStart()
	s.log.Info().Msg("Session starting")

	s.fetchCredential()
	s.publish()
	return nil
}

func (s *Session) handleStop() error {
	if !s.phase.State.IsActive() {
		return nil
	}
	next, err := s.phase.Stop()
	if err != nil {
		return err
	}
	s.phase = next
	s.publish()

	if err := s.disconnect(true); err != nil {
		s.log.Warn().Err(err).Msg("Teardown incomplete")
	}

	s.phase, _ = s.phase.Stopped()
	s.elapsed = 0
	s.lastErr = nil
	s.endSession()
	s.log.Info().Msg("Session stopped")
	s.publish()
	return nil
}

// beginTask invalidates every outstanding task and returns a context and
// generation for the next one.
func (s *Session) beginTask() (context.Context, uint64) {
	s.cancelTasks()
	s.gen++
	s.taskCtx, s.cancelTask = context.WithCancel(s.runCtx)
	return s.taskCtx, s.gen
}

func (s *Session) cancelTasks() {
	if s.cancelTask != nil {
		s.cancelTask()
		s.cancelTask = nil
	}
}

func (s *Session) fetchCredential() {
	ctx, gen := s.beginTask()
	go func() {
		ctx, span := s.tracer.Start(ctx, "stt.credential")
		defer span.End()

		start := time.Now()
		cred, err := s.creds.Fetch(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "credential fetch failed")
		}
		s.post(credentialEvent{gen: gen, cred: cred, err: err, took: time.Since(start)})
	}()
}

func (s *Session) handleCredential(ev credentialEvent) {
	if ev.gen != s.gen || s.phase.State != StateCredentialFetch {
		return
	}
	s.metrics.RecordCredentialFetch(ev.took.Seconds())

	if ev.err != nil {
		s.fail(&SessionError{Kind: KindCredential, Err: ev.err})
		return
	}

	next, err := s.phase.CredentialReady()
	if err != nil {
		s.log.Error().Err(err).Msg("Unexpected transition")
		return
	}
	s.phase = next
	s.cred = ev.cred
	s.connect()
}

func (s *Session) connect() {
	safe := s.phase.SafeMode
	rawURL, err := stt.BuildURL(s.cfg.Endpoint, s.cred.Token, s.cfg.Params.Values(safe))
	if err != nil {
		s.fail(&SessionError{Kind: KindProtocol, Reason: err.Error(), Err: err})
		return
	}

	ctx, gen := s.beginTask()
	s.metrics.RecordConnectAttempt(safe)
	s.log.Info().
		Bool("safeMode", safe).
		Int("attempt", s.phase.Attempt).
		Uint64("connection", gen).
		Msg("Connecting to transcription service")

	go func() {
		ctx, span := s.tracer.Start(ctx, "stt.dial", trace.WithAttributes(
			attribute.Bool("stt.safe_mode", safe),
			attribute.Int64("stt.connection", int64(gen)),
		))
		defer span.End()

		conn, err := s.dialer.Dial(ctx, rawURL)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dial failed")
		}
		s.post(dialEvent{gen: gen, conn: conn, err: err})
	}()
	s.publish()
}

func (s *Session) handleDial(ev dialEvent) {
	if ev.gen != s.gen || s.phase.State != StateConnecting {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return
	}
	if ev.err != nil {
		code, reason := stt.CloseCodeOf(ev.err)
		s.onClose(code, reason)
		return
	}

	next, err := s.phase.Open()
	if err != nil {
		s.log.Error().Err(err).Msg("Unexpected transition")
		ev.conn.Close()
		return
	}
	s.phase = next
	s.conn = ev.conn
	s.everStreamed = true
	if s.lastErr != nil && s.lastErr.Kind == KindTransient {
		s.lastErr = nil
	}
	s.keepAlive = time.NewTicker(s.cfg.KeepAliveInterval)

	connLog := logging.WithConnection(s.id, ev.gen, s.phase.SafeMode)
	connLog.Info().Msg("Socket open")

	go s.readLoop(ev.gen, ev.conn)
	s.startCapture()
	s.publish()
}

func (s *Session) readLoop(gen uint64, conn stt.Conn) {
	for {
		t, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := stt.CloseCodeOf(err)
			s.post(closeEvent{gen: gen, code: code, reason: reason})
			return
		}
		if t != stt.TextMessage {
			continue
		}
		s.post(messageEvent{gen: gen, data: data})
	}
}

// startCapture acquires the microphone without blocking the loop. Only one start
// is ever in flight; a request made meanwhile is replayed when it completes.
func (s *Session) startCapture() {
	if s.capturePending {
		s.captureWanted = true
		return
	}
	s.capturePending = true
	ctx, gen := s.taskCtx, s.gen
	go func() {
		frames, err := s.capture.Start(ctx)
		s.post(captureEvent{gen: gen, frames: frames, err: err})
	}()
}

func (s *Session) handleCapture(ev captureEvent) {
	s.capturePending = false

	if ev.gen != s.gen || s.phase.State != StateStreaming {
		if ev.err == nil {
			if err := s.capture.Stop(); err != nil {
				s.log.Warn().Err(err).Msg("Failed to release stale capture")
			}
		}
		if s.captureWanted && s.phase.State == StateStreaming {
			s.captureWanted = false
			s.startCapture()
		}
		return
	}
	s.captureWanted = false

	if ev.err != nil {
		s.fail(&SessionError{Kind: KindSetup, Err: ev.err})
		return
	}

	s.captureOn = true
	s.recording = true
	s.elapsedTick = time.NewTicker(s.cfg.ElapsedTick)
	go s.forward(s.conn, ev.frames)
	s.publish()
}

// forward sends frames in capture order until the capture ends. Frames that
// cannot be written because the socket is closing are dropped.
func (s *Session) forward(conn stt.Conn, frames <-chan []byte) {
	for frame := range frames {
		if err := conn.WriteMessage(stt.BinaryMessage, frame); err != nil {
			continue
		}
		s.metrics.RecordAudioSent(len(frame))
	}
}

func (s *Session) sendKeepAlive() {
	if s.conn == nil {
		return
	}
	if err := s.conn.WriteMessage(stt.TextMessage, stt.KeepAlive()); err != nil {
		s.log.Debug().Err(err).Msg("Keepalive not delivered")
		return
	}
	s.metrics.RecordKeepAlive()
}

func (s *Session) handleMessage(ev messageEvent) {
	if ev.gen != s.gen || s.phase.State != StateStreaming {
		return
	}

	in := stt.Decode(ev.data)
	s.metrics.RecordMessage(in.Kind.String())
	sink := s.bindings.Load()

	switch in.Kind {
	case stt.KindError:
		s.fail(&SessionError{Kind: KindProtocol, Reason: in.Description})

	case stt.KindInterim:
		s.preview = in.Transcript
		if sink.OnPreview != nil {
			sink.OnPreview(in.Transcript)
		}
		s.publish()

	case stt.KindFinal:
		words := in.Words
		if s.cfg.DedupeOverlap {
			words = s.watermark.Filter(words)
		}
		utterances := s.segmenter.Segment(words, sink.Speakers)
		if len(utterances) > 0 {
			n := 0
			for _, u := range utterances {
				n += len(u.Words)
			}
			s.metrics.RecordUtterances(len(utterances), n)
			if sink.OnUtterances != nil {
				sink.OnUtterances(utterances)
			}
		}
		s.preview = ""
		s.publish()

	default:
		s.log.Debug().Int("bytes", len(ev.data)).Msg("Ignoring unrecognized message")
	}
}

func (s *Session) handleClose(ev closeEvent) {
	if ev.gen != s.gen {
		return
	}
	if s.phase.State != StateStreaming && s.phase.State != StateConnecting {
		return
	}
	s.onClose(ev.code, ev.reason)
}

func (s *Session) onClose(code int, reason string) {
	s.metrics.RecordClose(code)
	if err := s.disconnect(false); err != nil {
		s.log.Warn().Err(err).Msg("Teardown incomplete after close")
	}

	next, outcome, err := s.phase.Close(stt.IsFatalCloseCode(code), s.everStreamed, s.cfg.MaxReconnectAttempts)
	if err != nil {
		s.log.Error().Err(err).Msg("Unexpected transition")
		return
	}
	s.phase = next

	switch outcome {
	case OutcomeSafeMode:
		s.lastErr = &SessionError{Kind: KindTransient, Code: code, Reason: reason}
		s.metrics.RecordSafeModeFallback()
		s.log.Warn().Int("code", code).Str("reason", reason).Msg("Connection failed before streaming; retrying in safe mode")
		s.retry()

	case OutcomeReconnect:
		s.lastErr = &SessionError{Kind: KindTransient, Code: code, Reason: reason, Attempt: next.Attempt}
		s.metrics.RecordReconnect()
		s.log.Warn().
			Int("code", code).
			Str("reason", reason).
			Int("attempt", next.Attempt).
			Dur("delay", s.cfg.ReconnectDelay).
			Msg("Connection lost; reconnecting")
		gen := s.gen
		s.retryTimer = time.AfterFunc(s.cfg.ReconnectDelay, func() { s.post(retryEvent{gen: gen}) })
		s.publish()

	case OutcomeRejected:
		s.enterFatal(&SessionError{Kind: KindProtocol, Code: code, Reason: reason})

	case OutcomeExhausted:
		s.enterFatal(&SessionError{Kind: KindRetryExhausted, Code: code, Reason: reason})
	}
}

func (s *Session) handleRetry(ev retryEvent) {
	if ev.gen != s.gen || s.phase.State != StateReconnecting {
		return
	}
	s.retryTimer = nil
	s.retry()
}

// retry reconnects, reusing the credential while it is still valid.
func (s *Session) retry() {
	needCredential := !s.cred.Valid(s.now())
	next, err := s.phase.Retry(needCredential)
	if err != nil {
		s.log.Error().Err(err).Msg("Unexpected transition")
		return
	}
	s.phase = next
	if needCredential {
		s.fetchCredential()
		s.publish()
		return
	}
	s.connect()
}

// disconnect releases every connection resource in order: timers, end-of-stream
// signal, socket, audio capture, pending tasks, then the live preview. Failures
// are collected and never stop later steps.
func (s *Session) disconnect(graceful bool) error {
	var errs []error

	s.gen++
	stopTicker(&s.keepAlive)
	stopTicker(&s.elapsedTick)
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}

	if s.conn != nil {
		if graceful {
			if err := s.conn.WriteMessage(stt.TextMessage, stt.CloseStream()); err != nil {
				s.log.Debug().Err(err).Msg("CloseStream not delivered")
			}
		}
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close socket: %w", err))
		}
		s.conn = nil
	}

	if s.captureOn {
		if err := s.capture.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture: %w", err))
		}
		s.captureOn = false
	}
	s.captureWanted = false

	s.cancelTasks()
	s.recording = false
	s.preview = ""
	return errors.Join(errs...)
}

func stopTicker(t **time.Ticker) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *Session) fail(se *SessionError) {
	if err := s.disconnect(false); err != nil {
		s.log.Warn().Err(err).Msg("Teardown incomplete after failure")
	}
	if next, err := s.phase.Fail(); err == nil {
		s.phase = next
	}
	s.enterFatal(se)
}

func (s *Session) enterFatal(se *SessionError) {
	s.lastErr = se
	s.metrics.RecordSessionFailure(se.Kind.String())
	s.endSession()
	s.log.Error().Err(se).Str("kind", se.Kind.String()).Msg("Session failed")
	s.publish()
}

func (s *Session) endSession() {
	if s.startedAt.IsZero() {
		return
	}
	s.metrics.RecordSessionEnd(s.now().Sub(s.startedAt).Seconds())
	s.startedAt = time.Time{}
}

func (s *Session) publish() {
	st := Status{
		SessionID:         s.id,
		State:             s.phase.State,
		SafeMode:          s.phase.SafeMode,
		ReconnectAttempts: s.phase.Attempt,
		Recording:         s.recording,
		Preview:           s.preview,
		ElapsedSeconds:    s.elapsed,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
		st.ErrorKind = s.lastErr.Kind
	}
	s.status.Store(&st)

	if fn := s.bindings.Load().OnStatus; fn != nil {
		fn(st)
	}
}
