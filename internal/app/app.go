// Package app composes the recorder process from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dialogue-transcriber/internal/audio"
	"dialogue-transcriber/internal/audio/portaudio"
	"dialogue-transcriber/internal/config"
	"dialogue-transcriber/internal/events"
	httpapi "dialogue-transcriber/internal/http"
	"dialogue-transcriber/internal/models"
	"dialogue-transcriber/internal/observability"
	"dialogue-transcriber/internal/observability/logging"
	"dialogue-transcriber/internal/observability/tracing"
	"dialogue-transcriber/internal/service/recording"
	"dialogue-transcriber/internal/service/stream"
	"dialogue-transcriber/internal/service/stt"
	"dialogue-transcriber/internal/service/stt/mock"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Controller  *recording.Controller

	publisher     events.Sink
	ready         func() error
	traceShutdown func(context.Context) error
	httpServer    *http.Server
	metricsServer *observability.Server
}

// New constructs the Application: logging, tracing, event publishing, the
// transcription transport, audio capture and the recording controller.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg: cfg,
		Logger: log.With().
			Str("service", cfg.Service.Name).
			Str("component", "application").
			Logger(),
	}

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  cfg.Service.Name,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		OTLPInsecure: cfg.Observability.OTLPInsecure,
		Stdout:       cfg.Observability.TraceStdout,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.traceShutdown = traceShutdown

	publisher, ready, err := NewPublisher(cfg)
	if err != nil {
		traceShutdown(ctx)
		return nil, err
	}
	a.publisher = publisher
	a.ready = ready

	dialer, creds := NewTransport(cfg)
	mic := NewMicrophone(cfg)
	pipeline := audio.NewPipeline(mic, CaptureOptions(cfg), cfg.STT.SampleRateHz)

	a.Controller = recording.NewController(
		ControllerConfig(cfg),
		dialer,
		creds,
		pipeline,
		publisher,
		SpeakerNames(cfg),
	)

	a.httpServer = &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(a.Controller, ready),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	a.metricsServer = observability.NewServer(cfg.Observability.MetricsAddr, ready)

	a.Logger.Info().
		Str("provider", cfg.STT.Provider).
		Str("model", cfg.STT.Model).
		Str("language", cfg.STT.Language).
		Msg("Dialogue transcriber application created")
	return a, nil
}

// Run serves until ctx is canceled. When autostart is set a recording begins
// as soon as the controller is running.
func (a *Application) Run(ctx context.Context, autostart bool) error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("httpAddr", a.httpServer.Addr).
		Msg("Dialogue transcriber starting")

	a.metricsServer.Start()

	serveErr := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Controller.Run(runCtx)
	}()

	if autostart {
		if err := a.Controller.Start(runCtx); err != nil {
			a.Logger.Error().Err(err).Msg("Autostart failed")
		}
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		a.Logger.Error().Err(err).Msg("HTTP server failed")
	}

	cancel()
	wg.Wait()
	return err
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Logger.Info().Msg("Dialogue transcriber shutting down")

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.metricsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics server: %w", err))
	}
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher: %w", err))
	}
	if err := a.traceShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	return errors.Join(errs...)
}

// NewPublisher builds the event sinks. Kafka always participates, in log-only
// mode when disabled; NATS joins when enabled. The returned readiness check
// fails while the NATS connection is down.
func NewPublisher(cfg *config.Config) (events.Sink, func() error, error) {
	kafkaPub := events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicPreview:    cfg.Kafka.TopicPreview,
		TopicUtterances: cfg.Kafka.TopicUtterances,
		Principal:       cfg.Kafka.Principal,
	})
	if !cfg.NATS.Enabled {
		return kafkaPub, func() error { return nil }, nil
	}

	natsPub, err := events.NewNATSPublisher(events.NATSConfig{
		URL:           cfg.NATS.URL,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		Name:          cfg.Service.Name,
	})
	if err != nil {
		kafkaPub.Close()
		return nil, nil, err
	}
	ready := func() error {
		if !natsPub.Healthy() {
			return errors.New("nats connection is not established")
		}
		return nil
	}
	return events.Fanout{kafkaPub, natsPub}, ready, nil
}

// NewTransport selects the transcription transport and credential source.
func NewTransport(cfg *config.Config) (stt.Dialer, stt.CredentialProvider) {
	if cfg.STT.Provider == "mock" {
		d := mock.New()
		d.Separator = cfg.STT.WordSeparator
		return d, stt.StaticCredential("mock")
	}
	if cfg.Credential.URL != "" {
		return stt.NewWebsocketDialer(), stt.NewHTTPCredentialProvider(cfg.Credential.URL, cfg.Credential.SessionToken)
	}
	return stt.NewWebsocketDialer(), stt.StaticCredential(cfg.Credential.APIKey)
}

// NewMicrophone returns the WAV file source when configured, otherwise the
// system microphone.
func NewMicrophone(cfg *config.Config) audio.Microphone {
	if cfg.Audio.WAVFile != "" {
		return audio.NewWAVSource(cfg.Audio.WAVFile, true)
	}
	return portaudio.NewMicrophone()
}

// CaptureOptions maps audio settings onto capture options.
func CaptureOptions(cfg *config.Config) audio.CaptureOptions {
	opts := audio.DefaultCaptureOptions()
	opts.DeviceIndex = cfg.Audio.DeviceIndex
	opts.Channels = cfg.STT.Channels
	opts.FramesPerBuffer = cfg.Audio.FramesPerBuffer
	opts.EchoCancellation = cfg.Audio.EchoCancellation
	opts.NoiseSuppression = cfg.Audio.NoiseSuppression
	opts.AutoGainControl = cfg.Audio.AutoGainControl
	return opts
}

// SessionConfig maps STT settings onto the session configuration.
func SessionConfig(cfg *config.Config) stream.Config {
	sc := stream.DefaultConfig()
	sc.Endpoint = cfg.STT.Endpoint
	sc.Params = stt.Params{
		Model:          cfg.STT.Model,
		Language:       cfg.STT.Language,
		EndpointingMs:  cfg.STT.EndpointingMs,
		UtteranceEndMs: cfg.STT.UtteranceEndMs,
		SampleRate:     cfg.STT.SampleRateHz,
		Channels:       cfg.STT.Channels,
		Encoding:       cfg.STT.Encoding,
	}
	sc.KeepAliveInterval = cfg.STT.KeepAliveInterval
	sc.ReconnectDelay = cfg.STT.ReconnectDelay
	sc.MaxReconnectAttempts = cfg.STT.MaxReconnectAttempts
	sc.DedupeOverlap = cfg.STT.DedupeOverlap
	sc.WordSeparator = cfg.STT.WordSeparator
	return sc
}

// ControllerConfig wraps the session configuration with controller defaults.
func ControllerConfig(cfg *config.Config) recording.Config {
	rc := recording.DefaultConfig()
	rc.Session = SessionConfig(cfg)
	return rc
}

// SpeakerNames returns the configured display names.
func SpeakerNames(cfg *config.Config) models.SpeakerNames {
	return models.SpeakerNames{cfg.Speakers.Speaker0, cfg.Speakers.Speaker1}
}
