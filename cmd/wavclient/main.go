// WAV client - streams a WAV file through a live transcription session and
// prints each utterance as it is finalized.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dialogue-transcriber/internal/app"
	"dialogue-transcriber/internal/audio"
	"dialogue-transcriber/internal/config"
	"dialogue-transcriber/internal/observability/logging"
	"dialogue-transcriber/internal/service/recording"
	"dialogue-transcriber/internal/service/stream"
)

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to a PCM WAV file")
	realtime := flag.Bool("realtime", true, "Pace audio at the file's sample rate")
	drain := flag.Duration("drain", 3*time.Second, "Time to wait for final results after the file ends")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Load()
	if cfg.STT.Provider == "deepgram" && cfg.Credential.URL == "" && cfg.Credential.APIKey == "" {
		cfg.STT.Provider = "mock"
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = "console"
	logging.Init(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := audio.NewWAVSource(*audioFile, *realtime)
	pipeline := audio.NewPipeline(source, app.CaptureOptions(cfg), cfg.STT.SampleRateHz)
	dialer, creds := app.NewTransport(cfg)

	ctrl := recording.NewController(app.ControllerConfig(cfg), dialer, creds, pipeline, nil, app.SpeakerNames(cfg))
	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(runCtx) }()

	fmt.Fprintf(os.Stderr, "Streaming %s via %s\n", *audioFile, cfg.STT.Provider)
	if err := ctrl.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}

	var drainTimer <-chan time.Time
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			switch u.Type {
			case recording.UpdateUtterances:
				for _, utt := range u.Utterances {
					fmt.Printf("[%s] %s\n", utt.SpeakerLabel, utt.Transcript)
				}
			case recording.UpdateStatus:
				if u.State.Phase == stream.StateFatal && u.State.LastError != nil {
					fmt.Fprintf(os.Stderr, "session failed: %s\n", *u.State.LastError)
					os.Exit(1)
				}
			}

		case <-source.Done():
			if drainTimer == nil {
				fmt.Fprintf(os.Stderr, "End of file; waiting %s for final results\n", *drain)
				drainTimer = time.After(*drain)
			}

		case <-drainTimer:
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := ctrl.Stop(stopCtx); err != nil {
				fmt.Fprintf(os.Stderr, "stop: %v\n", err)
			}
			stopCancel()
			fmt.Fprintf(os.Stderr, "%d utterances\n", len(ctrl.Utterances()))
			cancel()
			<-done
			return

		case <-ctx.Done():
			<-done
			return
		}
	}
}
