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
	"github.com/rs/zerolog/log"

	"dialogue-transcriber/internal/app"
	"dialogue-transcriber/internal/audio/portaudio"
	"dialogue-transcriber/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML configuration file")
	autostart := flag.Bool("autostart", false, "Start recording as soon as the service is up")
	listDevices := flag.Bool("list-devices", false, "List audio input devices and exit")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if *listDevices {
		devices, err := portaudio.ListInputDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list devices: %v\n", err)
			os.Exit(1)
		}
		for _, d := range devices {
			marker := " "
			if d.Default {
				marker = "*"
			}
			fmt.Printf("%s %2d  %-40s  channels=%d  rate=%.0f\n", marker, d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
		}
		return
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	runErr := application.Run(ctx, *autostart)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown incomplete")
	}
	if runErr != nil {
		log.Fatal().Err(runErr).Msg("Service stopped with error")
	}
}
