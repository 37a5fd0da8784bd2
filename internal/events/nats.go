package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"dialogue-transcriber/internal/models"
	"dialogue-transcriber/internal/observability/metrics"
)

// NATSConfig holds NATS publisher configuration.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	Name           string
	ConnectTimeout time.Duration
}

// NATSPublisher publishes transcript events on <prefix>.preview and <prefix>.utterances.
type NATSPublisher struct {
	conn              *nats.Conn
	subjectPreview    string
	subjectUtterances string
	metrics           *metrics.Metrics
}

// NewNATSPublisher connects to the configured servers.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("no NATS servers configured")
	}
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		return nil, errors.New("NATS subject prefix is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "dialogue-transcriber"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info().
		Str("servers", cfg.URL).
		Str("subjectPrefix", prefix).
		Msg("NATS publisher initialized")

	return &NATSPublisher{
		conn:              conn,
		subjectPreview:    prefix + ".preview",
		subjectUtterances: prefix + ".utterances",
		metrics:           metrics.DefaultMetrics,
	}, nil
}

// PublishPreview implements Sink.
func (p *NATSPublisher) PublishPreview(ctx context.Context, key string, ev models.TranscriptPreview) error {
	return p.publish(p.subjectPreview, ev.EventType, key, ev)
}

// PublishUtterances implements Sink.
func (p *NATSPublisher) PublishUtterances(ctx context.Context, key string, ev models.UtteranceBatch) error {
	return p.publish(p.subjectUtterances, ev.EventType, key, ev)
}

func (p *NATSPublisher) publish(subject, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set("eventType", eventType)
	msg.Header.Set("sessionId", key)

	err = p.conn.PublishMsg(msg)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Str("key", key).Msg("Failed to publish to NATS")
	}
	p.metrics.RecordPublish("nats", subject, eventType, err, time.Since(start).Seconds())
	return err
}

// Healthy reports whether the connection is up.
func (p *NATSPublisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	log.Info().Msg("Closing NATS connection")
	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()
	}
	return err
}
