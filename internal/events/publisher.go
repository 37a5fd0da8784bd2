// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"dialogue-transcriber/internal/models"
	"dialogue-transcriber/internal/observability/metrics"
)

// Sink receives transcript events. Publisher, NATSPublisher and Fanout implement it.
type Sink interface {
	PublishPreview(ctx context.Context, key string, ev models.TranscriptPreview) error
	PublishUtterances(ctx context.Context, key string, ev models.UtteranceBatch) error
	Close() error
}

// Publisher publishes transcript events to separate Kafka topics.
type Publisher struct {
	writerPreview    *kafka.Writer
	writerUtterances *kafka.Writer
	principal        string
	topicPreview     string
	topicUtterances  string
	enabled          bool
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicPreview    string
	TopicUtterances string
	Principal       string
	Enabled         bool
}

// New creates a Kafka event publisher with separate topics for preview and utterance events.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicPreview:    cfg.TopicPreview,
			topicUtterances: cfg.TopicUtterances,
			enabled:         false,
			metrics:         m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPreview", cfg.TopicPreview).
		Str("topicUtterances", cfg.TopicUtterances).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		// Keyed by session ID so a session's events stay ordered on one partition.
		writerPreview:    newWriter(cfg.TopicPreview),
		writerUtterances: newWriter(cfg.TopicUtterances),
		principal:        cfg.Principal,
		topicPreview:     cfg.TopicPreview,
		topicUtterances:  cfg.TopicUtterances,
		enabled:          true,
		metrics:          m,
	}
}

// PublishPreview publishes an interim preview event to the preview topic.
func (p *Publisher) PublishPreview(ctx context.Context, key string, ev models.TranscriptPreview) error {
	return p.publish(ctx, p.writerPreview, p.topicPreview, ev.EventType, key, ev)
}

// PublishUtterances publishes an utterance batch to the utterances topic.
func (p *Publisher) PublishUtterances(ctx context.Context, key string, ev models.UtteranceBatch) error {
	return p.publish(ctx, p.writerUtterances, p.topicUtterances, ev.EventType, key, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordPublish("log", topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordPublish("kafka", topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordPublish("kafka", topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var errs []error
	if p.writerPreview != nil {
		if err := p.writerPreview.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing preview writer")
			errs = append(errs, err)
		}
	}
	if p.writerUtterances != nil {
		if err := p.writerUtterances.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing utterances writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fanout publishes every event to each of its sinks. All sinks are attempted;
// failures are joined.
type Fanout []Sink

// PublishPreview implements Sink.
func (f Fanout) PublishPreview(ctx context.Context, key string, ev models.TranscriptPreview) error {
	var errs []error
	for _, s := range f {
		if err := s.PublishPreview(ctx, key, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishUtterances implements Sink.
func (f Fanout) PublishUtterances(ctx context.Context, key string, ev models.UtteranceBatch) error {
	var errs []error
	for _, s := range f {
		if err := s.PublishUtterances(ctx, key, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
