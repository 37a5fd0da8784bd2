// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Credential    CredentialConfig    `yaml:"credential"`
	Audio         AudioConfig         `yaml:"audio"`
	Speakers      SpeakersConfig      `yaml:"speakers"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	NATS          NATSConfig          `yaml:"nats"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Name      string `yaml:"name"`
	Principal string `yaml:"principal"`
	HTTPPort  string `yaml:"http_port"`
}

type STTConfig struct {
	Provider             string        `yaml:"provider"` // deepgram, mock
	Endpoint             string        `yaml:"endpoint"`
	Model                string        `yaml:"model"`
	Language             string        `yaml:"language"`
	EndpointingMs        int           `yaml:"endpointing_ms"`
	UtteranceEndMs       int           `yaml:"utterance_end_ms"`
	SampleRateHz         int           `yaml:"sample_rate_hz"`
	Channels             int           `yaml:"channels"`
	Encoding             string        `yaml:"encoding"`
	KeepAliveInterval    time.Duration `yaml:"keepalive_interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	DedupeOverlap        bool          `yaml:"dedupe_overlap"`
	WordSeparator        string        `yaml:"word_separator"`
}

// CredentialConfig selects how streaming tokens are obtained: from the
// authorization boundary at URL when set, otherwise the static APIKey.
type CredentialConfig struct {
	URL          string `yaml:"url"`
	SessionToken string `yaml:"session_token"`
	APIKey       string `yaml:"api_key"`
}

type AudioConfig struct {
	DeviceIndex      int    `yaml:"device_index"` // -1 selects the default input
	FramesPerBuffer  int    `yaml:"frames_per_buffer"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGainControl  bool   `yaml:"auto_gain_control"`
	WAVFile          string `yaml:"wav_file"` // replaces the microphone when set
}

type SpeakersConfig struct {
	Speaker0 string `yaml:"speaker_0"`
	Speaker1 string `yaml:"speaker_1"`
}

type KafkaConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	TopicPreview    string   `yaml:"topic_preview"`
	TopicUtterances string   `yaml:"topic_utterances"`
	Principal       string   `yaml:"principal"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type ObservabilityConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	MetricsAddr  string `yaml:"metrics_addr"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "dialogue-transcriber",
			Principal: "svc-dialogue-transcriber",
			HTTPPort:  "8080",
		},
		STT: STTConfig{
			Provider:             "deepgram",
			Endpoint:             "wss://api.deepgram.com/v1/listen",
			Model:                "nova-3",
			Language:             "ja",
			EndpointingMs:        300,
			UtteranceEndMs:       1000,
			SampleRateHz:         16000,
			Channels:             1,
			Encoding:             "linear16",
			KeepAliveInterval:    8 * time.Second,
			ReconnectDelay:       1500 * time.Millisecond,
			MaxReconnectAttempts: 3,
		},
		Audio: AudioConfig{
			DeviceIndex:      -1,
			FramesPerBuffer:  2048,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Speakers: SpeakersConfig{
			Speaker0: "Speaker A",
			Speaker1: "Speaker B",
		},
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			TopicPreview:    "conversation.transcript.preview",
			TopicUtterances: "conversation.transcript.utterances",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "conversation.transcript",
		},
		Observability: ObservabilityConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			MetricsAddr:  ":9090",
			OTLPInsecure: true,
		},
	}
}

// Load returns defaults overridden by environment variables.
func Load() *Config {
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

// LoadFile layers a YAML file between defaults and environment variables and
// validates the result. An empty path behaves like Load followed by Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.Name = envOrDefault("SERVICE_NAME", cfg.Service.Name)
	cfg.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", cfg.Service.Principal)
	cfg.Service.HTTPPort = envOrDefault("HTTP_PORT", cfg.Service.HTTPPort)

	cfg.STT.Provider = envOrDefault("STT_PROVIDER", cfg.STT.Provider)
	cfg.STT.Endpoint = envOrDefault("STT_ENDPOINT", cfg.STT.Endpoint)
	cfg.STT.Model = envOrDefault("STT_MODEL", cfg.STT.Model)
	cfg.STT.Language = envOrDefault("STT_LANGUAGE", cfg.STT.Language)
	cfg.STT.EndpointingMs = envOrDefaultInt("STT_ENDPOINTING_MS", cfg.STT.EndpointingMs)
	cfg.STT.UtteranceEndMs = envOrDefaultInt("STT_UTTERANCE_END_MS", cfg.STT.UtteranceEndMs)
	cfg.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", cfg.STT.SampleRateHz)
	cfg.STT.Channels = envOrDefaultInt("STT_CHANNELS", cfg.STT.Channels)
	cfg.STT.Encoding = envOrDefault("STT_ENCODING", cfg.STT.Encoding)
	cfg.STT.KeepAliveInterval = envOrDefaultDuration("STT_KEEPALIVE_INTERVAL", cfg.STT.KeepAliveInterval)
	cfg.STT.ReconnectDelay = envOrDefaultDuration("STT_RECONNECT_DELAY", cfg.STT.ReconnectDelay)
	cfg.STT.MaxReconnectAttempts = envOrDefaultInt("STT_MAX_RECONNECT_ATTEMPTS", cfg.STT.MaxReconnectAttempts)
	cfg.STT.DedupeOverlap = envOrDefaultBool("STT_DEDUPE_OVERLAP", cfg.STT.DedupeOverlap)
	// An empty separator is meaningful, so presence alone overrides.
	if v, ok := os.LookupEnv("STT_WORD_SEPARATOR"); ok {
		cfg.STT.WordSeparator = v
	}

	cfg.Credential.URL = envOrDefault("CREDENTIAL_URL", cfg.Credential.URL)
	cfg.Credential.SessionToken = envOrDefault("CREDENTIAL_SESSION_TOKEN", cfg.Credential.SessionToken)
	cfg.Credential.APIKey = envOrDefault("STT_API_KEY", cfg.Credential.APIKey)

	cfg.Audio.DeviceIndex = envOrDefaultInt("AUDIO_DEVICE_INDEX", cfg.Audio.DeviceIndex)
	cfg.Audio.FramesPerBuffer = envOrDefaultInt("AUDIO_FRAMES_PER_BUFFER", cfg.Audio.FramesPerBuffer)
	cfg.Audio.EchoCancellation = envOrDefaultBool("AUDIO_ECHO_CANCELLATION", cfg.Audio.EchoCancellation)
	cfg.Audio.NoiseSuppression = envOrDefaultBool("AUDIO_NOISE_SUPPRESSION", cfg.Audio.NoiseSuppression)
	cfg.Audio.AutoGainControl = envOrDefaultBool("AUDIO_AUTO_GAIN_CONTROL", cfg.Audio.AutoGainControl)
	cfg.Audio.WAVFile = envOrDefault("AUDIO_WAV_FILE", cfg.Audio.WAVFile)

	cfg.Speakers.Speaker0 = envOrDefault("SPEAKER_0_NAME", cfg.Speakers.Speaker0)
	cfg.Speakers.Speaker1 = envOrDefault("SPEAKER_1_NAME", cfg.Speakers.Speaker1)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.TopicPreview = envOrDefault("KAFKA_TOPIC_PREVIEW", cfg.Kafka.TopicPreview)
	cfg.Kafka.TopicUtterances = envOrDefault("KAFKA_TOPIC_UTTERANCES", cfg.Kafka.TopicUtterances)
	// Kafka principal falls back to the service principal.
	principal := cfg.Kafka.Principal
	if principal == "" {
		principal = cfg.Service.Principal
	}
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", principal)

	cfg.NATS.Enabled = envOrDefaultBool("NATS_ENABLED", cfg.NATS.Enabled)
	cfg.NATS.URL = envOrDefault("NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = envOrDefault("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
	cfg.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", cfg.Observability.MetricsAddr)
	cfg.Observability.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observability.OTLPEndpoint)
	cfg.Observability.OTLPInsecure = envOrDefaultBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Observability.OTLPInsecure)
	cfg.Observability.TraceStdout = envOrDefaultBool("TRACE_STDOUT", cfg.Observability.TraceStdout)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.STT.Provider {
	case "deepgram":
		if c.Credential.URL == "" && c.Credential.APIKey == "" {
			return errors.New("credential.url or credential.api_key is required for the deepgram provider")
		}
		if !strings.HasPrefix(c.STT.Endpoint, "ws://") && !strings.HasPrefix(c.STT.Endpoint, "wss://") {
			return errors.New("stt.endpoint must be a ws:// or wss:// URL")
		}
	case "mock":
	default:
		return fmt.Errorf("stt.provider must be one of deepgram|mock, got %q", c.STT.Provider)
	}
	if c.STT.SampleRateHz <= 0 {
		return errors.New("stt.sample_rate_hz must be positive")
	}
	if c.STT.Channels != 1 {
		return errors.New("stt.channels must be 1")
	}
	if c.STT.KeepAliveInterval <= 0 {
		return errors.New("stt.keepalive_interval must be positive")
	}
	if c.STT.ReconnectDelay < 0 {
		return errors.New("stt.reconnect_delay must be >= 0")
	}
	if c.STT.MaxReconnectAttempts < 0 {
		return errors.New("stt.max_reconnect_attempts must be >= 0")
	}
	if c.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	if port, err := strconv.Atoi(c.Service.HTTPPort); err != nil || port <= 0 || port > 65535 {
		return errors.New("service.http_port must be between 1 and 65535")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers must not be empty when kafka is enabled")
	}
	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.SubjectPrefix == "") {
		return errors.New("nats.url and nats.subject_prefix are required when nats is enabled")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
