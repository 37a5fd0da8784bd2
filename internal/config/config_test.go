package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key := strings.SplitN(kv, "=", 2)[0]
		for _, prefix := range []string{"SERVICE_", "HTTP_", "STT_", "CREDENTIAL_", "AUDIO_", "SPEAKER_", "KAFKA_", "NATS_", "LOG_", "METRICS_", "OTEL_", "TRACE_"} {
			if strings.HasPrefix(key, prefix) {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	// Service defaults
	if cfg.Service.Name != "dialogue-transcriber" {
		t.Errorf("expected default name 'dialogue-transcriber', got %s", cfg.Service.Name)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default port '8080', got %s", cfg.Service.HTTPPort)
	}

	// STT defaults
	if cfg.STT.Provider != "deepgram" {
		t.Errorf("expected default STT provider 'deepgram', got %s", cfg.STT.Provider)
	}
	if cfg.STT.Model != "nova-3" || cfg.STT.Language != "ja" {
		t.Errorf("unexpected model/language %s/%s", cfg.STT.Model, cfg.STT.Language)
	}
	if cfg.STT.EndpointingMs != 300 || cfg.STT.UtteranceEndMs != 1000 {
		t.Errorf("unexpected endpointing %d/%d", cfg.STT.EndpointingMs, cfg.STT.UtteranceEndMs)
	}
	if cfg.STT.SampleRateHz != 16000 || cfg.STT.Channels != 1 || cfg.STT.Encoding != "linear16" {
		t.Errorf("unexpected audio format %d/%d/%s", cfg.STT.SampleRateHz, cfg.STT.Channels, cfg.STT.Encoding)
	}
	if cfg.STT.KeepAliveInterval != 8*time.Second {
		t.Errorf("expected keepalive 8s, got %v", cfg.STT.KeepAliveInterval)
	}
	if cfg.STT.ReconnectDelay != 1500*time.Millisecond {
		t.Errorf("expected reconnect delay 1.5s, got %v", cfg.STT.ReconnectDelay)
	}
	if cfg.STT.MaxReconnectAttempts != 3 {
		t.Errorf("expected 3 reconnect attempts, got %d", cfg.STT.MaxReconnectAttempts)
	}
	if cfg.STT.DedupeOverlap {
		t.Error("expected dedupe off by default")
	}

	// Audio defaults
	if cfg.Audio.DeviceIndex != -1 || cfg.Audio.FramesPerBuffer != 2048 {
		t.Errorf("unexpected audio defaults %+v", cfg.Audio)
	}
	if !cfg.Audio.EchoCancellation || !cfg.Audio.NoiseSuppression || !cfg.Audio.AutoGainControl {
		t.Error("expected input processing requested by default")
	}

	// Events defaults
	if cfg.Kafka.Enabled || cfg.NATS.Enabled {
		t.Error("expected event backends disabled by default")
	}
	if cfg.Kafka.TopicUtterances != "conversation.transcript.utterances" {
		t.Errorf("unexpected utterance topic %s", cfg.Kafka.TopicUtterances)
	}

	// Observability defaults
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
	if cfg.Observability.MetricsAddr != ":9090" {
		t.Errorf("expected default metrics addr ':9090', got %s", cfg.Observability.MetricsAddr)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STT_PROVIDER", "mock")
	t.Setenv("STT_LANGUAGE", "en")
	t.Setenv("STT_SAMPLE_RATE_HZ", "8000")
	t.Setenv("STT_KEEPALIVE_INTERVAL", "5s")
	t.Setenv("STT_MAX_RECONNECT_ATTEMPTS", "5")
	t.Setenv("STT_DEDUPE_OVERLAP", "true")
	t.Setenv("STT_WORD_SEPARATOR", " ")
	t.Setenv("AUDIO_DEVICE_INDEX", "2")
	t.Setenv("SPEAKER_0_NAME", "Interviewer")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("NATS_ENABLED", "1")

	cfg := Load()

	if cfg.Service.HTTPPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.HTTPPort)
	}
	if cfg.STT.Provider != "mock" || cfg.STT.Language != "en" {
		t.Errorf("unexpected STT %s/%s", cfg.STT.Provider, cfg.STT.Language)
	}
	if cfg.STT.SampleRateHz != 8000 {
		t.Errorf("expected sample rate 8000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.KeepAliveInterval != 5*time.Second {
		t.Errorf("expected keepalive 5s, got %v", cfg.STT.KeepAliveInterval)
	}
	if cfg.STT.MaxReconnectAttempts != 5 || !cfg.STT.DedupeOverlap || cfg.STT.WordSeparator != " " {
		t.Errorf("unexpected STT overrides %+v", cfg.STT)
	}
	if cfg.Audio.DeviceIndex != 2 {
		t.Errorf("expected device 2, got %d", cfg.Audio.DeviceIndex)
	}
	if cfg.Speakers.Speaker0 != "Interviewer" || cfg.Speakers.Speaker1 != "Speaker B" {
		t.Errorf("unexpected speakers %+v", cfg.Speakers)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if !cfg.NATS.Enabled {
		t.Error("expected NATS enabled")
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("STT_DEDUPE_OVERLAP", "invalid")
	t.Setenv("STT_RECONNECT_DELAY", "soon")
	t.Setenv("KAFKA_BROKERS", " , ")

	cfg := Load()

	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.DedupeOverlap {
		t.Error("expected default dedupe on invalid input")
	}
	if cfg.STT.ReconnectDelay != 1500*time.Millisecond {
		t.Errorf("expected default reconnect delay on invalid input, got %v", cfg.STT.ReconnectDelay)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("expected default brokers on empty list, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "my-service")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}

	t.Setenv("KAFKA_PRINCIPAL", "kafka-writer")
	if cfg := Load(); cfg.Kafka.Principal != "kafka-writer" {
		t.Errorf("expected explicit Kafka principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
stt:
  provider: mock
  reconnect_delay: 2s
  word_separator: " "
speakers:
  speaker_0: Host
kafka:
  enabled: true
  brokers: [broker:9092]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SPEAKER_1_NAME", "Guest")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.STT.Provider != "mock" || cfg.STT.ReconnectDelay != 2*time.Second || cfg.STT.WordSeparator != " " {
		t.Errorf("unexpected STT from file %+v", cfg.STT)
	}
	if cfg.STT.Model != "nova-3" {
		t.Errorf("defaults should survive a partial file, got model %q", cfg.STT.Model)
	}
	if cfg.Speakers.Speaker0 != "Host" || cfg.Speakers.Speaker1 != "Guest" {
		t.Errorf("expected file then env layering, got %+v", cfg.Speakers)
	}
	if !cfg.Kafka.Enabled || cfg.Kafka.Brokers[0] != "broker:9092" {
		t.Errorf("unexpected kafka %+v", cfg.Kafka)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("stt: [unclosed"), 0o600)
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected parse error")
	}

	// Deepgram without any credential source fails validation.
	if _, err := LoadFile(""); err == nil {
		t.Error("expected validation error without credentials")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"mock ok", func(c *Config) { c.STT.Provider = "mock" }, false},
		{"deepgram with key", func(c *Config) { c.Credential.APIKey = "k" }, false},
		{"deepgram with url", func(c *Config) { c.Credential.URL = "http://localhost/token" }, false},
		{"deepgram no creds", func(c *Config) {}, true},
		{"unknown provider", func(c *Config) { c.STT.Provider = "google" }, true},
		{"http endpoint", func(c *Config) { c.Credential.APIKey = "k"; c.STT.Endpoint = "https://x" }, true},
		{"stereo", func(c *Config) { c.STT.Provider = "mock"; c.STT.Channels = 2 }, true},
		{"zero keepalive", func(c *Config) { c.STT.Provider = "mock"; c.STT.KeepAliveInterval = 0 }, true},
		{"negative attempts", func(c *Config) { c.STT.Provider = "mock"; c.STT.MaxReconnectAttempts = -1 }, true},
		{"bad port", func(c *Config) { c.STT.Provider = "mock"; c.Service.HTTPPort = "http" }, true},
		{"kafka no brokers", func(c *Config) { c.STT.Provider = "mock"; c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, true},
		{"nats no prefix", func(c *Config) { c.STT.Provider = "mock"; c.NATS.Enabled = true; c.NATS.SubjectPrefix = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL_VAR", tt.envValue)

			got := envOrDefaultBool("TEST_BOOL_VAR", tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
