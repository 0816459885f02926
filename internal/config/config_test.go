package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "METRICS_PORT", "API_KEY", "DATABASE_URL", "KAFKA_BROKERS", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"ERA_SENDER_ID", "ERA_RECEIVER_ID", "ERA_OUTPUT_DIR", "WORKERS", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg := LoadFromEnv()
	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, "9464", cfg.Server.MetricsPort)
	assert.Equal(t, DefaultDatabaseURL, cfg.Database.URL)
	assert.Equal(t, []string{DefaultBroker}, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Worker.Workers)
	assert.Equal(t, "txt", cfg.Encoder.Extension)
	assert.Contains(t, cfg.Server.APIKeys, "demo-api-key-12345")
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092,")
	t.Setenv("API_KEY", "secret")
	t.Setenv("WORKERS", "-3")
	t.Setenv("ERA_SENDER_ID", "60054")

	cfg := LoadFromEnv()
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "env-client", cfg.Server.APIKeys["secret"])
	assert.Equal(t, 10, cfg.Worker.Workers)
	assert.Equal(t, "60054", cfg.Encoder.SenderID)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("ERA_RECEIVER_ID", "17131")
	t.Setenv("OUT_ROOT", "/var/era")

	path := filepath.Join(t.TempDir(), "era835.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
encoder:
  sender_id: "60054"
  receiver_id: "99999"
  output_dir: ${OUT_ROOT}/outgoing
  extension: edi
worker:
  workers: 4
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "60054", cfg.Encoder.SenderID)
	// environment wins over the file
	assert.Equal(t, "17131", cfg.Encoder.ReceiverID)
	assert.Equal(t, "/var/era/outgoing", cfg.Encoder.OutputDir)
	assert.Equal(t, "edi", cfg.Encoder.Extension)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, "8081", cfg.Server.Port)
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker: [1, 2"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	cfg.LogLevel = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}

func TestEncoderInterchange(t *testing.T) {
	e := EncoderConfig{SenderID: "60054", ReceiverID: "17131"}
	assert.Equal(t, "60054", e.Interchange().SenderID)
	assert.Equal(t, "17131", e.Interchange().ReceiverID)
}
