package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeadLetter(t *testing.T) {
	lastErr := "broker unavailable"
	created := time.Date(2024, 3, 19, 12, 0, 0, 0, time.UTC)
	entry := &OutboxEntry{
		ID:            7,
		AggregateID:   "rem-1",
		AggregateType: "Remittance",
		EventType:     "RemittanceGenerated",
		Payload:       json.RawMessage(`{"remittance_id":"rem-1"}`),
		KafkaTopic:    "era.generated",
		KafkaKey:      "rem-1",
		CreatedAt:     created,
		RetryCount:    5,
		LastError:     &lastErr,
	}

	data, err := json.Marshal(NewDeadLetter(entry))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "era.generated", decoded["original_topic"])
	assert.Equal(t, "RemittanceGenerated", decoded["event_type"])
	assert.Equal(t, "broker unavailable", decoded["last_error"])
	assert.Equal(t, float64(5), decoded["retry_count"])
	assert.Equal(t, map[string]any{"remittance_id": "rem-1"}, decoded["payload"])
}

func TestDefaultOutboxConfig(t *testing.T) {
	cfg := DefaultOutboxConfig()
	assert.Equal(t, "dead.letter", cfg.DeadLetterTopic)
	assert.Positive(t, cfg.MaxRetries)

	o := NewOutbox(nil, nil, OutboxConfig{BatchSize: 1}, nil)
	assert.Equal(t, "dead.letter", o.config.DeadLetterTopic)
}
