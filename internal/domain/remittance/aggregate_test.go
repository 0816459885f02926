package remittance

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-era/internal/infrastructure/redpanda"
)

func generatedData() *RemittanceGeneratedData {
	return &RemittanceGeneratedData{
		PayerID:                  "1066033492",
		PayerName:                "Aetna",
		PayeeNPI:                 "1952479487",
		CheckNumber:              "882407301078256",
		PaymentDate:              "20240319",
		PaymentAmount:            "99.11",
		InterchangeControlNumber: "123456789",
		ClaimCount:               1,
		ServiceLineCount:         2,
		SegmentCount:             45,
		Filename:                 "ERA835_20240319_882407301078256.txt",
		IdempotencyKey:           "key-1",
	}
}

func TestAggregateLifecycle(t *testing.T) {
	agg := NewAggregate("r-1")
	assert.Equal(t, StatusDraft, agg.Status())

	require.ErrorIs(t, agg.Generate(generatedData(), ""), ErrMissingDocument)
	require.NoError(t, agg.Generate(generatedData(), "ISA*00~"))
	assert.Equal(t, StatusGenerated, agg.Status())
	assert.Equal(t, "123456789", agg.InterchangeControlNumber())
	assert.Equal(t, "ISA*00~", agg.PendingDocument())
	assert.ErrorIs(t, agg.Generate(generatedData(), "ISA*00~"), ErrAlreadyGenerated)

	assert.ErrorIs(t, agg.Acknowledge("A"), ErrInvalidStatus)

	require.NoError(t, agg.MarkPublished(redpanda.TopicGenerated, 2, 41))
	assert.Equal(t, StatusPublished, agg.Status())
	assert.ErrorIs(t, agg.MarkPublished(redpanda.TopicGenerated, 2, 42), ErrInvalidStatus)

	require.NoError(t, agg.Acknowledge("A"))
	assert.Equal(t, StatusAcknowledged, agg.Status())
	assert.ErrorIs(t, agg.Fail("late"), ErrInvalidStatus)

	assert.Equal(t, 3, agg.Version())
	assert.Len(t, agg.Changes(), 3)

	agg.ClearChanges()
	assert.Empty(t, agg.Changes())
	assert.Empty(t, agg.PendingDocument())
}

func TestAggregateFail(t *testing.T) {
	agg := NewAggregate("r-1")
	require.NoError(t, agg.Fail("encoder unavailable"))
	assert.Equal(t, StatusFailed, agg.Status())
	assert.ErrorIs(t, agg.Fail("again"), ErrInvalidStatus)
	assert.Equal(t, "encoder unavailable", agg.Summary().FailureReason)
}

func TestLoadFromHistory(t *testing.T) {
	src := NewAggregate("r-1")
	require.NoError(t, src.Generate(generatedData(), "ISA*00~"))
	require.NoError(t, src.MarkPublished(redpanda.TopicGenerated, 0, 7))

	// events survive a JSON round trip through the event store
	raw, err := json.Marshal(src.Changes())
	require.NoError(t, err)
	var events []*Event
	require.NoError(t, json.Unmarshal(raw, &events))

	agg := NewAggregate("r-1")
	agg.LoadFromHistory(events)

	s := agg.Summary()
	assert.Equal(t, StatusPublished, s.Status)
	assert.Equal(t, 2, s.Version)
	assert.Equal(t, "1066033492", s.PayerID)
	assert.Equal(t, "882407301078256", s.CheckNumber)
	assert.Equal(t, 45, s.SegmentCount)
	assert.Equal(t, redpanda.TopicGenerated, s.Topic)
	assert.Equal(t, "key-1", agg.IdempotencyKey())
	assert.Equal(t, "ERA835_20240319_882407301078256.txt", agg.Filename())
	assert.Empty(t, agg.Changes())
}

func TestGenerateSetsAuditInfo(t *testing.T) {
	agg := NewAggregate("r-1")
	require.NoError(t, agg.Generate(generatedData(), "ISA*00~"))

	event := agg.Changes()[0]
	assert.Equal(t, EventRemittanceGenerated, event.EventType)
	assert.Equal(t, AggregateType, event.AggregateType)
	assert.Equal(t, "1066033492", event.PayerID)
	assert.Equal(t, "882407301078256", event.CheckNumber)

	var data RemittanceGeneratedData
	require.NoError(t, json.Unmarshal(event.EventData, &data))
	assert.Equal(t, "r-1", data.RemittanceID)
	assert.False(t, data.GeneratedAt.IsZero())
}

func TestOutboxEntries(t *testing.T) {
	agg := NewAggregate("r-1")
	require.NoError(t, agg.Generate(generatedData(), "ISA*00~"))

	entries, err := OutboxEntries(agg)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, redpanda.TopicEvents, entries[0].KafkaTopic)
	assert.Equal(t, redpanda.TopicGenerated, entries[1].KafkaTopic)
	for _, e := range entries {
		assert.Equal(t, "r-1", e.KafkaKey)
		assert.Equal(t, AggregateType, e.AggregateType)
	}

	var msg GeneratedMessage
	require.NoError(t, json.Unmarshal(entries[1].Payload, &msg))
	assert.Equal(t, "ISA*00~", msg.Content)
	assert.Equal(t, "123456789", msg.InterchangeControlNumber)

	agg.ClearChanges()
	require.NoError(t, agg.Fail("rejected by clearinghouse"))
	entries, err = OutboxEntries(agg)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, redpanda.TopicEvents, entries[0].KafkaTopic)
	assert.Equal(t, redpanda.TopicAuditTrail, entries[1].KafkaTopic)
}

func TestOutboxEntriesRejectsMalformedEvent(t *testing.T) {
	agg := NewAggregate("r-1")
	require.NoError(t, agg.Generate(generatedData(), "ISA*00~"))
	agg.changes[0].EventData = json.RawMessage(`{"remittance_id":`)

	entries, err := OutboxEntries(agg)
	assert.Error(t, err)
	assert.Nil(t, entries)
}
