package redpanda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := toKgoRecord(ctx, &Record{
		Topic:   TopicGenerated,
		Key:     "remittance-1",
		Value:   []byte("ISA*00~"),
		Headers: map[string]string{"filename": "ERA835_20240319_1.txt"},
	})

	headers := headerMap(record)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", headers["traceparent"])
	assert.Equal(t, "ERA835_20240319_1.txt", headers["filename"])

	extracted := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
	assert.True(t, extracted.IsRemote())
}

func TestTraceHeadersWithoutSpan(t *testing.T) {
	record := &kgo.Record{Topic: TopicEvents}
	injectTraceHeaders(context.Background(), record)
	assert.Empty(t, record.Headers)

	ctx := extractTraceContext(context.Background(), record)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}

func TestHeaderCarrierSetReplaces(t *testing.T) {
	record := &kgo.Record{}
	c := headerCarrier{record: record}
	c.Set("a", "1")
	c.Set("a", "2")
	c.Set("b", "3")

	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	assert.Equal(t, "", c.Get("missing"))
}

func TestDefaultTopicConfigs(t *testing.T) {
	names := map[string]bool{}
	for _, cfg := range DefaultTopicConfigs() {
		names[cfg.Name] = true
		assert.Positive(t, cfg.Partitions, cfg.Name)
	}
	for _, topic := range []string{TopicRequests, TopicGenerated, TopicEvents, TopicAuditTrail, TopicDeadLetter} {
		assert.True(t, names[topic], topic)
	}
}
