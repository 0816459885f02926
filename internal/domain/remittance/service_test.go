package remittance

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-era/internal/era"
	"github.com/drfirst/go-era/internal/infrastructure/postgres"
	"github.com/drfirst/go-era/internal/infrastructure/redpanda"
	"github.com/drfirst/go-era/internal/x12/era835"
)

func loadSample(t *testing.T) *era.Document {
	t.Helper()
	f, err := os.Open("../../../test/fixtures/era_sample.json")
	require.NoError(t, err)
	defer f.Close()

	doc, err := era.Decode(f, "era_sample.json")
	require.NoError(t, err)
	return doc
}

func newTestService(store Store) *Service {
	enc := era835.NewEncoder(
		era835.WithClock(func() time.Time { return time.Date(2024, 3, 20, 9, 5, 0, 0, time.UTC) }),
		era835.WithControlNumbers(era835.FixedControlNumber("123456789")),
	)
	svc := NewService(store, enc, nil)
	var n atomic.Int64
	svc.newID = func() string {
		return fmt.Sprintf("r-%d", n.Add(1))
	}
	return svc
}

func TestServiceGenerate(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()
	doc := loadSample(t)

	res, err := svc.Generate(ctx, doc, "req-1")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "r-1", res.Aggregate.ID())
	assert.Equal(t, StatusGenerated, res.Aggregate.Status())
	assert.Equal(t, "ERA835_20240319_882407301078256.txt", res.Document.Filename)
	assert.Equal(t, svc.encoder.Encode(doc), res.Document.Content)
	assert.Equal(t, IdempotencyKey(doc), res.Document.IdempotencyKey)

	stored, err := store.GetDocument(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, res.Document.Content, stored.Content)

	events, err := store.GetEvents(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].CorrelationID)
	assert.Equal(t, 1, events[0].Version)
}

func TestServiceGenerateDuplicate(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()
	doc := loadSample(t)

	first, err := svc.Generate(ctx, doc, "")
	require.NoError(t, err)

	second, err := svc.Generate(ctx, doc, "")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Encoding)
	assert.Equal(t, first.Aggregate.ID(), second.Aggregate.ID())
	assert.Equal(t, first.Document.Content, second.Document.Content)
}

func TestServiceGenerateWithoutCheckNumber(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()
	doc := loadSample(t)
	doc.Payment.CheckNumber = ""

	first, err := svc.Generate(ctx, doc, "")
	require.NoError(t, err)
	second, err := svc.Generate(ctx, doc, "")
	require.NoError(t, err)

	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.Aggregate.ID(), second.Aggregate.ID())
	assert.Empty(t, first.Document.IdempotencyKey)
}

func TestServiceTransitions(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()

	res, err := svc.Generate(ctx, loadSample(t), "")
	require.NoError(t, err)
	id := res.Aggregate.ID()

	_, err = svc.Acknowledge(ctx, id, "A", "")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	agg, err := svc.MarkPublished(ctx, id, "era.generated", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, agg.Status())

	agg, err = svc.Acknowledge(ctx, id, "A", "req-9")
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, agg.Status())

	events, err := svc.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventRemittanceAcknowledged, events[2].EventType)
	assert.Equal(t, "req-9", events[2].CorrelationID)
	assert.Equal(t, 3, events[2].Version)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Fail(ctx, "missing", "x", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRejectsReusedKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := NewAggregate("a")
	require.NoError(t, a.Generate(generatedData(), "ISA~"))
	require.NoError(t, store.Save(ctx, a))

	b := NewAggregate("b")
	require.NoError(t, b.Generate(generatedData(), "ISA~"))
	assert.ErrorIs(t, store.Save(ctx, b), ErrDuplicateKey)

	id, err := store.FindByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	_, err = store.FindByIdempotencyKey(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetDocument(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceEncodeAppliesInterchangeDefaults(t *testing.T) {
	enc := era835.NewEncoder(era835.WithControlNumbers(era835.FixedControlNumber("123456789")))
	svc := NewService(NewMemoryStore(), enc, nil,
		WithInterchangeDefaults(era.Interchange{SenderID: "60054", ReceiverID: "17131"}))

	doc := &era.Document{}
	res := svc.Encode(context.Background(), doc)
	assert.Contains(t, res.Text, "GS*HP*60054*17131*")
	assert.Empty(t, doc.Interchange.SenderID)

	res = svc.Encode(context.Background(), nil)
	assert.Contains(t, res.Text, "*ZZ*60054          *ZZ*17131          *")
}

func TestPublishHook(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	res, err := svc.Generate(ctx, loadSample(t), "")
	require.NoError(t, err)
	id := res.Aggregate.ID()

	hook := svc.PublishHook()
	receipt := postgres.Receipt{Partition: 4, Offset: 99}

	// event records do not change the status
	require.NoError(t, hook(ctx, &postgres.OutboxEntry{
		AggregateID: id, AggregateType: AggregateType, KafkaTopic: redpanda.TopicEvents,
	}, receipt))
	agg, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusGenerated, agg.Status())

	generated := &postgres.OutboxEntry{AggregateID: id, AggregateType: AggregateType, KafkaTopic: redpanda.TopicGenerated}
	require.NoError(t, hook(ctx, generated, receipt))
	agg, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, agg.Status())
	assert.Equal(t, redpanda.TopicGenerated, agg.Summary().Topic)

	// a second delivery of the same entry is tolerated
	require.NoError(t, hook(ctx, generated, receipt))

	err = hook(ctx, &postgres.OutboxEntry{AggregateID: "missing", AggregateType: AggregateType, KafkaTopic: redpanda.TopicGenerated}, receipt)
	assert.ErrorIs(t, err, ErrNotFound)
}

// racingStore holds the first lookups until all of them have missed
type racingStore struct {
	*MemoryStore
	lookups atomic.Int32
	barrier sync.WaitGroup
}

func (s *racingStore) FindByIdempotencyKey(ctx context.Context, key string) (string, error) {
	if s.lookups.Add(1) <= 2 {
		s.barrier.Done()
		s.barrier.Wait()
	}
	return s.MemoryStore.FindByIdempotencyKey(ctx, key)
}

func TestServiceGenerateConcurrentDuplicate(t *testing.T) {
	store := &racingStore{MemoryStore: NewMemoryStore()}
	store.barrier.Add(2)
	svc := newTestService(store)
	doc := loadSample(t)

	var wg sync.WaitGroup
	results := make([]*GenerateResult, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Generate(context.Background(), doc, "")
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].Aggregate.ID(), results[1].Aggregate.ID())
	assert.NotEqual(t, results[0].Duplicate, results[1].Duplicate)

	events, err := store.GetEvents(context.Background(), results[0].Aggregate.ID())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestServiceEventsByType(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()

	for _, check := range []string{"100", "200", "300"} {
		doc := loadSample(t)
		doc.Payment.CheckNumber = check
		_, err := svc.Generate(ctx, doc, "")
		require.NoError(t, err)
	}
	_, err := svc.MarkPublished(ctx, "r-2", "era.generated", 0, 4)
	require.NoError(t, err)

	generated, err := svc.EventsByType(ctx, EventRemittanceGenerated, 0)
	require.NoError(t, err)
	assert.Len(t, generated, 3)

	limited, err := svc.EventsByType(ctx, EventRemittanceGenerated, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	published, err := svc.EventsByType(ctx, EventRemittancePublished, 10)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "r-2", published[0].AggregateID)

	_, err = svc.EventsByType(ctx, EventType("RemittanceDeleted"), 10)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestMemoryStoreEventsByTypeNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	store.events["a"] = []*Event{
		{ID: "e1", AggregateID: "a", EventType: EventRemittanceGenerated, Timestamp: base},
		{ID: "e2", AggregateID: "a", EventType: EventRemittanceFailed, Timestamp: base.Add(time.Minute)},
	}
	store.events["b"] = []*Event{
		{ID: "e3", AggregateID: "b", EventType: EventRemittanceGenerated, Timestamp: base.Add(2 * time.Minute)},
	}

	events, err := store.GetEventsByType(context.Background(), EventRemittanceGenerated, 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e3", events[0].ID)
	assert.Equal(t, "e1", events[1].ID)
}
