package remittance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-era/internal/era"
	"github.com/drfirst/go-era/internal/infrastructure/postgres"
	"github.com/drfirst/go-era/internal/infrastructure/redpanda"
	"github.com/drfirst/go-era/internal/x12/era835"
	"github.com/drfirst/go-era/pkg/idempotency"
)

// MaxEventsPage caps EventsByType results
const MaxEventsPage = 100

// GenerateResult is returned by Service.Generate
type GenerateResult struct {
	Aggregate *Aggregate
	Document  *Document
	Encoding  *era835.Result // nil for duplicates
	Duplicate bool
}

// Service encodes remittance documents and records their lifecycle
type Service struct {
	store    Store
	encoder  *era835.Encoder
	defaults era.Interchange
	logger   *zap.Logger
	tracer   trace.Tracer
	newID    func() string
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithInterchangeDefaults fills in sender/receiver IDs missing from incoming documents
func WithInterchangeDefaults(def era.Interchange) ServiceOption {
	return func(s *Service) {
		s.defaults = def
	}
}

// NewService creates a remittance service
func NewService(store Store, encoder *era835.Encoder, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if encoder == nil {
		encoder = era835.NewEncoder()
	}
	s := &Service{
		store:   store,
		encoder: encoder,
		logger:  logger,
		tracer:  otel.Tracer("remittance-service"),
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Encode renders doc without storing it
func (s *Service) Encode(ctx context.Context, doc *era.Document) *era835.Result {
	if doc == nil {
		doc = &era.Document{}
	}
	_, span := s.tracer.Start(ctx, "encode_remittance")
	defer span.End()

	res := s.encoder.Build(doc.WithInterchangeDefaults(s.defaults))
	span.SetAttributes(
		attribute.String("icn", res.InterchangeControlNumber),
		attribute.Int("segments", res.SegmentCount),
	)
	return res
}

// IdempotencyKey returns the dedup key for doc, or "" when the payment has no check number
func IdempotencyKey(doc *era.Document) string {
	if doc.Payment.CheckNumber == "" {
		return ""
	}
	return idempotency.GenerateKey(doc.Payer.ID, doc.Payment.CheckNumber, doc.Payment.PaymentDate, doc.Payee.NPI)
}

// Generate encodes doc and stores the result. A payment already generated returns the
// stored remittance flagged as a duplicate instead of issuing a second interchange.
func (s *Service) Generate(ctx context.Context, doc *era.Document, correlationID string) (*GenerateResult, error) {
	if doc == nil {
		doc = &era.Document{}
	}

	ctx, span := s.tracer.Start(ctx, "generate_remittance",
		trace.WithAttributes(
			attribute.String("payer_id", doc.Payer.ID),
			attribute.String("check_number", doc.Payment.CheckNumber),
			attribute.Int("claims", len(doc.Claims)),
		))
	defer span.End()

	key := IdempotencyKey(doc)
	if key != "" {
		existing, err := s.findExisting(ctx, key)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if existing != nil {
			span.SetAttributes(attribute.Bool("duplicate", true))
			s.logger.Info("duplicate remittance",
				zap.String("remittance_id", existing.Aggregate.ID()),
				zap.String("check_number", doc.Payment.CheckNumber))
			return existing, nil
		}
	}

	res := s.encoder.Build(doc.WithInterchangeDefaults(s.defaults))

	agg := NewAggregate(s.newID())
	data := &RemittanceGeneratedData{
		PayerID:                  doc.Payer.ID,
		PayerName:                doc.Payer.Name,
		PayeeNPI:                 doc.Payee.NPI,
		CheckNumber:              doc.Payment.CheckNumber,
		PaymentDate:              doc.Payment.PaymentDate,
		PaymentAmount:            doc.Payment.Amount,
		InterchangeControlNumber: res.InterchangeControlNumber,
		ClaimCount:               res.ClaimCount,
		ServiceLineCount:         res.ServiceLineCount,
		SegmentCount:             res.SegmentCount,
		Filename:                 res.Filename,
		IdempotencyKey:           key,
		GeneratedAt:              res.GeneratedAt.UTC(),
	}
	if err := agg.Generate(data, res.Text); err != nil {
		return nil, fmt.Errorf("generate remittance: %w", err)
	}
	s.correlate(agg, correlationID)

	if err := s.store.Save(ctx, agg); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// a concurrent request for the same payment saved first
			existing, ferr := s.findExisting(ctx, key)
			if ferr == nil && existing != nil {
				span.SetAttributes(attribute.Bool("duplicate", true))
				return existing, nil
			}
		}
		span.RecordError(err)
		return nil, fmt.Errorf("save remittance: %w", err)
	}

	span.SetAttributes(
		attribute.String("remittance_id", agg.ID()),
		attribute.String("icn", res.InterchangeControlNumber),
	)
	s.logger.Info("remittance generated",
		zap.String("remittance_id", agg.ID()),
		zap.String("icn", res.InterchangeControlNumber),
		zap.String("filename", res.Filename),
		zap.Int("segments", res.SegmentCount),
		zap.String("correlation_id", correlationID))

	return &GenerateResult{
		Aggregate: agg,
		Document: &Document{
			RemittanceID:             agg.ID(),
			Filename:                 res.Filename,
			InterchangeControlNumber: res.InterchangeControlNumber,
			IdempotencyKey:           key,
			Content:                  res.Text,
			CreatedAt:                data.GeneratedAt,
		},
		Encoding: res,
	}, nil
}

func (s *Service) findExisting(ctx context.Context, key string) (*GenerateResult, error) {
	id, err := s.store.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	agg, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load remittance %s: %w", id, err)
	}
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return &GenerateResult{Aggregate: agg, Document: doc, Duplicate: true}, nil
}

// Get loads a remittance
func (s *Service) Get(ctx context.Context, id string) (*Aggregate, error) {
	return s.store.Load(ctx, id)
}

// Events returns the event history of a remittance
func (s *Service) Events(ctx context.Context, id string) ([]*Event, error) {
	return s.store.GetEvents(ctx, id)
}

// EventsByType returns the newest events of one type across remittances, capped at limit
func (s *Service) EventsByType(ctx context.Context, eventType EventType, limit int) ([]*Event, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if limit <= 0 || limit > MaxEventsPage {
		limit = MaxEventsPage
	}
	return s.store.GetEventsByType(ctx, eventType, limit)
}

// Document returns the archived 835 interchange of a remittance
func (s *Service) Document(ctx context.Context, id string) (*Document, error) {
	return s.store.GetDocument(ctx, id)
}

// MarkPublished records broker delivery of the generated document
func (s *Service) MarkPublished(ctx context.Context, id, topic string, partition int32, offset int64) (*Aggregate, error) {
	return s.transition(ctx, id, "", func(agg *Aggregate) error {
		return agg.MarkPublished(topic, partition, offset)
	})
}

// Acknowledge records the receiver's acknowledgment
func (s *Service) Acknowledge(ctx context.Context, id, ackCode, correlationID string) (*Aggregate, error) {
	return s.transition(ctx, id, correlationID, func(agg *Aggregate) error {
		return agg.Acknowledge(ackCode)
	})
}

// Fail marks a remittance as failed
func (s *Service) Fail(ctx context.Context, id, reason, correlationID string) (*Aggregate, error) {
	return s.transition(ctx, id, correlationID, func(agg *Aggregate) error {
		return agg.Fail(reason)
	})
}

func (s *Service) transition(ctx context.Context, id, correlationID string, fn func(*Aggregate) error) (*Aggregate, error) {
	agg, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(agg); err != nil {
		return nil, err
	}
	s.correlate(agg, correlationID)
	if err := s.store.Save(ctx, agg); err != nil {
		return nil, fmt.Errorf("save remittance: %w", err)
	}

	s.logger.Info("remittance status changed",
		zap.String("remittance_id", id),
		zap.String("status", string(agg.Status())))
	return agg, nil
}

func (s *Service) correlate(agg *Aggregate, correlationID string) {
	if correlationID == "" {
		return
	}
	for _, event := range agg.Changes() {
		event.WithCorrelation(correlationID)
	}
}

// PublishHook marks a remittance published once its generated document reached the broker.
// Other outbox entries pass through untouched.
func (s *Service) PublishHook() postgres.PublishHook {
	return func(ctx context.Context, entry *postgres.OutboxEntry, receipt postgres.Receipt) error {
		if entry.AggregateType != AggregateType || entry.KafkaTopic != redpanda.TopicGenerated {
			return nil
		}
		_, err := s.MarkPublished(ctx, entry.AggregateID, entry.KafkaTopic, receipt.Partition, receipt.Offset)
		if errors.Is(err, ErrInvalidStatus) {
			// republished after a relay restart
			return nil
		}
		return err
	}
}
