package remittance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-era/internal/infrastructure/postgres"
	"github.com/drfirst/go-era/internal/infrastructure/redpanda"
)

// Document is an archived 835 interchange
type Document struct {
	RemittanceID             string    `json:"remittance_id"`
	Filename                 string    `json:"filename"`
	InterchangeControlNumber string    `json:"interchange_control_number"`
	IdempotencyKey           string    `json:"idempotency_key"`
	Content                  string    `json:"content"`
	CreatedAt                time.Time `json:"created_at"`
}

// GeneratedMessage is the record published to the generated-documents topic
type GeneratedMessage struct {
	RemittanceID             string `json:"remittance_id"`
	Filename                 string `json:"filename"`
	InterchangeControlNumber string `json:"interchange_control_number"`
	Content                  string `json:"content"`
}

// Store persists remittance aggregates and their archived documents
type Store interface {
	Save(ctx context.Context, agg *Aggregate) error
	Load(ctx context.Context, id string) (*Aggregate, error)
	GetEvents(ctx context.Context, id string) ([]*Event, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	FindByIdempotencyKey(ctx context.Context, key string) (string, error)
	GetEventsByType(ctx context.Context, eventType EventType, limit int) ([]*Event, error)
}

// SQLSTATE unique_violation
const uniqueViolation = "23505"

// Repository provides event sourcing persistence on PostgreSQL
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Save persists new events, the pending document and their outbox entries in one transaction
func (r *Repository) Save(ctx context.Context, agg *Aggregate) error {
	changes := agg.Changes()
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, event := range changes {
		event.Version = agg.Version() - len(changes) + i + 1
		if err := r.insertEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("insert event %s: %w", event.EventType, err)
		}
	}

	if edi := agg.PendingDocument(); edi != "" {
		doc := &Document{
			RemittanceID:             agg.ID(),
			Filename:                 agg.Filename(),
			InterchangeControlNumber: agg.InterchangeControlNumber(),
			IdempotencyKey:           agg.IdempotencyKey(),
			Content:                  edi,
		}
		if err := r.insertDocument(ctx, tx, doc); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateKey, doc.IdempotencyKey)
			}
			return fmt.Errorf("insert document: %w", err)
		}
	}

	entries, err := OutboxEntries(agg)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Debug("remittance saved",
		zap.String("remittance_id", agg.ID()),
		zap.Int("version", agg.Version()),
		zap.Int("events", len(changes)))

	agg.ClearChanges()
	return nil
}

// OutboxEntries returns the outbox entries for the aggregate's uncommitted changes:
// every event goes to the events topic, a generated document also goes to the generated
// topic and failures are copied to the audit trail
func OutboxEntries(agg *Aggregate) ([]*postgres.OutboxEntry, error) {
	var entries []*postgres.OutboxEntry
	add := func(event *Event, topic string, payload []byte) {
		entries = append(entries, &postgres.OutboxEntry{
			AggregateID:   agg.ID(),
			AggregateType: AggregateType,
			EventType:     string(event.EventType),
			Payload:       payload,
			KafkaTopic:    topic,
			KafkaKey:      agg.ID(),
		})
	}

	for _, event := range agg.Changes() {
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("marshal event %s: %w", event.EventType, err)
		}
		add(event, redpanda.TopicEvents, payload)

		switch event.EventType {
		case EventRemittanceGenerated:
			msg, err := json.Marshal(&GeneratedMessage{
				RemittanceID:             agg.ID(),
				Filename:                 agg.Filename(),
				InterchangeControlNumber: agg.InterchangeControlNumber(),
				Content:                  agg.PendingDocument(),
			})
			if err != nil {
				return nil, fmt.Errorf("marshal generated message: %w", err)
			}
			add(event, redpanda.TopicGenerated, msg)
		case EventRemittanceFailed:
			add(event, redpanda.TopicAuditTrail, payload)
		}
	}
	return entries, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO remittance_events
		(id, aggregate_id, event_type, event_data, version, timestamp, payer_id, check_number, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.AggregateID,
		event.EventType,
		event.EventData,
		event.Version,
		event.Timestamp,
		event.PayerID,
		event.CheckNumber,
		event.CorrelationID,
	)
	return err
}

func (r *Repository) insertDocument(ctx context.Context, tx pgx.Tx, doc *Document) error {
	query := `
		INSERT INTO remittance_documents
		(remittance_id, filename, interchange_control_number, idempotency_key, content)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`
	_, err := tx.Exec(ctx, query,
		doc.RemittanceID,
		doc.Filename,
		doc.InterchangeControlNumber,
		doc.IdempotencyKey,
		doc.Content,
	)
	return err
}

// Load retrieves an aggregate by ID
func (r *Repository) Load(ctx context.Context, id string) (*Aggregate, error) {
	events, err := r.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	agg := NewAggregate(id)
	agg.LoadFromHistory(events)
	return agg, nil
}

// GetEvents retrieves all events for an aggregate
func (r *Repository) GetEvents(ctx context.Context, aggregateID string) ([]*Event, error) {
	query := `
		SELECT id, aggregate_id, event_type, event_data, version, timestamp,
		       payer_id, check_number, correlation_id
		FROM remittance_events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`

	rows, err := r.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{AggregateType: AggregateType}
		err := rows.Scan(
			&e.ID, &e.AggregateID, &e.EventType, &e.EventData, &e.Version,
			&e.Timestamp, &e.PayerID, &e.CheckNumber, &e.CorrelationID,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetEventsByType retrieves the most recent events of a type
func (r *Repository) GetEventsByType(ctx context.Context, eventType EventType, limit int) ([]*Event, error) {
	query := `
		SELECT id, aggregate_id, event_type, event_data, version, timestamp,
		       payer_id, check_number, correlation_id
		FROM remittance_events
		WHERE event_type = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{AggregateType: AggregateType}
		err := rows.Scan(
			&e.ID, &e.AggregateID, &e.EventType, &e.EventData, &e.Version,
			&e.Timestamp, &e.PayerID, &e.CheckNumber, &e.CorrelationID,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetDocument retrieves the archived 835 for a remittance
func (r *Repository) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT remittance_id, filename, interchange_control_number, COALESCE(idempotency_key, ''), content, created_at
		FROM remittance_documents
		WHERE remittance_id = $1
	`

	doc := &Document{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&doc.RemittanceID, &doc.Filename, &doc.InterchangeControlNumber,
		&doc.IdempotencyKey, &doc.Content, &doc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FindByIdempotencyKey returns the remittance ID already generated for a payment
func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		"SELECT remittance_id FROM remittance_documents WHERE idempotency_key = $1", key,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}
