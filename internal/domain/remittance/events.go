package remittance

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AggregateType names the aggregate in the event store and outbox
const AggregateType = "Remittance"

// EventType represents the type of domain event
type EventType string

const (
	EventRemittanceGenerated    EventType = "RemittanceGenerated"
	EventRemittancePublished    EventType = "RemittancePublished"
	EventRemittanceAcknowledged EventType = "RemittanceAcknowledged"
	EventRemittanceFailed       EventType = "RemittanceFailed"
)

// Valid reports whether t is one of the recorded event types
func (t EventType) Valid() bool {
	switch t {
	case EventRemittanceGenerated, EventRemittancePublished, EventRemittanceAcknowledged, EventRemittanceFailed:
		return true
	}
	return false
}

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	PayerID       string          `json:"payer_id,omitempty"`
	CheckNumber   string          `json:"check_number,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithAuditInfo sets the payment identifiers used to search the event store
func (e *Event) WithAuditInfo(payerID, checkNumber string) *Event {
	e.PayerID = payerID
	e.CheckNumber = checkNumber
	return e
}

// WithCorrelation sets the correlation ID (HTTP request ID or Kafka record key)
func (e *Event) WithCorrelation(id string) *Event {
	e.CorrelationID = id
	return e
}

// RemittanceGeneratedData describes an encoded 835 transaction
type RemittanceGeneratedData struct {
	RemittanceID             string    `json:"remittance_id"`
	PayerID                  string    `json:"payer_id"`
	PayerName                string    `json:"payer_name"`
	PayeeNPI                 string    `json:"payee_npi"`
	CheckNumber              string    `json:"check_number"`
	PaymentDate              string    `json:"payment_date"`
	PaymentAmount            string    `json:"payment_amount"`
	InterchangeControlNumber string    `json:"interchange_control_number"`
	ClaimCount               int       `json:"claim_count"`
	ServiceLineCount         int       `json:"service_line_count"`
	SegmentCount             int       `json:"segment_count"`
	Filename                 string    `json:"filename"`
	IdempotencyKey           string    `json:"idempotency_key"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// RemittancePublishedData records delivery of the document to the broker
type RemittancePublishedData struct {
	RemittanceID string    `json:"remittance_id"`
	Topic        string    `json:"topic"`
	Partition    int32     `json:"partition"`
	Offset       int64     `json:"offset"`
	PublishedAt  time.Time `json:"published_at"`
}

// RemittanceAcknowledgedData records the receiver's acknowledgment
type RemittanceAcknowledgedData struct {
	RemittanceID   string    `json:"remittance_id"`
	AckCode        string    `json:"ack_code"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

// RemittanceFailedData records a terminal failure
type RemittanceFailedData struct {
	RemittanceID string    `json:"remittance_id"`
	Reason       string    `json:"reason"`
	FailedAt     time.Time `json:"failed_at"`
}
