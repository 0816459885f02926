// Package remittance implements the remittance aggregate, its domain events and the event store.
package remittance

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status represents remittance status
type Status string

const (
	StatusDraft        Status = "draft"
	StatusGenerated    Status = "generated"
	StatusPublished    Status = "published"
	StatusAcknowledged Status = "acknowledged"
	StatusFailed       Status = "failed"
)

// Domain errors
var (
	ErrNotFound         = errors.New("remittance not found")
	ErrInvalidStatus    = errors.New("invalid status transition")
	ErrMissingDocument  = errors.New("generated remittance requires EDI content")
	ErrAlreadyGenerated = errors.New("remittance already generated")
	ErrDuplicateKey     = errors.New("idempotency key already used")
	ErrUnknownEventType = errors.New("unknown event type")
)

// Aggregate represents the remittance aggregate root
type Aggregate struct {
	id               string
	version          int
	status           Status
	payerID          string
	payerName        string
	payeeNPI         string
	checkNumber      string
	paymentDate      string
	paymentAmount    string
	icn              string
	claimCount       int
	serviceLineCount int
	segmentCount     int
	filename         string
	idempotencyKey   string
	topic            string
	ackCode          string
	failureReason    string
	createdAt        time.Time
	updatedAt        time.Time
	changes          []*Event
	pendingDocument  string
}

// NewAggregate creates a new remittance aggregate
func NewAggregate(id string) *Aggregate {
	now := time.Now().UTC()
	return &Aggregate{
		id:        id,
		status:    StatusDraft,
		createdAt: now,
		updatedAt: now,
		changes:   make([]*Event, 0),
	}
}

// ID returns the aggregate ID
func (a *Aggregate) ID() string { return a.id }

// Version returns the current version
func (a *Aggregate) Version() int { return a.version }

// Status returns the current status
func (a *Aggregate) Status() Status { return a.status }

// InterchangeControlNumber returns ISA13 of the generated document
func (a *Aggregate) InterchangeControlNumber() string { return a.icn }

// Filename returns the derived file name of the generated document
func (a *Aggregate) Filename() string { return a.filename }

// IdempotencyKey returns the key of the payment this remittance advises on
func (a *Aggregate) IdempotencyKey() string { return a.idempotencyKey }

// Changes returns uncommitted events
func (a *Aggregate) Changes() []*Event { return a.changes }

// ClearChanges clears uncommitted events and the pending document
func (a *Aggregate) ClearChanges() {
	a.changes = make([]*Event, 0)
	a.pendingDocument = ""
}

// PendingDocument returns EDI content produced since the last save
func (a *Aggregate) PendingDocument() string { return a.pendingDocument }

// Generate records an encoded document. edi is archived alongside the event on save.
func (a *Aggregate) Generate(data *RemittanceGeneratedData, edi string) error {
	if a.status != StatusDraft {
		return ErrAlreadyGenerated
	}
	if edi == "" {
		return ErrMissingDocument
	}

	data.RemittanceID = a.id
	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = time.Now().UTC()
	}

	event, err := NewEvent(a.id, EventRemittanceGenerated, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(data.PayerID, data.CheckNumber)

	a.record(event)
	a.pendingDocument = edi
	return nil
}

// MarkPublished records delivery of the document to the broker
func (a *Aggregate) MarkPublished(topic string, partition int32, offset int64) error {
	if a.status != StatusGenerated {
		return fmt.Errorf("%w: publish from %s", ErrInvalidStatus, a.status)
	}

	data := &RemittancePublishedData{
		RemittanceID: a.id,
		Topic:        topic,
		Partition:    partition,
		Offset:       offset,
		PublishedAt:  time.Now().UTC(),
	}
	event, err := NewEvent(a.id, EventRemittancePublished, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(a.payerID, a.checkNumber)

	a.record(event)
	return nil
}

// Acknowledge records the receiver's acknowledgment code (e.g. 999 AK9 status)
func (a *Aggregate) Acknowledge(ackCode string) error {
	if a.status != StatusPublished {
		return fmt.Errorf("%w: acknowledge from %s", ErrInvalidStatus, a.status)
	}

	data := &RemittanceAcknowledgedData{
		RemittanceID:   a.id,
		AckCode:        ackCode,
		AcknowledgedAt: time.Now().UTC(),
	}
	event, err := NewEvent(a.id, EventRemittanceAcknowledged, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(a.payerID, a.checkNumber)

	a.record(event)
	return nil
}

// Fail marks the remittance as failed. Acknowledged or already failed remittances cannot fail.
func (a *Aggregate) Fail(reason string) error {
	if a.status == StatusAcknowledged || a.status == StatusFailed {
		return fmt.Errorf("%w: fail from %s", ErrInvalidStatus, a.status)
	}

	data := &RemittanceFailedData{
		RemittanceID: a.id,
		Reason:       reason,
		FailedAt:     time.Now().UTC(),
	}
	event, err := NewEvent(a.id, EventRemittanceFailed, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(a.payerID, a.checkNumber)

	a.record(event)
	return nil
}

func (a *Aggregate) record(event *Event) {
	a.apply(event)
	a.changes = append(a.changes, event)
}

// apply applies an event to update state
func (a *Aggregate) apply(event *Event) {
	a.version++
	a.updatedAt = event.Timestamp

	switch event.EventType {
	case EventRemittanceGenerated:
		a.applyGenerated(event)
	case EventRemittancePublished:
		a.applyPublished(event)
	case EventRemittanceAcknowledged:
		a.applyAcknowledged(event)
	case EventRemittanceFailed:
		a.applyFailed(event)
	}
}

func (a *Aggregate) applyGenerated(event *Event) {
	var data RemittanceGeneratedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.status = StatusGenerated
	a.createdAt = event.Timestamp
	a.payerID = data.PayerID
	a.payerName = data.PayerName
	a.payeeNPI = data.PayeeNPI
	a.checkNumber = data.CheckNumber
	a.paymentDate = data.PaymentDate
	a.paymentAmount = data.PaymentAmount
	a.icn = data.InterchangeControlNumber
	a.claimCount = data.ClaimCount
	a.serviceLineCount = data.ServiceLineCount
	a.segmentCount = data.SegmentCount
	a.filename = data.Filename
	a.idempotencyKey = data.IdempotencyKey
}

func (a *Aggregate) applyPublished(event *Event) {
	var data RemittancePublishedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.status = StatusPublished
	a.topic = data.Topic
}

func (a *Aggregate) applyAcknowledged(event *Event) {
	var data RemittanceAcknowledgedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.status = StatusAcknowledged
	a.ackCode = data.AckCode
}

func (a *Aggregate) applyFailed(event *Event) {
	var data RemittanceFailedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.status = StatusFailed
	a.failureReason = data.Reason
}

// LoadFromHistory rebuilds state from events
func (a *Aggregate) LoadFromHistory(events []*Event) {
	for _, event := range events {
		a.apply(event)
	}
}

// Summary is the read model returned by the API
type Summary struct {
	ID                       string    `json:"id"`
	Status                   Status    `json:"status"`
	Version                  int       `json:"version"`
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
	Topic                    string    `json:"topic,omitempty"`
	AckCode                  string    `json:"ack_code,omitempty"`
	FailureReason            string    `json:"failure_reason,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Summary returns the current read model
func (a *Aggregate) Summary() *Summary {
	return &Summary{
		ID:                       a.id,
		Status:                   a.status,
		Version:                  a.version,
		PayerID:                  a.payerID,
		PayerName:                a.payerName,
		PayeeNPI:                 a.payeeNPI,
		CheckNumber:              a.checkNumber,
		PaymentDate:              a.paymentDate,
		PaymentAmount:            a.paymentAmount,
		InterchangeControlNumber: a.icn,
		ClaimCount:               a.claimCount,
		ServiceLineCount:         a.serviceLineCount,
		SegmentCount:             a.segmentCount,
		Filename:                 a.filename,
		IdempotencyKey:           a.idempotencyKey,
		Topic:                    a.topic,
		AckCode:                  a.ackCode,
		FailureReason:            a.failureReason,
		CreatedAt:                a.createdAt,
		UpdatedAt:                a.updatedAt,
	}
}
