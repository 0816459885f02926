// Package worker encodes remittance requests consumed from the broker.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-era/internal/domain/remittance"
	"github.com/drfirst/go-era/internal/era"
	"github.com/drfirst/go-era/internal/infrastructure/redpanda"
	"github.com/drfirst/go-era/internal/observability/metrics"
	"github.com/drfirst/go-era/pkg/idempotency"
	"github.com/drfirst/go-era/pkg/workerpool"
)

// HandlerName identifies this worker in the idempotency inbox
const HandlerName = "encode-remittance"

// Request is one record on the requests topic: a remittance document with an optional
// caller supplied request ID
type Request struct {
	RequestID string `json:"request_id,omitempty"`
	era.Document
}

// Outcome is stored in the inbox for each processed request
type Outcome struct {
	RemittanceID             string `json:"remittance_id"`
	InterchangeControlNumber string `json:"interchange_control_number"`
	Filename                 string `json:"filename"`
	Duplicate                bool   `json:"duplicate"`
}

// DeadLetter is published for requests that could not be encoded
type DeadLetter struct {
	OriginalTopic string    `json:"original_topic"`
	Partition     int32     `json:"partition"`
	Offset        int64     `json:"offset"`
	Key           string    `json:"key,omitempty"`
	Error         string    `json:"error"`
	Attempts      int       `json:"attempts"`
	Value         string    `json:"value"`
	FailedAt      time.Time `json:"failed_at"`
}

// Publisher produces records to the broker
type Publisher interface {
	Produce(ctx context.Context, rec *redpanda.Record) (*redpanda.Delivery, error)
}

// Encoder turns request records into stored remittances on a bounded worker pool
type Encoder struct {
	service *remittance.Service
	inbox   *idempotency.Inbox
	dlq     Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	pool    *workerpool.Pool
}

// New creates an encoder. m may be nil.
func New(service *remittance.Service, inbox *idempotency.Inbox, dlq Publisher, m *metrics.Metrics, cfg workerpool.Config, logger *zap.Logger) (*Encoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Encoder{
		service: service,
		inbox:   inbox,
		dlq:     dlq,
		metrics: m,
		logger:  logger,
	}

	cfg.Retryable = func(err error) bool { return !idempotency.IsTerminal(err) }
	cfg.OnResult = e.recordResult

	pool, err := workerpool.New(cfg, e.process, logger)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// Start launches the workers
func (e *Encoder) Start() { e.pool.Start() }

// Stop drains in-flight requests
func (e *Encoder) Stop() error { return e.pool.Stop() }

// Pool exposes the worker pool for health checks
func (e *Encoder) Pool() *workerpool.Pool { return e.pool }

// Handle processes one consumed record. Requests that fail for good are dead-lettered and
// reported as handled so the offset advances; a nil error means the record may be committed.
func (e *Encoder) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	if e.metrics != nil {
		e.metrics.KafkaMessagesConsumed.Inc()
	}

	task := &workerpool.Task{
		ID:      fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Payload: msg,
		Context: ctx,
	}
	res, err := e.pool.SubmitWait(ctx, task)
	if err != nil {
		return err
	}
	if res.Success {
		return nil
	}

	return e.deadLetter(ctx, msg, res)
}

func (e *Encoder) process(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	msg := task.Payload.(*redpanda.ConsumedMessage)

	var req Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return &workerpool.Result{Error: idempotency.Terminal(&era.DecodeError{Source: task.ID, Cause: err})}
	}

	key := remittance.IdempotencyKey(&req.Document)
	if key == "" {
		key = task.ID
	}
	correlationID := req.RequestID
	if correlationID == "" {
		correlationID = string(msg.Key)
	}

	start := time.Now()
	pr, err := e.inbox.Process(ctx, key, HandlerName, msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		res, err := e.service.Generate(ctx, &req.Document, correlationID)
		if err != nil {
			return nil, err
		}
		if res.Encoding != nil && e.metrics != nil {
			e.metrics.ObserveEncode(metrics.SourceWorker, res.Encoding, time.Since(start))
		}
		return json.Marshal(&Outcome{
			RemittanceID:             res.Aggregate.ID(),
			InterchangeControlNumber: res.Aggregate.InterchangeControlNumber(),
			Filename:                 res.Aggregate.Filename(),
			Duplicate:                res.Duplicate,
		})
	})
	switch {
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		return &workerpool.Result{Error: idempotency.Terminal(err)}
	case err != nil:
		return &workerpool.Result{Error: err}
	}

	e.logger.Info("remittance request processed",
		zap.String("task_id", task.ID),
		zap.String("correlation_id", correlationID),
		zap.Bool("new", pr.IsNew),
		zap.Bool("recovered", pr.WasRecovered))
	return &workerpool.Result{Success: true, Data: pr.Result}
}

func (e *Encoder) deadLetter(ctx context.Context, msg *redpanda.ConsumedMessage, res *workerpool.Result) error {
	dl := &DeadLetter{
		OriginalTopic: msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Key:           string(msg.Key),
		Error:         res.Error.Error(),
		Attempts:      res.Attempts,
		Value:         string(msg.Value),
		FailedAt:      time.Now().UTC(),
	}
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	if _, err := e.dlq.Produce(ctx, &redpanda.Record{
		Topic:   redpanda.TopicDeadLetter,
		Key:     string(msg.Key),
		Value:   payload,
		Headers: map[string]string{"x-handler": HandlerName},
	}); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}

	e.logger.Warn("remittance request dead-lettered",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(res.Error))
	return nil
}

func (e *Encoder) recordResult(res *workerpool.Result) {
	if e.metrics == nil {
		return
	}
	if res.Success {
		e.metrics.BatchTasks.WithLabelValues("success").Inc()
		return
	}
	e.metrics.BatchTasks.WithLabelValues("failed").Inc()
	e.metrics.RemittancesFailed.WithLabelValues("worker").Inc()
}
