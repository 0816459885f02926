// Package idempotency provides the Inbox pattern for exactly-once message processing.
// Keys are deterministic hashes of the payment a remittance advises on.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status represents the processing status of an inbox entry
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// InboxEntry represents an idempotency inbox record
type InboxEntry struct {
	IdempotencyKey string
	HandlerName    string
	Status         Status
	Payload        json.RawMessage
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
}

// InboxConfig holds configuration for the inbox
type InboxConfig struct {
	// DefaultTTL is the time-to-live for inbox entries
	DefaultTTL time.Duration
	// CleanupInterval is how often to clean expired entries
	CleanupInterval time.Duration
	// RecoveryTimeout is when to consider a STARTED entry as stale
	RecoveryTimeout time.Duration
}

// DefaultInboxConfig returns sensible defaults
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		DefaultTTL:      30 * 24 * time.Hour, // payers resend within a month
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// EntryStore persists inbox entries
type EntryStore interface {
	// Get returns the entry for key or ErrEntryNotFound
	Get(ctx context.Context, key string) (*InboxEntry, error)
	// Start inserts a STARTED entry, or moves a RECOVERABLE one back to STARTED.
	// Any other existing entry yields ErrDuplicateMessage.
	Start(ctx context.Context, key, handlerName string, payload json.RawMessage, expiresAt time.Time) error
	// SetStatus updates status and result of an existing entry
	SetStatus(ctx context.Context, key string, status Status, result json.RawMessage) error
	// Cleanup deletes expired entries
	Cleanup(ctx context.Context) (int64, error)
}

// Errors returned by Process and EntryStore
var (
	ErrEntryNotFound     = errors.New("inbox entry not found")
	ErrDuplicateMessage  = errors.New("duplicate message: already processed")
	ErrMessageInProgress = errors.New("message in progress by another handler")
	ErrPreviouslyFailed  = errors.New("message previously failed permanently")
)

// Inbox manages idempotent message processing
type Inbox struct {
	store  EntryStore
	config InboxConfig
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates a new inbox manager
func NewInbox(store EntryStore, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Inbox{
		store:  store,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ProcessResult represents the result of idempotent processing
type ProcessResult struct {
	IsNew        bool
	WasRecovered bool
	Result       json.RawMessage
}

// ProcessFunc is the function signature for idempotent handlers
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Process runs fn at most once per key. A finished key returns the stored result without
// calling fn; a failed key is never retried; a stale STARTED key is taken over.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	entry, err := i.store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		return nil, fmt.Errorf("failed to check inbox: %w", err)
	}

	recovered := false
	if entry != nil {
		switch entry.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &ProcessResult{Result: entry.Result}, nil

		case StatusFailed:
			span.SetAttributes(attribute.Bool("previously_failed", true))
			return nil, fmt.Errorf("%w: %s", ErrPreviouslyFailed, key)

		case StatusStarted:
			if i.now().Sub(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return nil, ErrMessageInProgress
			}
			if err := i.store.SetStatus(ctx, key, StatusRecoverable, entry.Result); err != nil {
				return nil, fmt.Errorf("failed to mark recoverable: %w", err)
			}
			recovered = true

		case StatusRecoverable:
			recovered = true
		}
	}
	span.SetAttributes(attribute.Bool("recovered", recovered))

	if err := i.store.Start(ctx, key, handlerName, payload, i.now().Add(i.config.DefaultTTL)); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to start processing: %w", err)
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		status := StatusRecoverable
		if IsTerminal(handlerErr) {
			status = StatusFailed
		}
		errResult, _ := json.Marshal(map[string]string{"error": handlerErr.Error()})
		if err := i.store.SetStatus(ctx, key, status, errResult); err != nil {
			i.logger.Error("failed to mark error status", zap.String("idempotency_key", key), zap.Error(err))
		}
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	// the handler succeeded; a bookkeeping failure only risks a later duplicate
	if err := i.store.SetStatus(ctx, key, StatusFinished, result); err != nil {
		i.logger.Error("failed to mark finished", zap.String("idempotency_key", key), zap.Error(err))
	}

	return &ProcessResult{
		IsNew:        entry == nil,
		WasRecovered: recovered,
		Result:       result,
	}, nil
}

// GenerateKey creates a deterministic idempotency key for one payment.
// A payer reissuing the same check for the same payee on the same date yields the same key.
func GenerateKey(payerID, checkNumber, paymentDate, payeeNPI string) string {
	parts := []string{
		strings.TrimSpace(payerID),
		strings.TrimSpace(checkNumber),
		strings.TrimSpace(paymentDate),
		strings.TrimSpace(payeeNPI),
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// TerminalError marks a handler failure that must not be retried
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the inbox records it as FAILED instead of RECOVERABLE
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err, or any error it wraps, was marked with Terminal
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// StartCleanup starts the background cleanup goroutine
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the inbox cleanup
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			i.sweep(i.ctx)
		}
	}
}

// StaleRecoverer is implemented by stores that can release abandoned STARTED entries in bulk
type StaleRecoverer interface {
	RecoverStaleEntries(ctx context.Context, timeout time.Duration) (int64, error)
}

// sweep deletes expired entries and marks stale STARTED ones RECOVERABLE
func (i *Inbox) sweep(ctx context.Context) {
	deleted, err := i.store.Cleanup(ctx)
	if err != nil {
		i.logger.Error("inbox cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", deleted))
	}

	r, ok := i.store.(StaleRecoverer)
	if !ok {
		return
	}
	recovered, err := r.RecoverStaleEntries(ctx, i.config.RecoveryTimeout)
	if err != nil {
		i.logger.Error("inbox stale recovery failed", zap.Error(err))
		return
	}
	if recovered > 0 {
		i.logger.Warn("released stale inbox entries", zap.Int64("recovered", recovered))
	}
}
