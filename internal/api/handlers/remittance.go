// Package handlers provides HTTP handlers for the remittance API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-era/internal/api/middleware"
	"github.com/drfirst/go-era/internal/domain/remittance"
	"github.com/drfirst/go-era/internal/era"
	"github.com/drfirst/go-era/internal/observability/metrics"
	"github.com/drfirst/go-era/internal/x12/era835"
)

// Response headers describing an encoded interchange
const (
	HeaderInterchangeControlNumber = "X-Interchange-Control-Number"
	HeaderSegmentCount             = "X-Segment-Count"
	ContentTypeX12                 = "text/plain; charset=utf-8"
)

// RemittanceHandler handles remittance endpoints
type RemittanceHandler struct {
	service *remittance.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRemittanceHandler creates a new handler. m may be nil.
func NewRemittanceHandler(service *remittance.Service, m *metrics.Metrics, logger *zap.Logger) *RemittanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemittanceHandler{
		service: service,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *RemittanceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/encode", h.Encode)
	r.Post("/", h.Create)
	r.Get("/events", h.ListEvents)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/edi", h.GetEDI)
	r.Get("/{id}/events", h.GetEvents)
	r.Post("/{id}/ack", h.Acknowledge)
	return r
}

// Encode handles POST /remittances/encode. The document is encoded and returned without
// being stored.
func (h *RemittanceHandler) Encode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, ok := h.decode(w, r)
	if !ok {
		return
	}

	start := time.Now()
	res := h.service.Encode(ctx, doc)
	h.observe(metrics.SourceAPI, res, time.Since(start))

	h.logger.Info("remittance encoded",
		zap.String("interchange_control_number", res.InterchangeControlNumber),
		zap.String("check_number", doc.Payment.CheckNumber),
		zap.Int("claims", res.ClaimCount),
		zap.Int("segments", res.SegmentCount),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	writeX12(w, res.Filename, res.InterchangeControlNumber, res.SegmentCount, res.Text)
}

// CreateResponse is the response for creating a remittance
type CreateResponse struct {
	ID                       string    `json:"id"`
	Status                   string    `json:"status"`
	InterchangeControlNumber string    `json:"interchange_control_number"`
	Filename                 string    `json:"filename"`
	SegmentCount             int       `json:"segment_count"`
	ClaimCount               int       `json:"claim_count"`
	IdempotencyKey           string    `json:"idempotency_key,omitempty"`
	Duplicate                bool      `json:"duplicate"`
	CreatedAt                time.Time `json:"created_at"`
}

// Create handles POST /remittances: encode and archive. A payment that was already
// generated returns the existing remittance with 200 instead of 201.
func (h *RemittanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, ok := h.decode(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := h.service.Generate(ctx, doc, middleware.GetRequestID(ctx))
	if err != nil {
		h.logger.Error("generate failed", zap.Error(err), zap.String("request_id", middleware.GetRequestID(ctx)))
		h.failed("store")
		middleware.JSONError(w, "failed to generate remittance", http.StatusInternalServerError)
		return
	}
	if result.Encoding != nil {
		h.observe(metrics.SourceAPI, result.Encoding, time.Since(start))
	}

	summary := result.Aggregate.Summary()
	resp := CreateResponse{
		ID:                       summary.ID,
		Status:                   string(summary.Status),
		InterchangeControlNumber: summary.InterchangeControlNumber,
		Filename:                 summary.Filename,
		SegmentCount:             summary.SegmentCount,
		ClaimCount:               summary.ClaimCount,
		IdempotencyKey:           summary.IdempotencyKey,
		Duplicate:                result.Duplicate,
		CreatedAt:                summary.CreatedAt,
	}

	code := http.StatusCreated
	if result.Duplicate {
		code = http.StatusOK
	}
	writeJSON(w, code, resp)
}

// Get handles GET /remittances/{id}
func (h *RemittanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	agg, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg.Summary())
}

// GetEDI handles GET /remittances/{id}/edi
func (h *RemittanceHandler) GetEDI(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Document(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeX12(w, doc.Filename, doc.InterchangeControlNumber, 0, doc.Content)
}

// GetEvents handles GET /remittances/{id}/events
func (h *RemittanceHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	if len(events) == 0 {
		middleware.JSONError(w, "remittance not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// ListEvents handles GET /remittances/events?type=&limit=
func (h *RemittanceHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.JSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.service.EventsByType(r.Context(), remittance.EventType(q.Get("type")), limit)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if events == nil {
		events = []*remittance.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// AckRequest is the request for acknowledging a remittance
type AckRequest struct {
	AckCode string `json:"ack_code"`
}

// Acknowledge handles POST /remittances/{id}/ack
func (h *RemittanceHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AckCode == "" {
		middleware.JSONError(w, "ack_code is required", http.StatusBadRequest)
		return
	}

	agg, err := h.service.Acknowledge(ctx, chi.URLParam(r, "id"), req.AckCode, middleware.GetRequestID(ctx))
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg.Summary())
}

func (h *RemittanceHandler) decode(w http.ResponseWriter, r *http.Request) (*era.Document, bool) {
	doc, err := era.Decode(r.Body, "request body")
	if err != nil {
		h.failed("decode")
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.JSONError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		middleware.JSONError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return doc, true
}

func (h *RemittanceHandler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, remittance.ErrNotFound):
		middleware.JSONError(w, "remittance not found", http.StatusNotFound)
	case errors.Is(err, remittance.ErrUnknownEventType):
		middleware.JSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, remittance.ErrInvalidStatus):
		middleware.JSONError(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("remittance store error", zap.Error(err))
		middleware.JSONError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *RemittanceHandler) observe(source string, res *era835.Result, elapsed time.Duration) {
	if h.metrics != nil {
		h.metrics.ObserveEncode(source, res, elapsed)
	}
}

func (h *RemittanceHandler) failed(stage string) {
	if h.metrics != nil {
		h.metrics.RemittancesFailed.WithLabelValues(stage).Inc()
	}
}

func writeX12(w http.ResponseWriter, filename, icn string, segments int, text string) {
	w.Header().Set("Content-Type", ContentTypeX12)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set(HeaderInterchangeControlNumber, icn)
	if segments > 0 {
		w.Header().Set(HeaderSegmentCount, fmt.Sprint(segments))
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
