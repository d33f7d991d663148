package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/coordinator"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	handlerTimeout  = 3 * time.Second
	maxTriggerBody  = 1 << 16
)

// Coordinator is the slice of the run coordinator the handlers use.
type Coordinator interface {
	Trigger(ctx context.Context, family *sourcing.Family, category string) sourcing.TriggerResult
	Status(ctx context.Context) coordinator.Status
	LastProducts(family sourcing.Family) []sourcing.Product
	Categories() []string
}

// RunLister reads the run audit trail.
type RunLister interface {
	ListRuns(ctx context.Context, limit, offset int) ([]sourcing.RunRecord, error)
}

// SourcingHandler serves status, trigger, run history, and product listings.
type SourcingHandler struct {
	coord    Coordinator
	runs     RunLister
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSourcingHandler wires the coordinator and run history. runs may be nil.
func NewSourcingHandler(coord Coordinator, runs RunLister, logger *zap.Logger) *SourcingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourcingHandler{
		coord:    coord,
		runs:     runs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		timeout:  handlerTimeout,
		logger:   logger,
	}
}

type triggerRequest struct {
	Source   string `json:"source" validate:"omitempty,max=32"`
	Category string `json:"category" validate:"omitempty,max=64"`
}

// Status handles GET /api/sourcing/status.
func (h *SourcingHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	writeJSON(w, r, http.StatusOK, h.coord.Status(ctx))
}

// TriggerRun handles POST /api/sourcing/run. An empty body or omitted source
// starts a run for every family. It answers 202 when accepted, 409 when the
// scope is busy, 400 for bad input, and 503 when the run could not be queued.
func (h *SourcingHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	body := http.MaxBytesReader(w, r.Body, maxTriggerBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	var family *sourcing.Family
	if strings.TrimSpace(req.Source) != "" {
		f, err := sourcing.ParseFamily(req.Source)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		family = &f
	}
	category := strings.TrimSpace(req.Category)
	if category != "" && !slices.Contains(h.coord.Categories(), category) {
		writeError(w, r, http.StatusBadRequest, "unknown category: "+category)
		return
	}

	res := h.coord.Trigger(r.Context(), family, category)
	switch res.Status {
	case sourcing.TriggerSuccess:
		writeJSON(w, r, http.StatusAccepted, res)
	case sourcing.TriggerRunning:
		writeJSON(w, r, http.StatusConflict, res)
	default:
		h.logger.Warn("trigger failed", zap.String("message", res.Message))
		writeJSON(w, r, http.StatusServiceUnavailable, res)
	}
}

// ListRuns handles GET /api/sourcing/runs?limit=&offset=.
func (h *SourcingHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.runs.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []sourcing.RunRecord{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"runs": runs})
}

// ListProducts handles GET /api/sourcing/products?source=. It returns the
// products imported for that family by its latest run.
func (h *SourcingHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("source")
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "source is required")
		return
	}
	family, err := sourcing.ParseFamily(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"source":   family,
		"products": h.coord.LastProducts(family),
	})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
