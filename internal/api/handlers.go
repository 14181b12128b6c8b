package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"simpleflow-sandbox/internal/monitor"
	"simpleflow-sandbox/internal/sandbox"
	"simpleflow-sandbox/internal/storage"
)

const (
	msgMethodNotAllowed = "Method not allowed"
	msgNoCode           = "No code provided"
	msgInvalidBody      = "Invalid request body"
	msgBodyTooLarge     = "Request body too large"
	msgInternal         = "Internal error"
	msgBusy             = "Server busy, try again"
)

type Handlers struct {
	backend      sandbox.Backend
	db           *storage.DB
	auditWriter  *storage.AuditWriter
	metrics      *monitor.Metrics
	maxCodeBytes int
	startTime    time.Time
}

func NewHandlers(backend sandbox.Backend, db *storage.DB, auditWriter *storage.AuditWriter, metrics *monitor.Metrics, maxCodeBytes int) *Handlers {
	return &Handlers{
		backend:      backend,
		db:           db,
		auditWriter:  auditWriter,
		metrics:      metrics,
		maxCodeBytes: maxCodeBytes,
		startTime:    time.Now(),
	}
}

// HandleRun accepts one submission, runs it and reports the classified
// result. Program errors and timeouts are 200s; only requests that never
// reached the interpreter get other statuses.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.Code == nil || *req.Code == "" {
		writeError(w, http.StatusBadRequest, msgNoCode)
		return
	}
	code := *req.Code
	if h.maxCodeBytes > 0 && len(code) > h.maxCodeBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Code exceeds %d bytes", h.maxCodeBytes))
		return
	}

	if h.backend == nil {
		writeError(w, http.StatusServiceUnavailable, msgBusy)
		return
	}

	requestID := RequestIDFromContext(r.Context())
	start := time.Now()

	outcome, err := h.backend.Execute(r.Context(), sandbox.ExecutionRequest{Code: code})
	if err != nil {
		logger := log.With().Str("request_id", requestID).Err(err).Logger()
		switch {
		case sandbox.IsCapacity(err):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, msgBusy)
		case errors.Is(err, sandbox.ErrCanceled):
			// Nobody is listening any more.
			logger.Info().Msg("client disconnected before the run finished")
		case errors.Is(err, sandbox.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, msgInvalidBody)
		case errors.Is(err, sandbox.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, msgBusy)
		default:
			h.metrics.RecordError("internal")
			logger.Error().Dur("elapsed", time.Since(start)).Msg("execution failed")
			writeError(w, http.StatusInternalServerError, msgInternal)
		}
		return
	}

	h.logAudit(outcome, len(code), r)
	writeJSON(w, http.StatusOK, NewRunResponse(outcome))
}

// HandleListRuns returns recent audit records. Records hold metadata only.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := storage.RunFilter{Status: q.Get("status"), Limit: 100}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since, want RFC 3339")
			return
		}
		filter.Since = &since
	}

	runs, err := h.db.ListRuns(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("listing runs failed")
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit log not configured")
		return
	}

	run, err := h.db.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Database: "disabled",
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.backend != nil {
		resp.Backend = h.backend.Name()
		resp.Active = h.backend.ActiveCount()
	} else {
		resp.Status = "degraded"
	}
	if h.db != nil {
		resp.Database = "ok"
		if !h.db.Healthy(r.Context()) {
			resp.Database = "down"
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handlers) logAudit(o *sandbox.Outcome, codeBytes int, r *http.Request) {
	if h.auditWriter == nil {
		return
	}

	h.auditWriter.Log(&storage.Run{
		ID:          o.ID,
		CodeHash:    o.CodeHash,
		Backend:     h.backend.Name(),
		Status:      string(o.Status()),
		ExitCode:    o.ExitCode,
		DurationMS:  o.Duration.Milliseconds(),
		CodeBytes:   codeBytes,
		StdoutBytes: len(o.Stdout),
		StderrBytes: len(o.Stderr),
		Truncated:   o.Truncated,
		RequestIP:   clientIP(r),
		CreatedAt:   time.Now().Add(-o.Duration),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
