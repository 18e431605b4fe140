// Package httpx provides the HTTP API for the muster dispatch engine.
package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/dispatch"
	"github.com/target/muster/internal/domain/model"
)

// JobHandlers provides HTTP handlers for dispatching jobs and inspecting
// their outcomes.
type JobHandlers struct {
	Dispatcher *dispatch.Dispatcher
	History    core.JobHistoryRepository // optional
}

// dispatchRequest is the wire form of a dispatch call.
type dispatchRequest struct {
	Target     string         `json:"tgt"`
	Kind       string         `json:"kind,omitempty"`
	Function   string         `json:"fun"`
	Args       []any          `json:"arg,omitempty"`
	Kwargs     map[string]any `json:"kwarg,omitempty"`
	TimeoutSec float64        `json:"timeout,omitempty"`
	// Async returns the jid immediately instead of waiting for collection.
	Async bool `json:"async,omitempty"`
}

type dispatchAccepted struct {
	JobID    string   `json:"jid"`
	Resolved []string `json:"resolved"`
}

// CreateJob handles POST /api/jobs: it resolves the target, fans the job
// out, and either waits for the outcome or returns the jid immediately.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	kind := model.MatcherGlob
	if req.Kind != "" {
		if err := kind.UnmarshalText([]byte(req.Kind)); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "bad_target", Err: err})
			return
		}
	}

	collector, err := h.Dispatcher.Dispatch(r.Context(), dispatch.Request{
		Target:   model.TargetSpec{Expression: req.Target, Kind: kind},
		Function: req.Function,
		Args:     req.Args,
		Kwargs:   req.Kwargs,
		Timeout:  time.Duration(req.TimeoutSec * float64(time.Second)),
	})
	if err != nil {
		WriteEngineError(w, ErrorParams{
			Code: http.StatusInternalServerError, ErrCode: "dispatch_failed", Err: err,
		})
		return
	}

	if req.Async {
		WriteJSON(w, http.StatusAccepted, dispatchAccepted{
			JobID:    collector.Job().ID,
			Resolved: collector.Resolved(),
		})
		return
	}

	outcome, err := collector.Wait(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "collect_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, outcome)
}

// GetJob handles GET /api/jobs/{jid}: a still-collecting job answers with a
// non-final snapshot, a finished one with its persisted record.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jid := r.PathValue("jid")
	if jid == "" {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("jid is required"),
		})
		return
	}

	if collector, ok := h.Dispatcher.Lookup(jid); ok {
		WriteJSON(w, http.StatusOK, collector.Poll())
		return
	}

	if h.History == nil {
		WriteError(w, ErrorParams{
			Code: http.StatusNotFound, ErrCode: "not_found", Err: model.ErrJobNotFound,
		})
		return
	}

	record, err := h.History.GetByID(r.Context(), jid)
	if err != nil {
		WriteEngineError(w, ErrorParams{
			Code: http.StatusInternalServerError, ErrCode: "lookup_failed", Err: err,
		})
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// ListJobs handles GET /api/jobs: recent job history, newest first.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		WriteJSON(w, http.StatusOK, []*model.JobRecord{})
		return
	}

	limit := parseIntQuery(r, "limit", 50)
	records, err := h.History.ListRecent(r.Context(), limit)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	if records == nil {
		records = []*model.JobRecord{}
	}
	WriteJSON(w, http.StatusOK, records)
}

// parseIntQuery returns the integer query parameter or the default when the
// parameter is absent or malformed.
func parseIntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
