package httpx

import (
	"errors"
	"net/http"

	"github.com/target/muster/internal/domain/model"
	"github.com/target/muster/internal/mine"
)

// MineHandlers provides HTTP handlers for querying the mine.
type MineHandlers struct {
	Svc *mine.Service
}

// GetMine handles GET /api/mine/{fn}?tgt=<expr>&kind=<matcher>: the last
// pushed value of one mine function across all targeted agents.
func (h *MineHandlers) GetMine(w http.ResponseWriter, r *http.Request) {
	function := r.PathValue("fn")
	if function == "" {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("mine function is required"),
		})
		return
	}

	expr := r.URL.Query().Get("tgt")
	if expr == "" {
		expr = "*"
	}
	kind := model.MatcherGlob
	if raw := r.URL.Query().Get("kind"); raw != "" {
		if err := kind.UnmarshalText([]byte(raw)); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "bad_target", Err: err})
			return
		}
	}

	values, err := h.Svc.Get(r.Context(), model.TargetSpec{Expression: expr, Kind: kind}, function)
	if err != nil {
		WriteEngineError(w, ErrorParams{
			Code: http.StatusInternalServerError, ErrCode: "mine_failed", Err: err,
		})
		return
	}
	WriteJSON(w, http.StatusOK, values)
}

// FlushMine handles DELETE /api/mine/agents/{id}: drop every mine entry one
// agent has pushed.
func (h *MineHandlers) FlushMine(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("agent id is required"),
		})
		return
	}

	if err := h.Svc.Flush(r.Context(), agentID); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "flush_failed", Err: err})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
