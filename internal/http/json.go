package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/target/muster/internal/domain/model"
)

// DecodeJSON decodes the request body into dst. Dispatch payloads are strict:
// unknown fields are rejected so a mistyped argument key never dispatches a
// job silently missing it. Returns false after writing the error response.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data. The
// body is encoded up front so a marshalling failure never leaks a
// half-written response.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// errorBody is the error shape every endpoint returns: a stable machine
// code plus the wrapped error chain as the human-readable message.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorParams groups parameters for WriteError to adhere to the ≤3 params guideline.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, errorBody{Error: p.ErrCode, Message: p.Err.Error()})
}

// WriteEngineError writes the dispatch engine's sentinel errors with their
// canonical status and error codes: a malformed target is always
// 400/bad_target, an unknown jid always 404/not_found, no matter which
// endpoint surfaced it. Unrecognized errors answer with the fallback params
// as given.
func WriteEngineError(w http.ResponseWriter, fallback ErrorParams) {
	switch {
	case errors.Is(fallback.Err, model.ErrBadTargetSpec):
		fallback.Code, fallback.ErrCode = http.StatusBadRequest, "bad_target"
	case errors.Is(fallback.Err, model.ErrJobNotFound):
		fallback.Code, fallback.ErrCode = http.StatusNotFound, "not_found"
	}
	WriteError(w, fallback)
}
