package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/muster/internal/domain/model"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteEngineErrorMapsSentinels(t *testing.T) {
	fallback := ErrorParams{Code: http.StatusInternalServerError, ErrCode: "dispatch_failed"}

	rec := httptest.NewRecorder()
	fallback.Err = fmt.Errorf("resolve target: %w", model.ErrBadTargetSpec)
	WriteEngineError(rec, fallback)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_target", decodeErrorBody(t, rec).Error)

	rec = httptest.NewRecorder()
	fallback.Err = fmt.Errorf("history lookup: %w", model.ErrJobNotFound)
	WriteEngineError(rec, fallback)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeErrorBody(t, rec).Error)
}

func TestWriteEngineErrorKeepsFallback(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteEngineError(rec, ErrorParams{
		Code: http.StatusInternalServerError, ErrCode: "mine_failed", Err: errors.New("store offline"),
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeErrorBody(t, rec)
	assert.Equal(t, "mine_failed", body.Error)
	assert.Equal(t, "store offline", body.Message)
}
