package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/forensiclab/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("fileName", "ファイル名は必須です"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeValidation || body.Field != "fileName" || body.Category != "validation" {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.Message == "" || body.Action == "" {
		t.Errorf("message and action should be present: %+v", body)
	}
}

func TestWriteError_MapsKindsToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"検証", model.NewScoreOutOfRangeError("elaAnomalies", 10001), http.StatusBadRequest, model.ErrCodeScoreOutOfRange},
		{"未認証", model.NewUnauthorizedError(), http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"不在", model.NewAnalysisNotFoundError(5), http.StatusNotFound, model.ErrCodeAnalysisNotFound},
		{"競合", model.NewResultAlreadyRecordedError(5), http.StatusConflict, model.ErrCodeResultAlreadyRecorded},
		{"ラップされた競合", fmt.Errorf("failed: %w", model.NewDimensionsLockedError(5)), http.StatusConflict, model.ErrCodeDimensionsLocked},
		{"設定エラーは内部エラー扱い", model.NewConfigurationError("APP_ID", "missing"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"未分類", errors.New("connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}

func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	body := decodeErrorBody(t, w)
	if w.Code != http.StatusInternalServerError || body.Category != "system" || body.Field != "" {
		t.Errorf("unexpected response: %d %+v", w.Code, body)
	}
}
