// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/forensiclab/internal/middleware"
	"github.com/hitoshi/forensiclab/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。解析結果は可視化データを含むため大きめに取る。
const maxRequestBodyBytes = 16 << 20

// errInvalidRequest はJSONとして解釈できないリクエストボディのエラーを生成する。
func errInvalidRequest(reason string) *model.APIError {
	return &model.APIError{
		Kind:     model.KindValidation,
		Code:     "INVALID_REQUEST",
		Message:  reason,
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

var errRequestTooLarge = &model.APIError{
	Code:     "REQUEST_TOO_LARGE",
	Message:  "リクエストボディが大きすぎます。",
	Category: "validation",
	Action:   "送信するデータを小さくしてください。",
}

// writeJSON はvをJSONでレスポンスに書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをdstにデコードする。失敗時はエラーレスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, errRequestTooLarge)
			return false
		}
		middleware.WriteError(w, errInvalidRequest(fmt.Sprintf("リクエストボディの解析に失敗しました: %v", err)))
		return false
	}
	return true
}

// requireUserID はセッションミドルウェアが設定したユーザーIDを取り出す。無ければ401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (int32, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, model.NewUnauthorizedError())
		return 0, false
	}
	return userID, true
}

// pathID はURLパラメータ{id}を正のint32として取り出す。
func pathID(w http.ResponseWriter, r *http.Request) (int32, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		middleware.WriteError(w, model.NewValidationError("id", fmt.Sprintf("IDが不正です: %q", raw)))
		return 0, false
	}
	return int32(id), true
}

// queryLimit はlimitクエリを読む。未指定は0を返し、件数の補正はサービス側で行う。
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		middleware.WriteError(w, model.NewValidationError("limit", fmt.Sprintf("limitが不正です: %q", raw)))
		return 0, false
	}
	return limit, true
}
