package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/forensiclab/internal/middleware"
	"github.com/hitoshi/forensiclab/internal/model"
)

// AuditServiceInterface は監査ログハンドラーが必要とするサービスインターフェース。
type AuditServiceInterface interface {
	AppendAudit(ctx context.Context, userID int32, action, details string, analysisID, resultID *int32) (*model.AuditEntry, error)
	ListAudit(ctx context.Context, userID int32, limit int) ([]*model.AuditEntry, error)
}

// AuditHandler は監査ログのHTTPハンドラー。更新・削除のエンドポイントは持たない。
type AuditHandler struct {
	service AuditServiceInterface
}

// NewAuditHandler はAuditHandlerを生成する。
func NewAuditHandler(service AuditServiceInterface) *AuditHandler {
	return &AuditHandler{service: service}
}

type appendAuditRequest struct {
	Action     string `json:"action"`
	Details    string `json:"details"`
	AnalysisID *int32 `json:"analysisId"`
	ResultID   *int32 `json:"resultId"`
}

type auditResponse struct {
	ID         int32     `json:"id"`
	UserID     int32     `json:"userId"`
	AnalysisID *int32    `json:"analysisId"`
	ResultID   *int32    `json:"resultId"`
	Action     string    `json:"action"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ListAudit はログインユーザーの監査ログを新しい順に返す。
// GET /api/audit?limit=20
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListAudit(r.Context(), userID, limit)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toAuditResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AppendAudit はクライアント側のイベントを監査ログに追記する。
// POST /api/audit
func (h *AuditHandler) AppendAudit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req appendAuditRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.service.AppendAudit(r.Context(), userID, req.Action, req.Details, req.AnalysisID, req.ResultID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuditResponse(entry))
}

func toAuditResponse(e *model.AuditEntry) auditResponse {
	return auditResponse{
		ID:         e.ID,
		UserID:     e.UserID,
		AnalysisID: e.AnalysisID,
		ResultID:   e.ResultID,
		Action:     e.Action,
		Details:    e.Details,
		CreatedAt:  e.CreatedAt,
	}
}
