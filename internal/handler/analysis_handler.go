package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/forensiclab/internal/middleware"
	"github.com/hitoshi/forensiclab/internal/model"
	"github.com/hitoshi/forensiclab/internal/security"
)

// AnalysisServiceInterface は解析ハンドラーが必要とするサービスインターフェース。
type AnalysisServiceInterface interface {
	CreateImageAnalysis(ctx context.Context, userID int32, meta model.FileMeta) (*model.ImageAnalysis, error)
	RecordForensicResult(ctx context.Context, userID, analysisID int32, m model.ForensicMetrics) (*model.ForensicResult, error)
	GetAnalysis(ctx context.Context, userID, analysisID int32) (*model.AnalysisWithResult, error)
	ListAnalyses(ctx context.Context, userID int32, limit int) ([]*model.ImageAnalysis, error)
	SetDimensions(ctx context.Context, userID, analysisID, width, height int32) (*model.ImageAnalysis, error)
}

// ReportSanitizer は叙述フィールドから表示用の安全なHTMLを作る。
type ReportSanitizer interface {
	Sanitize(rawHTML string) string
}

// AnalysisHandler は画像解析のHTTPハンドラー。
type AnalysisHandler struct {
	service   AnalysisServiceInterface
	sanitizer ReportSanitizer
}

// NewAnalysisHandler はAnalysisHandlerを生成する。sanitizerがnilの場合は既定のポリシーを使う。
func NewAnalysisHandler(service AnalysisServiceInterface, sanitizer ReportSanitizer) *AnalysisHandler {
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}
	return &AnalysisHandler{service: service, sanitizer: sanitizer}
}

type createAnalysisRequest struct {
	FileName string `json:"fileName"`
	FileKey  string `json:"fileKey"`
	FileURL  string `json:"fileUrl"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
	Width    *int32 `json:"width"`
	Height   *int32 `json:"height"`
}

type setDimensionsRequest struct {
	Width  *int32 `json:"width"`
	Height *int32 `json:"height"`
}

// recordResultRequest のスコアは必須項目のためポインタで受けて未指定を検出する。
type recordResultRequest struct {
	Classification            string         `json:"classification"`
	ConfidenceScore           *model.Percent `json:"confidenceScore"`
	NoisePattern              *string        `json:"noisePattern"`
	NoiseUniformity           *model.Percent `json:"noiseUniformity"`
	JPEGBlockiness            *model.Percent `json:"jpegBlockiness"`
	JPEGQuantizationArtifacts *model.Percent `json:"jpegQuantizationArtifacts"`
	ELAAnomalies              *model.Percent `json:"elaAnomalies"`
	FrequencyDomainScore      *model.Percent `json:"frequencyDomainScore"`
	ColorChannelConsistency   *model.Percent `json:"colorChannelConsistency"`
	ELAAnomalyRegions         string         `json:"elaAnomalyRegions"`
	SpectrogramData           string         `json:"spectrogramData"`
	NoiseResidualData         string         `json:"noiseResidualData"`
	ELAVisualization          string         `json:"elaVisualization"`
	CaseSummary               string         `json:"caseSummary"`
	TechnicalFindings         string         `json:"technicalFindings"`
	AnalysisTimeMs            int32          `json:"analysisTimeMs"`
}

type analysisResponse struct {
	ID          int32     `json:"id"`
	UserID      int32     `json:"userId"`
	FileName    string    `json:"fileName"`
	FileKey     string    `json:"fileKey"`
	FileURL     string    `json:"fileUrl"`
	MimeType    string    `json:"mimeType"`
	FileSize    int32     `json:"fileSize"`
	ImageWidth  *int32    `json:"imageWidth"`
	ImageHeight *int32    `json:"imageHeight"`
	UploadedAt  time.Time `json:"uploadedAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type resultResponse struct {
	ID                        int32         `json:"id"`
	AnalysisID                int32         `json:"analysisId"`
	Classification            string        `json:"classification"`
	ConfidenceScore           model.Percent `json:"confidenceScore"`
	NoisePattern              string        `json:"noisePattern"`
	NoiseUniformity           model.Percent `json:"noiseUniformity"`
	JPEGBlockiness            model.Percent `json:"jpegBlockiness"`
	JPEGQuantizationArtifacts model.Percent `json:"jpegQuantizationArtifacts"`
	ELAAnomalies              model.Percent `json:"elaAnomalies"`
	FrequencyDomainScore      model.Percent `json:"frequencyDomainScore"`
	ColorChannelConsistency   model.Percent `json:"colorChannelConsistency"`
	ELAAnomalyRegions         string        `json:"elaAnomalyRegions"`
	SpectrogramData           string        `json:"spectrogramData"`
	NoiseResidualData         string        `json:"noiseResidualData"`
	ELAVisualization          string        `json:"elaVisualization"`
	CaseSummary               string        `json:"caseSummary"`
	TechnicalFindings         string        `json:"technicalFindings"`
	AnalysisTimeMs            int32         `json:"analysisTimeMs"`
	CreatedAt                 time.Time     `json:"createdAt"`

	// 表示用にサニタイズしたコピー。caseSummary / technicalFindings は保存値のまま返す。
	CaseSummaryHTML       string `json:"caseSummaryHtml"`
	TechnicalFindingsHTML string `json:"technicalFindingsHtml"`
}

type analysisDetailResponse struct {
	analysisResponse
	Result *resultResponse `json:"result"`
}

// CreateAnalysis は画像のメタデータを登録する。
// POST /api/analyses
func (h *AnalysisHandler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createAnalysisRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	meta := model.FileMeta{
		FileName: req.FileName,
		FileKey:  req.FileKey,
		FileURL:  req.FileURL,
		MimeType: req.MimeType,
		FileSize: req.FileSize,
		Width:    req.Width,
		Height:   req.Height,
	}
	if err := meta.Validate(); err != nil {
		middleware.WriteError(w, err)
		return
	}

	a, err := h.service.CreateImageAnalysis(r.Context(), userID, meta)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAnalysisResponse(a))
}

// ListAnalyses はログインユーザーの解析一覧を新しい順に返す。
// GET /api/analyses?limit=20
func (h *AnalysisHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	analyses, err := h.service.ListAnalyses(r.Context(), userID, limit)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := make([]analysisResponse, 0, len(analyses))
	for _, a := range analyses {
		resp = append(resp, toAnalysisResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAnalysis は解析と（記録済みなら）結果を返す。
// GET /api/analyses/{id}
func (h *AnalysisHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ar, err := h.service.GetAnalysis(r.Context(), userID, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := analysisDetailResponse{analysisResponse: toAnalysisResponse(ar.Analysis)}
	if ar.Result != nil {
		res := h.toResultResponse(ar.Result)
		resp.Result = &res
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetDimensions は画像サイズを設定する。
// PATCH /api/analyses/{id}/dimensions
func (h *AnalysisHandler) SetDimensions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req setDimensionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Width == nil || req.Height == nil {
		middleware.WriteError(w, model.NewValidationError("dimensions", "幅と高さは両方指定してください"))
		return
	}

	a, err := h.service.SetDimensions(r.Context(), userID, id, *req.Width, *req.Height)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisResponse(a))
}

// RecordResult は解析エンジンが算出した結果を記録する。
// POST /api/analyses/{id}/result
func (h *AnalysisHandler) RecordResult(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req recordResultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := req.toMetrics()
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	res, err := h.service.RecordForensicResult(r.Context(), userID, id, m)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toResultResponse(res))
}

// toMetrics は必須スコアの欠落を検出してForensicMetricsに変換する。
func (req recordResultRequest) toMetrics() (model.ForensicMetrics, error) {
	scores := []struct {
		field string
		value *model.Percent
	}{
		{"confidenceScore", req.ConfidenceScore},
		{"noiseUniformity", req.NoiseUniformity},
		{"jpegBlockiness", req.JPEGBlockiness},
		{"jpegQuantizationArtifacts", req.JPEGQuantizationArtifacts},
		{"elaAnomalies", req.ELAAnomalies},
		{"frequencyDomainScore", req.FrequencyDomainScore},
		{"colorChannelConsistency", req.ColorChannelConsistency},
	}
	for _, s := range scores {
		if s.value == nil {
			return model.ForensicMetrics{}, model.NewValidationError(s.field, s.field+"は必須です")
		}
	}
	// 空文字は許容するが、項目自体は必須
	if req.NoisePattern == nil {
		return model.ForensicMetrics{}, model.NewValidationError("noisePattern", "noisePatternは必須です")
	}

	return model.ForensicMetrics{
		Classification:            model.Classification(req.Classification),
		ConfidenceScore:           *req.ConfidenceScore,
		NoisePattern:              *req.NoisePattern,
		NoiseUniformity:           *req.NoiseUniformity,
		JPEGBlockiness:            *req.JPEGBlockiness,
		JPEGQuantizationArtifacts: *req.JPEGQuantizationArtifacts,
		ELAAnomalies:              *req.ELAAnomalies,
		FrequencyDomainScore:      *req.FrequencyDomainScore,
		ColorChannelConsistency:   *req.ColorChannelConsistency,
		ELAAnomalyRegions:         req.ELAAnomalyRegions,
		SpectrogramData:           req.SpectrogramData,
		NoiseResidualData:         req.NoiseResidualData,
		ELAVisualization:          req.ELAVisualization,
		CaseSummary:               req.CaseSummary,
		TechnicalFindings:         req.TechnicalFindings,
		AnalysisTimeMs:            req.AnalysisTimeMs,
	}, nil
}

func toAnalysisResponse(a *model.ImageAnalysis) analysisResponse {
	return analysisResponse{
		ID:          a.ID,
		UserID:      a.UserID,
		FileName:    a.FileName,
		FileKey:     a.FileKey,
		FileURL:     a.FileURL,
		MimeType:    a.MimeType,
		FileSize:    a.FileSize,
		ImageWidth:  a.ImageWidth,
		ImageHeight: a.ImageHeight,
		UploadedAt:  a.UploadedAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (h *AnalysisHandler) toResultResponse(res *model.ForensicResult) resultResponse {
	return resultResponse{
		ID:                        res.ID,
		AnalysisID:                res.AnalysisID,
		Classification:            string(res.Classification),
		ConfidenceScore:           res.ConfidenceScore,
		NoisePattern:              res.NoisePattern,
		NoiseUniformity:           res.NoiseUniformity,
		JPEGBlockiness:            res.JPEGBlockiness,
		JPEGQuantizationArtifacts: res.JPEGQuantizationArtifacts,
		ELAAnomalies:              res.ELAAnomalies,
		FrequencyDomainScore:      res.FrequencyDomainScore,
		ColorChannelConsistency:   res.ColorChannelConsistency,
		ELAAnomalyRegions:         res.ELAAnomalyRegions,
		SpectrogramData:           res.SpectrogramData,
		NoiseResidualData:         res.NoiseResidualData,
		ELAVisualization:          res.ELAVisualization,
		CaseSummary:               res.CaseSummary,
		TechnicalFindings:         res.TechnicalFindings,
		AnalysisTimeMs:            res.AnalysisTimeMs,
		CreatedAt:                 res.CreatedAt,
		CaseSummaryHTML:           h.sanitizer.Sanitize(res.CaseSummary),
		TechnicalFindingsHTML:     h.sanitizer.Sanitize(res.TechnicalFindings),
	}
}
