package model

import (
	"time"
	"unicode/utf8"
)

// Classification は画像の判定結果を表す。
type Classification string

const (
	ClassificationReal         Classification = "real"
	ClassificationFake         Classification = "fake"
	ClassificationInconclusive Classification = "inconclusive"
)

// Valid は定義済みの3つのタグのいずれかであるかを返す。
// スコアから判定を導く閾値ポリシーは外部の解析エンジン側の責務であり、ここでは扱わない。
func (c Classification) Valid() bool {
	switch c {
	case ClassificationReal, ClassificationFake, ClassificationInconclusive:
		return true
	}
	return false
}

// MaxNoisePatternLength はnoisePattern列の上限文字数。空文字は許容する。
const MaxNoisePatternLength = 50

// ForensicMetrics は解析エンジンが算出した1画像分のフォレンジック指標。
type ForensicMetrics struct {
	Classification            Classification
	ConfidenceScore           Percent
	NoisePattern              string
	NoiseUniformity           Percent
	JPEGBlockiness            Percent
	JPEGQuantizationArtifacts Percent
	ELAAnomalies              Percent
	FrequencyDomainScore      Percent
	ColorChannelConsistency   Percent

	// 大きな不透明ペイロード（無制限テキスト）
	ELAAnomalyRegions string
	SpectrogramData   string
	NoiseResidualData string
	ELAVisualization  string
	CaseSummary       string
	TechnicalFindings string

	AnalysisTimeMs int32
}

// Validate は保存前の指標を検証する。
// 判定タグの妥当性、全パーセンテージ項目の [0, 100] 範囲、noisePatternの長さ、解析時間の非負を確認する。
func (m ForensicMetrics) Validate() error {
	if !m.Classification.Valid() {
		return NewInvalidClassificationError(string(m.Classification))
	}

	scores := []struct {
		field string
		value Percent
	}{
		{"confidenceScore", m.ConfidenceScore},
		{"noiseUniformity", m.NoiseUniformity},
		{"jpegBlockiness", m.JPEGBlockiness},
		{"jpegQuantizationArtifacts", m.JPEGQuantizationArtifacts},
		{"elaAnomalies", m.ELAAnomalies},
		{"frequencyDomainScore", m.FrequencyDomainScore},
		{"colorChannelConsistency", m.ColorChannelConsistency},
	}
	for _, s := range scores {
		if !s.value.Valid() {
			return NewScoreOutOfRangeError(s.field, s.value)
		}
	}

	if utf8.RuneCountInString(m.NoisePattern) > MaxNoisePatternLength {
		return NewValidationError("noisePattern", "noisePatternが長すぎます")
	}
	if m.AnalysisTimeMs < 0 {
		return NewValidationError("analysisTimeMs", "解析時間は0以上である必要があります")
	}
	return nil
}

// ForensicResult は1件のImageAnalysisに対する確定済みの解析結果。
// 作成後は変更されない。
type ForensicResult struct {
	ID         int32
	AnalysisID int32
	ForensicMetrics
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AnalysisWithResult はImageAnalysisと（存在すれば）その結果の組。
type AnalysisWithResult struct {
	Analysis *ImageAnalysis
	Result   *ForensicResult
}
