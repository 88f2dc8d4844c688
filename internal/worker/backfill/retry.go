package backfill

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultGiveUp は再試行しても結果が変わらないステータス（404/410/401/403）。
	FetchResultGiveUp
	// FetchResultRetry はバックオフ後に再試行するステータス（429/5xx/その他）。
	FetchResultRetry
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 5 * time.Minute
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 12 * time.Hour
	// maxRetries を超えて一時エラーが続いた解析は補完を諦める。
	maxRetries = 8
)

// ErrPermanent は再試行しても解消しない取得・解析の失敗を表す。
var ErrPermanent = errors.New("permanent backfill failure")

func permanentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanent, fmt.Sprintf(format, args...))
}

// IsPermanent はerrが再試行不要の失敗かを返す。
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == http.StatusOK:
		return FetchResultOK
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return FetchResultGiveUp
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return FetchResultGiveUp
	default:
		return FetchResultRetry
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回5分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// attemptState は1件の解析に対する補完の失敗履歴。
type attemptState struct {
	consecutiveErrors int
	nextAttempt       time.Time
	gaveUp            bool
	lastError         string
}

// due は now の時点で再試行してよいかを返す。
func (s *attemptState) due(now time.Time) bool {
	return !s.gaveUp && !now.Before(s.nextAttempt)
}

// applyFailure は失敗を記録する。恒久的な失敗か再試行上限到達で補完を諦める。
func (s *attemptState) applyFailure(err error, now time.Time) {
	s.consecutiveErrors++
	s.lastError = err.Error()
	if IsPermanent(err) || s.consecutiveErrors > maxRetries {
		s.gaveUp = true
		return
	}
	s.nextAttempt = now.Add(CalculateBackoff(s.consecutiveErrors - 1))
}
