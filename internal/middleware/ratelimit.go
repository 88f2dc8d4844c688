package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/forensiclab/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般（req/sec）
	GeneralBurst    int           // API全般のバースト
	UploadRate      rate.Limit    // 解析登録・結果記録（req/sec）
	UploadBurst     int           // 解析登録・結果記録のバースト
	CleanupInterval time.Duration // 未使用エントリの掃除間隔
}

// PerMinuteConfig は分あたりの回数からRateLimiterConfigを作る。バーストは1分ぶん。
func PerMinuteConfig(general, upload int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60.0),
		GeneralBurst:    general,
		UploadRate:      rate.Limit(float64(upload) / 60.0),
		UploadBurst:     upload,
		CleanupInterval: 5 * time.Minute,
	}
}

// DefaultRateLimiterConfig はAPI全般 120 req/min、登録系 20 req/min の設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteConfig(120, 20)
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はユーザーIDごとのリミッター群。
type limiterSet struct {
	name  string
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[int32]*userLimiter
}

func newLimiterSet(name string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:     name,
		limit:    limit,
		burst:    burst,
		limiters: make(map[int32]*userLimiter),
	}
}

func (s *limiterSet) get(userID int32, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	ul, ok := s.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[userID] = ul
	}
	ul.lastAccess = now
	return ul.limiter
}

func (s *limiterSet) evictIdle(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, ul := range s.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(s.limiters, userID)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// middleware はセッションミドルウェアの後段に置く。ユーザーIDが無い場合は401を返す。
func (s *limiterSet) middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				WriteError(w, model.NewUnauthorizedError())
				return
			}

			if !s.get(userID, time.Now()).Allow() {
				slog.Warn("rate limit exceeded",
					slog.Int("user_id", int(userID)),
					slog.String("limit_type", s.name),
				)
				writeRateLimitResponse(w, s.limit)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般と、解析登録・結果記録の2系統を独立に持つ。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	upload  *limiterSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter はRateLimiterを生成し、未使用エントリの掃除を開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		upload:  newLimiterSet("upload", config.UploadRate, config.UploadBurst),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop は掃除ゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.general.middleware()
}

// UploadMiddleware は解析登録・結果記録のレート制限ミドルウェアを返す。
func (rl *RateLimiter) UploadMiddleware() func(next http.Handler) http.Handler {
	return rl.upload.middleware()
}

// GeneralLimiterCount はAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int { return rl.general.len() }

// UploadLimiterCount は登録系リミッターのエントリ数を返す。
func (rl *RateLimiter) UploadLimiterCount() int { return rl.upload.len() }

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evictIdle(now, ttl)
	rl.upload.evictIdle(now, ttl)
}

// writeRateLimitResponse は429を返す。Retry-Afterは1トークン補充までの秒数。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	})
}
