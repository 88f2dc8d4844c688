package auth

import (
	"sync"
	"time"
)

// DefaultMaxPendingNonces は保持する未消費nonceの上限。
const DefaultMaxPendingNonces = 10000

// NonceStore はサインイン開始時に発行したnonceを保持し、コールバックで一度だけ消費させる。
// 期限切れのnonceは発行時にまとめて掃除する。プロセス内に保持するため、
// ログインとコールバックは同じAPIプロセスに届く必要がある。
type NonceStore struct {
	ttl        time.Duration
	maxPending int
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time // nonce -> 有効期限
}

// NewNonceStore はttlの有効期間を持つNonceStoreを生成する。
func NewNonceStore(ttl time.Duration) *NonceStore {
	return &NonceStore{
		ttl:        ttl,
		maxPending: DefaultMaxPendingNonces,
		now:        time.Now,
		pending:    make(map[string]time.Time),
	}
}

// Issue は新しいnonceを発行して記録する。
func (s *NonceStore) Issue() (string, error) {
	nonce, err := GenerateToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for n, exp := range s.pending {
		if !now.Before(exp) {
			delete(s.pending, n)
		}
	}
	// 上限に達したら任意の1件を捨てる
	if len(s.pending) >= s.maxPending {
		for n := range s.pending {
			delete(s.pending, n)
			break
		}
	}
	s.pending[nonce] = now.Add(s.ttl)
	return nonce, nil
}

// Consume はnonceが発行済みかつ有効期限内であればtrueを返し、記録から取り除く。
// 同じnonceで2回目以降はfalseになる。
func (s *NonceStore) Consume(nonce string) bool {
	if nonce == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.pending[nonce]
	if !ok {
		return false
	}
	delete(s.pending, nonce)
	return s.now().Before(exp)
}

// Len は未消費のnonce数を返す。
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
