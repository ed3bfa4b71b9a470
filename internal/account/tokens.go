package account

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	purposeVerify = "verify"
	purposeReset  = "reset"

	verifyTokenTTL = 24 * time.Hour
	resetTokenTTL  = time.Hour
)

// TokenStore holds single-use tokens for email links.
type TokenStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		cache: cache.New(time.Hour, 10*time.Minute),
	}
}

func tokenKey(purpose, token string) string { return purpose + ":" + token }

func (s *TokenStore) Issue(purpose string, accountId int, ttl time.Duration) string {
	token := uuid.NewString()
	s.cache.Set(tokenKey(purpose, token), accountId, ttl)
	return token
}

// Redeem consumes token and returns the account it was issued for.
func (s *TokenStore) Redeem(purpose, token string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey(purpose, token)
	x, found := s.cache.Get(key)
	if !found {
		return 0, false
	}
	s.cache.Delete(key)

	return x.(int), true
}
