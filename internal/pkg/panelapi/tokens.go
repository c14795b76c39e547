package panelapi

import (
	"fmt"
	"sync"
	"time"

	"github.com/mohsenbt/marzsell/internal/pkg/cache"
)

// Admin tokens on Marzban default to a 24h lifetime; caching shorter keeps a
// safety margin against clock drift and panel-side config changes.
const tokenTTL = 30 * time.Minute

// TokenStore caches short-lived admin tokens per panel. The redis-backed store
// is shared across processes; the memory store serves tests.
type TokenStore interface {
	Get(panelID uint) (string, bool)
	Set(panelID uint, token string, ttl time.Duration)
	Delete(panelID uint)
}

type redisTokenStore struct{}

// NewRedisTokenStore returns the shared-cache-backed token store.
func NewRedisTokenStore() TokenStore {
	return &redisTokenStore{}
}

func tokenKey(panelID uint) string {
	return fmt.Sprintf("panel:token:%d", panelID)
}

func (s *redisTokenStore) Get(panelID uint) (string, bool) {
	token, err := cache.Get(tokenKey(panelID))
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}

func (s *redisTokenStore) Set(panelID uint, token string, ttl time.Duration) {
	_ = cache.Set(tokenKey(panelID), token, ttl)
}

func (s *redisTokenStore) Delete(panelID uint) {
	_ = cache.Delete(tokenKey(panelID))
}

type memoryTokenStore struct {
	mu     sync.Mutex
	tokens map[uint]memoryToken
}

type memoryToken struct {
	value     string
	expiresAt time.Time
}

// NewMemoryTokenStore returns an in-process token store.
func NewMemoryTokenStore() TokenStore {
	return &memoryTokenStore{tokens: make(map[uint]memoryToken)}
}

func (s *memoryTokenStore) Get(panelID uint) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[panelID]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.tokens, panelID)
		return "", false
	}
	return entry.value, true
}

func (s *memoryTokenStore) Set(panelID uint, token string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[panelID] = memoryToken{value: token, expiresAt: time.Now().Add(ttl)}
}

func (s *memoryTokenStore) Delete(panelID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, panelID)
}
