package convstate

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/storage/redis"

	"github.com/mohsenbt/marzsell/internal/pkg/cache"
	"github.com/mohsenbt/marzsell/internal/pkg/env"
)

// Conversation states. Every bot update is interpreted against the chat's
// current state; events that make no sense for the state leave it unchanged.
const (
	StateIdle                        = "idle"
	StateSelectingPlan               = "selecting_plan"
	StateChoosingPaymentMethod       = "choosing_payment_method"
	StateAwaitingPaymentConfirmation = "awaiting_payment_confirmation"
	StateAwaitingPanelURL            = "awaiting_panel_url"
	StateAwaitingPanelCredentials    = "awaiting_panel_credentials"
	StateAwaitingBroadcast           = "awaiting_broadcast"
)

const (
	sessionTTL  = 24 * time.Hour
	lockStripes = 64
	keyPrefix   = "convstate:"
)

// Session is one chat's conversation position plus the scratch fields the
// current flow needs. It lives in redis so a restart or a second process sees
// the same state.
type Session struct {
	ChatID              int64     `json:"chat_id"`
	State               string    `json:"state"`
	SelectedPlanID      uint      `json:"selected_plan_id,omitempty"`
	PaymentMethod       string    `json:"payment_method,omitempty"`
	PendingPaymentID    uint      `json:"pending_payment_id,omitempty"`
	RenewSubscriptionID uint      `json:"renew_subscription_id,omitempty"`
	PanelName           string    `json:"panel_name,omitempty"`
	PanelURL            string    `json:"panel_url,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ResetToIdle clears every flow field and returns the session to idle.
func (s *Session) ResetToIdle() {
	chatID := s.ChatID
	*s = Session{ChatID: chatID, State: StateIdle}
}

// Is reports whether the session is in any of the given states.
func (s *Session) Is(states ...string) bool {
	for _, state := range states {
		if s.State == state {
			return true
		}
	}
	return false
}

// Storage is the slice of gofiber/storage the store needs; redis.Storage
// satisfies it, tests use a map.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
	Delete(key string) error
}

// Store keeps conversation sessions in shared storage with a per-chat lock so
// updates from the same chat apply in arrival order. Locks are striped;
// distinct chats rarely contend.
type Store struct {
	storage Storage
	ttl     time.Duration
	locks   [lockStripes]sync.Mutex
}

// NewStore wraps the given storage with the default session TTL.
func NewStore(storage Storage) *Store {
	return &Store{storage: storage, ttl: sessionTTL}
}

// NewStoreFromCache builds a redis-backed store from the cache client's
// connection, on a separate database so session keys never collide with
// cache keys.
func NewStoreFromCache() *Store {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
	return NewStore(storage)
}

// Get loads the chat's session. Unknown chats and unreadable payloads both
// resolve to a fresh idle session so a corrupt entry can never wedge a chat.
func (s *Store) Get(chatID int64) (*Session, error) {
	raw, err := s.storage.Get(key(chatID))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return &Session{ChatID: chatID, State: StateIdle}, nil
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		log.Warnf("[ConvState] dropping unreadable session for chat %d: %v", chatID, err)
		return &Session{ChatID: chatID, State: StateIdle}, nil
	}
	sess.ChatID = chatID
	if sess.State == "" {
		sess.State = StateIdle
	}
	return &sess, nil
}

// Mutate runs fn on the chat's session under the chat's lock and persists the
// result. When fn errors the session is not saved, so a rejected event leaves
// the stored state untouched. Holding the lock for the whole handler also
// serializes same-chat updates.
func (s *Store) Mutate(chatID int64, fn func(*Session) error) (*Session, error) {
	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Get(chatID)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return sess, err
	}
	if err := s.save(sess); err != nil {
		return sess, err
	}
	return sess, nil
}

// Reset discards the chat's session entirely. Used by cross-context writers,
// for example when an admin approval finishes a buyer's pending flow.
func (s *Store) Reset(chatID int64) error {
	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()
	return s.storage.Delete(key(chatID))
}

func (s *Store) save(sess *Session) error {
	sess.UpdatedAt = time.Now()
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.storage.Set(key(sess.ChatID), raw, s.ttl)
}

func (s *Store) lockFor(chatID int64) *sync.Mutex {
	return &s.locks[uint64(chatID)%lockStripes]
}

func key(chatID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, chatID)
}
