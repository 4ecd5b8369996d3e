package engine

import (
	"context"
	"sync"
	"time"

	apperrors "gap-advisor/internal/common/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TurnLock serializes turns on one conversation. Acquire fails with
// TURN_IN_PROGRESS while another holder owns the key.
type TurnLock interface {
	Acquire(ctx context.Context, conversationID string, ttl time.Duration) (release func(), err error)
}

// MemoryTurnLock is a process-local TurnLock.
type MemoryTurnLock struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryTurnLock() *MemoryTurnLock {
	return &MemoryTurnLock{held: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryTurnLock) Acquire(_ context.Context, conversationID string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[conversationID]; ok && now.Before(exp) {
		return nil, apperrors.NewTurnInProgressError(conversationID)
	}
	exp := now.Add(ttl)
	l.held[conversationID] = exp

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[conversationID].Equal(exp) {
				delete(l.held, conversationID)
			}
		})
	}, nil
}

// unlockScript deletes the lock only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTurnLock shares turn locks across worker processes with SET NX PX.
type RedisTurnLock struct {
	client *redis.Client
}

func NewRedisTurnLock(client *redis.Client) *RedisTurnLock {
	return &RedisTurnLock{client: client}
}

func LockKey(conversationID string) string {
	return "turnlock:" + conversationID
}

func (l *RedisTurnLock) Acquire(ctx context.Context, conversationID string, ttl time.Duration) (func(), error) {
	key := LockKey(conversationID)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, apperrors.NewStoreFailedError("acquire turn lock", err)
	}
	if !ok {
		return nil, apperrors.NewTurnInProgressError(conversationID)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, l.client, []string{key}, token).Err()
		})
	}, nil
}
