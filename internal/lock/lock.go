package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var (
	ErrNotConfigured = errors.New("lock_not_configured")
	ErrEmptyKey      = errors.New("lock_key_empty")
	ErrInvalidTTL    = errors.New("lock_ttl_invalid")
	ErrLockLost      = errors.New("lock_lost")
)

// Locker hands out single-holder leases keyed by resource name.
type Locker struct {
	client  *redis.Client
	release *redis.Script
	refresh *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseScript),
		refresh: redis.NewScript(refreshScript),
	}
}

// ProposalKey names the lease guarding one proposal's editing session.
func ProposalKey(proposalID string) string {
	return fmt.Sprintf("proposalpricing:session:%s", strings.TrimSpace(proposalID))
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConfigured
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Refresh extends a held lease. ErrLockLost means another holder owns the key now.
func (l *Locker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	if l == nil || l.client == nil {
		return ErrNotConfigured
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	n, err := l.refresh.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{key}, token).Err()
}
