package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/proposalpricing/internal/lock"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	"go.uber.org/zap"
)

// acquire takes the proposal lease when a locker is configured. Redis
// failures are logged and the session continues unlocked.
func (m *Manager) acquire(ctx context.Context, sess *Session, ttl time.Duration) error {
	if m.locker == nil || ttl <= 0 {
		return nil
	}
	key := lock.ProposalKey(sess.ProposalID)
	token, ok, err := m.locker.TryLock(ctx, key, ttl)
	switch {
	case errors.Is(err, lock.ErrNotConfigured):
		return nil
	case err != nil:
		m.log.Warn("session lock unavailable", zap.String("proposal_id", sess.ProposalID), zap.Error(err))
		return nil
	case !ok:
		return domain.ErrSessionLocked
	}
	sess.lockKey = key
	sess.lockToken = token
	return nil
}

func (m *Manager) keepLock(ctx context.Context, sess *Session, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.locker.Refresh(ctx, sess.lockKey, sess.lockToken, ttl)
			if err == nil || ctx.Err() != nil {
				continue
			}
			m.log.Warn("session lock refresh failed", zap.String("session_id", sess.ID), zap.Error(err))
			if errors.Is(err, lock.ErrLockLost) {
				return
			}
		}
	}
}

func parseUser(id string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(id))
}
