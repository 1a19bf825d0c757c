package supportsync

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const conversationLockTTL = 30 * time.Second

func conversationLockKey(conversationId string) string {
	return "lock:support:conversation:" + conversationId
}

// lockConversation takes the per-conversation Redis lock when it can. Row
// locks inside the transaction still serialize writers without it. The
// returned func is always safe to call.
func (e *Engine) lockConversation(ctx context.Context, conversationId string) func() {
	logger := e.logger.WithFields(logrus.Fields{
		"field":           "lockConversation",
		"conversation_id": conversationId,
	})
	var locker *redislock.Client
	if e.locker != nil {
		locker = e.locker()
	}
	if locker == nil {
		logger.Debug("redis lock not ready; proceeding without redis lock")
		return func() {}
	}

	lock, err := locker.Obtain(ctx, conversationLockKey(conversationId), conversationLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		logger.Warn("could not obtain redis lock; proceeding without redis lock")
		return func() {}
	}
	if err != nil {
		logger.Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		return func() {}
	}

	return func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			logger.Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}
