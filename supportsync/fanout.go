package supportsync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/models"
	"bitbucket.org/gigvora/support_backend/utils"
	"github.com/sirupsen/logrus"
)

// Cache is the read-cache capability the engine invalidates after commit.
type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Notifier dispatches escalation notices. Errors are logged by the caller and
// never affect the reconciliation outcome.
type Notifier interface {
	Notify(ctx context.Context, notice EscalationNotice) error
}

const EscalationNoticeType = "support.sla.escalated"

type EscalationNotice struct {
	Type                   string                `json:"type"`
	CaseId                 int                   `json:"caseId"`
	ThreadId               int                   `json:"threadId"`
	ExternalConversationId string                `json:"externalConversationId"`
	Priority               string                `json:"priority"`
	FirstResponseBreached  bool                  `json:"firstResponseBreached"`
	ResolutionBreached     bool                  `json:"resolutionBreached"`
	Escalation             models.CaseEscalation `json:"escalation"`
	CorrelationId          string                `json:"correlationId,omitempty"`
	OccurredAt             time.Time             `json:"occurredAt"`
}

// globalRedisCache deletes through the process-wide client, which may connect
// after startup. Until then invalidation is a no-op.
type globalRedisCache struct{}

func (globalRedisCache) Invalidate(ctx context.Context, keys ...string) error {
	return config.RemoveRedisKey(ctx, keys...)
}

// NewGlobalRedisCache invalidates through the process-wide Redis client.
func NewGlobalRedisCache() Cache {
	return globalRedisCache{}
}

type PubSubNotifier struct {
	Topic string
}

func (n PubSubNotifier) Notify(ctx context.Context, notice EscalationNotice) error {
	if n.Topic == "" {
		return errors.New("escalation topic not configured")
	}
	_, err := config.PublishJSON(ctx, n.Topic, notice, map[string]string{
		"type":                   notice.Type,
		"caseId":                 strconv.Itoa(notice.CaseId),
		"externalConversationId": notice.ExternalConversationId,
	})
	return err
}

// LogNotifier writes notices to the log when no broker is configured.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Notify(_ context.Context, notice EscalationNotice) error {
	if n.Logger == nil {
		return nil
	}
	n.Logger.WithFields(logrus.Fields{
		"field":                    "LogNotifier",
		"type":                     notice.Type,
		"case_id":                  notice.CaseId,
		"thread_id":                notice.ThreadId,
		"external_conversation_id": notice.ExternalConversationId,
		"first_response_breached":  notice.FirstResponseBreached,
		"resolution_breached":      notice.ResolutionBreached,
	}).Warn("support case escalated")
	return nil
}

// NewNotifier picks Pub/Sub when a project and topic are configured.
func NewNotifier(settings config.SupportSettings, logger *logrus.Logger) Notifier {
	if settings.EscalationTopic != "" && config.PubSubConfigured() {
		return PubSubNotifier{Topic: settings.EscalationTopic}
	}
	return LogNotifier{Logger: logger}
}

// fanOut runs after commit: cache invalidation for every state change and one
// notice per new escalation. Failures are logged and swallowed. It runs on its
// own deadline, detached from the caller's cancellation.
func (e *Engine) fanOut(ctx context.Context, res *Result) {
	if res == nil || res.ThreadId == 0 {
		return
	}
	logger := e.logger

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()

	if e.cache != nil {
		keys := utils.ThreadCacheKeys(res.ThreadId, res.ParticipantIds)
		if err := e.cache.Invalidate(ctx, keys...); err != nil {
			config.LogError(logger, "fanout.go", "fanOut", "cache invalidate", keys, err)
		}
	}

	if !res.Escalation.Escalated() || e.notifier == nil {
		return
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	notice := EscalationNotice{
		Type:                   EscalationNoticeType,
		CaseId:                 res.CaseId,
		ThreadId:               res.ThreadId,
		ExternalConversationId: res.ExternalConversationId,
		Priority:               string(res.Priority),
		FirstResponseBreached:  res.Escalation.FirstResponseBreached,
		ResolutionBreached:     res.Escalation.ResolutionBreached,
		Escalation:             res.EscalationSnapshot,
		CorrelationId:          correlationId,
		OccurredAt:             e.now(),
	}
	if err := e.notifier.Notify(ctx, notice); err != nil {
		notificationFailures.Inc()
		config.LogError(logger, "fanout.go", "fanOut", "escalation notify", notice, err)
	}
}
