package supportsync

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	EventHeader    = "X-Chatwoot-Event"
	maxWebhookBody = 5 << 20 // 5 MB
)

// WebhookResponse is the acknowledgement body of the inbound webhook.
type WebhookResponse struct {
	Status    Outcome `json:"status"`
	ThreadId  int     `json:"threadId,omitempty"`
	MessageId int     `json:"messageId,omitempty"`
}

func metricEventLabel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if conversationEvents[name] || messageEvents[name] {
		return name
	}
	return "unhandled"
}

// WebhookHandler receives platform deliveries. Only transient failures answer
// with a non-2xx status so the platform redelivers; events that can never be
// applied are acknowledged as ignored.
func WebhookHandler(engine *Engine, settings config.SupportSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			webhookDeliveries.WithLabelValues("unhandled", "too_large").Inc()
			config.LogError(logger, "handlers.go", "WebhookHandler", "io.ReadAll", tooLarge.Limit, err)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		if err != nil {
			config.LogError(logger, "handlers.go", "WebhookHandler", "io.ReadAll", nil, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		eventName := c.GetHeader(EventHeader)
		if eventName == "" {
			eventName = EventNameFromBody(body)
		}
		label := metricEventLabel(eventName)

		if settings.SignatureRequired() {
			if !VerifySignature(body, SignatureFromHeaders(c.Request.Header), settings.WebhookSecret) {
				webhookDeliveries.WithLabelValues(label, "unauthorized").Inc()
				logger.WithFields(logrus.Fields{
					"field": "WebhookHandler",
					"event": eventName,
				}).Warn("webhook signature rejected")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
				return
			}
		} else {
			logger.WithFields(logrus.Fields{
				"field": "WebhookHandler",
			}).Debug("signature verification disabled")
		}

		if !settings.Enabled {
			webhookDeliveries.WithLabelValues(label, string(OutcomeIgnored)).Inc()
			c.JSON(http.StatusOK, WebhookResponse{Status: OutcomeIgnored})
			return
		}

		ctx := utils.SetEventNameInContext(c.Request.Context(), eventName)

		ev, err := Normalize(eventName, body)
		if err != nil {
			config.LogError(logger, "handlers.go", "WebhookHandler", "Normalize", eventName, err)
			webhookDeliveries.WithLabelValues(label, string(OutcomeIgnored)).Inc()
			c.JSON(http.StatusOK, WebhookResponse{Status: OutcomeIgnored})
			return
		}
		switch v := ev.(type) {
		case UnhandledEvent:
			webhookDeliveries.WithLabelValues(label, string(OutcomeIgnored)).Inc()
			c.JSON(http.StatusOK, WebhookResponse{Status: OutcomeIgnored})
			return
		case ConversationEvent:
			ctx = utils.SetConversationIdInContext(ctx, v.Conversation.ID)
		case MessageEvent:
			ctx = utils.SetConversationIdInContext(ctx, v.Conversation.ID)
		}

		res, err := engine.Reconcile(ctx, ev)
		if err != nil {
			correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
			conversationId, _ := utils.GetConversationIdFromContext(ctx)
			loggedEvent, _ := utils.GetEventNameFromContext(ctx)
			fields := logrus.Fields{
				"event":           loggedEvent,
				"conversation_id": conversationId,
				"correlation_id":  correlationId,
			}
			if errors.Is(err, ErrOwnerUnresolved) || errors.Is(err, ErrMalformedPayload) {
				config.LogError(logger, "handlers.go", "WebhookHandler", "Reconcile (ignored)", fields, err)
				webhookDeliveries.WithLabelValues(label, string(OutcomeIgnored)).Inc()
				c.JSON(http.StatusOK, WebhookResponse{Status: OutcomeIgnored})
				return
			}
			config.LogError(logger, "handlers.go", "WebhookHandler", "Reconcile", fields, err)
			webhookDeliveries.WithLabelValues(label, "failed").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "temporarily unable to process event"})
			return
		}

		webhookDeliveries.WithLabelValues(label, string(res.Outcome)).Inc()
		c.JSON(http.StatusOK, WebhookResponse{
			Status:    res.Outcome,
			ThreadId:  res.ThreadId,
			MessageId: res.MessageId,
		})
	}
}

// SessionHandler returns the widget session of the authenticated user.
func SessionHandler(issuer *SessionIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok || userId <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		session, err := issuer.Issue(c.Request.Context(), userId)
		if errors.Is(err, ErrUnknownUser) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "SessionHandler", "Issue", userId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue session"})
			return
		}
		c.JSON(http.StatusOK, session)
	}
}
