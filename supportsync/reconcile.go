package supportsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/models"
	"bitbucket.org/gigvora/support_backend/utils"
	"github.com/bsm/redislock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var (
	ErrOwnerUnresolved = errors.New("conversation owner could not be resolved")
	ErrThreadConflict  = errors.New("concurrent write to the same conversation")
)

var tracer = otel.Tracer("support-sync")

const lastMessagePreviewMax = 500

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result describes what one reconciled event changed.
type Result struct {
	Outcome                Outcome
	ThreadId               int
	CaseId                 int
	MessageId              int
	ExternalConversationId string
	ThreadCreated          bool
	// Duplicate is set when the message had already been synced.
	Duplicate          bool
	Status             models.SupportCaseStatus
	Priority           models.SupportCasePriority
	Escalation         Escalation
	EscalationSnapshot models.CaseEscalation
	ParticipantIds     []int
}

type Engine struct {
	db            *gorm.DB
	resolver      *Resolver
	thresholds    Thresholds
	txTimeout     time.Duration
	// notifyTimeout bounds fan-out independently of the caller's context.
	notifyTimeout time.Duration
	cache         Cache
	notifier      Notifier
	locker        func() *redislock.Client
	logger        *logrus.Logger
	now           func() time.Time
}

type Option func(*Engine)

func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLocker takes an accessor since the Redis lock client may connect after startup.
func WithLocker(locker func() *redislock.Client) Option {
	return func(e *Engine) { e.locker = locker }
}

func WithResolver(r *Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(db *gorm.DB, settings config.SupportSettings, opts ...Option) *Engine {
	settings.ApplyDefaults()
	e := &Engine{
		db:            db,
		resolver:      NewResolver(GormUserDirectory{DB: db}, settings.PhoneRegion),
		thresholds:    ThresholdsFromSettings(settings),
		txTimeout:     settings.TxTimeout,
		notifyTimeout: settings.NotifyTimeout,
		logger:        config.GetLogger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.New()
	}
	return e
}

type identities struct {
	owner    *int
	sender   *int
	assignee *int
}

// Reconcile applies one normalized event as a single transaction, then
// invalidates caches and dispatches escalation notices after commit.
// ErrMalformedPayload and ErrOwnerUnresolved mean the event can never be
// applied; any other error is transient and the delivery should be retried.
func (e *Engine) Reconcile(ctx context.Context, ev Event) (*Result, error) {
	var (
		conv Conversation
		msg  *Message
	)
	switch v := ev.(type) {
	case ConversationEvent:
		conv = v.Conversation
	case MessageEvent:
		conv = v.Conversation
		m := v.Message
		msg = &m
	default:
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	if strings.TrimSpace(conv.ID) == "" {
		return nil, fmt.Errorf("%w: conversation id missing", ErrMalformedPayload)
	}
	if msg != nil && strings.TrimSpace(msg.ID) == "" {
		return nil, fmt.Errorf("%w: message id missing", ErrMalformedPayload)
	}

	start := time.Now()
	defer func() {
		reconcileDuration.WithLabelValues(ev.EventName()).Observe(time.Since(start).Seconds())
	}()

	ctx, span := tracer.Start(ctx, "supportsync.Reconcile", trace.WithAttributes(
		attribute.String("support.event", ev.EventName()),
		attribute.String("support.conversation_id", conv.ID),
	))
	defer span.End()

	release := e.lockConversation(ctx, conv.ID)
	defer release()

	ids, err := e.resolveIdentities(ctx, conv, msg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("resolve identities for conversation %s: %w", conv.ID, err)
	}

	txCtx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	res := &Result{Outcome: OutcomeProcessed, ExternalConversationId: conv.ID}
	err = e.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		return e.apply(tx, conv, msg, ids, res)
	})
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, ErrOwnerUnresolved), errors.Is(err, ErrThreadConflict):
			return nil, err
		case isDuplicateKeyErr(err):
			return nil, fmt.Errorf("%w: conversation %s: %v", ErrThreadConflict, conv.ID, err)
		case errors.Is(txCtx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("reconcile conversation %s: transaction timed out after %s: %w", conv.ID, e.txTimeout, err)
		}
		return nil, fmt.Errorf("reconcile conversation %s: %w", conv.ID, err)
	}
	if res.Duplicate {
		res.Outcome = OutcomeDuplicate
	}
	span.SetAttributes(
		attribute.Int("support.thread_id", res.ThreadId),
		attribute.String("support.outcome", string(res.Outcome)),
	)
	recordEscalation(res.Escalation, "event")

	e.fanOut(ctx, res)
	return res, nil
}

func (e *Engine) resolveIdentities(ctx context.Context, conv Conversation, msg *Message) (identities, error) {
	var (
		ids identities
		err error
	)
	if e.resolver == nil {
		return ids, nil
	}
	if ids.owner, err = e.resolver.ResolveOwner(ctx, conv); err != nil {
		return ids, err
	}
	if ids.assignee, err = e.resolver.ResolveAssignee(ctx, conv); err != nil {
		return ids, err
	}
	if msg != nil {
		if ids.sender, err = e.resolver.ResolveSender(ctx, MessageEvent{Conversation: conv, Message: *msg}, ids.owner); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

func (e *Engine) apply(tx *gorm.DB, conv Conversation, msg *Message, ids identities, res *Result) error {
	now := e.now()
	eventAt := conv.UpdatedAt
	if eventAt.IsZero() && msg != nil {
		eventAt = msg.CreatedAt
	}
	if eventAt.IsZero() {
		eventAt = now
	}

	thread, created, err := upsertThread(tx, conv, ids.owner)
	if err != nil {
		return err
	}
	res.ThreadId = thread.ID
	res.ThreadCreated = created

	if err := ensureParticipants(tx, thread.ID, msg, ids); err != nil {
		return err
	}

	sc, err := upsertSupportCase(tx, thread.ID, conv, ids, eventAt, now)
	if err != nil {
		return err
	}
	res.CaseId = sc.ID

	if msg != nil {
		existing, err := models.FindThreadMessageByExternalId(tx, thread.ID, msg.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			res.Duplicate = true
			res.MessageId = existing.ID
		} else {
			m := buildThreadMessage(thread.ID, *msg, ids.sender, now)
			if err := tx.Create(m).Error; err != nil {
				return err
			}
			res.MessageId = m.ID
			if _, err := models.AdvanceThreadActivity(tx, thread, m.DeliveredAt, messagePreview(m)); err != nil {
				return err
			}
			applyMessageTiming(sc, *msg, ids.sender, m.DeliveredAt)
		}
	}

	if !res.Duplicate {
		res.Escalation = EvaluateSLA(sc, now, e.thresholds)
	}
	if err := models.SaveSupportCase(tx, sc); err != nil {
		return err
	}
	res.Status = sc.Status
	res.Priority = sc.Priority
	res.EscalationSnapshot = sc.Escalation

	res.ParticipantIds, err = models.ListThreadParticipantUserIds(tx, thread.ID)
	return err
}

func upsertThread(tx *gorm.DB, conv Conversation, ownerId *int) (*models.Thread, bool, error) {
	thread, err := models.LockThreadByExternalConversationId(tx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	patch := threadMetadataPatch(conv)
	if thread != nil {
		merged := thread.Metadata.Merge(patch)
		if err := tx.Model(&models.Thread{}).Where("id = ?", thread.ID).Update("metadata", merged).Error; err != nil {
			return nil, false, err
		}
		thread.Metadata = merged
		return thread, false, nil
	}

	if ownerId == nil {
		return nil, false, fmt.Errorf("%w: conversation %s", ErrOwnerUnresolved, conv.ID)
	}
	externalId := conv.ID
	thread = &models.Thread{
		Subject:                threadSubject(conv),
		ChannelType:            models.ThreadChannelSupport,
		State:                  models.ThreadStateActive,
		CreatedBy:              *ownerId,
		ExternalConversationId: &externalId,
		Metadata:               models.JSONMap{}.Merge(patch),
	}
	if err := tx.Create(thread).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, false, fmt.Errorf("%w: conversation %s created concurrently", ErrThreadConflict, conv.ID)
		}
		return nil, false, err
	}
	return thread, true, nil
}

func threadMetadataPatch(conv Conversation) map[string]interface{} {
	patch := map[string]interface{}{
		models.ThreadMetaExternalConversationId: conv.ID,
	}
	if conv.InboxID != "" {
		patch[models.ThreadMetaInboxId] = conv.InboxID
	}
	if conv.AccountID != "" {
		patch[models.ThreadMetaAccountId] = conv.AccountID
	}
	if conv.Status != "" {
		patch[models.ThreadMetaStatus] = conv.Status
	}
	if conv.Priority != "" {
		patch[models.ThreadMetaPriority] = conv.Priority
	}
	if conv.AccountID != "" || conv.InboxID != "" {
		patch[models.ThreadMetaRoutingKey] = "chatwoot:" + conv.AccountID + ":" + conv.InboxID
	}
	return patch
}

func threadSubject(conv Conversation) string {
	subject := firstString(conv.CustomAttributes["subject"], conv.AdditionalAttributes["subject"])
	if subject == "" {
		subject = "Support conversation #" + conv.ID
	}
	return utils.Truncate(utils.CollapseWhitespace(subject), 255)
}

func ensureParticipants(tx *gorm.DB, threadId int, msg *Message, ids identities) error {
	if ids.owner != nil {
		if _, err := models.EnsureThreadParticipant(tx, threadId, *ids.owner, models.ParticipantRoleOwner); err != nil {
			return err
		}
	}
	if ids.assignee != nil {
		if _, err := models.EnsureThreadParticipant(tx, threadId, *ids.assignee, models.ParticipantRoleSupport); err != nil {
			return err
		}
	}
	if msg != nil && ids.sender != nil {
		role := models.ParticipantRoleSupport
		if msg.IsIncoming() {
			role = models.ParticipantRoleParticipant
		}
		if _, err := models.EnsureThreadParticipant(tx, threadId, *ids.sender, role); err != nil {
			return err
		}
	}
	return nil
}

func caseStatusFromConversation(status string) models.SupportCaseStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "resolved":
		return models.SupportCaseStatusResolved
	case "closed":
		return models.SupportCaseStatusClosed
	case "pending":
		return models.SupportCaseStatusWaitingOnCustomer
	default:
		return models.SupportCaseStatusInProgress
	}
}

func casePriorityFromConversation(priority string) models.SupportCasePriority {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "urgent":
		return models.SupportCasePriorityUrgent
	case "high":
		return models.SupportCasePriorityHigh
	case "low":
		return models.SupportCasePriorityLow
	default:
		return models.SupportCasePriorityMedium
	}
}

func caseReason(conv Conversation) string {
	reason := firstString(
		conv.CustomAttributes["reason"],
		conv.CustomAttributes["category"],
		conv.AdditionalAttributes["reason"],
	)
	return utils.Truncate(utils.CollapseWhitespace(reason), 255)
}

func upsertSupportCase(tx *gorm.DB, threadId int, conv Conversation, ids identities, eventAt, now time.Time) (*models.SupportCase, error) {
	status := caseStatusFromConversation(conv.Status)
	priority := casePriorityFromConversation(conv.Priority)

	sc, err := models.LockSupportCaseByThread(tx, threadId)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		syncedAt := eventAt
		sc = &models.SupportCase{
			ThreadId:   threadId,
			Status:     status,
			Priority:   priority,
			Reason:     caseReason(conv),
			Escalation: models.CaseEscalation{StatusSyncedAt: &syncedAt},
			CreatedAt:  now,
		}
		if status.IsTerminal() {
			sc.ResolvedAt = &syncedAt
			sc.ResolvedBy = ids.assignee
		}
		if ids.assignee != nil {
			assignedAt := now
			sc.AssignedTo = ids.assignee
			sc.AssignedAt = &assignedAt
		}
		if err := tx.Create(sc).Error; err != nil {
			return nil, err
		}
		return sc, nil
	}

	// Snapshots older than the last applied one leave the case fields alone.
	if synced := sc.Escalation.StatusSyncedAt; synced != nil && eventAt.Before(*synced) {
		return sc, nil
	}
	applyConversationStatus(sc, status, eventAt, ids.assignee)
	if !(sc.Escalation.Breached() && sc.Priority == models.SupportCasePriorityUrgent) {
		sc.Priority = priority
	}
	if reason := caseReason(conv); reason != "" {
		sc.Reason = reason
	}
	if ids.assignee != nil && (sc.AssignedTo == nil || *sc.AssignedTo != *ids.assignee) {
		assignedAt := now
		sc.AssignedTo = ids.assignee
		sc.AssignedAt = &assignedAt
		sc.AssignedBy = nil
	}
	return sc, nil
}

// applyConversationStatus re-derives the case status from the platform status
// unless a newer status has already been applied.
func applyConversationStatus(sc *models.SupportCase, status models.SupportCaseStatus, at time.Time, resolver *int) {
	if synced := sc.Escalation.StatusSyncedAt; synced != nil && at.Before(*synced) {
		return
	}
	syncedAt := at
	sc.Escalation.StatusSyncedAt = &syncedAt
	if status == sc.Status {
		return
	}
	if status.IsTerminal() {
		if !sc.Status.IsTerminal() {
			sc.ResolvedAt = &syncedAt
			sc.ResolvedBy = resolver
		}
	} else {
		sc.ResolvedAt = nil
		sc.ResolvedBy = nil
	}
	sc.Status = status
}

// applyMessageTiming records a newly inserted message on the case. Late
// deliveries of older messages never move the activity timestamps back.
func applyMessageTiming(sc *models.SupportCase, msg Message, senderId *int, at time.Time) {
	t := at
	if msg.IsIncoming() {
		if last := sc.Escalation.LastCustomerMessageAt; last == nil || t.After(*last) {
			sc.Escalation.LastCustomerMessageAt = &t
		}
		if sc.Status.IsTerminal() && (sc.ResolvedAt == nil || t.After(*sc.ResolvedAt)) {
			sc.Status = models.SupportCaseStatusInProgress
			sc.ResolvedAt = nil
			sc.ResolvedBy = nil
			if synced := sc.Escalation.StatusSyncedAt; synced == nil || t.After(*synced) {
				sc.Escalation.StatusSyncedAt = &t
			}
		}
		return
	}

	if last := sc.Escalation.LastAgentMessageAt; last == nil || t.After(*last) {
		sc.Escalation.LastAgentMessageAt = &t
	}
	if countsAsFirstResponse(msg) && (sc.FirstResponseAt == nil || t.Before(*sc.FirstResponseAt)) {
		if sc.FirstResponseAt == nil && senderId != nil && sc.AssignedTo == nil {
			sc.AssignedTo = senderId
			sc.AssignedAt = &t
		}
		sc.FirstResponseAt = &t
	}
}

// Activity lines and private notes are agent-side but never answer the customer.
func countsAsFirstResponse(msg Message) bool {
	if msg.Private {
		return false
	}
	return msg.Type == MessageTypeOutgoing || msg.Type == MessageTypeTemplate
}

func buildThreadMessage(threadId int, msg Message, senderId *int, now time.Time) *models.ThreadMessage {
	deliveredAt := msg.CreatedAt
	if deliveredAt.IsZero() {
		deliveredAt = now
	}
	externalId := msg.ID

	meta := stringMeta(
		models.MessageMetaExternalId, msg.ID,
		models.MessageMetaExternalType, msg.Type,
		models.MessageMetaContentType, msg.ContentType,
	)
	if len(msg.Raw) > 0 {
		meta[models.MessageMetaRaw] = msg.Raw
	}
	if msg.Private {
		meta["private"] = true
	}

	attachments := make([]models.ThreadMessageAttachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, models.ThreadMessageAttachment{
			FileName:   a.FileName,
			MimeType:   a.MimeType,
			SizeBytes:  a.Size,
			StorageKey: a.DataURL,
			Metadata: stringMeta(
				models.AttachmentMetaExternalId, a.ID,
				models.AttachmentMetaThumbURL, a.ThumbURL,
				models.AttachmentMetaDataURL, a.DataURL,
			),
		})
	}

	return &models.ThreadMessage{
		ThreadId:          threadId,
		SenderId:          senderId,
		MessageType:       models.ThreadMessageTypeText,
		Body:              msg.Content,
		Metadata:          meta,
		ExternalMessageId: &externalId,
		DeliveredAt:       deliveredAt,
		Attachments:       attachments,
	}
}

// stringMeta builds a metadata map from key/value pairs, dropping empty values.
func stringMeta(pairs ...string) models.JSONMap {
	out := models.JSONMap{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			out[pairs[i]] = pairs[i+1]
		}
	}
	return out
}

func messagePreview(m *models.ThreadMessage) string {
	preview := m.Body
	if preview == "" && len(m.Attachments) > 0 {
		preview = "[attachment] " + m.Attachments[0].FileName
	}
	return utils.Truncate(preview, lastMessagePreviewMax)
}

func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
