package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Metadata keys written on threads linked to the chat platform.
const (
	ThreadMetaExternalConversationId = "chatwootConversationId"
	ThreadMetaInboxId                = "chatwootInboxId"
	ThreadMetaAccountId              = "chatwootAccountId"
	ThreadMetaStatus                 = "chatwootStatus"
	ThreadMetaPriority               = "chatwootPriority"
	ThreadMetaRoutingKey             = "routingKey"
)

type Thread struct {
	ID          int               `gorm:"primary_key" json:"id"`
	Subject     string            `gorm:"size:255" json:"subject"`
	ChannelType ThreadChannelType `gorm:"size:20;not null;index" json:"channel_type"`
	State       ThreadState       `gorm:"size:20;not null;default:active" json:"state"`
	CreatedBy   int               `gorm:"index;not null" json:"created_by"`
	// ExternalConversationId mirrors Metadata[ThreadMetaExternalConversationId]
	// so the 1:1 link is enforced by a unique index instead of a JSON scan.
	ExternalConversationId *string    `gorm:"size:64;uniqueIndex" json:"external_conversation_id"`
	LastMessageAt          *time.Time `json:"last_message_at"`
	LastMessagePreview     string     `gorm:"size:500" json:"last_message_preview"`
	Metadata               JSONMap    `gorm:"type:json" json:"metadata"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// LockThreadByExternalConversationId returns the linked thread with a row lock
// held until tx ends, or nil when the conversation has never been seen.
func LockThreadByExternalConversationId(tx *gorm.DB, externalId string) (*Thread, error) {
	var thread Thread
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_conversation_id = ?", externalId).
		Take(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// AdvanceThreadActivity records at and preview as the latest activity unless
// the thread already has a newer message. thread must be row-locked by tx; it
// is updated in place.
func AdvanceThreadActivity(tx *gorm.DB, thread *Thread, at time.Time, preview string) (bool, error) {
	if thread.LastMessageAt != nil && !at.After(*thread.LastMessageAt) {
		return false, nil
	}
	err := tx.Model(&Thread{}).Where("id = ?", thread.ID).Updates(map[string]interface{}{
		"last_message_at":      at,
		"last_message_preview": preview,
	}).Error
	if err != nil {
		return false, err
	}
	thread.LastMessageAt = &at
	thread.LastMessagePreview = preview
	return true, nil
}
