package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Metadata keys written on synced messages and attachments.
const (
	MessageMetaExternalId   = "chatwootMessageId"
	MessageMetaExternalType = "chatwootMessageType"
	MessageMetaContentType  = "chatwootContentType"
	MessageMetaRaw          = "chatwootRaw"

	AttachmentMetaExternalId = "chatwootAttachmentId"
	AttachmentMetaThumbURL   = "thumbUrl"
	AttachmentMetaDataURL    = "dataUrl"
)

// ThreadMessage is immutable once created by the sync engine.
type ThreadMessage struct {
	ID                int                       `gorm:"primary_key" json:"id"`
	ThreadId          int                       `gorm:"not null;uniqueIndex:uniq_thread_external_message,priority:1" json:"thread_id"`
	SenderId          *int                      `gorm:"index" json:"sender_id"`
	MessageType       ThreadMessageType         `gorm:"size:20;not null" json:"message_type"`
	Body              string                    `gorm:"type:text" json:"body"`
	Metadata          JSONMap                   `gorm:"type:json" json:"metadata"`
	ExternalMessageId *string                   `gorm:"size:64;uniqueIndex:uniq_thread_external_message,priority:2" json:"external_message_id"`
	DeliveredAt       time.Time                 `json:"delivered_at"`
	Attachments       []ThreadMessageAttachment `gorm:"foreignKey:MessageId" json:"attachments"`
	CreatedAt         time.Time                 `gorm:"autoCreateTime" json:"created_at"`
}

type ThreadMessageAttachment struct {
	ID         int       `gorm:"primary_key" json:"id"`
	MessageId  int       `gorm:"index;not null" json:"message_id"`
	FileName   string    `gorm:"size:255" json:"file_name"`
	MimeType   string    `gorm:"size:100" json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	StorageKey string    `gorm:"type:text" json:"storage_key"`
	Metadata   JSONMap   `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// FindThreadMessageByExternalId returns nil when the message has not been synced yet.
func FindThreadMessageByExternalId(tx *gorm.DB, threadId int, externalId string) (*ThreadMessage, error) {
	var msg ThreadMessage
	err := tx.Where("thread_id = ? AND external_message_id = ?", threadId, externalId).Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
