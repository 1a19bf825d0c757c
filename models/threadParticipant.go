package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type ThreadParticipant struct {
	ID                      int             `gorm:"primary_key" json:"id"`
	ThreadId                int             `gorm:"not null;uniqueIndex:uniq_thread_participant,priority:1" json:"thread_id"`
	UserId                  int             `gorm:"not null;uniqueIndex:uniq_thread_participant,priority:2;index" json:"user_id"`
	Role                    ParticipantRole `gorm:"size:20;not null" json:"role"`
	NotificationPreferences JSONMap         `gorm:"type:json" json:"notification_preferences"`
	LastReadAt              *time.Time      `json:"last_read_at"`
	CreatedAt               time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnsureThreadParticipant creates the membership or promotes its role.
// A higher-ranked existing role is left untouched.
func EnsureThreadParticipant(tx *gorm.DB, threadId, userId int, role ParticipantRole) (*ThreadParticipant, error) {
	var existing ThreadParticipant
	err := tx.Where("thread_id = ? AND user_id = ?", threadId, userId).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p := ThreadParticipant{
			ThreadId:                threadId,
			UserId:                  userId,
			Role:                    role,
			NotificationPreferences: JSONMap{"email": true, "push": true},
		}
		if err := tx.Create(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	if role.Rank() > existing.Role.Rank() {
		if err := tx.Model(&existing).Update("role", role).Error; err != nil {
			return nil, err
		}
		existing.Role = role
	}
	return &existing, nil
}

func ListThreadParticipantUserIds(tx *gorm.DB, threadId int) ([]int, error) {
	var ids []int
	err := tx.Model(&ThreadParticipant{}).
		Where("thread_id = ?", threadId).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}
