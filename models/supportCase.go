package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CaseEscalation holds SLA timers and breach records of a support case.
type CaseEscalation struct {
	LastCustomerMessageAt *time.Time `json:"lastCustomerMessageAt,omitempty"`
	LastAgentMessageAt    *time.Time `json:"lastAgentMessageAt,omitempty"`

	FirstResponseBreachedAt     *time.Time `json:"firstResponseBreachedAt,omitempty"`
	FirstResponseElapsedMinutes int        `json:"firstResponseElapsedMinutes,omitempty"`
	ResolutionBreachedAt        *time.Time `json:"resolutionBreachedAt,omitempty"`
	ResolutionElapsedMinutes    int        `json:"resolutionElapsedMinutes,omitempty"`

	// PriorityBeforeSla is the priority held before the first auto-escalation.
	PriorityBeforeSla SupportCasePriority `json:"priorityBeforeSla,omitempty"`

	// StatusSyncedAt is the source timestamp of the last applied platform status.
	StatusSyncedAt *time.Time `json:"statusSyncedAt,omitempty"`
}

// Breached is true once either SLA dimension has been recorded as breached.
func (e CaseEscalation) Breached() bool {
	return e.FirstResponseBreachedAt != nil || e.ResolutionBreachedAt != nil
}

// Value implements the driver.Valuer interface
func (e CaseEscalation) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (e *CaseEscalation) Scan(value interface{}) error {
	*e = CaseEscalation{}
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot convert %T to CaseEscalation", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, e)
}

type SupportCase struct {
	ID              int                 `gorm:"primary_key" json:"id"`
	ThreadId        int                 `gorm:"not null;uniqueIndex" json:"thread_id"`
	Status          SupportCaseStatus   `gorm:"size:30;not null;index" json:"status"`
	Priority        SupportCasePriority `gorm:"size:20;not null;index" json:"priority"`
	Reason          string              `gorm:"size:255" json:"reason"`
	AssignedTo      *int                `gorm:"index" json:"assigned_to"`
	AssignedBy      *int                `json:"assigned_by"`
	AssignedAt      *time.Time          `json:"assigned_at"`
	FirstResponseAt *time.Time          `gorm:"index" json:"first_response_at"`
	ResolvedAt      *time.Time          `gorm:"index" json:"resolved_at"`
	ResolvedBy      *int                `json:"resolved_by"`
	Escalation      CaseEscalation      `gorm:"type:json" json:"escalation"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// LockSupportCaseByThread returns the thread's case with a row lock, or nil.
func LockSupportCaseByThread(tx *gorm.DB, threadId int) (*SupportCase, error) {
	var sc SupportCase
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("thread_id = ?", threadId).
		Take(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// LockSupportCase re-reads a case by id under a row lock.
func LockSupportCase(tx *gorm.DB, id int) (*SupportCase, error) {
	var sc SupportCase
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&sc).Error; err != nil {
		return nil, err
	}
	return &sc, nil
}

// SaveSupportCase writes every mutable column, including ones cleared to NULL.
func SaveSupportCase(tx *gorm.DB, sc *SupportCase) error {
	return tx.Model(&SupportCase{}).Where("id = ?", sc.ID).Updates(map[string]interface{}{
		"status":            sc.Status,
		"priority":          sc.Priority,
		"reason":            sc.Reason,
		"assigned_to":       sc.AssignedTo,
		"assigned_by":       sc.AssignedBy,
		"assigned_at":       sc.AssignedAt,
		"first_response_at": sc.FirstResponseAt,
		"resolved_at":       sc.ResolvedAt,
		"resolved_by":       sc.ResolvedBy,
		"escalation":        sc.Escalation,
	}).Error
}

// ListSlaCandidateCaseIds pages through unresolved case ids greater than afterId.
func ListSlaCandidateCaseIds(db *gorm.DB, afterId, limit int) ([]int, error) {
	var ids []int
	err := db.Model(&SupportCase{}).
		Where("id > ?", afterId).
		Where("status NOT IN ?", []SupportCaseStatus{SupportCaseStatusResolved, SupportCaseStatusClosed}).
		Where("resolved_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
