package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// User is the product account table. The support engine only reads it.
type User struct {
	ID               int        `gorm:"primary_key" json:"id"`
	Name             string     `gorm:"size:100;not null" json:"name"`
	Email            *string    `gorm:"size:100;unique" json:"email"`
	Phone            string     `gorm:"size:20;index" json:"phone"`
	ImageUrl         string     `json:"image_url"`
	Status           string     `gorm:"size:20;default:active" json:"status"`
	Location         string     `gorm:"size:255" json:"location"`
	PrimaryDashboard string     `gorm:"size:50" json:"primary_dashboard"`
	Memberships      string     `json:"memberships"`
	LastSeenAt       *time.Time `json:"last_seen_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MembershipList splits the comma separated memberships column.
func (u User) MembershipList() []string {
	out := []string{}
	for _, part := range strings.Split(u.Memberships, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func takeUser(db *gorm.DB) (*User, error) {
	var user User
	err := db.Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser returns nil, nil when no user has the id.
func GetUser(ctx context.Context, db *gorm.DB, id int) (*User, error) {
	return takeUser(db.WithContext(ctx).Where("id = ?", id))
}

func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error) {
	return takeUser(db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)))
}

// GetUserByPhone expects an E.164 number.
func GetUserByPhone(ctx context.Context, db *gorm.DB, phone string) (*User, error) {
	return takeUser(db.WithContext(ctx).Where("phone = ?", phone))
}
