package supportsync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/utils"
)

var ErrUnknownUser = errors.New("user not found")

// WidgetSession is what the chat widget needs to open a conversation as a
// known contact.
type WidgetSession struct {
	Enabled          bool                   `json:"enabled"`
	BaseURL          string                 `json:"baseUrl,omitempty"`
	WebsiteToken     string                 `json:"websiteToken,omitempty"`
	InboxID          int                    `json:"inboxId,omitempty"`
	PortalToken      string                 `json:"portalToken,omitempty"`
	Locale           string                 `json:"locale"`
	Identifier       string                 `json:"identifier,omitempty"`
	IdentifierHash   string                 `json:"identifierHash,omitempty"`
	User             *WidgetUser            `json:"user,omitempty"`
	CustomAttributes map[string]interface{} `json:"customAttributes,omitempty"`
}

type WidgetUser struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type SessionIssuer struct {
	Settings config.SupportSettings
	Users    UserDirectory
}

func NewSessionIssuer(settings config.SupportSettings, users UserDirectory) *SessionIssuer {
	settings.ApplyDefaults()
	return &SessionIssuer{Settings: settings, Users: users}
}

// Issue builds the widget session for an authenticated user. The custom
// attributes written here are what ResolveOwner later reads back.
func (s *SessionIssuer) Issue(ctx context.Context, userId int) (*WidgetSession, error) {
	if !s.Settings.Enabled {
		return &WidgetSession{Enabled: false, Locale: s.Settings.DefaultLocale}, nil
	}
	if s.Users == nil {
		return nil, errors.New("user directory not configured")
	}
	user, err := s.Users.FindByID(ctx, userId)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnknownUser
	}

	identifier := ContactIdentifier(user.ID)
	session := &WidgetSession{
		Enabled:      true,
		BaseURL:      s.Settings.BaseURL,
		WebsiteToken: s.Settings.WebsiteToken,
		InboxID:      s.Settings.InboxID,
		PortalToken:  s.Settings.PortalToken,
		Locale:       s.Settings.DefaultLocale,
		Identifier:   identifier,
		User: &WidgetUser{
			Name:  user.Name,
			Email: utils.DereferencePtr(user.Email),
		},
	}
	if s.Settings.HMACSecret != "" {
		session.IdentifierHash = Sign([]byte(identifier), s.Settings.HMACSecret)
	}

	attrs := map[string]interface{}{
		"gigvora_user_id": strconv.Itoa(user.ID),
	}
	if memberships := user.MembershipList(); len(memberships) > 0 {
		attrs["memberships"] = memberships
	}
	if user.PrimaryDashboard != "" {
		attrs["primary_dashboard"] = user.PrimaryDashboard
	}
	if user.Status != "" {
		attrs["status"] = user.Status
	}
	if user.Location != "" {
		attrs["location"] = user.Location
	}
	if user.LastSeenAt != nil {
		attrs["last_seen_at"] = user.LastSeenAt.UTC().Format(time.RFC3339)
	}
	session.CustomAttributes = attrs
	return session, nil
}
