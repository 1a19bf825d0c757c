package supportsync

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"bitbucket.org/gigvora/support_backend/models"
	"bitbucket.org/gigvora/support_backend/utils"
	"gorm.io/gorm"
)

// UserDirectory is the read-only view of product users used for resolution.
// Implementations return nil, nil when no user matches.
type UserDirectory interface {
	FindByID(ctx context.Context, id int) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhone(ctx context.Context, e164 string) (*models.User, error)
}

type GormUserDirectory struct {
	DB *gorm.DB
}

func (d GormUserDirectory) FindByID(ctx context.Context, id int) (*models.User, error) {
	return models.GetUser(ctx, d.DB, id)
}

func (d GormUserDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return models.GetUserByEmail(ctx, d.DB, email)
}

func (d GormUserDirectory) FindByPhone(ctx context.Context, e164 string) (*models.User, error) {
	return models.GetUserByPhone(ctx, d.DB, e164)
}

// Custom attribute keys that carry an internal user id, in priority order.
var userIdAttributeKeys = []string{"gigvora_user_id", "user_id", "internal_user_id"}

// identifierPattern accepts "gigvora-user-7", "user:7", "user_7" and "7".
var identifierPattern = regexp.MustCompile(`(?i)^(?:gigvora[-_:])?(?:user[-_:])?(\d+)$`)

// ContactIdentifier is the stable external identifier for an internal user.
func ContactIdentifier(userId int) string {
	return "gigvora-user-" + strconv.Itoa(userId)
}

type Resolver struct {
	Users       UserDirectory
	PhoneRegion string
}

func NewResolver(users UserDirectory, phoneRegion string) *Resolver {
	if phoneRegion == "" {
		phoneRegion = "US"
	}
	return &Resolver{Users: users, PhoneRegion: phoneRegion}
}

type candidates struct {
	bags       []map[string]interface{}
	identifier string
	email      string
	phone      string
}

// ResolveOwner resolves the conversation contact to an internal user id.
func (r *Resolver) ResolveOwner(ctx context.Context, conv Conversation) (*int, error) {
	return r.resolve(ctx, candidates{
		bags:       []map[string]interface{}{conv.Contact.CustomAttributes, conv.Contact.AdditionalAttributes, conv.CustomAttributes},
		identifier: conv.Contact.Identifier,
		email:      conv.Contact.Email,
		phone:      conv.Contact.Phone,
	})
}

// ResolveSender resolves the message author. A contact-side sender that
// cannot be resolved on its own falls back to the conversation owner; an
// unresolved agent or bot stays nil.
func (r *Resolver) ResolveSender(ctx context.Context, ev MessageEvent, ownerId *int) (*int, error) {
	sender := ev.Message.Sender
	if sender == nil {
		if ev.Message.IsIncoming() {
			return ownerId, nil
		}
		return nil, nil
	}
	id, err := r.resolveParty(ctx, *sender)
	if err != nil || id != nil {
		return id, err
	}
	if !sender.IsAgent() && sender.Type != "agent_bot" && (sender.ID == "" || sender.ID == ev.Conversation.Contact.ID) {
		return ownerId, nil
	}
	return nil, nil
}

// ResolveAssignee resolves the conversation's assigned agent, if any.
func (r *Resolver) ResolveAssignee(ctx context.Context, conv Conversation) (*int, error) {
	if conv.Assignee == nil {
		return nil, nil
	}
	return r.resolveParty(ctx, *conv.Assignee)
}

func (r *Resolver) resolveParty(ctx context.Context, p Party) (*int, error) {
	return r.resolve(ctx, candidates{
		bags:       []map[string]interface{}{p.CustomAttributes, p.AdditionalAttributes},
		identifier: p.Identifier,
		email:      p.Email,
		phone:      p.Phone,
	})
}

// resolve walks candidates in priority order. Malformed or unknown candidates
// are skipped; only directory failures are returned as errors.
func (r *Resolver) resolve(ctx context.Context, c candidates) (*int, error) {
	if r == nil || r.Users == nil {
		return nil, nil
	}
	for _, bag := range c.bags {
		for _, key := range userIdAttributeKeys {
			id, ok := parseUserId(asString(bag[key]))
			if !ok {
				continue
			}
			user, err := r.Users.FindByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if user != nil {
				return &user.ID, nil
			}
		}
	}

	if m := identifierPattern.FindStringSubmatch(strings.TrimSpace(c.identifier)); m != nil {
		if id, ok := parseUserId(m[1]); ok {
			user, err := r.Users.FindByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if user != nil {
				return &user.ID, nil
			}
		}
	}

	if email := strings.ToLower(strings.TrimSpace(c.email)); email != "" && utils.IsValidEmail(email) {
		user, err := r.Users.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return &user.ID, nil
		}
	}

	if phone := strings.TrimSpace(c.phone); phone != "" {
		if e164, err := utils.NormalizePhoneNumber(phone, r.PhoneRegion); err == nil {
			user, err := r.Users.FindByPhone(ctx, e164)
			if err != nil {
				return nil, err
			}
			if user != nil {
				return &user.ID, nil
			}
		}
	}
	return nil, nil
}

func parseUserId(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
