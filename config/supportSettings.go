package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultFirstResponseMinutes = 30
	DefaultResolutionMinutes    = 720
	DefaultTxTimeoutSeconds     = 15
	DefaultNotifyTimeoutSeconds = 5
)

// SupportSettings is the chat platform integration and SLA configuration.
//
// Set via env:
// - CHATWOOT_ENABLED, CHATWOOT_BASE_URL, CHATWOOT_WEBSITE_TOKEN
// - CHATWOOT_HMAC_SECRET (identity hash for the widget, optional)
// - CHATWOOT_WEBHOOK_SECRET (inbound signature check, optional)
// - CHATWOOT_INBOX_ID, CHATWOOT_PORTAL_TOKEN, CHATWOOT_DEFAULT_LOCALE
// - SUPPORT_SLA_FIRST_RESPONSE_MINUTES, SUPPORT_SLA_RESOLUTION_MINUTES
// - SUPPORT_TX_TIMEOUT_SECONDS, SUPPORT_NOTIFY_TIMEOUT_SECONDS, SUPPORT_SLA_SWEEP_CRON
// - SUPPORT_ESCALATION_TOPIC, SUPPORT_DEFAULT_PHONE_REGION
type SupportSettings struct {
	Enabled       bool
	BaseURL       string `validate:"required_if=Enabled true,omitempty,url"`
	WebsiteToken  string `validate:"required_if=Enabled true"`
	HMACSecret    string
	WebhookSecret string
	InboxID       int    `validate:"gte=0"`
	PortalToken   string
	DefaultLocale string `validate:"required,min=2,max=16"`

	FirstResponseMinutes int           `validate:"gt=0"`
	ResolutionMinutes    int           `validate:"gt=0"`
	TxTimeout            time.Duration `validate:"gt=0"`
	// NotifyTimeout bounds post-commit cache invalidation and escalation publishing.
	NotifyTimeout        time.Duration `validate:"gt=0"`

	// SweepCron enables the periodic SLA sweep when non-empty.
	SweepCron       string
	EscalationTopic string
	PhoneRegion     string `validate:"len=2"`
}

var settingsValidator = validator.New()

// LoadSupportSettings reads the environment, applies defaults and validates.
func LoadSupportSettings() (SupportSettings, error) {
	s := SupportSettings{
		Enabled:       envBoolDefault("CHATWOOT_ENABLED", false),
		BaseURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("CHATWOOT_BASE_URL")), "/"),
		WebsiteToken:  strings.TrimSpace(os.Getenv("CHATWOOT_WEBSITE_TOKEN")),
		HMACSecret:    os.Getenv("CHATWOOT_HMAC_SECRET"),
		WebhookSecret: os.Getenv("CHATWOOT_WEBHOOK_SECRET"),
		InboxID:       intFromEnv("CHATWOOT_INBOX_ID", 0),
		PortalToken:   strings.TrimSpace(os.Getenv("CHATWOOT_PORTAL_TOKEN")),
		DefaultLocale: strings.TrimSpace(os.Getenv("CHATWOOT_DEFAULT_LOCALE")),

		FirstResponseMinutes: intFromEnv("SUPPORT_SLA_FIRST_RESPONSE_MINUTES", DefaultFirstResponseMinutes),
		ResolutionMinutes:    intFromEnv("SUPPORT_SLA_RESOLUTION_MINUTES", DefaultResolutionMinutes),
		TxTimeout:            time.Duration(intFromEnv("SUPPORT_TX_TIMEOUT_SECONDS", DefaultTxTimeoutSeconds)) * time.Second,
		NotifyTimeout:        time.Duration(intFromEnv("SUPPORT_NOTIFY_TIMEOUT_SECONDS", DefaultNotifyTimeoutSeconds)) * time.Second,

		SweepCron:       strings.TrimSpace(os.Getenv("SUPPORT_SLA_SWEEP_CRON")),
		EscalationTopic: strings.TrimSpace(os.Getenv("SUPPORT_ESCALATION_TOPIC")),
		PhoneRegion:     strings.ToUpper(strings.TrimSpace(os.Getenv("SUPPORT_DEFAULT_PHONE_REGION"))),
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// ApplyDefaults fills zero values; it is safe to call on hand-built settings.
func (s *SupportSettings) ApplyDefaults() {
	if s.DefaultLocale == "" {
		s.DefaultLocale = "en"
	}
	if s.FirstResponseMinutes <= 0 {
		s.FirstResponseMinutes = DefaultFirstResponseMinutes
	}
	if s.ResolutionMinutes <= 0 {
		s.ResolutionMinutes = DefaultResolutionMinutes
	}
	if s.TxTimeout <= 0 {
		s.TxTimeout = DefaultTxTimeoutSeconds * time.Second
	}
	if s.NotifyTimeout <= 0 {
		s.NotifyTimeout = DefaultNotifyTimeoutSeconds * time.Second
	}
	if s.PhoneRegion == "" {
		s.PhoneRegion = "US"
	}
}

func (s SupportSettings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid support settings: %w", err)
	}
	return nil
}

// SignatureRequired reports whether inbound webhooks must carry a valid signature.
func (s SupportSettings) SignatureRequired() bool {
	return s.WebhookSecret != ""
}
