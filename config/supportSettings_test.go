package config

import (
	"testing"
	"time"
)

func clearSupportEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CHATWOOT_ENABLED", "CHATWOOT_BASE_URL", "CHATWOOT_WEBSITE_TOKEN", "CHATWOOT_HMAC_SECRET",
		"CHATWOOT_WEBHOOK_SECRET", "CHATWOOT_INBOX_ID", "CHATWOOT_PORTAL_TOKEN", "CHATWOOT_DEFAULT_LOCALE",
		"SUPPORT_SLA_FIRST_RESPONSE_MINUTES", "SUPPORT_SLA_RESOLUTION_MINUTES", "SUPPORT_TX_TIMEOUT_SECONDS",
		"SUPPORT_SLA_SWEEP_CRON", "SUPPORT_ESCALATION_TOPIC", "SUPPORT_DEFAULT_PHONE_REGION", "SUPPORT_NOTIFY_TIMEOUT_SECONDS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadSupportSettingsDefaults(t *testing.T) {
	clearSupportEnv(t)
	s, err := LoadSupportSettings()
	if err != nil {
		t.Fatalf("LoadSupportSettings: %v", err)
	}
	if s.Enabled || s.SignatureRequired() {
		t.Fatalf("integration should be off by default: %+v", s)
	}
	if s.FirstResponseMinutes != DefaultFirstResponseMinutes || s.ResolutionMinutes != DefaultResolutionMinutes {
		t.Fatalf("thresholds = %d/%d", s.FirstResponseMinutes, s.ResolutionMinutes)
	}
	if s.TxTimeout != DefaultTxTimeoutSeconds*time.Second || s.DefaultLocale != "en" || s.PhoneRegion != "US" {
		t.Fatalf("defaults = %+v", s)
	}
	if s.NotifyTimeout != DefaultNotifyTimeoutSeconds*time.Second {
		t.Fatalf("notify timeout = %s", s.NotifyTimeout)
	}
}

func TestLoadSupportSettingsFromEnv(t *testing.T) {
	clearSupportEnv(t)
	t.Setenv("CHATWOOT_ENABLED", "yes")
	t.Setenv("CHATWOOT_BASE_URL", "https://chat.gigvora.test/")
	t.Setenv("CHATWOOT_WEBSITE_TOKEN", "tok")
	t.Setenv("CHATWOOT_WEBHOOK_SECRET", "whsec")
	t.Setenv("CHATWOOT_INBOX_ID", "5")
	t.Setenv("SUPPORT_SLA_FIRST_RESPONSE_MINUTES", "15")
	t.Setenv("SUPPORT_SLA_RESOLUTION_MINUTES", "bogus")
	t.Setenv("SUPPORT_DEFAULT_PHONE_REGION", "mm")

	s, err := LoadSupportSettings()
	if err != nil {
		t.Fatalf("LoadSupportSettings: %v", err)
	}
	if !s.Enabled || !s.SignatureRequired() || s.BaseURL != "https://chat.gigvora.test" || s.InboxID != 5 {
		t.Fatalf("settings = %+v", s)
	}
	if s.FirstResponseMinutes != 15 || s.ResolutionMinutes != DefaultResolutionMinutes {
		t.Fatalf("thresholds = %d/%d", s.FirstResponseMinutes, s.ResolutionMinutes)
	}
	if s.PhoneRegion != "MM" {
		t.Fatalf("phone region = %q", s.PhoneRegion)
	}
}

func TestLoadSupportSettingsRejectsIncompleteIntegration(t *testing.T) {
	clearSupportEnv(t)
	t.Setenv("CHATWOOT_ENABLED", "true")
	t.Setenv("CHATWOOT_BASE_URL", "not a url")

	if _, err := LoadSupportSettings(); err == nil {
		t.Fatalf("expected validation error for enabled integration without token and url")
	}
}

func TestLogErrorIgnoresNil(t *testing.T) {
	LogError(nil, "m", "f", "c", nil, nil)
	LogError(GetLogger(), "m", "f", "c", nil, nil)
}
