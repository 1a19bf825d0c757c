package config

import (
	"context"
	"testing"
	"time"
)

func TestGetClientGivesUpBeforeDeadline(t *testing.T) {
	t.Setenv("PUBSUB_PROJECT_ID", "support-test")
	t.Setenv("PUBSUB_CREDENTIALS_JSON", "not-json")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if _, err := GetClient(ctx); err == nil {
		t.Fatalf("expected an error for unusable credentials")
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Fatalf("GetClient waited %s, past the caller's deadline", elapsed)
	}
}

func TestPublishJSONRequiresTopic(t *testing.T) {
	if _, err := PublishJSON(context.Background(), "", map[string]string{}, nil); err == nil {
		t.Fatalf("expected an error without a topic")
	}
}
