package supportsync

import (
	"testing"
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/models"
)

var defaultThresholds = Thresholds{FirstResponse: 30 * time.Minute, Resolution: 12 * time.Hour}

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluateSLAFirstResponseFiresOnce(t *testing.T) {
	sc := &models.SupportCase{
		Status:     models.SupportCaseStatusInProgress,
		Priority:   models.SupportCasePriorityLow,
		CreatedAt:  testBase,
		Escalation: models.CaseEscalation{LastCustomerMessageAt: timePtr(testBase)},
	}

	now := testBase.Add(40 * time.Minute)
	got := EvaluateSLA(sc, now, defaultThresholds)
	if !got.FirstResponseBreached || got.ResolutionBreached {
		t.Fatalf("escalation = %+v", got)
	}
	if sc.Priority != models.SupportCasePriorityUrgent {
		t.Fatalf("priority = %s, want urgent", sc.Priority)
	}
	if sc.Escalation.PriorityBeforeSla != models.SupportCasePriorityLow {
		t.Fatalf("priorityBeforeSla = %s", sc.Escalation.PriorityBeforeSla)
	}
	if sc.Escalation.FirstResponseElapsedMinutes != 40 {
		t.Fatalf("elapsed = %d", sc.Escalation.FirstResponseElapsedMinutes)
	}
	if !sameTime(sc.Escalation.FirstResponseBreachedAt, &now) {
		t.Fatalf("breachedAt = %v", sc.Escalation.FirstResponseBreachedAt)
	}

	again := EvaluateSLA(sc, now.Add(20*time.Minute), defaultThresholds)
	if again.Escalated() {
		t.Fatalf("second evaluation escalated again: %+v", again)
	}
	if !sameTime(sc.Escalation.FirstResponseBreachedAt, &now) || sc.Escalation.FirstResponseElapsedMinutes != 40 {
		t.Fatalf("recorded breach changed: %+v", sc.Escalation)
	}
}

func TestEvaluateSLAWithinThreshold(t *testing.T) {
	sc := &models.SupportCase{
		Status:     models.SupportCaseStatusInProgress,
		Priority:   models.SupportCasePriorityMedium,
		CreatedAt:  testBase,
		Escalation: models.CaseEscalation{LastCustomerMessageAt: timePtr(testBase)},
	}
	if got := EvaluateSLA(sc, testBase.Add(30*time.Minute), defaultThresholds); got.Escalated() {
		t.Fatalf("escalated at exactly the threshold: %+v", got)
	}
	if sc.Priority != models.SupportCasePriorityMedium {
		t.Fatalf("priority changed to %s", sc.Priority)
	}
}

func TestEvaluateSLAAnsweredCase(t *testing.T) {
	sc := &models.SupportCase{
		Status:          models.SupportCaseStatusInProgress,
		Priority:        models.SupportCasePriorityMedium,
		CreatedAt:       testBase,
		FirstResponseAt: timePtr(testBase.Add(5 * time.Minute)),
		Escalation:      models.CaseEscalation{LastCustomerMessageAt: timePtr(testBase)},
	}
	if got := EvaluateSLA(sc, testBase.Add(2*time.Hour), defaultThresholds); got.Escalated() {
		t.Fatalf("answered case escalated: %+v", got)
	}
}

func TestEvaluateSLAResolutionAnchoredOnFirstResponse(t *testing.T) {
	firstResponse := testBase.Add(10 * time.Minute)
	sc := &models.SupportCase{
		Status:          models.SupportCaseStatusWaitingOnCustomer,
		Priority:        models.SupportCasePriorityHigh,
		CreatedAt:       testBase,
		FirstResponseAt: &firstResponse,
	}

	if got := EvaluateSLA(sc, testBase.Add(12*time.Hour+5*time.Minute), defaultThresholds); got.Escalated() {
		t.Fatalf("resolution measured from creation instead of first response: %+v", got)
	}

	got := EvaluateSLA(sc, firstResponse.Add(13*time.Hour), defaultThresholds)
	if !got.ResolutionBreached || got.FirstResponseBreached {
		t.Fatalf("escalation = %+v", got)
	}
	if sc.Escalation.ResolutionElapsedMinutes != 13*60 {
		t.Fatalf("elapsed = %d", sc.Escalation.ResolutionElapsedMinutes)
	}
	if sc.Escalation.PriorityBeforeSla != models.SupportCasePriorityHigh || sc.Priority != models.SupportCasePriorityUrgent {
		t.Fatalf("priority = %s (before %s)", sc.Priority, sc.Escalation.PriorityBeforeSla)
	}
}

func TestEvaluateSLAKeepsFirstPriorityBeforeSla(t *testing.T) {
	sc := &models.SupportCase{
		Status:     models.SupportCaseStatusInProgress,
		Priority:   models.SupportCasePriorityLow,
		CreatedAt:  testBase,
		Escalation: models.CaseEscalation{LastCustomerMessageAt: timePtr(testBase)},
	}
	EvaluateSLA(sc, testBase.Add(time.Hour), defaultThresholds)
	got := EvaluateSLA(sc, testBase.Add(13*time.Hour), defaultThresholds)
	if !got.ResolutionBreached {
		t.Fatalf("expected resolution breach, got %+v", got)
	}
	if sc.Escalation.PriorityBeforeSla != models.SupportCasePriorityLow {
		t.Fatalf("priorityBeforeSla overwritten with %s", sc.Escalation.PriorityBeforeSla)
	}
}

func TestEvaluateSLATerminalCase(t *testing.T) {
	for _, status := range []models.SupportCaseStatus{models.SupportCaseStatusResolved, models.SupportCaseStatusClosed} {
		sc := &models.SupportCase{
			Status:     status,
			Priority:   models.SupportCasePriorityMedium,
			CreatedAt:  testBase,
			ResolvedAt: timePtr(testBase.Add(time.Minute)),
			Escalation: models.CaseEscalation{LastCustomerMessageAt: timePtr(testBase)},
		}
		if got := EvaluateSLA(sc, testBase.Add(48*time.Hour), defaultThresholds); got.Escalated() {
			t.Fatalf("%s case escalated: %+v", status, got)
		}
	}
	if got := EvaluateSLA(nil, testBase, defaultThresholds); got.Escalated() {
		t.Fatalf("nil case escalated")
	}
}

func TestThresholdsFromSettings(t *testing.T) {
	th := ThresholdsFromSettings(config.SupportSettings{})
	if th.FirstResponse != 30*time.Minute || th.Resolution != 720*time.Minute {
		t.Fatalf("defaults = %+v", th)
	}
	th = ThresholdsFromSettings(config.SupportSettings{FirstResponseMinutes: 5, ResolutionMinutes: 60})
	if th.FirstResponse != 5*time.Minute || th.Resolution != time.Hour {
		t.Fatalf("custom = %+v", th)
	}
}
