package supportsync

import (
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/models"
)

type Thresholds struct {
	FirstResponse time.Duration
	Resolution    time.Duration
}

func ThresholdsFromSettings(s config.SupportSettings) Thresholds {
	s.ApplyDefaults()
	return Thresholds{
		FirstResponse: time.Duration(s.FirstResponseMinutes) * time.Minute,
		Resolution:    time.Duration(s.ResolutionMinutes) * time.Minute,
	}
}

// Escalation reports which SLA dimensions breached during one evaluation.
type Escalation struct {
	FirstResponseBreached bool
	ResolutionBreached    bool
}

// Escalated is true when at least one dimension newly breached.
func (e Escalation) Escalated() bool {
	return e.FirstResponseBreached || e.ResolutionBreached
}

// EvaluateSLA checks both breach dimensions against now and records any new
// breach on c. Each dimension is recorded at most once; a recorded breach is
// never re-evaluated. Resolved and closed cases do not breach.
func EvaluateSLA(c *models.SupportCase, now time.Time, th Thresholds) Escalation {
	var out Escalation
	if c == nil {
		return out
	}
	esc := &c.Escalation

	if !c.Status.IsTerminal() && c.FirstResponseAt == nil && esc.LastCustomerMessageAt != nil && esc.FirstResponseBreachedAt == nil && th.FirstResponse > 0 {
		elapsed := now.Sub(*esc.LastCustomerMessageAt)
		if elapsed > th.FirstResponse {
			at := now
			esc.FirstResponseBreachedAt = &at
			esc.FirstResponseElapsedMinutes = int(elapsed / time.Minute)
			forceUrgent(c)
			out.FirstResponseBreached = true
		}
	}

	if !c.Status.IsTerminal() && c.ResolvedAt == nil && esc.ResolutionBreachedAt == nil && th.Resolution > 0 {
		anchor := c.CreatedAt
		if c.FirstResponseAt != nil {
			anchor = *c.FirstResponseAt
		}
		if !anchor.IsZero() {
			elapsed := now.Sub(anchor)
			if elapsed > th.Resolution {
				at := now
				esc.ResolutionBreachedAt = &at
				esc.ResolutionElapsedMinutes = int(elapsed / time.Minute)
				forceUrgent(c)
				out.ResolutionBreached = true
			}
		}
	}
	return out
}

func forceUrgent(c *models.SupportCase) {
	if c.Escalation.PriorityBeforeSla == "" {
		c.Escalation.PriorityBeforeSla = c.Priority
	}
	c.Priority = models.SupportCasePriorityUrgent
}
