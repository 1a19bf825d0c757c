package supportsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/models"
	"github.com/adhocore/gronx"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sweepBatchSize = 200

type SweepStats struct {
	Scanned   int
	Escalated int
	Failed    int
}

// EvaluateCase runs the SLA evaluation for one case outside of any webhook
// event. Only a new breach writes to the case.
func (e *Engine) EvaluateCase(ctx context.Context, caseId int) (*Result, error) {
	txCtx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	res := &Result{Outcome: OutcomeProcessed, CaseId: caseId}
	err := e.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		sc, err := models.LockSupportCase(tx, caseId)
		if err != nil {
			return err
		}
		res.ThreadId = sc.ThreadId
		res.Status = sc.Status
		res.Priority = sc.Priority
		res.EscalationSnapshot = sc.Escalation
		if sc.Status.IsTerminal() || sc.ResolvedAt != nil {
			return nil
		}

		res.Escalation = EvaluateSLA(sc, e.now(), e.thresholds)
		if !res.Escalation.Escalated() {
			return nil
		}
		if err := models.SaveSupportCase(tx, sc); err != nil {
			return err
		}
		res.Priority = sc.Priority
		res.EscalationSnapshot = sc.Escalation

		var thread models.Thread
		if err := tx.Where("id = ?", sc.ThreadId).Take(&thread).Error; err != nil {
			return err
		}
		if thread.ExternalConversationId != nil {
			res.ExternalConversationId = *thread.ExternalConversationId
		}
		res.ParticipantIds, err = models.ListThreadParticipantUserIds(tx, thread.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate case %d: %w", caseId, err)
	}
	if res.Escalation.Escalated() {
		recordEscalation(res.Escalation, "sweep")
		e.fanOut(ctx, res)
	}
	return res, nil
}

// SweepOnce evaluates every unresolved case once. A failing case is logged
// and skipped.
func (e *Engine) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	afterId := 0
	for {
		ids, err := models.ListSlaCandidateCaseIds(e.db.WithContext(ctx), afterId, sweepBatchSize)
		if err != nil {
			return stats, fmt.Errorf("list sla candidates: %w", err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Scanned++
			res, err := e.EvaluateCase(ctx, id)
			if err != nil {
				stats.Failed++
				config.LogError(e.logger, "sweep.go", "SweepOnce", "EvaluateCase", id, err)
				continue
			}
			if res.Escalation.Escalated() {
				stats.Escalated++
			}
		}
		if len(ids) < sweepBatchSize {
			return stats, nil
		}
		afterId = ids[len(ids)-1]
	}
}

// StartSweep runs SweepOnce on the cron schedule until ctx is done.
func (e *Engine) StartSweep(ctx context.Context, cronExpr string) (context.CancelFunc, error) {
	if cronExpr == "" {
		return func() {}, errors.New("sweep cron expression is empty")
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid sla sweep cron expression: %s", cronExpr)
	}
	ctx, cancel := context.WithCancel(ctx)
	go e.runSweepScheduler(ctx, cronExpr)

	e.logger.WithFields(logrus.Fields{
		"field": "StartSweep",
		"cron":  cronExpr,
	}).Info("sla sweep scheduler started")
	return cancel, nil
}

func (e *Engine) runSweepScheduler(ctx context.Context, cronExpr string) {
	logger := e.logger.WithFields(logrus.Fields{"field": "runSweepScheduler", "cron": cronExpr})
	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		if err != nil {
			logger.Error("sla sweep next tick failed: " + err.Error())
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("sla sweep scheduler stopping")
			return
		}

		stats, err := e.SweepOnce(ctx)
		if err != nil && ctx.Err() == nil {
			config.LogError(e.logger, "sweep.go", "runSweepScheduler", "SweepOnce", stats, err)
			continue
		}
		logger.WithFields(logrus.Fields{
			"scanned":   stats.Scanned,
			"escalated": stats.Escalated,
			"failed":    stats.Failed,
		}).Info("sla sweep finished")
	}
}
