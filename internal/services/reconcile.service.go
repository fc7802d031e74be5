package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/nimasrn/visit-reminders/pkg/prom"
)

type StatusLogStore interface {
	ListUnprocessed(ctx context.Context, providerMessageID string) ([]*model.StatusLogEntry, error)
	ListStaleProviderIDs(ctx context.Context, before time.Time, limit int) ([]string, error)
	CountUnprocessed(ctx context.Context, before time.Time) (int64, error)
	Claim(ctx context.Context, id, messageID int64, at time.Time) (bool, error)
}

type MessageStatusStore interface {
	GetByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error)
	ApplyStatus(ctx context.Context, id int64, status model.MessageStatus) (bool, error)
	SetError(ctx context.Context, id int64, errText string) error
}

type ReconcileConfig struct {
	// Cutoff is how old an unprocessed entry must be before the sweep takes it.
	Cutoff    time.Duration
	BatchSize int
}

// ReconcileService folds the status log into message statuses. Any number of
// instances may run at once; claims on log entries keep them from applying
// the same callback twice.
type ReconcileService struct {
	log      StatusLogStore
	messages MessageStatusStore
	tx       Transactor
	cfg      ReconcileConfig
	now      func() time.Time
}

func NewReconcileService(log StatusLogStore, messages MessageStatusStore, tx Transactor, cfg ReconcileConfig) *ReconcileService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &ReconcileService{
		log:      log,
		messages: messages,
		tx:       tx,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileProviderMessage applies every unprocessed callback for one provider
// message id right away.
func (s *ReconcileService) ReconcileProviderMessage(ctx context.Context, providerMessageID string) (*model.ReconcileOutcome, error) {
	return s.reconcile(ctx, providerMessageID, model.ReconcileModeImmediate)
}

// Sweep picks up callbacks that were logged before their message existed, or
// whose immediate pass failed.
func (s *ReconcileService) Sweep(ctx context.Context) *model.SweepReport {
	started := s.now()
	report := &model.SweepReport{StartedAt: started, Cutoff: started.Add(-s.cfg.Cutoff)}
	defer func() {
		report.Duration = time.Since(started)
		prom.AddSweepDuration(report.Duration.Seconds())
		if report.Groups > 0 || report.Failed > 0 {
			logger.Info("Sweep finished", "groups", report.Groups, "claimed", report.Claimed, "applied", report.Applied,
				"skipped", report.Skipped, "failed", report.Failed, "duration", report.Duration)
		}
	}()

	ids, err := s.log.ListStaleProviderIDs(ctx, report.Cutoff, s.cfg.BatchSize)
	if err != nil {
		logger.Error("Sweep could not list stale entries", "error", err)
		report.Failed++
		return report
	}
	report.Groups = len(ids)

	for _, pid := range ids {
		if ctx.Err() != nil {
			break
		}
		out, err := s.reconcile(ctx, pid, model.ReconcileModeSweep)
		if err != nil {
			logger.Warn("Sweep reconcile failed", "provider_message_id", pid, "error", err)
			report.Failed++
			continue
		}
		if out.MessageMissing {
			report.Skipped++
			continue
		}
		report.Claimed += out.Claimed
		if out.Applied {
			report.Applied++
		}
	}

	if n, err := s.log.CountUnprocessed(ctx, report.Cutoff); err == nil {
		prom.SetSweepBacklog("stale", int(n))
	}

	return report
}

// reconcile does the lookup, claim and apply inside one transaction so every
// read sees the primary, including rows committed a moment ago by the sender.
func (s *ReconcileService) reconcile(ctx context.Context, pid string, mode model.ReconcileMode) (*model.ReconcileOutcome, error) {
	out := &model.ReconcileOutcome{ProviderMessageID: pid}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		entries, err := s.log.ListUnprocessed(ctx, pid)
		if err != nil {
			return fmt.Errorf("list status log: %w", err)
		}
		out.Entries = len(entries)
		if len(entries) == 0 {
			return nil
		}

		msg, err := s.messages.GetByProviderID(ctx, pid)
		if errors.Is(err, repository.ErrMessageNotFound) {
			// entries stay unprocessed for a later pass
			out.MessageMissing = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("find message: %w", err)
		}
		out.MessageID = &msg.ID

		now := s.now()
		claimed := make([]*model.StatusLogEntry, 0, len(entries))
		for _, e := range entries {
			ok, err := s.log.Claim(ctx, e.ID, msg.ID, now)
			if err != nil {
				return fmt.Errorf("claim entry %d: %w", e.ID, err)
			}
			if ok {
				claimed = append(claimed, e)
			}
		}
		out.Claimed = len(claimed)

		winner := model.BestStatusEntry(claimed)
		if winner == nil {
			return nil
		}
		out.Winner = winner.Status

		applied, err := s.messages.ApplyStatus(ctx, msg.ID, winner.Status)
		if err != nil {
			return fmt.Errorf("apply status: %w", err)
		}
		out.Applied = applied

		if winner.Status == model.MessageStatusFailed {
			if text := model.FormatProviderErrors(winner.ErrorPayload); text != "" {
				if err := s.messages.SetError(ctx, msg.ID, text); err != nil {
					return fmt.Errorf("set error: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		prom.IncReconcileOutcome(string(mode), "error")
		return nil, err
	}

	switch {
	case out.Entries == 0:
		prom.IncReconcileOutcome(string(mode), "empty")
		return out, nil
	case out.MessageMissing:
		prom.IncReconcileOutcome(string(mode), "missing")
		return out, nil
	case out.Applied:
		prom.IncReconcileOutcome(string(mode), "applied")
	case out.Claimed == 0:
		prom.IncReconcileOutcome(string(mode), "raced")
	default:
		prom.IncReconcileOutcome(string(mode), "stale")
	}
	logger.Debug("Reconciled provider message", "mode", mode, "provider_message_id", pid, "claimed", out.Claimed, "winner", out.Winner, "applied", out.Applied)
	return out, nil
}
