package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gridsync/internal/chrono"
	"gridsync/internal/config"
	"gridsync/internal/domain"
	"gridsync/internal/monitoring"
)

// Verifier re-checks recently persisted rows against the live grid and
// corrects status drift. It reuses one authenticated session for the whole
// pass, narrowing the grid to one external id at a time.
type Verifier struct {
	cfg      *config.Config
	sessions SessionOpener
	store    RecordStore
	clock    chrono.Clock
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

func NewVerifier(cfg *config.Config, sessions SessionOpener, store RecordStore,
	clock chrono.Clock, metrics *monitoring.Metrics, logger *zap.Logger) *Verifier {
	return &Verifier{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run verifies every stored row whose record date falls inside the last days
// and returns the tally. Per-row lookup failures are counted, not fatal; an
// error return means the pass itself could not proceed.
func (v *Verifier) Run(ctx context.Context, days int) (summary domain.VerifySummary, err error) {
	if days <= 0 {
		days = v.cfg.DateRangeDays
	}
	summary.StartedAt = v.clock.Now()
	defer func() {
		summary.Duration = v.clock.Now().Sub(summary.StartedAt)
	}()

	window := domain.NewFilterCriteria(v.cfg.StatusFilter, days, summary.StartedAt)
	rows, err := v.store.ListRecent(ctx, window.From, window.To)
	if err != nil {
		return summary, fmt.Errorf("list rows to verify: %w", err)
	}
	if len(rows) == 0 {
		v.logger.Info("no stored rows inside the verification window")
		return summary, nil
	}
	v.logger.Info("starting verification pass",
		zap.Int("rows", len(rows)),
		zap.Time("from", window.From),
		zap.Time("to", window.To))

	sess, err := v.sessions.Open(ctx)
	if err != nil {
		return summary, fmt.Errorf("open verification session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			v.logger.Warn("browser session close failed", zap.Error(cerr))
		}
	}()
	if err := sess.EnsureAuthenticated(ctx); err != nil {
		return summary, err
	}
	if err := sess.NavigateToGrid(ctx); err != nil {
		return summary, err
	}

	for _, row := range rows {
		if cerr := ctx.Err(); cerr != nil {
			return summary, cerr
		}
		summary.Checked++

		live, lerr := v.lookupStatus(ctx, sess, row.ExternalID)
		if lerr != nil {
			summary.Failed++
			v.metrics.IncVerifyResult("failed")
			v.logger.Error("verification lookup failed",
				zap.String("external_id", row.ExternalID), zap.Error(lerr))
			continue
		}
		if live == row.Status {
			summary.Unchanged++
			v.metrics.IncVerifyResult("unchanged")
			continue
		}
		if uerr := v.store.UpdateStatus(ctx, row.ExternalID, row.RecordDate,
			row.Status, live, v.clock.Now()); uerr != nil {
			summary.Failed++
			v.metrics.IncVerifyResult("failed")
			v.logger.Error("status correction failed",
				zap.String("external_id", row.ExternalID), zap.Error(uerr))
			continue
		}
		summary.Updated++
		v.metrics.IncVerifyResult("updated")
		v.logger.Info("status drift corrected",
			zap.String("external_id", row.ExternalID),
			zap.String("from", row.Status),
			zap.String("to", live))
	}

	v.logger.Info("verification pass finished",
		zap.Int("checked", summary.Checked),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// lookupStatus narrows the grid to one external id and reads its live
// status, retrying the filter a few times before giving up on the row.
func (v *Verifier) lookupStatus(ctx context.Context, sess GridSession, externalID string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= v.cfg.VerifyAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-v.clock.After(v.cfg.PollInterval()):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := sess.ApplyIDFilter(ctx, externalID); err != nil {
			lastErr = err
			continue
		}
		records, _, err := sess.ExtractGrid(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if len(records) == 0 {
			lastErr = fmt.Errorf("no grid row matches id %s", externalID)
			continue
		}
		if len(records) > 1 {
			v.logger.Warn("id filter matched multiple rows, using the first",
				zap.String("external_id", externalID),
				zap.Int("rows", len(records)))
		}
		return records[0].Status, nil
	}
	return "", lastErr
}
