// Package pipeline orchestrates an extraction run end to end: acquire the
// cross-process run lock, drive a browser session through login, navigation,
// and filtering, parse the rendered grid, validate rows against the run
// criteria, and persist the survivors in a single transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gridsync/internal/chrono"
	"gridsync/internal/config"
	"gridsync/internal/domain"
	"gridsync/internal/monitoring"
)

// Stage names reported in run results and metric labels.
const (
	StageLock        = "lock"
	StageSessionOpen = "session-open"
	StageAuth        = "authenticate"
	StageNavigate    = "navigate"
	StageFilter      = "filter"
	StageExtract     = "extract"
	StagePersist     = "persist"
)

// GridSession is one live browser session on the portal.
type GridSession interface {
	EnsureAuthenticated(ctx context.Context) error
	NavigateToGrid(ctx context.Context) error
	ApplyFilters(ctx context.Context, criteria domain.FilterCriteria) error
	ApplyIDFilter(ctx context.Context, externalID string) error
	ExtractGrid(ctx context.Context) ([]domain.GridRecord, int, error)
	Close() error
}

// SessionOpener launches a fresh browser session. Every retry attempt gets
// its own session, so no half-broken page state survives into the next try.
type SessionOpener interface {
	Open(ctx context.Context) (GridSession, error)
}

// OpenerFunc adapts a function to SessionOpener.
type OpenerFunc func(ctx context.Context) (GridSession, error)

func (f OpenerFunc) Open(ctx context.Context) (GridSession, error) { return f(ctx) }

// RecordStore is the persistence surface the pipeline and verifier need.
type RecordStore interface {
	UpsertBatch(ctx context.Context, records []domain.GridRecord, fetchedAt time.Time) (domain.UpsertSummary, error)
	ListRecent(ctx context.Context, from, to time.Time) ([]domain.StatusRow, error)
	UpdateStatus(ctx context.Context, externalID string, recordDate time.Time, oldStatus, newStatus string, fetchedAt time.Time) error
}

// RunRegistry coordinates runs across processes and keeps the last outcome.
// The token returned by a successful acquire identifies the owner; release
// only unlocks while that token still holds.
type RunRegistry interface {
	AcquireRunLock(ctx context.Context, ttl time.Duration) (token string, ok bool, err error)
	ReleaseRunLock(ctx context.Context, token string) error
	SaveLastRun(ctx context.Context, result domain.RunResult) error
}

type Pipeline struct {
	cfg      *config.Config
	sessions SessionOpener
	store    RecordStore
	registry RunRegistry
	clock    chrono.Clock
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

func New(cfg *config.Config, sessions SessionOpener, store RecordStore, registry RunRegistry,
	clock chrono.Clock, metrics *monitoring.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		registry: registry,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run executes one extraction run over the last days of records and reports
// what happened. days <= 0 falls back to the configured window. Run never
// panics across the browser boundary and always releases the lock it took;
// the returned result carries the failure when there is one.
func (p *Pipeline) Run(ctx context.Context, days int) domain.RunResult {
	if days <= 0 {
		days = p.cfg.DateRangeDays
	}
	result := domain.RunResult{StartedAt: p.clock.Now()}

	token, ok, err := p.registry.AcquireRunLock(ctx, p.cfg.RunLockTTL())
	if err != nil {
		return p.finish(ctx, result, StageLock, fmt.Errorf("acquire run lock: %w", err))
	}
	if !ok {
		return p.finish(ctx, result, StageLock, domain.ErrRunActive)
	}
	defer func() {
		if rerr := p.registry.ReleaseRunLock(context.WithoutCancel(ctx), token); rerr != nil {
			p.logger.Warn("run lock release failed, ttl will expire it", zap.Error(rerr))
		}
	}()

	// The window is anchored once; retries within the run reuse it.
	criteria := domain.NewFilterCriteria(p.cfg.StatusFilter, days, result.StartedAt)
	p.logger.Info("starting extraction run",
		zap.String("status", criteria.Status),
		zap.Time("from", criteria.From),
		zap.Time("to", criteria.To),
		zap.Int("max_attempts", p.cfg.MaxAttempts))

	records, parseSkips, stage, err := p.fetchWithRetry(ctx, criteria, &result)
	if err != nil {
		return p.finish(ctx, result, stage, err)
	}

	result.RecordsSeen = len(records) + parseSkips
	result.RecordsSkipped = parseSkips
	p.metrics.AddRowsExtracted(result.RecordsSeen)
	if parseSkips > 0 {
		p.metrics.AddRowsSkipped("parse", parseSkips)
	}

	valid := p.validate(records, criteria, &result)
	if len(valid) == 0 {
		p.logger.Info("no records matched the run criteria, nothing to persist")
		return p.finish(ctx, result, "", nil)
	}

	summary, err := p.store.UpsertBatch(ctx, valid, p.clock.Now())
	if err != nil {
		return p.finish(ctx, result, StagePersist, err)
	}
	result.Inserted = summary.Inserted
	result.Updated = summary.Updated
	p.metrics.AddUpserts(summary.Inserted, summary.Updated)

	return p.finish(ctx, result, "", nil)
}

// fetchWithRetry runs the browser span (open through extract) up to
// MaxAttempts times, each on a fresh session with a fixed backoff between
// tries. Persistence is outside this loop on purpose: a failed write is
// never retried.
func (p *Pipeline) fetchWithRetry(ctx context.Context, criteria domain.FilterCriteria,
	result *domain.RunResult) ([]domain.GridRecord, int, string, error) {

	var lastStage string
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			p.logger.Info("retrying extraction on a fresh session",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", p.cfg.RetryBackoff()))
			select {
			case <-p.clock.After(p.cfg.RetryBackoff()):
			case <-ctx.Done():
				return nil, 0, lastStage, lastErr
			}
		}
		result.Attempts = attempt
		p.metrics.IncBrowserAttempt()

		records, skipped, stage, err := p.fetchOnce(ctx, criteria)
		if err == nil {
			return records, skipped, "", nil
		}
		lastStage, lastErr = stage, err
		p.metrics.IncStageError(stage)
		p.logger.Warn("extraction attempt failed",
			zap.Int("attempt", attempt),
			zap.String("stage", stage),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, 0, lastStage, lastErr
}

func (p *Pipeline) fetchOnce(ctx context.Context, criteria domain.FilterCriteria) ([]domain.GridRecord, int, string, error) {
	sess, err := p.sessions.Open(ctx)
	if err != nil {
		return nil, 0, StageSessionOpen, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			p.logger.Warn("browser session close failed", zap.Error(cerr))
		}
	}()

	if err := sess.EnsureAuthenticated(ctx); err != nil {
		return nil, 0, StageAuth, err
	}
	if err := sess.NavigateToGrid(ctx); err != nil {
		return nil, 0, StageNavigate, err
	}
	if err := sess.ApplyFilters(ctx, criteria); err != nil {
		return nil, 0, StageFilter, err
	}
	records, skipped, err := sess.ExtractGrid(ctx)
	if err != nil {
		return nil, 0, StageExtract, err
	}
	return records, skipped, "", nil
}

// validate drops extracted rows the portal should not have returned: wrong
// status first, then dates outside the window. Drops are counted, logged,
// and never fail the run.
func (p *Pipeline) validate(records []domain.GridRecord, criteria domain.FilterCriteria,
	result *domain.RunResult) []domain.GridRecord {

	valid := records[:0]
	var statusDrops, windowDrops int
	for _, rec := range records {
		switch {
		case !criteria.MatchesStatus(rec.Status):
			statusDrops++
			p.logger.Warn("dropping record outside status filter",
				zap.String("external_id", rec.ExternalID),
				zap.String("status", rec.Status))
		case !criteria.MatchesDate(rec.RecordDate):
			windowDrops++
			p.logger.Warn("dropping record outside date window",
				zap.String("external_id", rec.ExternalID),
				zap.Time("record_date", rec.RecordDate))
		default:
			valid = append(valid, rec)
		}
	}
	if statusDrops > 0 {
		p.metrics.AddRowsSkipped("status", statusDrops)
	}
	if windowDrops > 0 {
		p.metrics.AddRowsSkipped("window", windowDrops)
	}
	result.RecordsSkipped += statusDrops + windowDrops
	return valid
}

// finish stamps the result, records metrics, saves the outcome for the API,
// and emits the run's closing log line.
func (p *Pipeline) finish(ctx context.Context, result domain.RunResult, stage string, err error) domain.RunResult {
	result.Duration = p.clock.Now().Sub(result.StartedAt)
	if err != nil {
		result.Outcome = domain.OutcomeFailed
		result.FailedStage = stage
		result.Error = err.Error()
		result.Err = err
		// Browser stages are already counted per attempt.
		if stage == StageLock || stage == StagePersist {
			p.metrics.IncStageError(stage)
		}
	} else {
		result.Outcome = domain.OutcomeSuccess
	}
	p.metrics.IncRun(result.Outcome)
	p.metrics.ObserveRunDuration(result.Duration)

	// A run rejected by the lock must not overwrite the live run's record.
	if !errors.Is(err, domain.ErrRunActive) {
		if serr := p.registry.SaveLastRun(context.WithoutCancel(ctx), result); serr != nil {
			p.logger.Warn("could not record run outcome", zap.Error(serr))
		}
	}

	if err != nil {
		p.logger.Error("extraction run failed",
			zap.String("stage", stage),
			zap.Int("attempts", result.Attempts),
			zap.Duration("duration", result.Duration),
			zap.Error(err))
	} else {
		p.logger.Info("extraction run finished",
			zap.Int("attempts", result.Attempts),
			zap.Int("records_seen", result.RecordsSeen),
			zap.Int("records_skipped", result.RecordsSkipped),
			zap.Int("inserted", result.Inserted),
			zap.Int("updated", result.Updated),
			zap.Duration("duration", result.Duration))
	}
	return result
}
