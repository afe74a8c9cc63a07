package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"gridsync/internal/domain"
)

// gridSampleJS reports the grid container, its loading mask, and the current
// row count in one round trip. A mask that exists but is hidden does not
// count as loading.
var gridSampleJS = fmt.Sprintf(`(() => {
	const grid = document.querySelector(%q);
	if (!grid) {
		return { found: false, loading: false, rows: 0 };
	}
	let loading = false;
	for (const mask of grid.querySelectorAll(%q)) {
		if (window.getComputedStyle(mask).display !== "none") {
			loading = true;
			break;
		}
	}
	return {
		found: true,
		loading: loading,
		rows: grid.querySelectorAll("tbody tr").length,
	};
})()`, gridContainerSel, loadingMaskSel)

func (s *Session) sampleGrid(ctx context.Context) (gridSample, error) {
	var sample gridSample
	if err := s.run(ctx, chromedp.Evaluate(gridSampleJS, &sample)); err != nil {
		return gridSample{}, timeoutErr(err, "sample grid state")
	}
	return sample, nil
}

// stabilize blocks until the loading mask is gone and the row count stops
// changing between consecutive samples.
func (s *Session) stabilize(ctx context.Context) error {
	return waitForStableGrid(ctx, s.sampleGrid, s.driver.clock,
		s.driver.cfg.WaitTimeout(), s.driver.cfg.PollInterval())
}

// ApplyFilters narrows the grid to the run's criteria: status text first,
// then the date window. Each filter waits for the grid to re-render before
// the next one is touched, so the second filter acts on already-narrowed
// rows.
func (s *Session) ApplyFilters(ctx context.Context, criteria domain.FilterCriteria) error {
	if err := s.dismissOverlays(ctx); err != nil {
		s.driver.logger.Warn("overlay dismissal failed, clicks may be blocked", zap.Error(err))
	}

	if err := s.applyStatusFilter(ctx, criteria.Status); err != nil {
		return &domain.FilterError{Stage: domain.FilterStageStatus, Err: err}
	}
	if err := s.applyDateFilter(ctx, criteria.From, criteria.To); err != nil {
		return &domain.FilterError{Stage: domain.FilterStageDate, Err: err}
	}
	return nil
}

func (s *Session) applyStatusFilter(ctx context.Context, status string) error {
	s.driver.logger.Info("applying status filter", zap.String("status", status))
	if err := s.run(ctx,
		chromedp.WaitVisible(statusFilterSel, chromedp.ByQuery),
		chromedp.Clear(statusFilterSel, chromedp.ByQuery),
		chromedp.SendKeys(statusFilterSel, status, chromedp.ByQuery),
		chromedp.Click(statusApplySel, chromedp.ByQuery),
	); err != nil {
		return timeoutErr(err, "drive status filter controls")
	}
	return s.stabilize(ctx)
}

func (s *Session) applyDateFilter(ctx context.Context, from, to time.Time) error {
	layout := s.driver.cfg.DateFormat
	fromText := from.Format(layout)
	toText := to.Format(layout)

	s.driver.logger.Info("applying date filter",
		zap.String("from", fromText), zap.String("to", toText))
	if err := s.run(ctx,
		chromedp.WaitVisible(dateFromSel, chromedp.ByQuery),
		chromedp.Clear(dateFromSel, chromedp.ByQuery),
		chromedp.SendKeys(dateFromSel, fromText, chromedp.ByQuery),
		chromedp.Clear(dateToSel, chromedp.ByQuery),
		chromedp.SendKeys(dateToSel, toText, chromedp.ByQuery),
		chromedp.Click(dateApplySel, chromedp.ByQuery),
	); err != nil {
		return timeoutErr(err, "drive date filter controls")
	}
	return s.stabilize(ctx)
}

// ApplyIDFilter narrows the grid to a single external id. Used by the
// verifier to look up one record at a time.
func (s *Session) ApplyIDFilter(ctx context.Context, externalID string) error {
	s.driver.logger.Debug("applying id filter", zap.String("external_id", externalID))
	if err := s.run(ctx,
		chromedp.WaitVisible(idFilterSel, chromedp.ByQuery),
		chromedp.Clear(idFilterSel, chromedp.ByQuery),
		chromedp.SendKeys(idFilterSel, externalID, chromedp.ByQuery),
		chromedp.Click(idApplySel, chromedp.ByQuery),
	); err != nil {
		return &domain.FilterError{Stage: domain.FilterStageID, Err: timeoutErr(err, "drive id filter controls")}
	}
	if err := s.stabilize(ctx); err != nil {
		return &domain.FilterError{Stage: domain.FilterStageID, Err: err}
	}
	return nil
}
