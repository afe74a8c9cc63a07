package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"gridsync/internal/domain"
)

// A visible password input is the signal that the portal is asking for
// credentials; its absence means the session is already authenticated.
const loginProbeJS = `document.querySelector("input[type='password']") !== null`

// How long the wire has to stay silent after a login submit before the page
// is considered landed.
const networkQuietWindow = 500 * time.Millisecond

// EnsureAuthenticated checks whether the current page shows the login form
// and, only if it does, submits the stored credentials and waits for the
// post-login landing signal. A session that is already authenticated is left
// untouched.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	var loginVisible bool
	if err := s.run(ctx, chromedp.Evaluate(loginProbeJS, &loginVisible)); err != nil {
		return timeoutErr(err, "probe login form")
	}
	if !loginVisible {
		s.driver.logger.Info("session already authenticated, skipping login")
		return nil
	}

	userSel, err := s.firstPresent(ctx, usernameSelectors)
	if err != nil {
		return fmt.Errorf("locate username field: %w", err)
	}
	passSel, err := s.firstPresent(ctx, passwordSelectors)
	if err != nil {
		return fmt.Errorf("locate password field: %w", err)
	}

	s.driver.logger.Info("logging into portal", zap.String("username_field", userSel))
	if err := s.run(ctx,
		chromedp.WaitVisible(userSel, chromedp.ByQuery),
		chromedp.SendKeys(userSel, s.driver.cfg.PortalUsername, chromedp.ByQuery),
		chromedp.SendKeys(passSel, s.driver.cfg.PortalPassword, chromedp.ByQuery),
		chromedp.Click(loginSubmitSel, chromedp.ByQuery),
	); err != nil {
		return timeoutErr(err, "submit login form")
	}

	if err := s.monitor.waitQuiet(ctx, s.driver.clock, networkQuietWindow,
		s.driver.cfg.PollInterval(), s.driver.cfg.WaitTimeout()); err != nil {
		return fmt.Errorf("post-login settle: %w", err)
	}
	if err := s.waitForLanding(ctx); err != nil {
		return err
	}

	// Login can land on a dashboard; go back to where the run expects to be.
	if err := s.run(ctx,
		chromedp.Navigate(s.driver.cfg.PortalBaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return timeoutErr(err, "return to base url")
	}
	s.driver.logger.Info("login completed")
	return nil
}

// firstPresent returns the first candidate selector that matches an element
// on the current page.
func (s *Session) firstPresent(ctx context.Context, selectors []string) (string, error) {
	for _, sel := range selectors {
		var present bool
		expr := fmt.Sprintf("document.querySelector(%q) !== null", sel)
		if err := s.run(ctx, chromedp.Evaluate(expr, &present)); err != nil {
			return "", timeoutErr(err, fmt.Sprintf("probe selector %s", sel))
		}
		if present {
			return sel, nil
		}
	}
	return "", fmt.Errorf("none of %v present on page", selectors)
}

// waitForLanding polls until the login form is gone, bounded by the per-wait
// timeout.
func (s *Session) waitForLanding(ctx context.Context) error {
	clock := s.driver.clock
	deadline := clock.Now().Add(s.driver.cfg.WaitTimeout())
	for {
		var loginVisible bool
		if err := s.run(ctx, chromedp.Evaluate(loginProbeJS, &loginVisible)); err != nil {
			return timeoutErr(err, "probe post-login page")
		}
		if !loginVisible {
			return nil
		}
		if !clock.Now().Before(deadline) {
			return fmt.Errorf("login form still present after submit: %w", domain.ErrNavigationTimeout)
		}
		select {
		case <-clock.After(s.driver.cfg.PollInterval()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// NavigateToGrid opens the grid page and waits until the grid container
// exists in the DOM, then lets the initial render settle.
func (s *Session) NavigateToGrid(ctx context.Context) error {
	gridURL := s.driver.cfg.PortalGridURL
	if gridURL == "" {
		gridURL = s.driver.cfg.PortalBaseURL
	}

	s.driver.logger.Info("navigating to grid page", zap.String("url", gridURL))
	if err := s.run(ctx,
		chromedp.Navigate(gridURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return timeoutErr(err, "navigate to grid page")
	}

	if err := s.waitForGrid(ctx); err != nil {
		s.dumpSnapshot(ctx, "grid-missing")
		return err
	}
	return s.stabilize(ctx)
}

// waitForGrid polls for the grid container, bounded by the per-wait timeout.
func (s *Session) waitForGrid(ctx context.Context) error {
	clock := s.driver.clock
	deadline := clock.Now().Add(s.driver.cfg.WaitTimeout())
	for {
		sample, err := s.sampleGrid(ctx)
		if err != nil {
			return err
		}
		if sample.Found {
			return nil
		}
		if !clock.Now().Before(deadline) {
			return fmt.Errorf("grid container never appeared: %w", domain.ErrNavigationTimeout)
		}
		select {
		case <-clock.After(s.driver.cfg.PollInterval()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ExtractGrid snapshots the grid container once and parses it into records.
// The snapshot is read-once: re-extraction requires re-navigating and
// re-filtering. Zero rows is a valid outcome, not an error.
func (s *Session) ExtractGrid(ctx context.Context) ([]domain.GridRecord, int, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML(gridContainerSel, &html, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.dumpSnapshot(ctx, "extract-grid-missing")
			return nil, 0, fmt.Errorf("snapshot grid container: %w", domain.ErrGridNotFound)
		}
		return nil, 0, fmt.Errorf("snapshot grid container: %w", err)
	}

	records, skipped, err := parseGrid(html, s.driver.columns(), s.driver.cfg.DateFormat, s.driver.logger)
	if err != nil {
		s.dumpSnapshot(ctx, "extract-no-columns")
		return nil, 0, err
	}
	s.driver.logger.Info("extracted grid rows",
		zap.Int("records", len(records)),
		zap.Int("skipped", skipped))
	return records, skipped, nil
}

// dismissOverlays hides nuisance widgets (guided tours, chat bubbles) by
// injecting a style tag, so they cannot swallow clicks meant for the filter
// controls. Selectors come from configuration; no-op when none are set.
func (s *Session) dismissOverlays(ctx context.Context) error {
	selectors := s.driver.cfg.OverlaySelectorList()
	if len(selectors) == 0 {
		return nil
	}
	css := fmt.Sprintf("%s { display: none !important; }", strings.Join(selectors, ", "))
	js := fmt.Sprintf(
		`(() => { const style = document.createElement("style"); style.textContent = %q; document.head.appendChild(style); return true; })()`,
		css,
	)
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("inject overlay style: %w", err)
	}
	s.driver.logger.Debug("nuisance overlays hidden", zap.Strings("selectors", selectors))
	return nil
}

// dumpSnapshot writes the current page HTML for postmortem debugging.
// Disabled when no snapshot directory is configured; failures here never
// mask the error that triggered the dump.
func (s *Session) dumpSnapshot(ctx context.Context, label string) {
	dir := s.driver.cfg.DebugSnapshotDir
	if dir == "" {
		return
	}
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		s.driver.logger.Warn("debug snapshot capture failed", zap.Error(err))
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("debug_%s_%d.html", label, s.driver.clock.Now().Unix()))
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		s.driver.logger.Warn("debug snapshot write failed", zap.String("path", path), zap.Error(err))
		return
	}
	s.driver.logger.Error("saved debug snapshot for troubleshooting", zap.String("path", path))
}
