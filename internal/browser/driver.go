// Package browser drives one remote Chromium session per run: conditional
// login, navigation to the grid page, the two chained UI filters, and
// extraction of the rendered grid into structured records.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"gridsync/internal/chrono"
	"gridsync/internal/config"
	"gridsync/internal/domain"
)

// Portal DOM contract. The grid is a Kendo-style data grid inside a fixed
// container, with a filter toolbar above it. Selector drift is a portal
// change, not something this package tries to heal.
const (
	gridContainerSel = "#records-grid"
	loadingMaskSel   = "div.k-loading-mask"

	statusFilterSel = "#grid-filter-status"
	statusApplySel  = "#grid-filter-status-apply"
	dateFromSel     = "#grid-filter-date-from"
	dateToSel       = "#grid-filter-date-to"
	dateApplySel    = "#grid-filter-date-apply"
	idFilterSel     = "#grid-filter-id"
	idApplySel      = "#grid-filter-id-apply"

	loginSubmitSel = "button[type='submit']"
)

// Login field selectors, first-present wins. The portal has shipped several
// variants of the login form.
var (
	usernameSelectors = []string{
		"input[name='userName']",
		"input[name='username']",
		"input#UserName",
		"input[type='text']",
	}
	passwordSelectors = []string{
		"input[name='password']",
		"input#Password",
		"input[type='password']",
	}
)

const userAgent = `Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36`

// Driver owns the Chromium launch settings and opens sessions. It holds no
// per-run state; each run gets a fresh Session.
type Driver struct {
	cfg    *config.Config
	clock  chrono.Clock
	logger *zap.Logger
}

func NewDriver(cfg *config.Config, clock chrono.Clock, logger *zap.Logger) *Driver {
	return &Driver{cfg: cfg, clock: clock, logger: logger}
}

// Open launches a headless Chromium, derives the browser context from ctx so
// caller cancellation tears the whole session down, and lands on the portal's
// base URL. The returned session must be closed on every exit path.
func (d *Driver) Open(ctx context.Context) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	sess := &Session{
		driver: d,
		ctx:    browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}
	sess.monitor = newNetworkMonitor(browserCtx)

	if err := sess.run(ctx,
		network.Enable(),
		chromedp.Navigate(d.cfg.PortalBaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		sess.Close()
		return nil, timeoutErr(err, "open portal")
	}

	d.logger.Info("browser session opened",
		zap.String("url", d.cfg.PortalBaseURL),
		zap.Bool("headless", d.cfg.Headless))
	return sess, nil
}

func (d *Driver) columns() columnLabels {
	return columnLabels{
		ID:     d.cfg.IDColumnLabel,
		Date:   d.cfg.DateColumnLabel,
		Status: d.cfg.StatusColumnLabel,
	}
}

// Session is one exclusive browsing context on the portal. Methods are not
// safe for concurrent use; a run drives the session sequentially.
type Session struct {
	driver    *Driver
	ctx       context.Context
	cancel    context.CancelFunc
	monitor   *networkMonitor
	closeOnce sync.Once
}

// Close releases the browser and its allocator. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// run executes chromedp actions against the session's tab, bounded by the
// per-wait timeout. ctx contributes only cancellation; the tab context
// carries the chromedp target.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(s.ctx, s.driver.cfg.WaitTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

// timeoutErr maps an expired wait to the navigation-timeout sentinel so the
// orchestrator can classify it; other errors pass through wrapped.
func timeoutErr(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, domain.ErrNavigationTimeout)
	}
	return fmt.Errorf("%s: %w", what, err)
}
