package browser

import (
	"context"
	"fmt"
	"time"

	"gridsync/internal/chrono"
	"gridsync/internal/domain"
)

// gridSample is one observation of the grid: whether its container exists,
// whether a loading mask is showing, and how many body rows it holds.
type gridSample struct {
	Found   bool `json:"found"`
	Loading bool `json:"loading"`
	Rows    int  `json:"rows"`
}

type sampleFunc func(ctx context.Context) (gridSample, error)

// waitForStableGrid polls until the grid is present, its loading mask is
// gone, and two consecutive samples report the same row count. A reappearing
// mask or a vanishing container resets the comparison, so a render that is
// still in flight cannot pass as stable.
func waitForStableGrid(ctx context.Context, sample sampleFunc, clock chrono.Clock, timeout, interval time.Duration) error {
	deadline := clock.Now().Add(timeout)
	prevRows := -1
	for {
		cur, err := sample(ctx)
		if err != nil {
			return err
		}
		if cur.Found && !cur.Loading {
			if prevRows == cur.Rows {
				return nil
			}
			prevRows = cur.Rows
		} else {
			prevRows = -1
		}
		if !clock.Now().Before(deadline) {
			return fmt.Errorf("grid did not stabilize within %s: %w", timeout, domain.ErrNavigationTimeout)
		}
		select {
		case <-clock.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
