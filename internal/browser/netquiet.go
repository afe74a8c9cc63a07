package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"gridsync/internal/chrono"
)

// networkMonitor tracks in-flight requests on a browser target so callers
// can wait for the wire to go quiet after actions that fire XHR traffic,
// such as a login submit.
type networkMonitor struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
}

func newNetworkMonitor(ctx context.Context) *networkMonitor {
	m := &networkMonitor{inflight: make(map[network.RequestID]struct{})}
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			m.requestStarted(e.RequestID)
		case *network.EventLoadingFinished:
			m.requestFinished(e.RequestID)
		case *network.EventLoadingFailed:
			m.requestFinished(e.RequestID)
		}
	})
	return m
}

func (m *networkMonitor) requestStarted(id network.RequestID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[id] = struct{}{}
}

func (m *networkMonitor) requestFinished(id network.RequestID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, id)
}

func (m *networkMonitor) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// waitQuiet blocks until no request has been in flight for quietFor,
// sampling every interval and giving up after timeout. A fresh request
// resets the quiet window.
func (m *networkMonitor) waitQuiet(ctx context.Context, clock chrono.Clock, quietFor, interval, timeout time.Duration) error {
	deadline := clock.Now().Add(timeout)
	var quietSince time.Time
	for {
		now := clock.Now()
		if m.pending() == 0 {
			if quietSince.IsZero() {
				quietSince = now
			}
			if now.Sub(quietSince) >= quietFor {
				return nil
			}
		} else {
			quietSince = time.Time{}
		}
		if !now.Before(deadline) {
			return fmt.Errorf("network still busy after %s (%d requests in flight)", timeout, m.pending())
		}
		select {
		case <-clock.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
