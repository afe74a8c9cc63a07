package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gridsync/internal/domain"
)

func newVerifyRig(factory func(attempt int) (*fakeSession, error)) (*rig, *Verifier) {
	r := newRig(factory)
	v := NewVerifier(r.cfg, r.opener, r.store, r.clock, r.metrics, zap.NewNop())
	return r, v
}

func seedRows(t *testing.T, store *memStore, records ...domain.GridRecord) {
	t.Helper()
	_, err := store.UpsertBatch(context.Background(), records, testStart.Add(-time.Hour))
	require.NoError(t, err)
}

func TestVerifierCorrectsDrift(t *testing.T) {
	dateA := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	dateB := time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC)
	sess := &fakeSession{statusByID: map[string]string{
		"AB-1001": "closed",
		"AB-1002": "pro",
	}}
	r, v := newVerifyRig(singleSession(sess))
	seedRows(t, r.store,
		rec("AB-1001", dateA, "pro"),
		rec("AB-1002", dateB, "pro"),
	)

	summary, err := v.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, r.opener.opens, "one session serves the whole pass")
	assert.True(t, sess.closed)
	assert.Equal(t, []string{"AB-1001", "AB-1002"}, sess.idFilters)

	_, stale := r.store.get("AB-1001", dateA, "pro")
	assert.False(t, stale, "the drifted row must move to its new status")
	row, ok := r.store.get("AB-1001", dateA, "closed")
	require.True(t, ok)
	assert.Equal(t, "closed", row.Status)
	assert.True(t, row.FetchedAt.Equal(r.clock.Now()))

	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.VerifyResults.WithLabelValues("updated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.VerifyResults.WithLabelValues("unchanged")))
}

func TestVerifierCountsLookupFailures(t *testing.T) {
	dateA := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	dateB := time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC)
	// AB-1001 never shows up in the grid; its lookups exhaust every attempt.
	sess := &fakeSession{statusByID: map[string]string{"AB-1002": "pro"}}
	r, v := newVerifyRig(singleSession(sess))
	seedRows(t, r.store,
		rec("AB-1001", dateA, "pro"),
		rec("AB-1002", dateB, "pro"),
	)

	summary, err := v.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Zero(t, summary.Updated)
	// Three tries for the missing row, one for the healthy one.
	assert.Len(t, sess.idFilters, 4)
}

func TestVerifierRetriesFlakyFilter(t *testing.T) {
	date := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	sess := &fakeSession{
		statusByID:    map[string]string{"AB-1001": "pro"},
		idFilterFails: 1,
	}
	r, v := newVerifyRig(singleSession(sess))
	seedRows(t, r.store, rec("AB-1001", date, "pro"))

	summary, err := v.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Unchanged)
	assert.Zero(t, summary.Failed)
	assert.Len(t, sess.idFilters, 2)
	require.Len(t, r.clock.Waits(), 1)
	assert.Equal(t, 250*time.Millisecond, r.clock.Waits()[0])
}

func TestVerifierEmptyWindow(t *testing.T) {
	r, v := newVerifyRig(singleSession(&fakeSession{}))

	summary, err := v.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Zero(t, summary.Checked)
	assert.Zero(t, r.opener.opens, "no browser session without rows to verify")
}

func TestVerifierListError(t *testing.T) {
	r, v := newVerifyRig(singleSession(&fakeSession{}))
	r.store.listErr = errors.New("connection reset")

	_, err := v.Run(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list rows to verify")
}

func TestVerifierSessionErrorsAbortPass(t *testing.T) {
	date := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	navErr := errors.New("grid page unreachable")
	r, v := newVerifyRig(singleSession(&fakeSession{navErr: navErr}))
	seedRows(t, r.store, rec("AB-1001", date, "pro"))

	summary, err := v.Run(context.Background(), 0)
	assert.ErrorIs(t, err, navErr)
	assert.Zero(t, summary.Checked)
}

func TestVerifierUpdateFailureCounted(t *testing.T) {
	date := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	sess := &fakeSession{statusByID: map[string]string{"AB-1001": "closed"}}
	r, v := newVerifyRig(singleSession(sess))
	seedRows(t, r.store, rec("AB-1001", date, "pro"))
	r.store.updateErr = errors.New("row locked")

	summary, err := v.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Updated)
	_, ok := r.store.get("AB-1001", date, "pro")
	assert.True(t, ok, "the stored row must be untouched after a failed correction")
}

func TestVerifierStatusCollisionCountsFailed(t *testing.T) {
	date := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	// The same record was captured under both statuses; the live grid says
	// "pro", so correcting the "closed" row would rekey onto the existing one.
	sess := &fakeSession{statusByID: map[string]string{"AB-1001": "pro"}}
	r, v := newVerifyRig(singleSession(sess))
	seedRows(t, r.store,
		rec("AB-1001", date, "pro"),
		rec("AB-1001", date, "closed"),
	)

	summary, err := v.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Updated)

	row, ok := r.store.get("AB-1001", date, "closed")
	require.True(t, ok, "the conflicting row must survive the failed correction")
	assert.True(t, row.FetchedAt.Equal(testStart.Add(-time.Hour)))
	_, ok = r.store.get("AB-1001", date, "pro")
	assert.True(t, ok)
	assert.Len(t, r.store.rows, 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.VerifyResults.WithLabelValues("failed")))
}
