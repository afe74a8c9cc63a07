package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsync/internal/chrono"
	"gridsync/internal/domain"
)

// scriptedSampler replays the given samples in order, repeating the last one
// once the script runs out.
func scriptedSampler(samples []gridSample) sampleFunc {
	i := 0
	return func(context.Context) (gridSample, error) {
		s := samples[i]
		if i < len(samples)-1 {
			i++
		}
		return s, nil
	}
}

func TestWaitForStableGridSettles(t *testing.T) {
	tests := []struct {
		name      string
		samples   []gridSample
		wantWaits int
	}{
		{
			name: "settles once two samples agree",
			samples: []gridSample{
				{Found: true, Loading: true, Rows: 0},
				{Found: true, Loading: false, Rows: 3},
				{Found: true, Loading: false, Rows: 5},
				{Found: true, Loading: false, Rows: 5},
			},
			wantWaits: 3,
		},
		{
			name: "reappearing mask resets the comparison",
			samples: []gridSample{
				{Found: true, Loading: false, Rows: 5},
				{Found: true, Loading: true, Rows: 5},
				{Found: true, Loading: false, Rows: 5},
				{Found: true, Loading: false, Rows: 5},
			},
			wantWaits: 3,
		},
		{
			name: "vanishing container resets the comparison",
			samples: []gridSample{
				{Found: true, Loading: false, Rows: 2},
				{Found: false},
				{Found: true, Loading: false, Rows: 2},
				{Found: true, Loading: false, Rows: 2},
			},
			wantWaits: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := chrono.NewFake(time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC))
			err := waitForStableGrid(context.Background(), scriptedSampler(tt.samples), clock,
				10*time.Second, 250*time.Millisecond)
			require.NoError(t, err)
			assert.Len(t, clock.Waits(), tt.wantWaits)
		})
	}
}

func TestWaitForStableGridTimesOut(t *testing.T) {
	clock := chrono.NewFake(time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC))
	stuck := scriptedSampler([]gridSample{{Found: true, Loading: true}})

	err := waitForStableGrid(context.Background(), stuck, clock, time.Second, 250*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNavigationTimeout)
}

func TestWaitForStableGridSamplerError(t *testing.T) {
	boom := errors.New("target crashed")
	sampler := func(context.Context) (gridSample, error) { return gridSample{}, boom }
	clock := chrono.NewFake(time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC))

	err := waitForStableGrid(context.Background(), sampler, clock, time.Second, 250*time.Millisecond)
	assert.ErrorIs(t, err, boom)
}
