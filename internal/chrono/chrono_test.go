package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAfterAdvancesAndRecords(t *testing.T) {
	start := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	clk := NewFake(start)

	select {
	case fired := <-clk.After(5 * time.Second):
		assert.Equal(t, start.Add(5*time.Second), fired)
	default:
		t.Fatal("fake After did not fire immediately")
	}

	<-clk.After(250 * time.Millisecond)

	require.Equal(t, []time.Duration{5 * time.Second, 250 * time.Millisecond}, clk.Waits())
	assert.Equal(t, start.Add(5*time.Second+250*time.Millisecond), clk.Now())
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	clk := NewFake(start)

	clk.Advance(time.Hour)

	assert.Equal(t, start.Add(time.Hour), clk.Now())
	assert.Empty(t, clk.Waits())
}
