package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFilterCriteria(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)

	c := NewFilterCriteria("  pro ", 30, now)
	assert.Equal(t, "pro", c.Status)
	assert.Equal(t, time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC), c.From)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), c.To)
}

func TestNewFilterCriteriaClampsDays(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	for _, days := range []int{0, -7} {
		c := NewFilterCriteria("pro", days, now)
		assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), c.From, "days=%d", days)
		assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), c.To, "days=%d", days)
	}
}

func TestMatchesDateInclusiveBounds(t *testing.T) {
	c := NewFilterCriteria("pro", 30, time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC))

	tests := []struct {
		name string
		d    time.Time
		want bool
	}{
		{"lower bound", time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC), true},
		{"upper bound", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"inside with time component", time.Date(2024, 3, 1, 18, 4, 0, 0, time.UTC), true},
		{"day before window", time.Date(2024, 2, 13, 23, 59, 0, 0, time.UTC), false},
		{"day after window", time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.MatchesDate(tt.d))
		})
	}
}

func TestMatchesStatusFoldedContains(t *testing.T) {
	c := FilterCriteria{Status: "pro"}

	assert.True(t, c.MatchesStatus("pro"))
	assert.True(t, c.MatchesStatus("In Progress"))
	assert.True(t, c.MatchesStatus("PROCESSING"))
	assert.False(t, c.MatchesStatus("done"))
	assert.False(t, c.MatchesStatus(""))
}

func TestFilterErrorUnwraps(t *testing.T) {
	inner := errors.New("control not visible")
	err := error(&FilterError{Stage: FilterStageDate, Err: inner})

	require.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "date filter")

	var fe *FilterError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FilterStageDate, fe.Stage)
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	inner := errors.New("connection refused")
	err := error(&PersistenceError{Err: inner})

	require.ErrorIs(t, err, inner)

	var pe *PersistenceError
	assert.ErrorAs(t, err, &pe)
}
