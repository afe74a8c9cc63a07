package domain

import (
	"strings"
	"time"
)

// Run outcome values reported in RunResult and metrics labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// GridRecord holds one row extracted from the rendered grid.
type GridRecord struct {
	ExternalID string
	RecordDate time.Time // normalized to midnight UTC
	Status     string
	RawFields  map[string]string // every rendered cell keyed by header label
}

// StatusRow is one persisted row of the grid_records table.
type StatusRow struct {
	ExternalID string    `json:"external_id"`
	RecordDate time.Time `json:"record_date"`
	Status     string    `json:"status"`
	RawPayload []byte    `json:"raw_payload,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// FilterCriteria is the pair of grid filters applied before extraction:
// a status token and an inclusive date window.
type FilterCriteria struct {
	Status string
	From   time.Time
	To     time.Time
}

// NewFilterCriteria builds the criteria for a run starting at now. The window
// spans the given number of days back from today, both ends inclusive, in UTC.
// A non-positive day count is clamped to one.
func NewFilterCriteria(status string, days int, now time.Time) FilterCriteria {
	if days < 1 {
		days = 1
	}
	today := Midnight(now)
	return FilterCriteria{
		Status: strings.TrimSpace(status),
		From:   today.AddDate(0, 0, -days),
		To:     today,
	}
}

// MatchesStatus reports whether a rendered status satisfies the token using
// the same case-insensitive substring semantics the grid's own filter applies.
func (c FilterCriteria) MatchesStatus(status string) bool {
	return strings.Contains(strings.ToLower(status), strings.ToLower(c.Status))
}

// MatchesDate reports whether d falls inside the window, ends inclusive.
func (c FilterCriteria) MatchesDate(d time.Time) bool {
	d = Midnight(d)
	return !d.Before(c.From) && !d.After(c.To)
}

// Midnight truncates t to midnight UTC.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// UpsertSummary reports how a persisted batch split between new and
// refreshed rows.
type UpsertSummary struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// RunResult is the report for one pipeline run.
type RunResult struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Attempts       int           `json:"attempts"`
	RecordsSeen    int           `json:"records_seen"`
	RecordsSkipped int           `json:"records_skipped"`
	Inserted       int           `json:"inserted"`
	Updated        int           `json:"updated"`
	Outcome        string        `json:"outcome"`
	FailedStage    string        `json:"failed_stage,omitempty"`
	Error          string        `json:"error,omitempty"`
	Err            error         `json:"-"`
}

// VerifySummary is the report for one status verification sweep.
type VerifySummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Checked   int           `json:"checked"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
}
