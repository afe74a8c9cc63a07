package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gridsync/internal/domain"
)

var testLabels = columnLabels{ID: "Tag", Date: "Date", Status: "Status"}

const testDateLayout = "01/02/2006"

const gridFixture = `
<div id="records-grid">
  <table>
    <thead>
      <tr><th>Tag</th><th>Date</th><th>Status</th><th>Operator</th></tr>
    </thead>
    <tbody>
      <tr><td>AB-1001</td><td>08/12/2026</td><td>pro</td><td>north</td></tr>
      <tr><td>AB-1002</td><td>08/13/2026</td><td>pro</td><td>south</td></tr>
    </tbody>
  </table>
</div>`

func TestParseGridReadsRows(t *testing.T) {
	records, skipped, err := parseGrid(gridFixture, testLabels, testDateLayout, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "AB-1001", first.ExternalID)
	assert.Equal(t, time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC), first.RecordDate)
	assert.Equal(t, "pro", first.Status)
	assert.Equal(t, "north", first.RawFields["Operator"])
	assert.Equal(t, "AB-1002", records[1].ExternalID)
}

func TestParseGridColumnOrderDoesNotMatter(t *testing.T) {
	html := `
<div id="records-grid">
  <table>
    <thead>
      <tr><th>Status</th><th>Operator</th><th>Tag</th><th>Date</th></tr>
    </thead>
    <tbody>
      <tr><td>pro</td><td>west</td><td>CD-2001</td><td>08/14/2026</td></tr>
    </tbody>
  </table>
</div>`

	records, skipped, err := parseGrid(html, testLabels, testDateLayout, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, "CD-2001", records[0].ExternalID)
	assert.Equal(t, time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC), records[0].RecordDate)
	assert.Equal(t, "pro", records[0].Status)
}

func TestParseGridSkipsRowsMissingFields(t *testing.T) {
	html := `
<div id="records-grid">
  <table>
    <thead>
      <tr><th>Tag</th><th>Date</th><th>Status</th></tr>
    </thead>
    <tbody>
      <tr><td>AB-1001</td><td>08/12/2026</td><td>pro</td></tr>
      <tr><td>AB-1002</td><td></td><td>pro</td></tr>
      <tr><td></td><td>08/13/2026</td><td>pro</td></tr>
      <tr><td>AB-1004</td><td>not a date</td><td>pro</td></tr>
    </tbody>
  </table>
</div>`

	records, skipped, err := parseGrid(html, testLabels, testDateLayout, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "AB-1001", records[0].ExternalID)
	assert.Equal(t, 3, skipped)
}

func TestParseGridPositionalFallbacks(t *testing.T) {
	// Id and date columns carry unexpected labels; only the status column is
	// named. The first non-empty cell serves as id and the first parseable
	// cell as date.
	html := `
<div id="records-grid">
  <table>
    <thead>
      <tr><th>Ref</th><th>When</th><th>Status</th></tr>
    </thead>
    <tbody>
      <tr><td>EF-3001</td><td>08/15/2026</td><td>pro</td></tr>
    </tbody>
  </table>
</div>`

	records, skipped, err := parseGrid(html, testLabels, testDateLayout, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, "EF-3001", records[0].ExternalID)
	assert.Equal(t, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), records[0].RecordDate)
}

func TestParseGridNoKnownColumns(t *testing.T) {
	html := `
<div id="records-grid">
  <table>
    <thead><tr><th>Alpha</th><th>Beta</th></tr></thead>
    <tbody><tr><td>x</td><td>y</td></tr></tbody>
  </table>
</div>`

	_, _, err := parseGrid(html, testLabels, testDateLayout, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoKnownColumns)
}

func TestParseGridNoHeaderRow(t *testing.T) {
	html := `<div id="records-grid"><table><tbody><tr><td>x</td></tr></tbody></table></div>`

	_, _, err := parseGrid(html, testLabels, testDateLayout, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoKnownColumns)
}

func TestParseGridEmptyBody(t *testing.T) {
	html := `
<div id="records-grid">
  <table>
    <thead><tr><th>Tag</th><th>Date</th><th>Status</th></tr></thead>
    <tbody></tbody>
  </table>
</div>`

	records, skipped, err := parseGrid(html, testLabels, testDateLayout, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, skipped)
}

func TestParseGridDateWithTimeComponent(t *testing.T) {
	html := `
<div id="records-grid">
  <table>
    <thead><tr><th>Tag</th><th>Date</th><th>Status</th></tr></thead>
    <tbody>
      <tr><td>GH-4001</td><td>08/12/2026 14:30</td><td>pro</td></tr>
    </tbody>
  </table>
</div>`

	records, skipped, err := parseGrid(html, testLabels, testDateLayout, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC), records[0].RecordDate)
}

func TestParseGridStatusHasNoFallback(t *testing.T) {
	// A missing status column must not be guessed from other cells; the row
	// is dropped instead.
	html := `
<div id="records-grid">
  <table>
    <thead><tr><th>Tag</th><th>Date</th><th>State</th></tr></thead>
    <tbody>
      <tr><td>IJ-5001</td><td>08/16/2026</td><td>pro</td></tr>
    </tbody>
  </table>
</div>`

	records, skipped, err := parseGrid(html, testLabels, testDateLayout, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1, skipped)
}

func TestParseGridCollapsesWhitespace(t *testing.T) {
	html := `
<div id="records-grid">
  <table>
    <thead><tr><th>  Tag </th><th>Date</th><th>Status</th></tr></thead>
    <tbody>
      <tr><td>
        KL-6001
      </td><td>08/17/2026</td><td> pro <span></span></td></tr>
    </tbody>
  </table>
</div>`

	records, skipped, err := parseGrid(html, testLabels, testDateLayout, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, "KL-6001", records[0].ExternalID)
	assert.Equal(t, "pro", records[0].Status)
}

func TestParseCellDate(t *testing.T) {
	tests := []struct {
		name    string
		cell    string
		wantErr bool
	}{
		{"plain date", "08/12/2026", false},
		{"date with time", "08/12/2026 09:15", false},
		{"empty", "", true},
		{"garbage", "pending", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := parseCellDate(tt.cell, testDateLayout)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC), d)
		})
	}
}
