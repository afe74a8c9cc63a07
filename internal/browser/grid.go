package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"gridsync/internal/domain"
)

// columnLabels names the header cells carrying the identifying fields.
type columnLabels struct {
	ID     string
	Date   string
	Status string
}

// parseGrid turns a grid container snapshot into records. Returns the parsed
// records and how many rows were dropped for missing fields. Rows are
// matched to columns by header label, with positional fallbacks for the id
// and date when their labeled columns are absent; a row that still lacks any
// identifying field is skipped, never fails the batch.
func parseGrid(html string, labels columnLabels, dateFormat string, logger *zap.Logger) ([]domain.GridRecord, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("parse grid html: %w", err)
	}

	var headers []string
	doc.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, normalizeSpace(th.Text()))
	})
	if len(headers) == 0 {
		return nil, 0, fmt.Errorf("grid has no header row: %w", domain.ErrNoKnownColumns)
	}

	// First occurrence wins when a label repeats.
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, ok := index[h]; !ok {
			index[h] = i
		}
	}
	idIdx, idOK := index[labels.ID]
	dateIdx, dateOK := index[labels.Date]
	statusIdx, statusOK := index[labels.Status]
	if !idOK && !dateOK && !statusOK {
		return nil, 0, fmt.Errorf("no recognizable columns among %v: %w", headers, domain.ErrNoKnownColumns)
	}

	var records []domain.GridRecord
	skipped := 0
	doc.Find("tbody tr").Each(func(rowNum int, tr *goquery.Selection) {
		var texts []string
		raw := make(map[string]string, len(headers))
		tr.Find("td").Each(func(col int, td *goquery.Selection) {
			text := normalizeSpace(td.Text())
			texts = append(texts, text)
			if col < len(headers) {
				raw[headers[col]] = text
			}
		})
		if len(texts) == 0 {
			return
		}

		var externalID string
		if idOK {
			externalID = cellAt(texts, idIdx, true)
		} else {
			externalID = firstNonEmpty(texts)
		}

		var recordDate time.Time
		if dateOK {
			recordDate, _ = parseCellDate(cellAt(texts, dateIdx, true), dateFormat)
		} else {
			for _, text := range texts {
				if d, perr := parseCellDate(text, dateFormat); perr == nil {
					recordDate = d
					break
				}
			}
		}

		// Status has no positional fallback: guessing it would corrupt the
		// business key.
		status := cellAt(texts, statusIdx, statusOK)

		if externalID == "" || recordDate.IsZero() || status == "" {
			skipped++
			logger.Warn("skipping grid row with missing fields",
				zap.Int("row", rowNum),
				zap.Bool("has_id", externalID != ""),
				zap.Bool("has_date", !recordDate.IsZero()),
				zap.Bool("has_status", status != ""))
			return
		}

		records = append(records, domain.GridRecord{
			ExternalID: externalID,
			RecordDate: domain.Midnight(recordDate),
			Status:     status,
			RawFields:  raw,
		})
	})
	return records, skipped, nil
}

func cellAt(texts []string, idx int, ok bool) string {
	if !ok || idx >= len(texts) {
		return ""
	}
	return texts[idx]
}

func firstNonEmpty(texts []string) string {
	for _, t := range texts {
		if t != "" {
			return t
		}
	}
	return ""
}

// parseCellDate parses the date portion of a cell, tolerating a trailing
// time component ("08/12/2026 14:30").
func parseCellDate(text, layout string) (time.Time, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("empty date cell")
	}
	d, err := time.Parse(layout, fields[0])
	if err != nil {
		return time.Time{}, err
	}
	return domain.Midnight(d), nil
}

// normalizeSpace collapses runs of whitespace, including newlines left by
// nested markup, into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
