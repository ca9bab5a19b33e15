// Package cleaner applies a uniform row-level normalization pass before any
// mapping. Cleaning is deterministic and side-effect-free so it can run
// repeatedly during preview without state drift, and it never rejects a row:
// values that resist coercion are kept as-is and reported as anomalies for
// the validator to flag.
package cleaner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ttacon/libphonenumber"
	"github.com/xuri/excelize/v2"
)

// Options controls optional cleaning behavior.
type Options struct {
	// KeepEmptyRows retains rows whose every cell is blank.
	KeepEmptyRows bool
	// PhoneRegion is the default region for phone parsing.
	PhoneRegion string
}

// DefaultOptions drops empty rows and parses phones as Norwegian numbers.
func DefaultOptions() Options {
	return Options{PhoneRegion: "NO"}
}

// Anomaly records one value the cleaner could not coerce. The original value
// is preserved in the output.
type Anomaly struct {
	RowNumber int    `json:"row_number"`
	Column    string `json:"column"`
	Value     string `json:"value"`
	Message   string `json:"message"`
}

// Report summarizes one cleaning pass.
type Report struct {
	RowsIn           int       `json:"rows_in"`
	RowsOut          int       `json:"rows_out"`
	EmptyRowsDropped int       `json:"empty_rows_dropped"`
	ValuesTrimmed    int       `json:"values_trimmed"`
	ValuesNormalized int       `json:"values_normalized"`
	Anomalies        []Anomaly `json:"anomalies,omitempty"`
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	dateLayouts = []string{
		"2006-01-02",
		"02.01.2006",
		"02/01/2006",
		"01/02/2006",
		"2006/01/02",
		"2. January 2006",
		time.RFC3339,
		"2006-01-02 15:04:05",
	}

	dateColumnHints  = []string{"dato", "date", "født", "birth"}
	phoneColumnHints = []string{"telefon", "tlf", "phone", "mobil"}
	postColumnHints  = []string{"postnummer", "postnr", "zip"}
)

// Clean normalizes raw rows against their headers and reports what it did.
// The input slices are never mutated.
func Clean(rawRows [][]string, headers []string, opts Options) ([][]string, Report) {
	if opts.PhoneRegion == "" {
		opts.PhoneRegion = "NO"
	}

	report := Report{RowsIn: len(rawRows)}
	cleaned := make([][]string, 0, len(rawRows))

	for rowIdx, row := range rawRows {
		rowNumber := rowIdx + 1
		out := make([]string, len(headers))
		empty := true

		for col := range headers {
			var value string
			if col < len(row) {
				value = row[col]
			}

			trimmed := normalizeWhitespace(value)
			if trimmed != value {
				report.ValuesTrimmed++
			}
			if trimmed != "" {
				empty = false
			}

			coerced, changed, err := coerceCell(headers[col], trimmed, opts)
			if err != nil {
				report.Anomalies = append(report.Anomalies, Anomaly{
					RowNumber: rowNumber,
					Column:    headers[col],
					Value:     trimmed,
					Message:   err.Error(),
				})
				out[col] = trimmed
				continue
			}
			if changed {
				report.ValuesNormalized++
			}
			out[col] = coerced
		}

		if empty && !opts.KeepEmptyRows {
			report.EmptyRowsDropped++
			continue
		}
		cleaned = append(cleaned, out)
	}

	report.RowsOut = len(cleaned)
	return cleaned, report
}

func normalizeWhitespace(value string) string {
	value = strings.TrimPrefix(value, "\uFEFF")
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(value), " ")
}

// coerceCell applies header-driven coercion for known field shapes. An error
// means the value looked like the expected shape but could not be parsed.
func coerceCell(header, value string, opts Options) (string, bool, error) {
	if value == "" {
		return value, false, nil
	}
	normalized := strings.ToLower(header)

	switch {
	case headerMatches(normalized, dateColumnHints):
		return coerceDate(value)
	case headerMatches(normalized, phoneColumnHints):
		return coercePhone(value, opts.PhoneRegion)
	case headerMatches(normalized, postColumnHints):
		return coercePostnummer(value)
	}
	return value, false, nil
}

func headerMatches(header string, hints []string) bool {
	for _, hint := range hints {
		if strings.Contains(header, hint) {
			return true
		}
	}
	return false
}

func coerceDate(value string) (string, bool, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			normalized := ts.Format("2006-01-02")
			return normalized, normalized != value, nil
		}
	}
	// Excel serial dates arrive as bare numbers from xlsx exports.
	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial > 1 && serial < 200000 {
		ts, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return value, false, fmt.Errorf("unparseable excel serial date")
		}
		return ts.Format("2006-01-02"), true, nil
	}
	return value, false, fmt.Errorf("unrecognized date format")
}

func coercePhone(value, region string) (string, bool, error) {
	parsed, err := libphonenumber.Parse(value, region)
	if err != nil {
		return value, false, fmt.Errorf("unparseable phone number")
	}
	if !libphonenumber.IsValidNumber(parsed) {
		return value, false, fmt.Errorf("invalid phone number")
	}
	normalized := libphonenumber.Format(parsed, libphonenumber.E164)
	return normalized, normalized != value, nil
}

func coercePostnummer(value string) (string, bool, error) {
	digits := strings.ReplaceAll(value, " ", "")
	if _, err := strconv.Atoi(digits); err != nil {
		return value, false, fmt.Errorf("postnummer is not numeric")
	}
	switch len(digits) {
	case 4:
		return digits, digits != value, nil
	case 3:
		// Spreadsheet exports commonly strip one leading zero (Oslo codes).
		return "0" + digits, true, nil
	default:
		// Too short or too long to repair; leave it for the validator.
		return value, false, fmt.Errorf("postnummer must have 4 digits")
	}
}
