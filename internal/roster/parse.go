package roster

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/noah-isme/thesis-registration-api/internal/models"
)

// DefaultHeaderScanRows bounds the search for the header row.
const DefaultHeaderScanRows = 20

// ErrMalformedRoster is returned when no header row is found within the scan window.
var ErrMalformedRoster = errors.New("malformed roster")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Options tunes parsing.
type Options struct {
	HeaderScanRows int
}

// Result is the keyed roster produced by Parse.
type Result struct {
	Records    map[string]models.RosterRecord
	HasCredits bool
	// HeaderRow is 1-based.
	HeaderRow  int
	Columns    map[Field]int
	DataRows   int
	Skipped    int
	Duplicates int
}

// Lookup returns the roster entry for the given student code.
func (r *Result) Lookup(code string) (*models.RosterRecord, bool) {
	rec, ok := r.Records[code]
	if !ok {
		return nil, false
	}
	return &rec, true
}

// Parse converts raw sheet rows into a keyed roster. The header row is located
// by content; rows with an empty or non-alphanumeric key are skipped and a
// repeated key overwrites the earlier row.
func Parse(rows [][]string, opts Options) (*Result, error) {
	scan := opts.HeaderScanRows
	if scan <= 0 {
		scan = DefaultHeaderScanRows
	}

	headerIdx, columns := findHeader(rows, scan)
	if headerIdx < 0 {
		return nil, fmt.Errorf("%w: no \"student id\" header in the first %d rows", ErrMalformedRoster, scan)
	}

	keyCol := columns[FieldKey]
	nameCol, hasName := columns[FieldFullName]
	nameEnd := -1
	if hasName {
		nameEnd = nextRecognized(columns, nameCol)
	}
	creditsCol, hasCredits := columns[FieldCredits]

	result := &Result{
		Records:    make(map[string]models.RosterRecord),
		HasCredits: hasCredits,
		HeaderRow:  headerIdx + 1,
		Columns:    columns,
	}

	for _, row := range rows[headerIdx+1:] {
		if blankRow(row) {
			continue
		}
		result.DataRows++

		key := cell(row, keyCol)
		if key == "" || !keyPattern.MatchString(key) {
			result.Skipped++
			continue
		}

		rec := models.RosterRecord{StudentCode: key}
		if hasName {
			rec.FullName = joinCells(row, nameCol, nameEnd)
		}
		if col, ok := columns[FieldDateOfBirth]; ok {
			rec.DateOfBirth = cell(row, col)
		}
		if col, ok := columns[FieldClass]; ok {
			rec.StudentClass = cell(row, col)
		}
		if hasCredits {
			rec.Credits = parseCredits(cell(row, creditsCol))
		}

		if _, seen := result.Records[key]; seen {
			result.Duplicates++
		}
		result.Records[key] = rec
	}

	return result, nil
}

func findHeader(rows [][]string, scan int) (int, map[Field]int) {
	for i := 0; i < len(rows) && i < scan; i++ {
		keyCol := -1
		for j, text := range rows[i] {
			if ClassifyHeader(text) == FieldKey {
				keyCol = j
				break
			}
		}
		if keyCol < 0 {
			continue
		}

		columns := map[Field]int{FieldKey: keyCol}
		for j, text := range rows[i] {
			if j == keyCol {
				continue
			}
			field := ClassifyHeader(text)
			if field == FieldUnknown || field == FieldKey {
				continue
			}
			if _, taken := columns[field]; !taken {
				columns[field] = j
			}
		}
		return i, columns
	}
	return -1, nil
}

// nextRecognized returns the first column after from that holds another field,
// or -1 when the name column is the last recognized one.
func nextRecognized(columns map[Field]int, from int) int {
	next := -1
	for field, col := range columns {
		if field == FieldFullName || col <= from {
			continue
		}
		if next < 0 || col < next {
			next = col
		}
	}
	return next
}

// joinCells concatenates the name cells in [from, to). Exports split names
// across merged cells, so the span runs up to the next recognized column.
func joinCells(row []string, from, to int) string {
	if to < 0 {
		to = from + 1
	}
	parts := make([]string, 0, to-from)
	for j := from; j < to; j++ {
		if v := cell(row, j); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func parseCredits(raw string) *int {
	raw = strings.ReplaceAll(raw, " ", "")
	if raw == "" {
		return nil
	}
	raw = strings.ReplaceAll(raw, ",", ".")
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return nil
	}
	credits := int(f)
	return &credits
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return cleanCell(row[idx])
}

// cleanCell trims whitespace, spreadsheet formula wrappers and quotes.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	s = strings.Trim(s, `"'`)
	return strings.Join(strings.Fields(s), " ")
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
