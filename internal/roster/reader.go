package roster

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for file types the reader cannot open.
var ErrUnsupportedFormat = errors.New("unsupported roster format")

var supportedExtensions = map[string]bool{
	".xlsx": true,
	".xlsm": true,
	".csv":  true,
}

// SupportedExtension reports whether the file name has a readable roster extension.
func SupportedExtension(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// ReadFile loads the raw rows of a roster file, dispatching on its extension.
func ReadFile(path string) ([][]string, error) {
	if !SupportedExtension(path) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer file.Close() //nolint:errcheck

	return Read(path, file)
}

// Read returns the rows of an already opened roster. name only selects the format.
func Read(name string, r io.Reader) ([][]string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); {
	case !supportedExtensions[ext]:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	case ext == ".csv":
		return ReadCSV(r)
	default:
		return ReadXLSX(r)
	}
}

// ParseFile reads and parses a roster file in one step.
func ParseFile(path string, opts Options) (*Result, error) {
	rows, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(rows, opts)
}

// ReadXLSX returns the rows of the first worksheet.
func ReadXLSX(r io.Reader) ([][]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close() //nolint:errcheck

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrMalformedRoster)
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// ReadCSV returns all records of a CSV roster. Rows may have differing widths.
func ReadCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	if semicolonSeparated(data) {
		reader.Comma = ';'
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

// semicolonSeparated detects the separator used by spreadsheet exports in
// locales where the comma is the decimal mark.
func semicolonSeparated(data []byte) bool {
	firstLine := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		firstLine = data[:idx]
	}
	return bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(","))
}
