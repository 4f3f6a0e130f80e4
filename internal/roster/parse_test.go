package roster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestParseLocatesHeaderByContent(t *testing.T) {
	rows := [][]string{
		{"HO CHI MINH CITY UNIVERSITY"},
		{"Thesis enrollment roster", "", "Semester 2024-1"},
		{},
		{"No.", "Student ID", "Full name", "", "Date of birth", "Class", "Credits"},
		{"1", "B20DCCN001", "Nguyen Van", "An", "01/02/2002", "D20CQCN01", "120"},
		{"2", "B20DCCN002", "Tran Thi Binh", "", "03/04/2002", "D20CQCN02", "90.5"},
	}

	res, err := Parse(rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.HeaderRow)
	assert.True(t, res.HasCredits)
	assert.Equal(t, 2, res.DataRows)
	require.Len(t, res.Records, 2)

	first := res.Records["B20DCCN001"]
	assert.Equal(t, "Nguyen Van An", first.FullName)
	assert.Equal(t, "01/02/2002", first.DateOfBirth)
	assert.Equal(t, "D20CQCN01", first.StudentClass)
	assert.Equal(t, intPtr(120), first.Credits)

	second := res.Records["B20DCCN002"]
	assert.Equal(t, "Tran Thi Binh", second.FullName)
	assert.Equal(t, intPtr(90), second.Credits)
}

func TestParseWithoutCreditsColumn(t *testing.T) {
	rows := [][]string{
		{"Class", "Student ID", "Full name"},
		{"D20", "S001", "Le Van C"},
	}

	res, err := Parse(rows, Options{})
	require.NoError(t, err)
	assert.False(t, res.HasCredits)
	rec, ok := res.Lookup("S001")
	require.True(t, ok)
	assert.Nil(t, rec.Credits)
	assert.Equal(t, "Le Van C", rec.FullName)
	assert.Equal(t, "D20", rec.StudentClass)
}

func TestParseNameIsLastRecognizedColumn(t *testing.T) {
	rows := [][]string{
		{"Student ID", "Credits", "Full name", ""},
		{"S001", "100", "Pham", "Thi D"},
	}

	res, err := Parse(rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Pham", res.Records["S001"].FullName)
}

func TestParseSkipsInvalidKeys(t *testing.T) {
	rows := [][]string{
		{"Student ID", "Full name", "Credits"},
		{"", "Nameless", "10"},
		{"B20-001", "Dashed", "10"},
		{"B20 001", "Spaced", "10"},
		{"   ", "Blank key", "10"},
		{"", "", ""},
		{"OK1", "Valid", "10"},
	}

	res, err := Parse(rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Skipped)
	assert.Equal(t, 5, res.DataRows)
	assert.Len(t, res.Records, 1)
	assert.Contains(t, res.Records, "OK1")
}

func TestParseDuplicateKeysLastWriteWins(t *testing.T) {
	rows := [][]string{
		{"Student ID", "Full name", "Credits"},
		{"S001", "First", "100"},
		{"S001", "Second", "80"},
	}

	res, err := Parse(rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, "Second", res.Records["S001"].FullName)
	assert.Equal(t, intPtr(80), res.Records["S001"].Credits)
}

func TestParseUnparseableCreditsIsNil(t *testing.T) {
	rows := [][]string{
		{"Student ID", "Credits"},
		{"S001", "N/A"},
		{"S002", ""},
		{"S003", "1 20"},
		{"S004", "-5"},
	}

	res, err := Parse(rows, Options{})
	require.NoError(t, err)
	assert.True(t, res.HasCredits)
	assert.Nil(t, res.Records["S001"].Credits)
	assert.Nil(t, res.Records["S002"].Credits)
	assert.Equal(t, intPtr(120), res.Records["S003"].Credits)
	assert.Nil(t, res.Records["S004"].Credits)
}

func TestParseMalformedWhenHeaderOutsideWindow(t *testing.T) {
	rows := make([][]string, 0, 30)
	for i := 0; i < 20; i++ {
		rows = append(rows, []string{fmt.Sprintf("note %d", i), "Full name"})
	}
	rows = append(rows, []string{"Student ID", "Full name"}, []string{"S001", "Late Header"})

	_, err := Parse(rows, Options{HeaderScanRows: 20})
	require.ErrorIs(t, err, ErrMalformedRoster)

	res, err := Parse(rows, Options{HeaderScanRows: 25})
	require.NoError(t, err)
	assert.Equal(t, 21, res.HeaderRow)
}

func TestParseEmptyInput(t *testing.T) {
	_, err := Parse(nil, Options{})
	assert.ErrorIs(t, err, ErrMalformedRoster)
}

func TestCleanCell(t *testing.T) {
	assert.Equal(t, "B20DCCN001", cleanCell(`="B20DCCN001"`))
	assert.Equal(t, "abc", cleanCell(" 'abc' "))
	assert.Equal(t, "Nguyen Van An", cleanCell("Nguyen   Van\tAn"))
}
