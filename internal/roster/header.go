package roster

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Field is the logical meaning of a roster column.
type Field int

const (
	FieldUnknown Field = iota
	FieldKey
	FieldFullName
	FieldDateOfBirth
	FieldClass
	FieldCredits
)

func (f Field) String() string {
	switch f {
	case FieldKey:
		return "student_id"
	case FieldFullName:
		return "full_name"
	case FieldDateOfBirth:
		return "date_of_birth"
	case FieldClass:
		return "class"
	case FieldCredits:
		return "credits"
	default:
		return "unknown"
	}
}

// vocabulary is checked in order; the key phrases come first so that
// "student id" is never read as a name column.
var vocabulary = []struct {
	field   Field
	phrases []string
}{
	{FieldKey, []string{"student id", "studentid", "mssv", "ma so sinh vien", "ma sinh vien", "ma sv"}},
	{FieldDateOfBirth, []string{"date of birth", "dob", "birth date", "birthday", "ngay sinh"}},
	{FieldCredits, []string{"credits", "credit", "so tin chi", "tin chi", "tc tich luy"}},
	{FieldClass, []string{"class", "lop"}},
	{FieldFullName, []string{"full name", "name", "ho va ten", "ho ten", "ten"}},
}

var lower = cases.Lower(language.Und)

// ClassifyHeader maps a header cell to its logical field. Matching is by whole
// words on the normalized text, independent of column position.
func ClassifyHeader(text string) Field {
	normalized := normalizeHeader(text)
	if normalized == "" {
		return FieldUnknown
	}
	padded := " " + normalized + " "
	for _, entry := range vocabulary {
		for _, phrase := range entry.phrases {
			if strings.Contains(padded, " "+phrase+" ") {
				return entry.field
			}
		}
	}
	return FieldUnknown
}

// normalizeHeader lowercases, strips diacritics and collapses punctuation to
// single spaces so "Họ và tên", "STUDENT_ID" and "Student-Id." compare cleanly.
func normalizeHeader(text string) string {
	decomposed := norm.NFD.String(lower.String(text))
	var b strings.Builder
	b.Grow(len(decomposed))
	space := true
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r == 'đ':
			r = 'd'
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
