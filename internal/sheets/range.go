package sheets

import (
	"strconv"
	"strings"
)

// Range addresses a rectangle of a sheet. Columns are 0-indexed, rows are 1-based sheet rows.
// A zero EndRow leaves the range open downwards; a negative EndCol means a single column start.
type Range struct {
	Sheet    string
	StartCol int
	StartRow int
	EndCol   int
	EndRow   int
}

// ColumnLetter converts a 0-indexed column to its letter name (0=A, 25=Z, 26=AA).
func ColumnLetter(index int) string {
	var b []byte
	for index >= 0 {
		b = append([]byte{byte('A' + index%26)}, b...)
		index = index/26 - 1
	}
	return string(b)
}

// Cell is a single-cell anchor, used as the table start for appends.
func Cell(sheet string, col, row int) Range {
	return Range{Sheet: sheet, StartCol: col, StartRow: row, EndCol: -1}
}

// Rows spans columns [startCol, endCol] from startRow to endRow (0 = to the bottom).
func Rows(sheet string, startCol, endCol, startRow, endRow int) Range {
	return Range{Sheet: sheet, StartCol: startCol, StartRow: startRow, EndCol: endCol, EndRow: endRow}
}

// String renders the range in A1 notation, quoting the sheet title when needed.
func (r Range) String() string {
	var sb strings.Builder
	sb.WriteString(quoteSheet(r.Sheet))
	sb.WriteByte('!')
	sb.WriteString(ColumnLetter(r.StartCol))
	sb.WriteString(strconv.Itoa(r.StartRow))
	if r.EndCol < 0 {
		return sb.String()
	}
	sb.WriteByte(':')
	sb.WriteString(ColumnLetter(r.EndCol))
	if r.EndRow > 0 {
		sb.WriteString(strconv.Itoa(r.EndRow))
	}
	return sb.String()
}

func quoteSheet(title string) string {
	plain := title != ""
	for _, c := range title {
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			plain = false
			break
		}
	}
	if plain {
		return title
	}
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
