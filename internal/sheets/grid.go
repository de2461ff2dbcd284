package sheets

import "context"

// InputMode selects how written cells are interpreted by the spreadsheet
type InputMode string

const (
	// InputRaw stores values exactly as given
	InputRaw InputMode = "RAW"
	// InputUserEntered parses values as if typed into the sheet
	InputUserEntered InputMode = "USER_ENTERED"
)

// Grid is the range-based remote table the adapter drives.
// Every error it returns is a *models.TransportError.
type Grid interface {
	Read(ctx context.Context, r Range) ([][]string, error)
	Write(ctx context.Context, r Range, rows [][]string, mode InputMode) error
	Append(ctx context.Context, r Range, rows [][]string) error
	// DeleteRow structurally removes one 1-based sheet row; later rows shift up.
	DeleteRow(ctx context.Context, sheet string, row int) error
	// Probe is a lightweight authorized call used as a token liveness check.
	Probe(ctx context.Context) error
}
