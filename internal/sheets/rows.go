package sheets

import (
	"math"
	"strconv"
	"strings"
	"time"

	"stockroom/internal/models"
)

// TimestampLayout is the ISO-8601 form written to the Last Updated column
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// firstDataRow is the sheet row of the first item; row 1 is the header
const firstDataRow = 2

// padRow extends short rows with empty cells so every column index is addressable.
func padRow(row []string) []string {
	if len(row) >= models.ColumnCount {
		return row
	}
	out := make([]string, models.ColumnCount)
	copy(out, row)
	return out
}

// decodeRow maps one sheet row to an Item. rowNumber names rows whose ID cell is blank.
func decodeRow(row []string, rowNumber, defaultLevel int) models.Item {
	cells := padRow(row)
	id := strings.TrimSpace(cells[models.ColumnID])
	if id == "" {
		id = models.RowIDPrefix + strconv.Itoa(rowNumber)
	}
	level := defaultLevel
	if raw := strings.TrimSpace(cells[models.ColumnLowStockLevel]); raw != "" {
		level = parseInt(raw)
	}
	return models.Item{
		ID:            id,
		Name:          cells[models.ColumnName],
		SKU:           cells[models.ColumnSKU],
		Quantity:      parseInt(cells[models.ColumnQuantity]),
		Price:         parsePrice(cells[models.ColumnPrice]),
		Category:      cells[models.ColumnCategory],
		Description:   cells[models.ColumnDescription],
		LowStockLevel: level,
		LastUpdated:   cells[models.ColumnLastUpdated],
	}
}

// encodeRow renders an Item for a USER_ENTERED write. Text cells carry a leading apostrophe
// so the sheet keeps them as text; numbers go out bare.
func encodeRow(item models.Item) []string {
	row := make([]string, models.ColumnCount)
	row[models.ColumnID] = asText(item.ID)
	row[models.ColumnName] = asText(item.Name)
	row[models.ColumnSKU] = asText(item.SKU)
	row[models.ColumnQuantity] = strconv.Itoa(item.Quantity)
	row[models.ColumnPrice] = strconv.FormatFloat(item.Price, 'f', -1, 64)
	row[models.ColumnCategory] = asText(item.Category)
	row[models.ColumnDescription] = asText(item.Description)
	row[models.ColumnLowStockLevel] = strconv.Itoa(item.LowStockLevel)
	row[models.ColumnLastUpdated] = asText(item.LastUpdated)
	return row
}

func asText(s string) string {
	if s == "" {
		return ""
	}
	return "'" + s
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// parseInt reads whole numbers the way a user may have typed them ("5", " 5 ", "5.0", "1,200").
// Anything else becomes 0.
func parseInt(raw string) int {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return 0
}

// parsePrice accepts plain and currency-formatted cells ("1.5", "$1,200.50").
func parsePrice(raw string) float64 {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// headerMatches reports whether row starts with the canonical labels in order.
func headerMatches(row []string) bool {
	if len(row) < len(models.HeaderLabels) {
		return false
	}
	for i, label := range models.HeaderLabels {
		if row[i] != label {
			return false
		}
	}
	return true
}
