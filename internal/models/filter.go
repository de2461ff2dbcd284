package models

import "fmt"

// StockLevel selects items by their position relative to the low stock threshold
type StockLevel string

const (
	StockAll     StockLevel = "all"
	StockLow     StockLevel = "low"
	StockInStock StockLevel = "in-stock"
)

// CategoryAll disables the category filter
const CategoryAll = "all"

// ParseStockLevel accepts the three stock levels; empty means all.
func ParseStockLevel(s string) (StockLevel, error) {
	switch StockLevel(s) {
	case "", StockAll:
		return StockAll, nil
	case StockLow, StockInStock:
		return StockLevel(s), nil
	}
	return "", fmt.Errorf("unknown stock level %q", s)
}

// Filter is the list view state
type Filter struct {
	SearchQuery string     `json:"searchQuery"`
	Category    string     `json:"filterCategory"`
	StockLevel  StockLevel `json:"filterStockLevel"`
}

// DefaultFilter shows everything.
func DefaultFilter() Filter {
	return Filter{Category: CategoryAll, StockLevel: StockAll}
}
