package models

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Item represents one inventory record, stored as one row of the item sheet
type Item struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	SKU           string  `json:"sku"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	LowStockLevel int     `json:"lowStockLevel"`
	LastUpdated   string  `json:"lastUpdated"`
}

// ItemFields holds the user-editable part of an Item
type ItemFields struct {
	Name          string  `json:"name" validate:"required"`
	SKU           string  `json:"sku"`
	Quantity      int     `json:"quantity" validate:"gte=0"`
	Price         float64 `json:"price" validate:"gte=0"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	LowStockLevel *int    `json:"lowStockLevel,omitempty" validate:"omitempty,gte=0"`
}

// RowIDPrefix starts the id given to rows whose ID cell is blank. Such ids embed the row
// number, so they go stale as soon as an earlier row is deleted.
const RowIDPrefix = "row_"

// IsRowID reports whether id was derived from a row position.
func IsRowID(id string) bool {
	return strings.HasPrefix(id, RowIDPrefix)
}

// Column positions in an item row (0-indexed)
const (
	ColumnID = iota
	ColumnName
	ColumnSKU
	ColumnQuantity
	ColumnPrice
	ColumnCategory
	ColumnDescription
	ColumnLowStockLevel
	ColumnLastUpdated

	// ColumnCount is the number of logical columns per item row
	ColumnCount
)

// HeaderLabels are the canonical header row labels, in column order
var HeaderLabels = []string{
	"ID",
	"Name",
	"SKU",
	"Quantity",
	"Price",
	"Category",
	"Description",
	"Low Stock Level",
	"Last Updated",
}

// CategoryHeader is the reference sheet header that marks the category column
const CategoryHeader = "category"

var fieldMessages = map[string]string{
	"Name":          "name is required",
	"Quantity":      "quantity must be a non-negative number",
	"Price":         "price must be a non-negative number",
	"LowStockLevel": "low stock level must be a non-negative number",
}

var itemValidate = validator.New()

// Normalize trims every text field and fills an absent low stock level with defaultLevel.
func (f ItemFields) Normalize(defaultLevel int) ItemFields {
	f.Name = strings.TrimSpace(f.Name)
	f.SKU = strings.TrimSpace(f.SKU)
	f.Category = strings.TrimSpace(f.Category)
	f.Description = strings.TrimSpace(f.Description)
	if f.LowStockLevel == nil {
		level := defaultLevel
		f.LowStockLevel = &level
	}
	return f
}

// Validate reports every invalid field at once.
func (f ItemFields) Validate() error {
	err := itemValidate.Struct(f)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()]
		if !ok {
			msg = strings.ToLower(fe.Field()) + " is invalid"
		}
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}

// Level returns the low stock level or fallback when unset.
func (f ItemFields) Level(fallback int) int {
	if f.LowStockLevel == nil {
		return fallback
	}
	return *f.LowStockLevel
}

// Fields returns the editable part of the item.
func (i Item) Fields() ItemFields {
	level := i.LowStockLevel
	return ItemFields{
		Name:          i.Name,
		SKU:           i.SKU,
		Quantity:      i.Quantity,
		Price:         i.Price,
		Category:      i.Category,
		Description:   i.Description,
		LowStockLevel: &level,
	}
}

// EffectiveThreshold is the item's own low stock level when set, otherwise defaultLevel.
// A stored zero counts as unset.
func (i Item) EffectiveThreshold(defaultLevel int) int {
	if i.LowStockLevel > 0 {
		return i.LowStockLevel
	}
	return defaultLevel
}

// IsLowStock reports whether the quantity is strictly below the effective threshold.
func (i Item) IsLowStock(defaultLevel int) bool {
	return i.Quantity < i.EffectiveThreshold(defaultLevel)
}
