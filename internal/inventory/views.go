package inventory

import (
	"fmt"
	"strings"

	"stockroom/internal/models"
)

// alertPreviewSize is how many low-stock items the alert lists by name
const alertPreviewSize = 5

// AlertItem is one entry of the low-stock alert
type AlertItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Threshold int    `json:"threshold"`
}

// Alert summarizes items below their low-stock threshold
type Alert struct {
	Count     int         `json:"count"`
	Message   string      `json:"message,omitempty"`
	Items     []AlertItem `json:"items"`
	Remaining int         `json:"remaining"`
}

// ApplyFilter returns the items matching f in their original order: search first, then
// category, then stock level.
func ApplyFilter(items []models.Item, f models.Filter, defaultLevel int) []models.Item {
	query := strings.ToLower(strings.TrimSpace(f.SearchQuery))
	out := make([]models.Item, 0, len(items))
	for _, item := range items {
		if query != "" && !matchesQuery(item, query) {
			continue
		}
		if f.Category != "" && f.Category != models.CategoryAll && item.Category != f.Category {
			continue
		}
		switch f.StockLevel {
		case models.StockLow:
			if !item.IsLowStock(defaultLevel) {
				continue
			}
		case models.StockInStock:
			if item.IsLowStock(defaultLevel) {
				continue
			}
		}
		out = append(out, item)
	}
	return out
}

func matchesQuery(item models.Item, query string) bool {
	return strings.Contains(strings.ToLower(item.Name), query) ||
		strings.Contains(strings.ToLower(item.SKU), query) ||
		strings.Contains(strings.ToLower(item.Category), query)
}

// LowStock returns every item below its effective threshold, ignoring filters.
func LowStock(items []models.Item, defaultLevel int) []models.Item {
	out := make([]models.Item, 0)
	for _, item := range items {
		if item.IsLowStock(defaultLevel) {
			out = append(out, item)
		}
	}
	return out
}

// BuildAlert renders the low-stock banner for items already known to be low.
func BuildAlert(low []models.Item, defaultLevel int) Alert {
	alert := Alert{Count: len(low), Items: make([]AlertItem, 0, alertPreviewSize)}
	for i, item := range low {
		if i == alertPreviewSize {
			break
		}
		alert.Items = append(alert.Items, AlertItem{
			ID:        item.ID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Threshold: item.EffectiveThreshold(defaultLevel),
		})
	}
	alert.Remaining = alert.Count - len(alert.Items)

	switch alert.Count {
	case 0:
	case 1:
		alert.Message = "1 item has quantity below its low stock threshold"
	default:
		alert.Message = fmt.Sprintf("%d items have quantity below their low stock threshold", alert.Count)
	}
	return alert
}
