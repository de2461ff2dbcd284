package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	fieldName = iota
	fieldSKU
	fieldQuantity
	fieldPrice
	fieldCategory
	fieldDescription
	fieldLowStock
	fieldCount
)

var fieldLabels = [fieldCount]string{"Name", "SKU", "Quantity", "Price", "Category", "Description", "Low stock level"}

// itemForm edits one item; editingID is empty when adding
type itemForm struct {
	inputs    [fieldCount]textinput.Model
	focus     int
	editingID string
}

func newItemForm(existing *Item) itemForm {
	var f itemForm
	for i := range f.inputs {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 200
		ti.Width = 40
		f.inputs[i] = ti
	}
	f.inputs[fieldQuantity].Placeholder = "0"
	f.inputs[fieldPrice].Placeholder = "0.00"
	f.inputs[fieldLowStock].Placeholder = "default"

	if existing != nil {
		f.editingID = existing.ID
		f.inputs[fieldName].SetValue(existing.Name)
		f.inputs[fieldSKU].SetValue(existing.SKU)
		f.inputs[fieldQuantity].SetValue(strconv.Itoa(existing.Quantity))
		f.inputs[fieldPrice].SetValue(strconv.FormatFloat(existing.Price, 'f', -1, 64))
		f.inputs[fieldCategory].SetValue(existing.Category)
		f.inputs[fieldDescription].SetValue(existing.Description)
		f.inputs[fieldLowStock].SetValue(strconv.Itoa(existing.LowStockLevel))
	}
	f.inputs[fieldName].Focus()
	return f
}

func (f *itemForm) move(delta int) tea.Cmd {
	f.inputs[f.focus].Blur()
	f.focus = (f.focus + delta + fieldCount) % fieldCount
	return f.inputs[f.focus].Focus()
}

func (f *itemForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

// fields parses the inputs. Blank numbers mean zero; a blank low stock level is left to the server.
func (f *itemForm) fields() (ItemFields, error) {
	value := func(i int) string { return strings.TrimSpace(f.inputs[i].Value()) }

	out := ItemFields{
		Name:        value(fieldName),
		SKU:         value(fieldSKU),
		Category:    value(fieldCategory),
		Description: value(fieldDescription),
	}
	if out.Name == "" {
		return out, fmt.Errorf("name is required")
	}
	if v := value(fieldQuantity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return out, fmt.Errorf("quantity must be a non-negative number")
		}
		out.Quantity = n
	}
	if v := value(fieldPrice); v != "" {
		p, err := strconv.ParseFloat(strings.TrimPrefix(v, "$"), 64)
		if err != nil || p < 0 {
			return out, fmt.Errorf("price must be a non-negative number")
		}
		out.Price = p
	}
	if v := value(fieldLowStock); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return out, fmt.Errorf("low stock level must be a non-negative number")
		}
		out.LowStockLevel = &n
	}
	return out, nil
}

func (f *itemForm) view() string {
	var b strings.Builder
	for i, input := range f.inputs {
		label := fmt.Sprintf("%-16s", fieldLabels[i])
		if i == f.focus {
			label = focusStyle.Render(label)
		}
		b.WriteString(label + " " + input.View() + "\n")
	}
	return b.String()
}
