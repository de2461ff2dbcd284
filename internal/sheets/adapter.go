package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"stockroom/internal/models"
)

// Adapter maps inventory operations onto a Grid.
//
// Row position is the only location an item has. It is recomputed from a full read on every
// mutation and never cached, because a deletion shifts every later row. Mutations through one
// Adapter are serialized; writers in other processes can still interleave between the read and
// the write, and nothing here detects that.
type Adapter struct {
	grid           Grid
	itemSheet      string
	referenceSheet string
	defaultLevel   int
	now            func() time.Time
	logger         *slog.Logger

	mutations sync.Mutex

	idMu   sync.Mutex
	lastID int64
}

// AdapterOptions configures an Adapter
type AdapterOptions struct {
	ItemSheet         string
	ReferenceSheet    string
	LowStockThreshold int
	Logger            *slog.Logger
	// Now overrides the clock in tests
	Now func() time.Time
}

// NewAdapter binds the adapter to a grid.
func NewAdapter(grid Grid, opts AdapterOptions) *Adapter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		grid:           grid,
		itemSheet:      opts.ItemSheet,
		referenceSheet: opts.ReferenceSheet,
		defaultLevel:   opts.LowStockThreshold,
		now:            opts.Now,
		logger:         opts.Logger,
	}
}

// ListItems returns every item in sheet row order.
func (a *Adapter) ListItems(ctx context.Context) ([]models.Item, error) {
	rows, err := a.grid.Read(ctx, Rows(a.itemSheet, models.ColumnID, models.ColumnLastUpdated, firstDataRow, 0))
	if err != nil {
		return nil, err
	}
	items := make([]models.Item, 0, len(rows))
	for i, row := range rows {
		items = append(items, decodeRow(row, i+firstDataRow, a.defaultLevel))
	}
	return items, nil
}

// ListCategories returns the trimmed, deduplicated, sorted values of the reference sheet's
// category column. A missing column or reference sheet yields an empty list.
func (a *Adapter) ListCategories(ctx context.Context) ([]string, error) {
	headers, err := a.grid.Read(ctx, Rows(a.referenceSheet, 0, ColumnLetterIndex("ZZ"), 1, 1))
	if isMissingRange(err) {
		a.logger.Warn("reference sheet not readable", "sheet", a.referenceSheet, "error", err)
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	col := -1
	if len(headers) > 0 {
		for i, h := range headers[0] {
			if strings.ToLower(strings.TrimSpace(h)) == models.CategoryHeader {
				col = i
				break
			}
		}
	}
	if col < 0 {
		a.logger.Warn("category column not found", "sheet", a.referenceSheet)
		return []string{}, nil
	}

	rows, err := a.grid.Read(ctx, Rows(a.referenceSheet, col, col, 2, 0))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	categories := []string{}
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		c := strings.TrimSpace(row[0])
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return categories, nil
}

// CreateItem repairs the header row if needed and appends one row for the new item.
func (a *Adapter) CreateItem(ctx context.Context, fields models.ItemFields) (models.Item, error) {
	a.mutations.Lock()
	defer a.mutations.Unlock()

	if err := a.ensureHeader(ctx); err != nil {
		return models.Item{}, err
	}

	item := itemFrom(a.nextID(), fields, a.defaultLevel, a.now())
	if err := a.grid.Append(ctx, Cell(a.itemSheet, models.ColumnID, firstDataRow), [][]string{encodeRow(item)}); err != nil {
		return models.Item{}, err
	}
	return item, nil
}

// UpdateItem overwrites the row holding id.
func (a *Adapter) UpdateItem(ctx context.Context, id string, fields models.ItemFields) (models.Item, error) {
	a.mutations.Lock()
	defer a.mutations.Unlock()

	row, err := a.locate(ctx, id)
	if err != nil {
		return models.Item{}, err
	}
	item := itemFrom(id, fields, a.defaultLevel, a.now())
	r := Rows(a.itemSheet, models.ColumnID, models.ColumnLastUpdated, row, row)
	if err := a.grid.Write(ctx, r, [][]string{encodeRow(item)}, InputUserEntered); err != nil {
		return models.Item{}, err
	}
	return item, nil
}

// DeleteItem removes the row holding id.
func (a *Adapter) DeleteItem(ctx context.Context, id string) error {
	a.mutations.Lock()
	defer a.mutations.Unlock()

	row, err := a.locate(ctx, id)
	if err != nil {
		return err
	}
	return a.grid.DeleteRow(ctx, a.itemSheet, row)
}

// Probe forwards the liveness check to the grid.
func (a *Adapter) Probe(ctx context.Context) error {
	return a.grid.Probe(ctx)
}

// locate returns the current 1-based sheet row of id.
func (a *Adapter) locate(ctx context.Context, id string) (int, error) {
	items, err := a.ListItems(ctx)
	if err != nil {
		return 0, err
	}
	for i, item := range items {
		if item.ID == id {
			return i + firstDataRow, nil
		}
	}
	return 0, &models.NotFoundError{ID: id}
}

func (a *Adapter) ensureHeader(ctx context.Context) error {
	r := Rows(a.itemSheet, models.ColumnID, models.ColumnLastUpdated, 1, 1)
	rows, err := a.grid.Read(ctx, r)
	if err != nil && !isMissingRange(err) {
		return err
	}
	if err == nil && len(rows) > 0 && headerMatches(rows[0]) {
		return nil
	}
	a.logger.Info("writing header row", "sheet", a.itemSheet)
	return a.grid.Write(ctx, r, [][]string{models.HeaderLabels}, InputRaw)
}

// nextID issues item_<unix-millis> ids, bumping past the last one so ids never repeat in-process.
func (a *Adapter) nextID() string {
	a.idMu.Lock()
	defer a.idMu.Unlock()
	ms := a.now().UnixMilli()
	if ms <= a.lastID {
		ms = a.lastID + 1
	}
	a.lastID = ms
	return "item_" + strconv.FormatInt(ms, 10)
}

func itemFrom(id string, fields models.ItemFields, defaultLevel int, now time.Time) models.Item {
	return models.Item{
		ID:            id,
		Name:          fields.Name,
		SKU:           fields.SKU,
		Quantity:      fields.Quantity,
		Price:         fields.Price,
		Category:      fields.Category,
		Description:   fields.Description,
		LowStockLevel: fields.Level(defaultLevel),
		LastUpdated:   formatTimestamp(now),
	}
}

// isMissingRange reports the 400 the API returns for ranges on absent sheets.
func isMissingRange(err error) bool {
	var te *models.TransportError
	return errors.As(err, &te) && te.Status == http.StatusBadRequest
}

// ColumnLetterIndex converts a column name back to its 0-indexed position.
func ColumnLetterIndex(letters string) int {
	n := 0
	for _, c := range strings.ToUpper(letters) {
		if c < 'A' || c > 'Z' {
			panic(fmt.Sprintf("invalid column %q", letters))
		}
		n = n*26 + int(c-'A') + 1
	}
	return n - 1
}
