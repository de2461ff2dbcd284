package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"stockroom/internal/models"
	"stockroom/internal/monitoring"
)

// Backend is the remote table the store mirrors
type Backend interface {
	ListItems(ctx context.Context) ([]models.Item, error)
	ListCategories(ctx context.Context) ([]string, error)
	CreateItem(ctx context.Context, fields models.ItemFields) (models.Item, error)
	UpdateItem(ctx context.Context, id string, fields models.ItemFields) (models.Item, error)
	DeleteItem(ctx context.Context, id string) error
}

// Gate guards every backend call with a usable session
type Gate interface {
	EnsureSignedIn(ctx context.Context) error
	CheckSignedIn(ctx context.Context) bool
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
	Invalidate()
}

// Options configures a Store
type Options struct {
	Backend           Backend
	Gate              Gate
	LowStockThreshold int
	Logger            *slog.Logger
	Metrics           *monitoring.Metrics
	Monitor           *monitoring.Monitor
}

// Snapshot is a consistent copy of the store state
type Snapshot struct {
	Items           []models.Item `json:"items"`
	FilteredItems   []models.Item `json:"filteredItems"`
	Categories      []string      `json:"categories"`
	Filter          models.Filter `json:"filter"`
	LowStock        Alert         `json:"lowStock"`
	IsAuthenticated bool          `json:"isAuthenticated"`
	Loading         bool          `json:"loading"`
	Error           string        `json:"error,omitempty"`
}

// Store owns the in-memory item and category lists and every view derived from them.
// Fetches replace lists; mutations merge their single result by id. A failed call leaves
// the lists untouched and records a message for the UI.
type Store struct {
	backend      Backend
	gate         Gate
	defaultLevel int
	logger       *slog.Logger
	metrics      *monitoring.Metrics
	monitor      *monitoring.Monitor

	mu            sync.RWMutex
	items         []models.Item
	categories    []string
	filter        models.Filter
	authenticated bool
	signOuts      uint64
	loading       int
	lastError     string

	subMu       sync.Mutex
	subscribers map[int]chan struct{}
	nextSub     int
}

// NewStore creates an empty, signed-out store.
func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		backend:      opts.Backend,
		gate:         opts.Gate,
		defaultLevel: opts.LowStockThreshold,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		monitor:      opts.Monitor,
		items:        []models.Item{},
		categories:   []string{},
		filter:       models.DefaultFilter(),
		subscribers:  make(map[int]chan struct{}),
	}
}

// Init checks for an existing session and loads both lists when one is found.
func (s *Store) Init(ctx context.Context) error {
	signedIn := s.gate.CheckSignedIn(ctx)
	s.setAuthenticated(signedIn)
	if !signedIn {
		s.logger.Info("no usable session, waiting for sign in")
		return nil
	}
	return s.Refresh(ctx)
}

// Refresh reloads items and categories concurrently.
func (s *Store) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.FetchItems(gctx) })
	g.Go(func() error {
		s.FetchCategories(gctx)
		return nil
	})
	return g.Wait()
}

// FetchItems replaces the item list with the remote table.
func (s *Store) FetchItems(ctx context.Context) error {
	s.begin()
	defer s.end()

	epoch := s.epoch()
	items, err := s.call(ctx, epoch, func() (interface{}, error) {
		return s.backend.ListItems(ctx)
	})
	if err != nil {
		s.monitorSync("fetch_items", 0, err)
		return s.fail("fetch items", err)
	}

	list := items.([]models.Item)
	if !s.apply(epoch, func() { s.items = append([]models.Item{}, list...) }) {
		return nil
	}
	s.monitorSync("fetch_items", len(list), nil)
	s.changed()
	return nil
}

// FetchCategories replaces the category list. Failures only log and leave an empty list.
func (s *Store) FetchCategories(ctx context.Context) {
	epoch := s.epoch()
	result, err := s.call(ctx, epoch, func() (interface{}, error) {
		return s.backend.ListCategories(ctx)
	})
	categories := []string{}
	if err != nil {
		s.logger.Warn("failed to fetch categories", "error", err)
	} else {
		categories = append(categories, result.([]string)...)
	}
	s.monitorSync("fetch_categories", len(categories), err)

	if s.apply(epoch, func() { s.categories = categories }) {
		s.changed()
	}
}

// AddItem validates fields, creates the row and appends the new item.
func (s *Store) AddItem(ctx context.Context, fields models.ItemFields) (models.Item, error) {
	fields = fields.Normalize(s.defaultLevel)
	if err := fields.Validate(); err != nil {
		return models.Item{}, err
	}

	s.begin()
	defer s.end()

	epoch := s.epoch()
	result, err := s.call(ctx, epoch, func() (interface{}, error) {
		return s.backend.CreateItem(ctx, fields)
	})
	if err != nil {
		return models.Item{}, s.fail("add item", err)
	}

	item := result.(models.Item)
	s.apply(epoch, func() { s.items = merge(s.items, item) })
	s.logger.Info("item added", "id", item.ID, "name", item.Name)
	s.changed()
	return item, nil
}

// UpdateItem overwrites the item with id and replaces it in place.
func (s *Store) UpdateItem(ctx context.Context, id string, fields models.ItemFields) (models.Item, error) {
	fields = fields.Normalize(s.defaultLevel)
	if err := fields.Validate(); err != nil {
		return models.Item{}, err
	}

	s.begin()
	defer s.end()

	epoch := s.epoch()
	result, err := s.call(ctx, epoch, func() (interface{}, error) {
		return s.backend.UpdateItem(ctx, id, fields)
	})
	if err != nil {
		return models.Item{}, s.fail("update item", err)
	}

	item := result.(models.Item)
	s.apply(epoch, func() { s.items = merge(s.items, item) })
	s.logger.Info("item updated", "id", item.ID)
	s.changed()
	return item, nil
}

// DeleteItem removes the item with id.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	s.begin()
	defer s.end()

	epoch := s.epoch()
	_, err := s.call(ctx, epoch, func() (interface{}, error) {
		return nil, s.backend.DeleteItem(ctx, id)
	})
	if err != nil {
		return s.fail("delete item", err)
	}

	positional := false
	s.apply(epoch, func() {
		kept := make([]models.Item, 0, len(s.items))
		for _, item := range s.items {
			if item.ID != id {
				kept = append(kept, item)
				positional = positional || models.IsRowID(item.ID)
			}
		}
		s.items = kept
	})
	s.logger.Info("item deleted", "id", id)

	// later rows shifted up, so ids derived from row numbers now name other rows
	if positional {
		s.reloadPositional(ctx, epoch)
	}
	s.changed()
	return nil
}

// reloadPositional refetches the table after a delete. When that fails the row-derived
// entries are dropped so they cannot be used to address the wrong row.
func (s *Store) reloadPositional(ctx context.Context, epoch uint64) {
	result, err := s.call(ctx, epoch, func() (interface{}, error) {
		return s.backend.ListItems(ctx)
	})
	if err != nil {
		s.monitorSync("fetch_items", 0, err)
		s.logger.Warn("failed to reload row-addressed items after delete", "error", err)
		s.apply(epoch, func() {
			kept := make([]models.Item, 0, len(s.items))
			for _, item := range s.items {
				if !models.IsRowID(item.ID) {
					kept = append(kept, item)
				}
			}
			s.items = kept
		})
		return
	}
	list := result.([]models.Item)
	s.apply(epoch, func() { s.items = append([]models.Item{}, list...) })
	s.monitorSync("fetch_items", len(list), nil)
}

// SignIn runs the interactive sign-in and then loads both lists.
func (s *Store) SignIn(ctx context.Context) error {
	s.clearError()
	if err := s.gate.SignIn(ctx); err != nil {
		return s.fail("sign in", err)
	}
	s.setAuthenticated(true)
	return s.Refresh(ctx)
}

// SignOut ends the session and empties the lists.
func (s *Store) SignOut(ctx context.Context) error {
	s.clearError()
	err := s.gate.SignOut(ctx)

	s.mu.Lock()
	s.signOuts++
	s.authenticated = false
	s.items = []models.Item{}
	s.categories = []string{}
	s.mu.Unlock()
	if s.monitor != nil {
		s.monitor.Forget()
	}
	s.publishInventory()
	s.changed()

	if err != nil {
		return s.fail("sign out", err)
	}
	return nil
}

// SetSearchQuery updates the free-text filter.
func (s *Store) SetSearchQuery(query string) {
	s.mu.Lock()
	s.filter.SearchQuery = query
	s.mu.Unlock()
	s.changed()
}

// SetFilterCategory selects one category, or models.CategoryAll.
func (s *Store) SetFilterCategory(category string) {
	if category == "" {
		category = models.CategoryAll
	}
	s.mu.Lock()
	s.filter.Category = category
	s.mu.Unlock()
	s.changed()
}

// SetFilterStockLevel selects the stock predicate.
func (s *Store) SetFilterStockLevel(level models.StockLevel) {
	s.mu.Lock()
	s.filter.StockLevel = level
	s.mu.Unlock()
	s.changed()
}

// FilteredItems applies the current filter to the item list.
func (s *Store) FilteredItems() []models.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ApplyFilter(s.items, s.filter, s.defaultLevel)
}

// LowStockItems lists every low item regardless of the filter.
func (s *Store) LowStockItems() []models.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LowStock(s.items, s.defaultLevel)
}

// Alert summarizes LowStockItems.
func (s *Store) Alert() Alert {
	return BuildAlert(s.LowStockItems(), s.defaultLevel)
}

// Categories returns the current category list.
func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.categories...)
}

// Snapshot copies the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Items:           append([]models.Item{}, s.items...),
		FilteredItems:   ApplyFilter(s.items, s.filter, s.defaultLevel),
		Categories:      append([]string{}, s.categories...),
		Filter:          s.filter,
		LowStock:        BuildAlert(LowStock(s.items, s.defaultLevel), s.defaultLevel),
		IsAuthenticated: s.authenticated,
		Loading:         s.loading > 0,
		Error:           s.lastError,
	}
}

// Subscribe returns a channel signalled after every state change, coalescing bursts.
// The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subscribers[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) changed() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// call gates fn behind a usable session. A 401 from the backend drops the cached token so
// the next call refreshes.
func (s *Store) call(ctx context.Context, epoch uint64, fn func() (interface{}, error)) (interface{}, error) {
	if err := s.gate.EnsureSignedIn(ctx); err != nil {
		var ae *models.AuthError
		if errors.As(err, &ae) {
			s.setAuthenticated(false)
		}
		return nil, err
	}
	if s.apply(epoch, func() { s.authenticated = true }) {
		s.changed()
	}
	result, err := fn()
	if models.IsUnauthorized(err) {
		s.gate.Invalidate()
	}
	return result, err
}

// epoch identifies the current sign-in; SignOut advances it.
func (s *Store) epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signOuts
}

// apply runs fn under the write lock unless a sign-out happened since epoch was read,
// so results that arrive after SignOut never refill the lists.
func (s *Store) apply(epoch uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signOuts != epoch {
		return false
	}
	fn()
	return true
}

func (s *Store) begin() {
	s.mu.Lock()
	s.loading++
	s.lastError = ""
	s.mu.Unlock()
	s.changed()
}

func (s *Store) end() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
	s.publishInventory()
	s.changed()
}

func (s *Store) fail(op string, err error) error {
	msg := fmt.Sprintf("Failed to %s: %v", op, err)
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.logger.Error("operation failed", "operation", op, "error", err)
	return err
}

func (s *Store) clearError() {
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
}

func (s *Store) setAuthenticated(v bool) {
	s.mu.Lock()
	changed := s.authenticated != v
	s.authenticated = v
	s.mu.Unlock()
	if changed {
		s.changed()
	}
}

func (s *Store) publishInventory() {
	s.mu.RLock()
	total := len(s.items)
	low := len(LowStock(s.items, s.defaultLevel))
	s.mu.RUnlock()
	s.metrics.SetInventory(total, low)
	if s.monitor != nil {
		s.monitor.SetGauge("items", total)
		s.monitor.SetGauge("low_stock_items", low)
	}
}

func (s *Store) monitorSync(op string, count int, err error) {
	if s.monitor != nil {
		s.monitor.RecordSync(op, count, err)
	}
}

// merge replaces the item with the same id, or appends it.
func merge(items []models.Item, item models.Item) []models.Item {
	out := make([]models.Item, 0, len(items)+1)
	found := false
	for _, existing := range items {
		if existing.ID == item.ID {
			out = append(out, item)
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		out = append(out, item)
	}
	return out
}
