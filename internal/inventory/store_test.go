package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockroom/internal/models"
	"stockroom/internal/monitoring"
)

type fakeBackend struct {
	mu            sync.Mutex
	items         []models.Item
	categories    []string
	nextID        int
	listErr       error
	categoriesErr error
	mutateErr     error
	listHook      func()

	// positional mimics rows with blank ID cells: ids are row numbers that shift on delete
	positional bool
}

func (b *fakeBackend) ListItems(context.Context) ([]models.Item, error) {
	if b.listHook != nil {
		b.listHook()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := append([]models.Item{}, b.items...)
	if b.positional {
		for i := range out {
			out[i].ID = models.RowIDPrefix + strconv.Itoa(i+2)
		}
	}
	return out, nil
}

func (b *fakeBackend) indexOf(id string) int {
	if b.positional {
		n, err := strconv.Atoi(strings.TrimPrefix(id, models.RowIDPrefix))
		if err != nil || n-2 < 0 || n-2 >= len(b.items) {
			return -1
		}
		return n - 2
	}
	for i := range b.items {
		if b.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *fakeBackend) ListCategories(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.categoriesErr != nil {
		return nil, b.categoriesErr
	}
	return append([]string{}, b.categories...), nil
}

func (b *fakeBackend) CreateItem(_ context.Context, f models.ItemFields) (models.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mutateErr != nil {
		return models.Item{}, b.mutateErr
	}
	b.nextID++
	item := itemFromFields("item_"+strconv.Itoa(b.nextID), f)
	b.items = append(b.items, item)
	return item, nil
}

func (b *fakeBackend) UpdateItem(_ context.Context, id string, f models.ItemFields) (models.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mutateErr != nil {
		return models.Item{}, b.mutateErr
	}
	if i := b.indexOf(id); i >= 0 {
		b.items[i] = itemFromFields(id, f)
		return b.items[i], nil
	}
	return models.Item{}, &models.NotFoundError{ID: id}
}

func (b *fakeBackend) DeleteItem(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mutateErr != nil {
		return b.mutateErr
	}
	if i := b.indexOf(id); i >= 0 {
		b.items = append(b.items[:i], b.items[i+1:]...)
		return nil
	}
	return &models.NotFoundError{ID: id}
}

func itemFromFields(id string, f models.ItemFields) models.Item {
	return models.Item{
		ID: id, Name: f.Name, SKU: f.SKU, Quantity: f.Quantity, Price: f.Price,
		Category: f.Category, Description: f.Description, LowStockLevel: f.Level(10),
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
}

type fakeGate struct {
	mu          sync.Mutex
	signedIn    bool
	signInErr   error
	ensureErr   error
	invalidated int
	signOuts    int
}

func (g *fakeGate) EnsureSignedIn(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ensureErr != nil {
		return g.ensureErr
	}
	if !g.signedIn {
		return &models.AuthError{Op: "sign in", Err: models.ErrSignInTimeout}
	}
	return nil
}

func (g *fakeGate) CheckSignedIn(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signedIn
}

func (g *fakeGate) SignIn(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.signInErr != nil {
		return g.signInErr
	}
	g.signedIn = true
	return nil
}

func (g *fakeGate) SignOut(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signedIn = false
	g.signOuts++
	return nil
}

func (g *fakeGate) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidated++
}

func newTestStore(backend *fakeBackend, gate *fakeGate) *Store {
	return NewStore(Options{
		Backend:           backend,
		Gate:              gate,
		LowStockThreshold: 10,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:           monitoring.NewMetrics(),
		Monitor:           monitoring.NewMonitor(),
	})
}

func intPtr(v int) *int { return &v }

func TestStore_AddWidgetShowsInLowStock(t *testing.T) {
	backend := &fakeBackend{}
	store := newTestStore(backend, &fakeGate{signedIn: true})

	item, err := store.AddItem(context.Background(), models.ItemFields{Name: " Widget ", Quantity: 5, LowStockLevel: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, "Widget", item.Name)

	low := store.LowStockItems()
	require.Len(t, low, 1)
	assert.Equal(t, item.ID, low[0].ID)

	alert := store.Alert()
	assert.Equal(t, 1, alert.Count)
	assert.Equal(t, "1 item has quantity below its low stock threshold", alert.Message)
	assert.Equal(t, 10, alert.Items[0].Threshold)

	updated, err := store.UpdateItem(context.Background(), item.ID, models.ItemFields{Name: "Widget", Quantity: 20, LowStockLevel: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, 20, updated.Quantity)
	assert.Empty(t, store.LowStockItems())
	assert.Equal(t, 0, store.Alert().Count)

	store.SetFilterStockLevel(models.StockInStock)
	inStock := store.FilteredItems()
	require.Len(t, inStock, 1)
	assert.Equal(t, item.ID, inStock[0].ID)

	store.SetFilterStockLevel(models.StockLow)
	assert.Empty(t, store.FilteredItems())
}

func TestStore_AddValidatesBeforeCalling(t *testing.T) {
	backend := &fakeBackend{}
	store := newTestStore(backend, &fakeGate{signedIn: true})

	_, err := store.AddItem(context.Background(), models.ItemFields{Name: "  ", Quantity: -1})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 2)
	assert.Empty(t, backend.items)
}

func TestStore_FailurePreservesState(t *testing.T) {
	backend := &fakeBackend{}
	store := newTestStore(backend, &fakeGate{signedIn: true})
	ctx := context.Background()

	_, err := store.AddItem(ctx, models.ItemFields{Name: "Widget", Quantity: 5})
	require.NoError(t, err)
	before := store.Snapshot().Items

	backend.mutateErr = &models.TransportError{Op: "values.append", Status: 500, Err: errors.New("backend down")}
	_, err = store.AddItem(ctx, models.ItemFields{Name: "Gizmo", Quantity: 1})
	require.Error(t, err)

	snap := store.Snapshot()
	assert.Equal(t, before, snap.Items)
	assert.Equal(t, "Failed to add item: values.append: status 500: backend down", snap.Error)
	assert.False(t, snap.Loading)
}

func TestStore_UpdateMissingLeavesListUnchanged(t *testing.T) {
	backend := &fakeBackend{}
	store := newTestStore(backend, &fakeGate{signedIn: true})
	ctx := context.Background()

	_, err := store.AddItem(ctx, models.ItemFields{Name: "Widget", Quantity: 5})
	require.NoError(t, err)
	before := store.Snapshot().Items

	_, err = store.UpdateItem(ctx, "item_404", models.ItemFields{Name: "Ghost"})
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, before, store.Snapshot().Items)
	assert.Contains(t, store.Snapshot().Error, "Failed to update item")
}

func TestStore_UpdateAndDeleteMergeByID(t *testing.T) {
	backend := &fakeBackend{}
	store := newTestStore(backend, &fakeGate{signedIn: true})
	ctx := context.Background()

	a, err := store.AddItem(ctx, models.ItemFields{Name: "A", Quantity: 50})
	require.NoError(t, err)
	b, err := store.AddItem(ctx, models.ItemFields{Name: "B", Quantity: 50})
	require.NoError(t, err)

	updated, err := store.UpdateItem(ctx, a.ID, models.ItemFields{Name: "A2", Quantity: 1})
	require.NoError(t, err)
	items := store.Snapshot().Items
	require.Len(t, items, 2)
	assert.Equal(t, updated, items[0])
	assert.Equal(t, b.ID, items[1].ID)

	require.NoError(t, store.DeleteItem(ctx, a.ID))
	items = store.Snapshot().Items
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].ID)
}

func rowAddressedBackend() *fakeBackend {
	return &fakeBackend{positional: true, items: []models.Item{
		{Name: "Alpha", Quantity: 50, LowStockLevel: 10},
		{Name: "Bravo", Quantity: 50, LowStockLevel: 10},
		{Name: "Charlie", Quantity: 50, LowStockLevel: 10},
	}}
}

func TestStore_DeleteReloadsRowAddressedItems(t *testing.T) {
	backend := rowAddressedBackend()
	store := newTestStore(backend, &fakeGate{signedIn: true})
	ctx := context.Background()

	require.NoError(t, store.FetchItems(ctx))
	require.Equal(t, "row_3", store.Snapshot().Items[1].ID)

	require.NoError(t, store.DeleteItem(ctx, "row_2"))
	items := store.Snapshot().Items
	require.Len(t, items, 2)
	assert.Equal(t, models.Item{ID: "row_2", Name: "Bravo", Quantity: 50, LowStockLevel: 10}, items[0])
	assert.Equal(t, "row_3", items[1].ID)
	assert.Equal(t, "Charlie", items[1].Name)

	bravo := items[0]
	_, err := store.UpdateItem(ctx, bravo.ID, models.ItemFields{Name: "Bravo edited", Quantity: 99})
	require.NoError(t, err)

	remote, err := backend.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, remote, 2)
	assert.Equal(t, "Bravo edited", remote[0].Name)
	assert.Equal(t, "Charlie", remote[1].Name)
}

func TestStore_DeleteDropsRowAddressedItemsWhenReloadFails(t *testing.T) {
	backend := rowAddressedBackend()
	store := newTestStore(backend, &fakeGate{signedIn: true})
	ctx := context.Background()
	require.NoError(t, store.FetchItems(ctx))

	backend.mu.Lock()
	backend.listErr = &models.TransportError{Op: "values.get", Status: 503, Err: errors.New("unavailable")}
	backend.mu.Unlock()

	require.NoError(t, store.DeleteItem(ctx, "row_2"))
	assert.Empty(t, store.Snapshot().Items)
}

func TestStore_SignOutDiscardsInFlightFetch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{items: []models.Item{{ID: "item_1", Name: "Widget", Quantity: 5}}}
	backend.listHook = func() {
		close(entered)
		<-release
	}
	store := newTestStore(backend, &fakeGate{signedIn: true})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- store.FetchItems(ctx) }()

	<-entered
	require.NoError(t, store.SignOut(ctx))
	close(release)
	require.NoError(t, <-done)

	snap := store.Snapshot()
	assert.Empty(t, snap.Items)
	assert.False(t, snap.IsAuthenticated)
	assert.False(t, snap.Loading)
}

func TestStore_MonitorTracksCountsAndForgetsOnSignOut(t *testing.T) {
	monitor := monitoring.NewMonitor()
	backend := &fakeBackend{items: []models.Item{
		{ID: "item_1", Name: "Widget", Quantity: 5, LowStockLevel: 10},
		{ID: "item_2", Name: "Gizmo", Quantity: 50, LowStockLevel: 10},
	}}
	store := NewStore(Options{
		Backend:           backend,
		Gate:              &fakeGate{signedIn: true},
		LowStockThreshold: 10,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:           monitoring.NewMetrics(),
		Monitor:           monitor,
	})
	ctx := context.Background()

	require.NoError(t, store.FetchItems(ctx))
	facts := monitor.Facts()
	assert.Equal(t, 2, facts["items"])
	assert.Equal(t, 1, facts["low_stock_items"])
	assert.Equal(t, 2, facts["fetch_items_count"])

	require.NoError(t, store.SignOut(ctx))
	facts = monitor.Facts()
	assert.Equal(t, 0, facts["items"])
	assert.NotContains(t, facts, "fetch_items_count")
}

func TestStore_UnauthorizedInvalidatesToken(t *testing.T) {
	backend := &fakeBackend{listErr: &models.TransportError{Op: "values.get", Status: 401, Err: errors.New("expired")}}
	gate := &fakeGate{signedIn: true}
	store := newTestStore(backend, gate)

	err := store.FetchItems(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, gate.invalidated)
	assert.Equal(t, "Failed to fetch items: values.get: status 401: expired", store.Snapshot().Error)
}

func TestStore_CategoryErrorsAreSwallowed(t *testing.T) {
	backend := &fakeBackend{
		items:         []models.Item{{ID: "item_1", Name: "Widget", Quantity: 50}},
		categoriesErr: &models.TransportError{Op: "values.get", Status: 500, Err: errors.New("boom")},
	}
	store := newTestStore(backend, &fakeGate{signedIn: true})

	require.NoError(t, store.Refresh(context.Background()))
	snap := store.Snapshot()
	assert.Empty(t, snap.Categories)
	assert.NotNil(t, snap.Categories)
	assert.Empty(t, snap.Error)
	assert.Len(t, snap.Items, 1)
}

func TestStore_InitLoadsWhenSignedIn(t *testing.T) {
	backend := &fakeBackend{
		items:      []models.Item{{ID: "item_1", Name: "Widget", Quantity: 50}},
		categories: []string{"Parts", "Tools"},
	}
	store := newTestStore(backend, &fakeGate{signedIn: true})

	require.NoError(t, store.Init(context.Background()))
	snap := store.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.Len(t, snap.Items, 1)
	assert.Equal(t, []string{"Parts", "Tools"}, snap.Categories)
}

func TestStore_InitSignedOutLoadsNothing(t *testing.T) {
	backend := &fakeBackend{items: []models.Item{{ID: "item_1", Name: "Widget"}}}
	store := newTestStore(backend, &fakeGate{})

	require.NoError(t, store.Init(context.Background()))
	snap := store.Snapshot()
	assert.False(t, snap.IsAuthenticated)
	assert.Empty(t, snap.Items)
}

func TestStore_SignInThenSignOut(t *testing.T) {
	backend := &fakeBackend{
		items:      []models.Item{{ID: "item_1", Name: "Widget", Quantity: 1}},
		categories: []string{"Tools"},
	}
	gate := &fakeGate{}
	store := newTestStore(backend, gate)
	ctx := context.Background()

	require.NoError(t, store.SignIn(ctx))
	snap := store.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.Len(t, snap.Items, 1)

	require.NoError(t, store.SignOut(ctx))
	snap = store.Snapshot()
	assert.False(t, snap.IsAuthenticated)
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.Categories)
	assert.Empty(t, snap.LowStock.Items)
	assert.Equal(t, 1, gate.signOuts)
}

func TestStore_SignInFailureRecordsError(t *testing.T) {
	gate := &fakeGate{signInErr: &models.AuthError{Op: "sign in", Err: models.ErrSignInTimeout}}
	store := newTestStore(&fakeBackend{}, gate)

	err := store.SignIn(context.Background())
	assert.ErrorIs(t, err, models.ErrSignInTimeout)
	assert.Equal(t, "Failed to sign in: sign in: sign in timeout", store.Snapshot().Error)
}

func TestStore_FiltersPreserveOrder(t *testing.T) {
	backend := &fakeBackend{items: []models.Item{
		{ID: "1", Name: "Hammer", SKU: "H-1", Category: "Tools", Quantity: 2, LowStockLevel: 5},
		{ID: "2", Name: "Bolt", SKU: "B-1", Category: "Parts", Quantity: 100, LowStockLevel: 0},
		{ID: "3", Name: "Wrench", SKU: "W-1", Category: "Tools", Quantity: 50, LowStockLevel: 5},
		{ID: "4", Name: "Nut", SKU: "tool-nut", Category: "Parts", Quantity: 3, LowStockLevel: 0},
	}}
	store := newTestStore(backend, &fakeGate{signedIn: true})
	require.NoError(t, store.FetchItems(context.Background()))

	ids := func(items []models.Item) []string {
		out := []string{}
		for _, i := range items {
			out = append(out, i.ID)
		}
		return out
	}

	store.SetSearchQuery("TOOL")
	assert.Equal(t, []string{"1", "3", "4"}, ids(store.FilteredItems()))

	store.SetFilterCategory("Tools")
	assert.Equal(t, []string{"1", "3"}, ids(store.FilteredItems()))

	store.SetFilterStockLevel(models.StockLow)
	assert.Equal(t, []string{"1"}, ids(store.FilteredItems()))

	store.SetSearchQuery("")
	store.SetFilterCategory(models.CategoryAll)
	assert.Equal(t, []string{"1", "4"}, ids(store.FilteredItems()))

	store.SetFilterStockLevel(models.StockInStock)
	assert.Equal(t, []string{"2", "3"}, ids(store.FilteredItems()))

	// low stock ignores the filter
	assert.Equal(t, []string{"1", "4"}, ids(store.LowStockItems()))
}

func TestStore_SubscribeIsNotified(t *testing.T) {
	store := newTestStore(&fakeBackend{}, &fakeGate{signedIn: true})
	ch, cancel := store.Subscribe()
	defer cancel()

	store.SetSearchQuery("x")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected change notification")
	}
}

func TestStore_LoadingCountsConcurrentCalls(t *testing.T) {
	store := newTestStore(&fakeBackend{}, &fakeGate{signedIn: true})
	store.begin()
	store.begin()
	store.end()
	assert.True(t, store.Snapshot().Loading)
	store.end()
	assert.False(t, store.Snapshot().Loading)
}
