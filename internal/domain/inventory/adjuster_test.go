package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/catalog"
)

// --- Mock implementations ---

type memProducts struct {
	items map[string]*catalog.Product
	// staleWrites makes the next N writes fail with ErrStaleVersion once
	// staleAfter writes have succeeded.
	staleWrites int
	staleAfter  int
	writes      int
}

func (m *memProducts) stale() bool {
	m.writes++
	if m.staleAfter > 0 {
		m.staleAfter--
		return false
	}
	if m.staleWrites > 0 {
		m.staleWrites--
		return true
	}
	return false
}

func (m *memProducts) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *p
	cp.Combinations = append([]catalog.AttributeCombination(nil), p.Combinations...)
	return &cp, nil
}

func (m *memProducts) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, err := m.GetByID(ctx, id); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memProducts) UpdateInventory(_ context.Context, p *catalog.Product) error {
	if m.stale() {
		return catalog.ErrStaleVersion
	}
	cur := m.items[p.ID]
	if cur.Version != p.Version {
		return catalog.ErrStaleVersion
	}
	p.Version++
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *memProducts) UpdateCombinationStock(_ context.Context, productID string, c *catalog.AttributeCombination) error {
	if m.stale() {
		return catalog.ErrStaleVersion
	}
	cur := m.items[productID]
	for i := range cur.Combinations {
		if cur.Combinations[i].ID != c.ID {
			continue
		}
		if cur.Combinations[i].Version != c.Version {
			return catalog.ErrStaleVersion
		}
		c.Version++
		cur.Combinations[i] = *c
		return nil
	}
	return catalog.ErrCombinationNotFound
}

type memHistory struct {
	entries []HistoryEntry
}

func (m *memHistory) Append(_ context.Context, e *HistoryEntry) error {
	m.entries = append(m.entries, *e)
	return nil
}

type mockNotifier struct {
	lowStock    []string
	backInStock []string
}

func (m *mockNotifier) NotifyLowStock(_ context.Context, p *catalog.Product, _ *catalog.AttributeCombination, _ int) error {
	m.lowStock = append(m.lowStock, p.ID)
	return nil
}

func (m *mockNotifier) NotifyBackInStock(_ context.Context, p *catalog.Product, _ *catalog.AttributeCombination) error {
	m.backInStock = append(m.backInStock, p.ID)
	return nil
}

// rollbackTx restores products and history when fn fails.
type rollbackTx struct {
	repo *memProducts
	hist *memHistory
}

func (tx rollbackTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	items := make(map[string]*catalog.Product, len(tx.repo.items))
	for id, p := range tx.repo.items {
		cp := *p
		cp.Combinations = append([]catalog.AttributeCombination(nil), p.Combinations...)
		items[id] = &cp
	}
	entries := len(tx.hist.entries)
	if err := fn(ctx); err != nil {
		tx.repo.items = items
		tx.hist.entries = tx.hist.entries[:entries]
		return err
	}
	return nil
}

// --- Helpers ---

func stocked(id string, qty, minQty int, activity catalog.LowStockActivity) *catalog.Product {
	return &catalog.Product{
		ID:        id,
		Name:      "Product " + id,
		Published: true,
		Inventory: catalog.Inventory{
			Mode:                        catalog.InventoryStock,
			StockQuantity:               qty,
			MinStockQuantity:            minQty,
			LowStockActivity:            activity,
			NotifyAdminForQuantityBelow: 2,
			AllowBackInStockSubscribers: true,
		},
	}
}

func setup(settings Settings, products ...*catalog.Product) (*Adjuster, *memProducts, *memHistory, *mockNotifier) {
	repo := &memProducts{items: map[string]*catalog.Product{}}
	for _, p := range products {
		repo.items[p.ID] = p
	}
	hist := &memHistory{}
	n := &mockNotifier{}
	return NewAdjuster(repo, hist, n, rollbackTx{repo: repo, hist: hist}, settings), repo, hist, n
}

// --- Tests ---

func TestAdjust_ProductStock(t *testing.T) {
	a, repo, hist, _ := setup(Settings{}, stocked("p1", 10, 0, catalog.LowStockNothing))

	require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "p1", Delta: -3, Message: "order 1"}))

	assert.Equal(t, 7, repo.items["p1"].Inventory.StockQuantity)
	require.Len(t, hist.entries, 1)
	assert.Equal(t, -3, hist.entries[0].Adjustment)
	assert.Equal(t, 7, hist.entries[0].StockQuantity)
	assert.Equal(t, "order 1", hist.entries[0].Message)
	assert.NotEmpty(t, hist.entries[0].ID)
}

func TestAdjust_Conservation(t *testing.T) {
	a, repo, hist, _ := setup(Settings{}, stocked("p1", 20, 0, catalog.LowStockNothing))
	ctx := context.Background()

	for _, delta := range []int{-2, -5, 3, -1, 5} {
		require.NoError(t, a.Adjust(ctx, Adjustment{ProductID: "p1", Delta: delta}))
	}

	assert.Equal(t, 20-2-5+3-1+5, repo.items["p1"].Inventory.StockQuantity)
	assert.Len(t, hist.entries, 5)
}

func TestAdjust_LowStockActivity(t *testing.T) {
	tests := []struct {
		name          string
		activity      catalog.LowStockActivity
		wantPublished bool
		wantDisabled  bool
	}{
		{name: "nothing", activity: catalog.LowStockNothing, wantPublished: true},
		{name: "disable buy button", activity: catalog.LowStockDisableBuyButton, wantPublished: true, wantDisabled: true},
		{name: "unpublish", activity: catalog.LowStockUnpublish, wantPublished: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, repo, _, _ := setup(Settings{}, stocked("p1", 5, 3, tt.activity))

			require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "p1", Delta: -2}))

			p := repo.items["p1"]
			assert.Equal(t, 3, p.Inventory.StockQuantity)
			assert.Equal(t, tt.wantPublished, p.Published)
			assert.Equal(t, tt.wantDisabled, p.DisableBuyButton)
		})
	}
}

func TestAdjust_AutoRepublish(t *testing.T) {
	p := stocked("p1", 2, 3, catalog.LowStockUnpublish)
	p.Published = false

	t.Run("disabled", func(t *testing.T) {
		a, repo, _, _ := setup(Settings{}, clone(p))
		require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "p1", Delta: 5}))
		assert.False(t, repo.items["p1"].Published)
	})
	t.Run("crosses minimum", func(t *testing.T) {
		a, repo, _, _ := setup(Settings{AutoRepublish: true}, clone(p))
		require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "p1", Delta: 5}))
		assert.True(t, repo.items["p1"].Published)
	})
	t.Run("stays at minimum", func(t *testing.T) {
		a, repo, _, _ := setup(Settings{AutoRepublish: true}, clone(p))
		require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "p1", Delta: 1}))
		assert.False(t, repo.items["p1"].Published)
	})
}

func TestAdjust_Notifications(t *testing.T) {
	a, _, _, n := setup(Settings{}, stocked("p1", 2, 0, catalog.LowStockNothing))
	ctx := context.Background()

	require.NoError(t, a.Adjust(ctx, Adjustment{ProductID: "p1", Delta: -2}))
	assert.Equal(t, []string{"p1"}, n.lowStock)
	assert.Empty(t, n.backInStock)

	require.NoError(t, a.Adjust(ctx, Adjustment{ProductID: "p1", Delta: 4}))
	assert.Equal(t, []string{"p1"}, n.backInStock)
	assert.Len(t, n.lowStock, 1)
}

func TestAdjust_Untracked(t *testing.T) {
	p := stocked("p1", 5, 0, catalog.LowStockNothing)
	p.Inventory.Mode = catalog.InventoryNone
	a, repo, hist, _ := setup(Settings{}, p)

	require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "p1", Delta: -1}))
	assert.Equal(t, 5, repo.items["p1"].Inventory.StockQuantity)
	assert.Zero(t, repo.writes)
	assert.Empty(t, hist.entries)
}

func TestAdjust_Combination(t *testing.T) {
	p := &catalog.Product{
		ID:        "shirt",
		Published: true,
		Inventory: catalog.Inventory{Mode: catalog.InventoryAttributes, StockQuantity: 100},
		Attributes: []catalog.AttributeMapping{{
			ID:   1,
			Name: "Size",
			Values: []catalog.AttributeValue{
				{ID: 10, Name: "M"},
				{ID: 11, Name: "L"},
			},
		}},
		Combinations: []catalog.AttributeCombination{
			{ID: 1, Selection: "1:10", StockQuantity: 4},
			{ID: 2, Selection: "1:11", StockQuantity: 6},
		},
	}
	a, repo, hist, _ := setup(Settings{}, p)

	require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "shirt", Delta: -3, Selection: "1:11"}))

	got := repo.items["shirt"]
	assert.Equal(t, 100, got.Inventory.StockQuantity)
	assert.Equal(t, 4, got.Combinations[0].StockQuantity)
	assert.Equal(t, 3, got.Combinations[1].StockQuantity)
	require.Len(t, hist.entries, 1)
	assert.Equal(t, int64(2), hist.entries[0].CombinationID)
}

func TestAdjust_CombinationMissing(t *testing.T) {
	p := &catalog.Product{
		ID:        "shirt",
		Inventory: catalog.Inventory{Mode: catalog.InventoryAttributes},
		Attributes: []catalog.AttributeMapping{{
			ID:     1,
			Values: []catalog.AttributeValue{{ID: 10}},
		}},
	}
	a, _, _, _ := setup(Settings{}, p)

	err := a.Adjust(context.Background(), Adjustment{ProductID: "shirt", Delta: -1, Selection: "1:10"})
	require.ErrorIs(t, err, catalog.ErrCombinationNotFound)
}

func TestAdjust_BundleDepletesComponents(t *testing.T) {
	bundle := stocked("bundle", 10, 0, catalog.LowStockNothing)
	bundle.Attributes = []catalog.AttributeMapping{{
		ID:   1,
		Name: "Contents",
		Values: []catalog.AttributeValue{
			{ID: 10, Name: "Batteries", Type: catalog.ValueAssociatedToProduct, AssociatedProductID: "battery", Quantity: 4},
		},
	}}
	battery := stocked("battery", 50, 0, catalog.LowStockNothing)
	a, repo, hist, _ := setup(Settings{}, bundle, battery)

	require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "bundle", Delta: -2, Selection: "1:10"}))

	assert.Equal(t, 8, repo.items["bundle"].Inventory.StockQuantity)
	assert.Equal(t, 42, repo.items["battery"].Inventory.StockQuantity)
	assert.Len(t, hist.entries, 2)
}

func TestAdjust_BundleComponentFailureMovesNothing(t *testing.T) {
	bundle := stocked("bundle", 10, 0, catalog.LowStockNothing)
	bundle.Inventory.NotifyAdminForQuantityBelow = 100
	bundle.Attributes = []catalog.AttributeMapping{{
		ID:   1,
		Name: "Contents",
		Values: []catalog.AttributeValue{
			{ID: 10, Name: "Batteries", Type: catalog.ValueAssociatedToProduct, AssociatedProductID: "battery", Quantity: 4},
		},
	}}
	a, repo, hist, n := setup(Settings{}, bundle)
	ctx := context.Background()
	adj := Adjustment{ProductID: "bundle", Delta: -2, Selection: "1:10"}

	err := a.Adjust(ctx, adj)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, 10, repo.items["bundle"].Inventory.StockQuantity)
	assert.Empty(t, hist.entries)
	assert.Empty(t, n.lowStock)

	// Replaying the same adjustment once the component exists moves each
	// product exactly once.
	repo.items["battery"] = stocked("battery", 50, 0, catalog.LowStockNothing)
	require.NoError(t, a.Adjust(ctx, adj))
	assert.Equal(t, 8, repo.items["bundle"].Inventory.StockQuantity)
	assert.Equal(t, 42, repo.items["battery"].Inventory.StockQuantity)
	assert.Len(t, hist.entries, 2)
	assert.Equal(t, []string{"bundle"}, n.lowStock)
}

func TestAdjust_BundleRetriesWholeTree(t *testing.T) {
	bundle := stocked("bundle", 10, 0, catalog.LowStockNothing)
	bundle.Attributes = []catalog.AttributeMapping{{
		ID: 1,
		Values: []catalog.AttributeValue{
			{ID: 10, Type: catalog.ValueAssociatedToProduct, AssociatedProductID: "battery", Quantity: 4},
		},
	}}
	battery := stocked("battery", 50, 0, catalog.LowStockNothing)
	a, repo, hist, _ := setup(Settings{MaxRetries: 3}, bundle, battery)
	// The bundle write succeeds, the battery write is stale once.
	repo.staleAfter = 1
	repo.staleWrites = 1

	require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "bundle", Delta: -1, Selection: "1:10"}))
	assert.Equal(t, 9, repo.items["bundle"].Inventory.StockQuantity)
	assert.Equal(t, 46, repo.items["battery"].Inventory.StockQuantity)
	assert.Len(t, hist.entries, 2)
}

func TestAdjust_RetriesStaleVersion(t *testing.T) {
	a, repo, hist, _ := setup(Settings{MaxRetries: 3}, stocked("p1", 10, 0, catalog.LowStockNothing))
	repo.staleWrites = 2

	require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "p1", Delta: -1}))
	assert.Equal(t, 9, repo.items["p1"].Inventory.StockQuantity)
	assert.Equal(t, 3, repo.writes)
	assert.Len(t, hist.entries, 1)
}

func TestAdjust_GivesUpAfterRetries(t *testing.T) {
	a, repo, _, _ := setup(Settings{MaxRetries: 2}, stocked("p1", 10, 0, catalog.LowStockNothing))
	repo.staleWrites = 10

	err := a.Adjust(context.Background(), Adjustment{ProductID: "p1", Delta: -1})
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.Equal(t, 10, repo.items["p1"].Inventory.StockQuantity)
}

func TestAdjust_ZeroDeltaNoop(t *testing.T) {
	a, repo, hist, _ := setup(Settings{}, stocked("p1", 10, 0, catalog.LowStockNothing))

	require.NoError(t, a.Adjust(context.Background(), Adjustment{ProductID: "p1"}))
	assert.Zero(t, repo.writes)
	assert.Empty(t, hist.entries)
}

func clone(p *catalog.Product) *catalog.Product {
	cp := *p
	return &cp
}
