package reconcile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/comanda-relay/pkg/cache"
	"github.com/astromechza/comanda-relay/pkg/order"
)

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func drink(id string, table int, items ...order.Item) order.Order {
	return order.Order{
		ID:        id,
		Table:     order.NumericTable(table),
		Items:     items,
		Timestamp: "2024-05-01T21:10:05.123Z",
		Source:    order.SourceBar,
	}
}

var (
	fernet  = order.Item{Name: "Fernet", Price: 80, Category: "Tragos"}
	whisky  = order.Item{Name: "Whisky", Price: 150, Size: "Doble", Category: "Tragos"}
	vodka   = order.Item{Name: "Vodka", Price: 120, Size: "triple", Category: "Tragos"}
	malbec  = order.Item{Name: "Malbec", Price: 900, Quantity: 2, Category: "Botellas"}
	unnamed = order.Item{Name: "Agua", Price: 10}
)

func TestDedupMergesSameContentUnderDifferentIDs(t *testing.T) {
	a := drink("a", 4, fernet)
	b := drink("b", 4, fernet)
	b.Completed = true

	out := Dedup([]order.Order{a, b}, nil, order.SourceBar)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
	assert.True(t, out[0].Completed)
}

func TestDedupByIDNeverDowngradesCompletion(t *testing.T) {
	first := drink("a", 4, fernet)
	first.Completed = true
	second := drink("a", 5, whisky)

	out := Dedup([]order.Order{first, second}, nil, order.SourceBar)
	require.Len(t, out, 1)
	assert.Equal(t, "5", out[0].Table.String())
	assert.True(t, out[0].Completed)
}

func TestDedupDropsTombstonedAndForeignOrders(t *testing.T) {
	gone := drink("a", 4, fernet)
	tombstones := map[string]bool{order.Signature(gone): true}
	reborn := drink("new-id", 4, fernet)
	kitchen := drink("k", 1, unnamed)
	kitchen.Source = order.SourceKitchen
	unlabelled := drink("u", 2, whisky)
	unlabelled.Source = ""

	out := Dedup([]order.Order{gone, reborn, kitchen, unlabelled}, tombstones, order.SourceBar)
	require.Len(t, out, 1)
	assert.Equal(t, "u", out[0].ID)
}

func TestDedupTreatsStatusCompletedAsCompleted(t *testing.T) {
	o := drink("a", 1, fernet)
	o.Status = order.StatusCompleted
	out := Dedup([]order.Order{o}, nil, order.SourceBar)
	require.Len(t, out, 1)
	assert.True(t, out[0].Completed)
}

func TestFoldIsIdempotent(t *testing.T) {
	l := NewLedger()
	orders := []order.Order{drink("a", 1, fernet, whisky, vodka, malbec)}

	assert.True(t, Fold(&l, orders, order.SourceBar))
	before := l.clone()
	assert.False(t, Fold(&l, orders, order.SourceBar))
	assert.Equal(t, before, l)

	assert.Equal(t, 1, l.Totals.Simple)
	assert.Equal(t, 1, l.Totals.Double)
	assert.Equal(t, 1, l.Totals.Triple)
	assert.Equal(t, 2, l.Totals.Bottle)
	assert.True(t, decimal.NewFromInt(1250).Equal(l.Totals.Amount), l.Totals.Amount.String())
	require.Len(t, l.Entries, 4)
	assert.Equal(t, "simple", l.Entries[0].Size)
	assert.Equal(t, 2, l.Entries[3].Quantity)
}

func TestFoldSkipsOrdersWithoutIDOrFromAnotherChannel(t *testing.T) {
	l := NewLedger()
	kitchen := drink("k", 1, fernet)
	kitchen.Source = order.SourceKitchen
	assert.False(t, Fold(&l, []order.Order{drink("", 1, fernet), kitchen}, order.SourceBar))
	assert.Empty(t, l.Entries)

	assert.True(t, Fold(&l, []order.Order{drink("empty", 1)}, order.SourceBar))
	assert.True(t, l.ProcessedOrderIDs["empty"])
}

func TestLiveStats(t *testing.T) {
	stats := LiveStats([]order.Order{drink("a", 1, fernet, malbec), drink("b", 2, whisky)})
	assert.Equal(t, 1, stats.Simple)
	assert.Equal(t, 1, stats.Double)
	assert.Equal(t, 2, stats.Bottle)
	assert.True(t, decimal.NewFromInt(1130).Equal(stats.Amount))
}

func TestEngineMergeClearAndReload(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	e := NewEngine(store.Tab("bar-1"), order.SourceBar)
	require.NoError(t, e.Load(ctx))

	a, b := drink("a", 1, fernet), drink("b", 2, whisky)
	require.NoError(t, e.Merge(ctx, []order.Order{a}))
	require.NoError(t, e.Merge(ctx, []order.Order{a, b}))
	assert.Len(t, e.Orders(), 2)
	assert.Len(t, e.Ledger().Entries, 2)

	require.NoError(t, e.MarkCompleted(ctx, "a"))
	n, err := e.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, e.Orders(), 1)
	assert.True(t, e.Tombstoned(order.Signature(a)))

	// the relay never forgets, so its next broadcast still carries a
	require.NoError(t, e.Merge(ctx, []order.Order{a, b}))
	require.Len(t, e.Orders(), 1)
	assert.Equal(t, "b", e.Orders()[0].ID)
	assert.Len(t, e.Ledger().Entries, 2)

	reloaded := NewEngine(store.Tab("bar-2"), order.SourceBar)
	require.NoError(t, reloaded.Load(ctx))
	assert.Len(t, reloaded.Orders(), 1)
	assert.Len(t, reloaded.Ledger().Entries, 2)
	assert.True(t, reloaded.Tombstoned(order.Signature(a)))

	require.NoError(t, reloaded.ResetLedger(ctx))
	assert.Empty(t, reloaded.Ledger().Entries)
	assert.Equal(t, 1, reloaded.Live().Double)
}

func TestEngineIgnoresListsWithoutItsChannel(t *testing.T) {
	e := NewEngine(newStore(t).Tab("bar"), order.SourceBar)
	kitchen := drink("k", 1, fernet)
	kitchen.Source = order.SourceKitchen
	require.NoError(t, e.Merge(context.Background(), []order.Order{kitchen}))
	assert.Empty(t, e.Orders())
}

func TestClearInOneTabRemovesOrderInAnother(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tabA, tabB := store.Tab("tab-a"), store.Tab("tab-b")
	a, b := NewEngine(tabA, order.SourceBar), NewEngine(tabB, order.SourceBar)
	tabB.Subscribe(b.OnCacheChange)

	o := drink("1", 3, fernet)
	require.NoError(t, a.Merge(ctx, []order.Order{o}))
	require.Len(t, b.Orders(), 1)

	require.NoError(t, a.MarkCompleted(ctx, "1"))
	_, err := a.ClearCompleted(ctx)
	require.NoError(t, err)

	assert.Empty(t, b.Orders())
	assert.True(t, b.Tombstoned(order.Signature(o)))
	assert.Len(t, b.Ledger().Entries, 1)
}

func TestLateWriteFromAnotherTabKeepsCompletion(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tabA, tabB := store.Tab("tab-a"), store.Tab("tab-b")
	a := NewEngine(tabA, order.SourceBar)
	tabA.Subscribe(a.OnCacheChange)

	o := drink("1", 3, fernet)
	require.NoError(t, a.Merge(ctx, []order.Order{o}))
	require.NoError(t, a.MarkCompleted(ctx, "1"))

	// tab B persists the list it merged before seeing the completion
	require.NoError(t, tabB.SaveOrders(ctx, order.SourceBar, []order.Order{o}))
	require.Len(t, a.Orders(), 1)
	assert.True(t, a.Orders()[0].Completed)

	n, err := a.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKitchenViewOverrides(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	v := NewKitchenView(store.Tab("kitchen"), order.SourceKitchen)
	require.NoError(t, v.Load(ctx))

	pending := func(id string) order.Order {
		return order.Order{ID: id, Table: order.NumericTable(1), Status: order.StatusPending}
	}
	v.Apply([]order.Order{pending("1"), pending("2"), {ID: "3", Status: order.StatusCompleted}, {ID: "4"}})
	assert.Len(t, v.Pending(), 2)
	assert.Len(t, v.Completed(), 1)

	require.NoError(t, v.Complete(ctx, "1"))
	assert.Len(t, v.Pending(), 1)

	// a stale snapshot still says pending
	v.Apply([]order.Order{pending("1"), pending("2"), {ID: "3", Status: order.StatusCompleted}})
	assert.Len(t, v.Pending(), 1)
	assert.Len(t, v.Completed(), 2)

	n, err := v.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	v.Apply([]order.Order{pending("1"), pending("2"), {ID: "3", Status: order.StatusCompleted}})
	assert.Empty(t, v.Completed())

	restarted := NewKitchenView(store.Tab("kitchen"), order.SourceKitchen)
	require.NoError(t, restarted.Load(ctx))
	restarted.Apply([]order.Order{pending("1"), {ID: "3", Status: order.StatusCompleted}})
	assert.Empty(t, restarted.Pending())
	assert.Empty(t, restarted.Completed())

	require.NoError(t, restarted.ResetHidden(ctx))
	restarted.Apply([]order.Order{pending("1"), {ID: "3", Status: order.StatusCompleted}})
	assert.Len(t, restarted.Completed(), 2)
}
