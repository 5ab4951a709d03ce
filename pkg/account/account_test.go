package account

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/comanda-relay/pkg/order"
)

func TestGroupSortsTablesNumericallyAndTotals(t *testing.T) {
	orders := []order.Order{
		{ID: "1", Table: order.NumericTable(10), Items: []order.Item{{Name: "Flan", Price: 45.5}}},
		{ID: "2", Table: order.NumericTable(2), Items: []order.Item{{Name: "Malbec", Price: 900, Quantity: 2}}},
		{ID: "3", Table: order.NamedTable("terraza")},
		{ID: "4", Table: order.NumericTable(10), Items: []order.Item{{Name: "Cafe", Price: 20.25}}},
		{ID: "5"},
	}
	accounts := Group(orders)
	require.Len(t, accounts, 3)
	assert.Equal(t, "2", accounts[0].Table.String())
	assert.Equal(t, "1800", accounts[0].Total.String())
	assert.Equal(t, "10", accounts[1].Table.String())
	assert.Equal(t, "65.75", accounts[1].Total.String())
	assert.Len(t, accounts[1].Orders, 2)
	assert.Len(t, accounts[1].Items, 2)
	assert.Equal(t, "terraza", accounts[2].Table.String())

	a, ok := Find(accounts, "10")
	require.True(t, ok)
	assert.Equal(t, "10", a.Table.String())
	_, ok = Find(accounts, "99")
	assert.False(t, ok)
}

type fakeDeleter struct {
	deleted []string
	fail    map[string]bool
}

func (f *fakeDeleter) DeleteAccount(_ context.Context, id string) error {
	if f.fail[id] {
		return errors.New("store unavailable")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func TestCloseDeletesTableOrders(t *testing.T) {
	orders := []order.Order{
		{ID: "1", Table: order.NumericTable(3)},
		{ID: "2", Table: order.NumericTable(4)},
		{ID: "3", Table: order.NumericTable(3)},
	}
	store := &fakeDeleter{}
	remaining, err := Close(context.Background(), store, orders, "3")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, store.deleted)
	require.Len(t, remaining, 1)
	assert.Equal(t, "2", remaining[0].ID)
}

func TestCloseDropsTableLocallyEvenWhenStoreFails(t *testing.T) {
	orders := []order.Order{{ID: "1", Table: order.NumericTable(3)}, {ID: "2", Table: order.NumericTable(3)}}
	store := &fakeDeleter{fail: map[string]bool{"1": true}}
	remaining, err := Close(context.Background(), store, orders, "3")
	assert.Error(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, []string{"2"}, store.deleted)
}
