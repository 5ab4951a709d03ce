// Package account groups the open orders of a channel into per-table accounts ("cuentas") and
// closes them against the account collection of the catalog store.
package account

import (
	"context"
	"log/slog"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/astromechza/comanda-relay/pkg/order"
)

// Account is the running bill of one table.
type Account struct {
	Table  order.Table
	Orders []order.Order
	Items  []order.Item
	Total  decimal.Decimal
}

// Group builds one account per table. Tables sort numerically; tables that are not numbers go
// last in name order. Orders without a table are skipped.
func Group(orders []order.Order) []Account {
	index := make(map[string]int)
	var out []Account
	for _, o := range orders {
		if o.Table.IsZero() {
			continue
		}
		key := o.Table.String()
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Account{Table: o.Table})
		}
		a := &out[i]
		a.Orders = append(a.Orders, o)
		for _, it := range o.Items {
			a.Items = append(a.Items, it)
			a.Total = a.Total.Add(it.Total())
		}
	}
	for i := range out {
		out[i].Total = out[i].Total.Round(2)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := out[i].Table.Number()
		b, bok := out[j].Table.Number()
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		default:
			return out[i].Table.String() < out[j].Table.String()
		}
	})
	return out
}

// Find returns the account of one table.
func Find(accounts []Account, table string) (Account, bool) {
	for _, a := range accounts {
		if a.Table.String() == table {
			return a, true
		}
	}
	return Account{}, false
}

// Deleter removes one stored order from an account collection.
type Deleter interface {
	DeleteAccount(ctx context.Context, id string) error
}

// Close deletes every order of the table from the store and returns the remaining local orders.
// The deletions are not transactional: a failure is logged, the rest are still attempted, and the
// table is dropped locally either way. The joined error reports what could not be deleted.
func Close(ctx context.Context, store Deleter, orders []order.Order, table string) ([]order.Order, error) {
	var failed []string
	remaining := make([]order.Order, 0, len(orders))
	for _, o := range orders {
		if o.Table.String() != table {
			remaining = append(remaining, o)
			continue
		}
		if err := store.DeleteAccount(ctx, o.ID); err != nil {
			slog.Error("failed to delete account order", "table", table, "order", o.ID, "err", err)
			failed = append(failed, o.ID)
		}
	}
	if len(failed) > 0 {
		return remaining, errors.Errorf("failed to delete %d of the orders of table %s: %v", len(failed), table, failed)
	}
	return remaining, nil
}
