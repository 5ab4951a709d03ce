package cache

import (
	"context"
	"strings"

	"github.com/astromechza/comanda-relay/pkg/order"
)

const LedgerKey = "ledger:bar"

func OrdersKey(source order.Source) string {
	return "orders:" + string(source)
}

func TombstonesKey(source order.Source) string {
	return "tombstones:" + string(source)
}

// OpenOrdersKey holds a waiter's open orders, kept apart from the reconciled list of the same
// channel.
func OpenOrdersKey(source order.Source) string {
	return "open:" + string(source)
}

// Override kinds kept by the kitchen display.
const (
	OverrideCompleted = "completed"
	OverrideHidden    = "hidden"
)

func OverridesKey(source order.Source, kind string) string {
	return "overrides:" + string(source) + ":" + kind
}

// IsTombstonesKey reports whether key holds a tombstone document and for which channel.
func IsTombstonesKey(key string) (order.Source, bool) {
	rest, ok := strings.CutPrefix(key, "tombstones:")
	return order.Source(rest), ok
}

// Orders returns the cached order list of a channel; absent or unreadable entries give an empty
// list.
func (t *Tab) Orders(ctx context.Context, source order.Source) ([]order.Order, error) {
	var orders []order.Order
	if _, err := t.GetJSON(ctx, OrdersKey(source), &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (t *Tab) SaveOrders(ctx context.Context, source order.Source, orders []order.Order) error {
	if orders == nil {
		orders = []order.Order{}
	}
	return t.PutJSON(ctx, OrdersKey(source), orders)
}

// IDSet loads a persisted set of order identifiers.
func (t *Tab) IDSet(ctx context.Context, key string) (map[string]bool, error) {
	var ids []string
	if _, err := t.GetJSON(ctx, key, &ids); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (t *Tab) SaveIDSet(ctx context.Context, key string, set map[string]bool) error {
	return t.PutJSON(ctx, key, sortedKeys(set))
}
