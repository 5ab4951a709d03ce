// Package station wires the client roles of the order flow: the bartender ledger, the kitchen
// display, the waiter terminals and the catalog admins.
package station

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/cache"
	"github.com/astromechza/comanda-relay/pkg/order"
	"github.com/astromechza/comanda-relay/pkg/reconcile"
	"github.com/astromechza/comanda-relay/pkg/wsconn"
)

// Bartender consumes the bar channel into a reconciled list and the sales ledger.
type Bartender struct {
	tab    *cache.Tab
	conn   *wsconn.Conn
	engine *reconcile.Engine

	unsubscribe func()
}

func NewBartender(tab *cache.Tab, conn *wsconn.Conn) *Bartender {
	return &Bartender{tab: tab, conn: conn, engine: reconcile.NewEngine(tab, order.SourceBar)}
}

// Start restores the cached state, follows other tabs sharing the cache and connects.
func (b *Bartender) Start(ctx context.Context) error {
	if err := b.engine.Load(ctx); err != nil {
		return errors.Wrap(err, "failed to load bartender state")
	}
	b.unsubscribe = b.tab.Subscribe(b.engine.OnCacheChange)

	merge := func(orders []order.Order) {
		if err := b.engine.Merge(ctx, orders); err != nil {
			slog.Error("failed to merge bar orders", "err", err)
		}
	}
	b.conn.On(order.TypeInitialData, func(m order.Message) { merge(m.Orders) })
	b.conn.On(order.TypeUpdate, func(m order.Message) { merge(m.Orders) })
	b.conn.On(order.TypeBarNewOrder, func(m order.Message) {
		if m.Order != nil {
			merge([]order.Order{*m.Order})
		}
	})
	b.conn.Connect(ctx)
	return nil
}

func (b *Bartender) Engine() *reconcile.Engine { return b.engine }

func (b *Bartender) Close() {
	b.conn.Close()
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
}
