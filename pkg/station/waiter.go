package station

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/account"
	"github.com/astromechza/comanda-relay/pkg/cache"
	"github.com/astromechza/comanda-relay/pkg/catalog"
	"github.com/astromechza/comanda-relay/pkg/order"
	"github.com/astromechza/comanda-relay/pkg/wsconn"
)

var ErrEmptyOrder = errors.New("an order needs a table and at least one item")

// AccountStore is the account collection of one channel. catalog.Accounts implements it.
type AccountStore interface {
	List(ctx context.Context) ([]order.Order, error)
	Save(ctx context.Context, o order.Order) (order.Order, error)
	DeleteAccount(ctx context.Context, id string) error
}

type MenuSource interface {
	ListItems(ctx context.Context, c catalog.Collection) ([]catalog.Item, error)
}

// Waiter produces orders for one channel and keeps the open accounts of its tables.
type Waiter struct {
	source   order.Source
	tab      *cache.Tab
	conn     *wsconn.Conn
	accounts AccountStore
	menu     MenuSource

	mu        sync.Mutex
	orders    []order.Order
	menuItems []catalog.Item
}

func NewWaiter(source order.Source, tab *cache.Tab, conn *wsconn.Conn, accounts AccountStore, menu MenuSource) *Waiter {
	return &Waiter{source: source, tab: tab, conn: conn, accounts: accounts, menu: menu}
}

// Start loads the cached list and the stored accounts, fetches the menu and connects. Catalog
// failures are logged: orders still flow without them.
func (w *Waiter) Start(ctx context.Context) error {
	var cached []order.Order
	if _, err := w.tab.GetJSON(ctx, cache.OpenOrdersKey(w.source), &cached); err != nil {
		slog.Error("discarding unreadable order cache", "source", w.source, "err", err)
	}
	w.mu.Lock()
	w.orders = order.ByID(cached)
	w.mu.Unlock()

	if stored, err := w.accounts.List(ctx); err != nil {
		slog.Error("failed to load accounts", "source", w.source, "err", err)
	} else {
		w.update(ctx, func(current []order.Order) []order.Order {
			return order.ByID(append(current, stored...))
		})
	}
	if err := w.RefreshMenu(ctx); err != nil {
		slog.Error("failed to load menu", "source", w.source, "err", err)
	}

	replace := func(m order.Message) {
		// an empty list usually means the relay restarted; keep what we know
		if len(m.Orders) == 0 {
			return
		}
		w.update(ctx, func([]order.Order) []order.Order { return order.ByID(m.Orders) })
	}
	w.conn.On(order.TypeInitialData, replace)
	w.conn.On(order.TypeUpdate, replace)

	notice := order.TypeMenuUpdated
	if w.source == order.SourceBar {
		notice = order.TypeAlcoholUpdated
		w.conn.On(order.TypeBarNewOrder, func(m order.Message) {
			if m.Order != nil {
				o := *m.Order
				w.update(ctx, func(current []order.Order) []order.Order { return order.ByID(append(current, o)) })
			}
		})
	}
	w.conn.On(notice, func(order.Message) {
		if err := w.RefreshMenu(ctx); err != nil {
			slog.Error("failed to refresh menu", "source", w.source, "err", err)
		}
	})
	w.conn.Connect(ctx)
	return nil
}

func (w *Waiter) update(ctx context.Context, fn func([]order.Order) []order.Order) {
	w.mu.Lock()
	w.orders = fn(append([]order.Order{}, w.orders...))
	snapshot := append([]order.Order{}, w.orders...)
	w.mu.Unlock()
	if err := w.tab.PutJSON(ctx, cache.OpenOrdersKey(w.source), snapshot); err != nil {
		slog.Error("failed to cache orders", "source", w.source, "err", err)
	}
}

func (w *Waiter) RefreshMenu(ctx context.Context) error {
	items, err := w.menu.ListItems(ctx, catalog.MenuFor(w.source))
	if err != nil {
		return err
	}
	seen := make(map[string]int, len(items))
	deduped := make([]catalog.Item, 0, len(items))
	for _, it := range items {
		if i, ok := seen[it.ID]; ok {
			deduped[i] = it
			continue
		}
		seen[it.ID] = len(deduped)
		deduped = append(deduped, it)
	}
	w.mu.Lock()
	w.menuItems = deduped
	w.mu.Unlock()
	return nil
}

func (w *Waiter) Menu() []catalog.Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]catalog.Item{}, w.menuItems...)
}

func (w *Waiter) Orders() []order.Order {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]order.Order{}, w.orders...)
}

func (w *Waiter) Accounts() []account.Account {
	return account.Group(w.Orders())
}

// PlaceOrder sends a new order to the relay and stores it in the channel's accounts. A send that
// fails because the relay is unreachable does not stop the account from being stored; its error
// is returned alongside the order.
func (w *Waiter) PlaceOrder(ctx context.Context, table order.Table, items []order.Item) (order.Order, error) {
	if table.IsZero() || len(items) == 0 {
		return order.Order{}, ErrEmptyOrder
	}
	o := order.New(table, items, w.source)
	msgType := order.TypeNewOrder
	if w.source == order.SourceBar {
		msgType = order.TypeBarNewOrder
	}
	sendErr := w.conn.Send(order.Message{Type: msgType, Order: &o})

	saved, err := w.accounts.Save(ctx, o)
	if err != nil {
		slog.Error("failed to store account", "order", o.ID, "err", err)
		saved = o
	}
	w.update(ctx, func(current []order.Order) []order.Order { return order.ByID(append(current, saved)) })
	if err != nil {
		return saved, errors.Wrap(err, "failed to store account")
	}
	return saved, sendErr
}

// CloseTable deletes the table's orders from the account store and drops them locally.
func (w *Waiter) CloseTable(ctx context.Context, table string) error {
	_, err := account.Close(ctx, w.accounts, w.Orders(), table)
	w.update(ctx, func(latest []order.Order) []order.Order {
		out := latest[:0]
		for _, o := range latest {
			if o.Table.String() != table {
				out = append(out, o)
			}
		}
		return out
	})
	return err
}

func (w *Waiter) Close() {
	w.conn.Close()
}
