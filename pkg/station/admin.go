package station

import (
	"context"
	"log/slog"

	"github.com/astromechza/comanda-relay/pkg/catalog"
	"github.com/astromechza/comanda-relay/pkg/order"
	"github.com/astromechza/comanda-relay/pkg/wsconn"
)

type ItemStore interface {
	ListItems(ctx context.Context, c catalog.Collection) ([]catalog.Item, error)
	CreateItem(ctx context.Context, c catalog.Collection, it catalog.Item) (catalog.Item, error)
	UpdateItem(ctx context.Context, c catalog.Collection, it catalog.Item) (catalog.Item, error)
	DeleteItem(ctx context.Context, c catalog.Collection, id string) error
}

// Admin edits one catalog and tells the channel's waiters to refetch it.
type Admin struct {
	collection catalog.Collection
	items      ItemStore
	conn       *wsconn.Conn
}

func NewAdmin(collection catalog.Collection, items ItemStore, conn *wsconn.Conn) *Admin {
	return &Admin{collection: collection, items: items, conn: conn}
}

func (a *Admin) Start(ctx context.Context) {
	a.conn.Connect(ctx)
}

func (a *Admin) List(ctx context.Context) ([]catalog.Item, error) {
	return a.items.ListItems(ctx, a.collection)
}

// Save validates locally before writing: an invalid item never reaches the store. Items with an
// id are updated, the rest created.
func (a *Admin) Save(ctx context.Context, it catalog.Item) (catalog.Item, error) {
	it, err := catalog.Normalize(a.collection, it)
	if err != nil {
		return catalog.Item{}, err
	}
	var saved catalog.Item
	if it.ID == "" {
		saved, err = a.items.CreateItem(ctx, a.collection, it)
	} else {
		saved, err = a.items.UpdateItem(ctx, a.collection, it)
	}
	if err != nil {
		return catalog.Item{}, err
	}
	a.notify()
	return saved, nil
}

func (a *Admin) Delete(ctx context.Context, id string) error {
	if err := a.items.DeleteItem(ctx, a.collection, id); err != nil {
		return err
	}
	a.notify()
	return nil
}

// ReplaceOrders asks the kitchen relay to swap its whole list. The relay only honours it for a
// token carrying an admin role.
func (a *Admin) ReplaceOrders(orders []order.Order, token string) error {
	if orders == nil {
		orders = []order.Order{}
	}
	return a.conn.Send(replaceMessage{Type: order.TypeAdminUpdate, From: order.AdminSender, Token: token, Orders: orders})
}

// replaceMessage keeps "orders" even when empty, which order.Message would omit.
type replaceMessage struct {
	Type   string        `json:"type"`
	From   string        `json:"from"`
	Token  string        `json:"token,omitempty"`
	Orders []order.Order `json:"orders"`
}

func (a *Admin) notify() {
	msgType := order.TypeMenuUpdated
	if a.collection == catalog.Alcohol {
		msgType = order.TypeAlcoholUpdated
	}
	if err := a.conn.Send(order.Message{Type: msgType}); err != nil {
		slog.Warn("catalog saved but waiters were not notified", "collection", a.collection, "err", err)
	}
}

func (a *Admin) Close() {
	a.conn.Close()
}
