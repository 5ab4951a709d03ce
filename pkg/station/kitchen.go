package station

import (
	"context"

	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/cache"
	"github.com/astromechza/comanda-relay/pkg/order"
	"github.com/astromechza/comanda-relay/pkg/reconcile"
	"github.com/astromechza/comanda-relay/pkg/wsconn"
)

// Kitchen is the cook's display of the kitchen channel.
type Kitchen struct {
	conn *wsconn.Conn
	view *reconcile.KitchenView
}

func NewKitchen(tab *cache.Tab, conn *wsconn.Conn) *Kitchen {
	return &Kitchen{conn: conn, view: reconcile.NewKitchenView(tab, order.SourceKitchen)}
}

func (k *Kitchen) Start(ctx context.Context) error {
	if err := k.view.Load(ctx); err != nil {
		return errors.Wrap(err, "failed to load kitchen overrides")
	}
	apply := func(m order.Message) { k.view.Apply(m.Orders) }
	k.conn.On(order.TypeInitialData, apply)
	k.conn.On(order.TypeUpdate, apply)
	k.conn.Connect(ctx)
	return nil
}

func (k *Kitchen) View() *reconcile.KitchenView { return k.view }

// Complete tells the relay the order is done and records the local override. The override is
// kept even when the relay could not be told, in which case the send error is returned.
func (k *Kitchen) Complete(ctx context.Context, id string) error {
	sendErr := k.conn.Send(order.Message{Type: order.TypeCompleteOrder, OrderID: id})
	if err := k.view.Complete(ctx, id); err != nil {
		return err
	}
	return sendErr
}

func (k *Kitchen) ClearCompleted(ctx context.Context) (int, error) {
	return k.view.ClearCompleted(ctx)
}

func (k *Kitchen) ResetHidden(ctx context.Context) error {
	return k.view.ResetHidden(ctx)
}

func (k *Kitchen) Close() {
	k.conn.Close()
}
