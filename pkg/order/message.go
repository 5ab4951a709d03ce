package order

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

// Message types exchanged with the relays.
const (
	TypeNewOrder       = "new_order"
	TypeBarNewOrder    = "bar:new_order"
	TypeCompleteOrder  = "complete_order"
	TypeAdminUpdate    = "admin:update"
	TypeMenuUpdated    = "menu_updated"
	TypeAlcoholUpdated = "alcohol_updated"
	TypeInitialData    = "initial_data"
	TypeUpdate         = "update"
)

// AdminSender is the value of Message.From expected on admin:update.
const AdminSender = "admin"

// IsNamespacedNewOrder matches "<namespace>:new_order".
func IsNamespacedNewOrder(t string) bool {
	return strings.HasSuffix(t, ":"+TypeNewOrder) && len(t) > len(TypeNewOrder)+1
}

// Message is the client side view of a relay envelope. Relays themselves keep orders as raw
// JSON so that they rebroadcast exactly what they were given.
type Message struct {
	Type    string  `json:"type"`
	Order   *Order  `json:"order,omitempty"`
	Orders  []Order `json:"orders,omitempty"`
	OrderID string  `json:"orderId,omitempty"`
	From    string  `json:"from,omitempty"`
	Token   string  `json:"token,omitempty"`
}

type wireMessage struct {
	Type    string            `json:"type"`
	Order   json.RawMessage   `json:"order"`
	Orders  []json.RawMessage `json:"orders"`
	OrderID json.RawMessage   `json:"orderId"`
	From    json.RawMessage   `json:"from"`
	Token   json.RawMessage   `json:"token"`
}

// DecodeMessage parses a relay envelope. The relays rebroadcast whatever peers sent them, so
// orders are decoded one by one and an undecodable order is logged and left out instead of
// losing the whole list.
func DecodeMessage(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, err
	}
	m := Message{Type: w.Type, OrderID: rawID(w.OrderID), From: rawID(w.From), Token: rawID(w.Token)}
	if o, ok := decodeOrder(w.Type, w.Order); ok {
		m.Order = &o
	}
	if w.Orders != nil {
		m.Orders = make([]Order, 0, len(w.Orders))
		for _, r := range w.Orders {
			if o, ok := decodeOrder(w.Type, r); ok {
				m.Orders = append(m.Orders, o)
			}
		}
	}
	return m, nil
}

func decodeOrder(msgType string, raw json.RawMessage) (Order, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Order{}, false
	}
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		slog.Warn("skipping undecodable order", "type", msgType, "err", err)
		return Order{}, false
	}
	return o, true
}
