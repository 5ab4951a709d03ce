// Package relay is the broadcast relay: it holds the authoritative in-memory order list of one
// channel and rebroadcasts the full list to every connected peer after each mutation.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/comanda-relay/pkg/audit"
	"github.com/astromechza/comanda-relay/pkg/order"
)

type Channel string

const (
	Kitchen Channel = "kitchen"
	Bar     Channel = "bar"
)

// Authorizer decides whether the bearer of token may replace the whole order list.
type Authorizer interface {
	AuthorizeAdmin(token string) (subject string, err error)
}

type Options struct {
	// Authorizer guards admin:update. Without one, any peer sending from:"admin" is trusted.
	Authorizer Authorizer
	Audit      audit.Sink
	// SendBuffer is the number of outbound messages queued per peer before it is dropped.
	SendBuffer int
}

type inbound struct {
	peer *peer
	data []byte
}

type Relay struct {
	channel    Channel
	authorizer Authorizer
	audit      audit.Sink
	sendBuffer int

	mu     sync.RWMutex
	orders []json.RawMessage

	peers      map[*peer]struct{}
	register   chan *peer
	unregister chan *peer
	inbound    chan inbound
	done       chan struct{}
}

func New(channel Channel, opts Options) *Relay {
	if opts.Audit == nil {
		opts.Audit = audit.LogSink{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Relay{
		channel:    channel,
		authorizer: opts.Authorizer,
		audit:      opts.Audit,
		sendBuffer: opts.SendBuffer,
		orders:     make([]json.RawMessage, 0),
		peers:      make(map[*peer]struct{}),
		register:   make(chan *peer),
		unregister: make(chan *peer),
		inbound:    make(chan inbound, 16),
		done:       make(chan struct{}),
	}
}

func (r *Relay) Channel() Channel { return r.channel }

// Snapshot returns a copy of the current authoritative list.
func (r *Relay) Snapshot() []json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]json.RawMessage, len(r.orders))
	copy(out, r.orders)
	return out
}

// Run is the relay's event loop. Every registration, inbound message and broadcast is handled
// here one at a time, in arrival order.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)
	slog.Info("relay started", "channel", r.channel)
	for {
		select {
		case p := <-r.register:
			r.peers[p] = struct{}{}
			slog.Info("peer connected", "channel", r.channel, "remote", p.remote, "peers", len(r.peers))
			r.deliver(p, r.encode(snapshotMessage{Type: order.TypeInitialData, Orders: r.Snapshot()}))
		case p := <-r.unregister:
			r.drop(p)
		case in := <-r.inbound:
			for _, payload := range r.apply(ctx, in.peer.remote, in.data) {
				for p := range r.peers {
					r.deliver(p, payload)
				}
			}
		case <-ctx.Done():
			for p := range r.peers {
				r.drop(p)
			}
			slog.Info("relay stopped", "channel", r.channel)
			return
		}
	}
}

func (r *Relay) deliver(p *peer, payload []byte) {
	select {
	case p.send <- payload:
	default:
		slog.Warn("peer too slow, disconnecting", "channel", r.channel, "remote", p.remote)
		r.drop(p)
	}
}

func (r *Relay) drop(p *peer) {
	if _, ok := r.peers[p]; !ok {
		return
	}
	delete(r.peers, p)
	close(p.send)
	slog.Info("peer disconnected", "channel", r.channel, "remote", p.remote, "peers", len(r.peers))
}

type envelope struct {
	Type    json.RawMessage `json:"type"`
	Order   json.RawMessage `json:"order"`
	Orders  json.RawMessage `json:"orders"`
	OrderID json.RawMessage `json:"orderId"`
	From    json.RawMessage `json:"from"`
	Token   json.RawMessage `json:"token"`
}

type snapshotMessage struct {
	Type   string            `json:"type"`
	Orders []json.RawMessage `json:"orders"`
}

type orderMessage struct {
	Type  string          `json:"type"`
	Order json.RawMessage `json:"order"`
}

type bareMessage struct {
	Type string `json:"type"`
}

func (r *Relay) encode(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		// orders were checked to be valid JSON objects on the way in
		slog.Error("failed to encode broadcast", "channel", r.channel, "err", err)
		return nil
	}
	return raw
}

// apply mutates the list according to one inbound message and returns the payloads to broadcast,
// in order. Malformed or unrecognised messages produce nothing.
func (r *Relay) apply(ctx context.Context, remote string, data []byte) [][]byte {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Error("invalid message", "channel", r.channel, "remote", remote, "err", err)
		return nil
	}
	t := asString(env.Type)
	switch r.channel {
	case Bar:
		return r.applyBar(t, env)
	default:
		return r.applyKitchen(ctx, remote, t, env)
	}
}

func (r *Relay) applyKitchen(ctx context.Context, remote, t string, env envelope) [][]byte {
	switch {
	case t == order.TypeNewOrder || order.IsNamespacedNewOrder(t):
		if !isObject(env.Order) {
			return nil
		}
		return [][]byte{r.encode(snapshotMessage{Type: order.TypeUpdate, Orders: r.append(env.Order)})}
	case t == order.TypeCompleteOrder:
		if !truthyScalar(env.OrderID) {
			return nil
		}
		return [][]byte{r.encode(snapshotMessage{Type: order.TypeUpdate, Orders: r.complete(env.OrderID)})}
	case t == order.TypeAdminUpdate:
		orders, ok := r.authorizeReplace(ctx, remote, env)
		if !ok {
			return nil
		}
		r.mu.Lock()
		r.orders = orders
		r.mu.Unlock()
		return [][]byte{r.encode(snapshotMessage{Type: order.TypeUpdate, Orders: r.Snapshot()})}
	case t == order.TypeMenuUpdated:
		slog.Info("menu updated, notifying peers", "channel", r.channel)
		return [][]byte{r.encode(bareMessage{Type: order.TypeMenuUpdated})}
	case t == order.TypeAlcoholUpdated:
		slog.Info("alcohol catalog updated, notifying peers", "channel", r.channel)
		return [][]byte{r.encode(bareMessage{Type: order.TypeAlcoholUpdated})}
	}
	return nil
}

func (r *Relay) applyBar(t string, env envelope) [][]byte {
	switch t {
	case order.TypeBarNewOrder:
		if !isObject(env.Order) {
			return nil
		}
		orders := r.append(env.Order)
		return [][]byte{
			r.encode(orderMessage{Type: order.TypeBarNewOrder, Order: env.Order}),
			r.encode(snapshotMessage{Type: order.TypeUpdate, Orders: orders}),
		}
	case order.TypeAlcoholUpdated:
		return [][]byte{r.encode(bareMessage{Type: order.TypeAlcoholUpdated})}
	}
	return nil
}

func (r *Relay) append(raw json.RawMessage) []json.RawMessage {
	r.mu.Lock()
	r.orders = append(r.orders, raw)
	r.mu.Unlock()
	return r.Snapshot()
}

func (r *Relay) complete(id json.RawMessage) []json.RawMessage {
	want := scalar(id)
	r.mu.Lock()
	for i, raw := range r.orders {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		if scalar(fields["id"]) != want {
			continue
		}
		fields["status"] = json.RawMessage(`"completed"`)
		updated, err := json.Marshal(fields)
		if err != nil {
			slog.Error("failed to rewrite order", "channel", r.channel, "err", err)
			continue
		}
		r.orders[i] = updated
	}
	r.mu.Unlock()
	return r.Snapshot()
}

func (r *Relay) authorizeReplace(ctx context.Context, remote string, env envelope) ([]json.RawMessage, bool) {
	event := audit.Event{Channel: string(r.channel), Action: order.TypeAdminUpdate, Remote: remote, At: time.Now().UTC()}
	record := func() {
		if err := r.audit.Record(ctx, event); err != nil {
			slog.Error("failed to record audit event", "channel", r.channel, "err", err)
		}
	}

	var orders []json.RawMessage
	if asString(env.From) != order.AdminSender || json.Unmarshal(env.Orders, &orders) != nil || orders == nil {
		return nil, false
	}
	for _, o := range orders {
		if !isObject(o) {
			event.Reason = "orders must be objects"
			record()
			return nil, false
		}
	}
	event.OrderCount = len(orders)
	if r.authorizer != nil {
		subject, err := r.authorizer.AuthorizeAdmin(asString(env.Token))
		event.Subject = subject
		if err != nil {
			event.Reason = err.Error()
			record()
			return nil, false
		}
	}
	event.Accepted = true
	record()
	return orders, true
}

func asString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// isObject gates what the relay will store as an order. Truthy scalars and arrays are dropped:
// every client indexes orders by field.
func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	return json.Valid(raw)
}

type scalarKey struct {
	kind  byte
	value string
}

// scalar gives strict-equality semantics for ids: "1" and 1 are different ids.
func scalar(raw json.RawMessage) scalarKey {
	var v interface{}
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return scalarKey{}
	}
	switch t := v.(type) {
	case string:
		return scalarKey{kind: 's', value: t}
	case float64:
		return scalarKey{kind: 'n', value: string(bytes.TrimSpace(raw))}
	case bool:
		if t {
			return scalarKey{kind: 'b', value: "true"}
		}
		return scalarKey{kind: 'b', value: "false"}
	}
	return scalarKey{}
}

func truthyScalar(raw json.RawMessage) bool {
	k := scalar(raw)
	switch k.kind {
	case 's':
		return k.value != ""
	case 'n':
		var f float64
		return json.Unmarshal(raw, &f) == nil && f != 0
	case 'b':
		return k.value == "true"
	}
	return false
}
