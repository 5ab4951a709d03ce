package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/cache"
	"github.com/astromechza/comanda-relay/pkg/order"
)

// Storage is the slice of the local cache the engine persists through. *cache.Tab implements it.
type Storage interface {
	Orders(ctx context.Context, source order.Source) ([]order.Order, error)
	SaveOrders(ctx context.Context, source order.Source, orders []order.Order) error
	Tombstones(ctx context.Context, source order.Source) (map[string]bool, error)
	AddTombstones(ctx context.Context, source order.Source, signatures ...string) error
	GetJSON(ctx context.Context, key string, v interface{}) (bool, error)
	PutJSON(ctx context.Context, key string, v interface{}) error
}

// Engine is the bartender's reconciled view of one channel. Operations that persist are
// serialised by writeMu; mu only guards the in-memory state and is never held across storage
// calls, so change notifications from other tabs can always get in.
type Engine struct {
	source order.Source
	store  Storage

	writeMu sync.Mutex

	mu         sync.Mutex
	orders     []order.Order
	tombstones map[string]bool
	ledger     Ledger
}

func NewEngine(store Storage, source order.Source) *Engine {
	return &Engine{
		source:     source,
		store:      store,
		tombstones: map[string]bool{},
		ledger:     NewLedger(),
	}
}

// Load restores tombstones, ledger and the cached order list, cleaning and folding the latter.
func (e *Engine) Load(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	tombstones, err := e.store.Tombstones(ctx, e.source)
	if err != nil {
		return errors.Wrap(err, "failed to load tombstones")
	}
	ledger := NewLedger()
	if _, err := e.store.GetJSON(ctx, cache.LedgerKey, &ledger); err != nil {
		slog.Error("discarding unreadable ledger", "err", err)
		ledger = NewLedger()
	}
	if ledger.ProcessedOrderIDs == nil {
		ledger.ProcessedOrderIDs = map[string]bool{}
	}
	cached, err := e.store.Orders(ctx, e.source)
	if err != nil {
		slog.Error("discarding unreadable order cache", "source", e.source, "err", err)
		cached = nil
	}

	e.mu.Lock()
	e.tombstones = tombstones
	e.orders = Dedup(Only(cached, e.source), tombstones, e.source)
	e.ledger = ledger
	changed := Fold(&e.ledger, e.orders, e.source)
	orders, snapshot := e.snapshotLocked(changed)
	e.mu.Unlock()

	return e.persist(ctx, orders, snapshot)
}

// Merge reconciles an incoming relay list with the local one. Lists carrying nothing for this
// channel are ignored.
func (e *Engine) Merge(ctx context.Context, incoming []order.Order) error {
	mine := Only(incoming, e.source)
	if len(mine) == 0 {
		return nil
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	e.orders = Dedup(append(append([]order.Order{}, e.orders...), mine...), e.tombstones, e.source)
	changed := Fold(&e.ledger, e.orders, e.source)
	orders, snapshot := e.snapshotLocked(changed)
	e.mu.Unlock()

	return e.persist(ctx, orders, snapshot)
}

// MarkCompleted flags an order locally. Bar completion never reaches the relay.
func (e *Engine) MarkCompleted(ctx context.Context, id string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	for i := range e.orders {
		if e.orders[i].ID == id {
			e.orders[i].Completed = true
		}
	}
	orders, _ := e.snapshotLocked(false)
	e.mu.Unlock()

	return e.persist(ctx, orders, nil)
}

// ClearCompleted tombstones every completed order and removes them from the list. It returns
// how many orders were cleared.
func (e *Engine) ClearCompleted(ctx context.Context) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	var signatures []string
	kept := make([]order.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if o.IsCompleted() {
			sig := order.Signature(o)
			signatures = append(signatures, sig)
			e.tombstones[sig] = true
			continue
		}
		kept = append(kept, o)
	}
	e.orders = kept
	orders, _ := e.snapshotLocked(false)
	e.mu.Unlock()

	if err := e.store.AddTombstones(ctx, e.source, signatures...); err != nil {
		return 0, errors.Wrap(err, "failed to save tombstones")
	}
	return len(signatures), e.persist(ctx, orders, nil)
}

func (e *Engine) ResetLedger(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	e.ledger = NewLedger()
	_, snapshot := e.snapshotLocked(true)
	e.mu.Unlock()

	return errors.Wrap(e.store.PutJSON(ctx, cache.LedgerKey, snapshot), "failed to save ledger")
}

// OnCacheChange applies a write made by another tab. It only touches memory: the writing tab
// has already persisted the result.
func (e *Engine) OnCacheChange(c cache.Change) {
	switch c.Key {
	case cache.TombstonesKey(e.source):
		set, err := cache.DecodeTombstones(c.Value)
		if err != nil {
			slog.Error("ignoring unreadable tombstones", "source", e.source, "err", err)
			return
		}
		e.mu.Lock()
		e.tombstones = set
		e.orders = Dedup(e.orders, set, e.source)
		e.mu.Unlock()
	case cache.OrdersKey(e.source):
		var parsed []order.Order
		if err := json.Unmarshal(c.Value, &parsed); err != nil {
			slog.Error("ignoring unreadable order list", "source", e.source, "err", err)
			return
		}
		e.mu.Lock()
		// completion only moves forward; a late write from a tab that has not seen it yet must
		// not undo it
		done := make(map[string]bool, len(e.orders))
		for _, o := range e.orders {
			if o.IsCompleted() {
				done[o.ID] = true
			}
		}
		e.orders = Dedup(Only(parsed, e.source), e.tombstones, e.source)
		for i := range e.orders {
			if done[e.orders[i].ID] {
				e.orders[i].Completed = true
			}
		}
		Fold(&e.ledger, e.orders, e.source)
		e.mu.Unlock()
	case cache.LedgerKey:
		ledger := NewLedger()
		if err := json.Unmarshal(c.Value, &ledger); err != nil {
			slog.Error("ignoring unreadable ledger", "err", err)
			return
		}
		if ledger.ProcessedOrderIDs == nil {
			ledger.ProcessedOrderIDs = map[string]bool{}
		}
		e.mu.Lock()
		e.ledger = ledger
		e.mu.Unlock()
	default:
	}
}

func (e *Engine) Orders() []order.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]order.Order{}, e.orders...)
}

func (e *Engine) Ledger() Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.clone()
}

func (e *Engine) Live() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return LiveStats(e.orders)
}

func (e *Engine) Tombstoned(sig string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tombstones[sig]
}

func (e *Engine) snapshotLocked(withLedger bool) ([]order.Order, *Ledger) {
	orders := append([]order.Order{}, e.orders...)
	if !withLedger {
		return orders, nil
	}
	l := e.ledger.clone()
	return orders, &l
}

func (e *Engine) persist(ctx context.Context, orders []order.Order, ledger *Ledger) error {
	if err := e.store.SaveOrders(ctx, e.source, orders); err != nil {
		return errors.Wrap(err, "failed to save orders")
	}
	if ledger != nil {
		if err := e.store.PutJSON(ctx, cache.LedgerKey, ledger); err != nil {
			return errors.Wrap(err, "failed to save ledger")
		}
	}
	return nil
}
