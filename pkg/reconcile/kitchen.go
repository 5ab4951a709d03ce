package reconcile

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/cache"
	"github.com/astromechza/comanda-relay/pkg/order"
)

// IDSetStorage persists the kitchen display's override sets. *cache.Tab implements it.
type IDSetStorage interface {
	IDSet(ctx context.Context, key string) (map[string]bool, error)
	SaveIDSet(ctx context.Context, key string, set map[string]bool) error
}

// KitchenView splits relay snapshots into pending and completed columns. Orders completed from
// this display stay completed even if a later snapshot says otherwise, and completed orders the
// cook cleared stay hidden until ResetHidden.
type KitchenView struct {
	source order.Source
	store  IDSetStorage

	mu        sync.Mutex
	completed map[string]bool
	hidden    map[string]bool
	pending   []order.Order
	done      []order.Order
}

func NewKitchenView(store IDSetStorage, source order.Source) *KitchenView {
	return &KitchenView{source: source, store: store, completed: map[string]bool{}, hidden: map[string]bool{}}
}

func (v *KitchenView) Load(ctx context.Context) error {
	completed, err := v.store.IDSet(ctx, cache.OverridesKey(v.source, cache.OverrideCompleted))
	if err != nil {
		return errors.Wrap(err, "failed to load completed overrides")
	}
	hidden, err := v.store.IDSet(ctx, cache.OverridesKey(v.source, cache.OverrideHidden))
	if err != nil {
		return errors.Wrap(err, "failed to load hidden overrides")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.completed, v.hidden = completed, hidden
	return nil
}

// Apply replaces both columns from a relay snapshot.
func (v *KitchenView) Apply(snapshot []order.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending, v.done = nil, nil
	for _, o := range snapshot {
		if v.completed[o.ID] {
			o.Status = order.StatusCompleted
		}
		switch o.Status {
		case order.StatusPending:
			v.pending = append(v.pending, o)
		case order.StatusCompleted:
			if !v.hidden[o.ID] {
				v.done = append(v.done, o)
			}
		default:
		}
	}
}

// Complete records a local completion override and drops the order from the pending column.
// The caller is expected to have told the relay already.
func (v *KitchenView) Complete(ctx context.Context, id string) error {
	v.mu.Lock()
	kept := v.pending[:0:0]
	for _, o := range v.pending {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	v.pending = kept
	v.completed[id] = true
	set := copySet(v.completed)
	v.mu.Unlock()
	return errors.Wrap(v.store.SaveIDSet(ctx, cache.OverridesKey(v.source, cache.OverrideCompleted), set), "failed to save completed overrides")
}

// ClearCompleted hides every order in the completed column and returns how many were hidden.
func (v *KitchenView) ClearCompleted(ctx context.Context) (int, error) {
	v.mu.Lock()
	n := len(v.done)
	if n == 0 {
		v.mu.Unlock()
		return 0, nil
	}
	for _, o := range v.done {
		v.hidden[o.ID] = true
	}
	v.done = nil
	set := copySet(v.hidden)
	v.mu.Unlock()
	return n, errors.Wrap(v.store.SaveIDSet(ctx, cache.OverridesKey(v.source, cache.OverrideHidden), set), "failed to save hidden overrides")
}

// ResetHidden forgets the hidden set. Cleared orders show again on the next snapshot.
func (v *KitchenView) ResetHidden(ctx context.Context) error {
	v.mu.Lock()
	v.hidden = map[string]bool{}
	v.mu.Unlock()
	return errors.Wrap(v.store.SaveIDSet(ctx, cache.OverridesKey(v.source, cache.OverrideHidden), map[string]bool{}), "failed to save hidden overrides")
}

func (v *KitchenView) Pending() []order.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]order.Order{}, v.pending...)
}

func (v *KitchenView) Completed() []order.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]order.Order{}, v.done...)
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, ok := range in {
		if ok {
			out[k] = true
		}
	}
	return out
}
