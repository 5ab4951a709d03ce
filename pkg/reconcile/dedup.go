// Package reconcile turns the stream of full order lists broadcast by a relay into a duplicate
// free, tombstone respecting local view, and folds every order into the sales ledger once.
package reconcile

import (
	"github.com/astromechza/comanda-relay/pkg/order"
)

// Dedup merges orders for one channel. Orders of another source and orders whose signature is
// tombstoned are dropped. Orders sharing a signature collapse onto the first one seen, OR-ing
// their completion. The survivors are then keyed by id, where later records overwrite earlier
// ones without ever downgrading completion.
func Dedup(orders []order.Order, tombstones map[string]bool, source order.Source) []order.Order {
	index := make(map[string]int)
	bySignature := make(map[string]string)
	out := make([]order.Order, 0, len(orders))

	for _, o := range orders {
		if o.SourceOr(source) != source {
			continue
		}
		o.Completed = o.IsCompleted()
		sig := order.Signature(o)
		if tombstones[sig] {
			continue
		}
		if id, ok := bySignature[sig]; ok {
			if i, ok := index[id]; ok && o.Completed {
				out[i].Completed = true
			}
			continue
		}
		if i, ok := index[o.ID]; ok {
			completed := out[i].Completed || o.Completed
			out[i] = o
			out[i].Completed = completed
		} else {
			index[o.ID] = len(out)
			out = append(out, o)
		}
		bySignature[sig] = o.ID
	}
	return out
}

// Only keeps the orders that belong to source.
func Only(orders []order.Order, source order.Source) []order.Order {
	out := make([]order.Order, 0, len(orders))
	for _, o := range orders {
		if o.SourceOr(source) == source {
			out = append(out, o)
		}
	}
	return out
}
