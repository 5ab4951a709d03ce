package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/astromechza/comanda-relay/pkg/order"
)

type Kind string

const (
	KindSimple Kind = "simple"
	KindDouble Kind = "doble"
	KindTriple Kind = "triple"
	KindBottle Kind = "botella"
)

// Classify decides which counter an item feeds. Bottles are recognised by category, the rest by
// pour size.
func Classify(it order.Item) Kind {
	if strings.ToLower(it.Category) == "botellas" {
		return KindBottle
	}
	switch strings.ToLower(it.Size) {
	case "doble":
		return KindDouble
	case "triple":
		return KindTriple
	default:
		return KindSimple
	}
}

type Totals struct {
	Simple int             `json:"simples"`
	Double int             `json:"dobles"`
	Triple int             `json:"triples"`
	Bottle int             `json:"botellas"`
	Amount decimal.Decimal `json:"amount"`
}

func (t *Totals) add(it order.Item) {
	switch Classify(it) {
	case KindBottle:
		t.Bottle += it.Qty()
	case KindDouble:
		t.Double++
	case KindTriple:
		t.Triple++
	default:
		t.Simple++
	}
	// amount follows the unit price; bottles carry their quantity in the counter only
	t.Amount = t.Amount.Add(decimal.NewFromFloat(it.Price))
}

type Entry struct {
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp"`
	Size      string          `json:"size"`
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity"`
}

// Ledger is the historical sales record of the bar.
type Ledger struct {
	ProcessedOrderIDs map[string]bool `json:"processedOrderIds"`
	Totals            Totals          `json:"totals"`
	Entries           []Entry         `json:"entries"`
}

func NewLedger() Ledger {
	return Ledger{ProcessedOrderIDs: map[string]bool{}, Entries: []Entry{}}
}

func (l Ledger) clone() Ledger {
	out := Ledger{
		ProcessedOrderIDs: make(map[string]bool, len(l.ProcessedOrderIDs)),
		Totals:            l.Totals,
		Entries:           append([]Entry{}, l.Entries...),
	}
	for k, v := range l.ProcessedOrderIDs {
		out.ProcessedOrderIDs[k] = v
	}
	return out
}

// Fold adds every unseen order of source to the ledger and reports whether anything changed.
// An order is marked processed even when it carries no items, so it is never looked at again.
func Fold(l *Ledger, orders []order.Order, source order.Source) bool {
	if l.ProcessedOrderIDs == nil {
		l.ProcessedOrderIDs = map[string]bool{}
	}
	changed := false
	for _, o := range orders {
		if o.ID == "" || o.SourceOr(source) != source || l.ProcessedOrderIDs[o.ID] {
			continue
		}
		for _, it := range o.Items {
			l.Totals.add(it)
			size := it.Size
			if size == "" {
				size = string(KindSimple)
			}
			l.Entries = append(l.Entries, Entry{
				Name:      it.Name,
				Price:     decimal.NewFromFloat(it.Price),
				Timestamp: o.Timestamp,
				Size:      size,
				Category:  it.Category,
				Quantity:  it.Qty(),
			})
		}
		l.ProcessedOrderIDs[o.ID] = true
		changed = true
	}
	return changed
}

// LiveStats classifies the items of the currently open orders.
func LiveStats(orders []order.Order) Totals {
	var t Totals
	for _, o := range orders {
		for _, it := range o.Items {
			t.add(it)
		}
	}
	return t
}
