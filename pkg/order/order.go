// Package order holds the order model shared by the relays and the stations, along with the
// content signature used for deduplication and tombstones.
package order

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type Source string

const (
	SourceKitchen Source = "kitchen"
	SourceBar     Source = "bar"
)

// Table is a table identifier that may arrive as a JSON number or a JSON string. It re-encodes
// with the same JSON kind it was decoded from.
type Table struct {
	value   string
	numeric bool
}

func NumericTable(n int) Table {
	return Table{value: strconv.Itoa(n), numeric: true}
}

func NamedTable(s string) Table {
	return Table{value: s}
}

func (t Table) String() string { return t.value }

func (t Table) IsZero() bool { return t.value == "" }

// Number returns the numeric value of the table and whether it parses as one.
func (t Table) Number() (float64, bool) {
	f, err := strconv.ParseFloat(t.value, 64)
	return f, err == nil
}

func (t Table) MarshalJSON() ([]byte, error) {
	if t.value == "" {
		return []byte("null"), nil
	}
	if t.numeric {
		return []byte(t.value), nil
	}
	return json.Marshal(t.value)
}

func (t *Table) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	switch {
	case bytes.Equal(raw, []byte("null")):
		*t = Table{}
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*t = Table{value: s}
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		// 3.0 and 3 are the same table for every peer
		*t = Table{value: strconv.FormatFloat(f, 'f', -1, 64), numeric: true}
	}
	return nil
}

type Item struct {
	ID                  json.RawMessage `json:"id,omitempty"`
	Name                string          `json:"name"`
	Price               float64         `json:"price"`
	BasePrice           float64         `json:"basePrice,omitempty"`
	Size                string          `json:"size,omitempty"`
	Quantity            int             `json:"quantity,omitempty"`
	Category            string          `json:"category,omitempty"`
	ExcludedIngredients []string        `json:"excludedIngredients,omitempty"`
}

// UnmarshalJSON reads prices and quantities the way loosely typed peers send them: JSON
// numbers, numeric strings, and anything else as zero.
func (i *Item) UnmarshalJSON(raw []byte) error {
	type plain Item
	aux := struct {
		*plain
		Price     json.RawMessage `json:"price"`
		BasePrice json.RawMessage `json:"basePrice"`
		Quantity  json.RawMessage `json:"quantity"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	i.Price = looseNumber(aux.Price)
	i.BasePrice = looseNumber(aux.BasePrice)
	i.Quantity = int(looseNumber(aux.Quantity))
	return nil
}

func looseNumber(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil && b {
		return 1
	}
	return 0
}

// Qty is the item quantity with the implicit default of one.
func (i Item) Qty() int {
	if i.Quantity <= 0 {
		return 1
	}
	return i.Quantity
}

// Total is price times quantity.
func (i Item) Total() decimal.Decimal {
	return decimal.NewFromFloat(i.Price).Mul(decimal.NewFromInt(int64(i.Qty())))
}

type Order struct {
	ID        string `json:"id"`
	Table     Table  `json:"table"`
	Items     []Item `json:"items"`
	Timestamp string `json:"timestamp,omitempty"`
	Status    Status `json:"status,omitempty"`
	Source    Source `json:"source,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// New builds a pending order whose identifier is generated before it is first transmitted.
func New(table Table, items []Item, source Source) Order {
	return Order{
		ID:        uuid.NewString(),
		Table:     table,
		Items:     items,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Status:    StatusPending,
		Source:    source,
	}
}

// SourceOr returns the order's source, or fallback when it carries none.
func (o Order) SourceOr(fallback Source) Source {
	if o.Source == "" {
		return fallback
	}
	return o.Source
}

// IsCompleted reports either the status or the bar-channel flag.
func (o Order) IsCompleted() bool {
	return o.Completed || o.Status == StatusCompleted
}

func (o Order) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, o.Timestamp)
}

// ByID keeps the last order seen for each identifier, preserving first-seen position.
func ByID(orders []Order) []Order {
	index := make(map[string]int, len(orders))
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		if i, ok := index[o.ID]; ok {
			out[i] = o
			continue
		}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	return out
}

func lower(s string) string {
	return strings.ToLower(s)
}

// UnmarshalJSON tolerates numeric identifiers, which the catalog store may hand back.
func (o *Order) UnmarshalJSON(raw []byte) error {
	type plain Order
	aux := struct {
		*plain
		ID json.RawMessage `json:"id"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	o.ID = rawID(aux.ID)
	return nil
}

func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
