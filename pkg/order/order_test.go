package order

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableKeepsJSONKind(t *testing.T) {
	var o struct {
		A Table `json:"a"`
		B Table `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":3,"b":"terraza"}`), &o))
	assert.Equal(t, "3", o.A.String())
	assert.Equal(t, "terraza", o.B.String())

	raw, err := json.Marshal(o)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":3,"b":"terraza"}`, string(raw))

	n, ok := o.A.Number()
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
	_, ok = o.B.Number()
	assert.False(t, ok)
}

func TestOrderAcceptsNumericID(t *testing.T) {
	var o Order
	require.NoError(t, json.Unmarshal([]byte(`{"id":17,"table":2,"items":[{"name":"Taco","price":25}]}`), &o))
	assert.Equal(t, "17", o.ID)
	assert.Equal(t, "2", o.Table.String())
	require.Len(t, o.Items, 1)
	assert.Equal(t, 1, o.Items[0].Qty())
}

func TestSignatureIgnoresIDAndSubSecondPrecision(t *testing.T) {
	a := Order{
		ID:        "1",
		Table:     NumericTable(4),
		Timestamp: "2024-05-01T20:15:33.120Z",
		Items:     []Item{{Name: "Mezcal", Size: "doble", Category: "Tragos", Price: 90}},
	}
	b := a
	b.ID = "other"
	b.Timestamp = "2024-05-01T20:15:33.999Z"
	b.Items = []Item{{Name: "Mezcal", Size: "doble", Category: "tragos", Price: 90, Quantity: 1}}

	assert.Equal(t, Signature(a), Signature(b))

	c := a
	c.Timestamp = "2024-05-01T20:15:34.000Z"
	assert.NotEqual(t, Signature(a), Signature(c))

	d := a
	d.Table = NumericTable(5)
	assert.NotEqual(t, Signature(a), Signature(d))
}

func TestNewOrder(t *testing.T) {
	o := New(NumericTable(3), []Item{{Name: "Taco", Price: 25}}, SourceKitchen)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	_, err := o.Time()
	assert.NoError(t, err)

	other := New(NumericTable(3), nil, SourceKitchen)
	assert.NotEqual(t, o.ID, other.ID)
}

func TestByIDKeepsLastValueAtFirstPosition(t *testing.T) {
	out := ByID([]Order{
		{ID: "1", Status: StatusPending},
		{ID: "2"},
		{ID: "1", Status: StatusCompleted},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, StatusCompleted, out[0].Status)
}

func TestItemTotal(t *testing.T) {
	it := Item{Price: 120.5, Quantity: 2}
	assert.Equal(t, "241", it.Total().String())
}

func TestIsNamespacedNewOrder(t *testing.T) {
	assert.True(t, IsNamespacedNewOrder("bar:new_order"))
	assert.True(t, IsNamespacedNewOrder("terraza:new_order"))
	assert.False(t, IsNamespacedNewOrder("new_order"))
	assert.False(t, IsNamespacedNewOrder(":new_order"))
}

func TestItemAcceptsLooselyTypedNumbers(t *testing.T) {
	var items []Item
	require.NoError(t, json.Unmarshal([]byte(`[
		{"name":"Fernet","price":"80","quantity":"2"},
		{"name":"Agua","price":"gratis","quantity":null},
		{"name":"Gin","price":110.5,"quantity":3},
		{"name":"Soda"}
	]`), &items))
	require.Len(t, items, 4)
	assert.Equal(t, 80.0, items[0].Price)
	assert.Equal(t, 2, items[0].Qty())
	assert.Equal(t, 0.0, items[1].Price)
	assert.Equal(t, 1, items[1].Qty())
	assert.Equal(t, 110.5, items[2].Price)
	assert.Equal(t, 3, items[2].Qty())
	assert.Equal(t, 0.0, items[3].Price)
	assert.Equal(t, 1, items[3].Qty())
}

func TestDecodeMessageKeepsGoodOrdersNextToBadOnes(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"update","orders":[
		{"id":"1","table":3,"items":[{"name":"Taco","price":25}],"status":"pending"},
		{"id":"2","table":4,"items":[{"name":"Fernet","price":"80","quantity":"2"}]},
		{"id":"3","table":{"x":1},"items":[]},
		{"id":"4","table":5,"items":"none"},
		null
	]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeUpdate, m.Type)
	require.Len(t, m.Orders, 2)
	assert.Equal(t, "1", m.Orders[0].ID)
	assert.Equal(t, "2", m.Orders[1].ID)
	assert.Equal(t, 80.0, m.Orders[1].Items[0].Price)
	assert.Nil(t, m.Order)
}

func TestDecodeMessageSingleOrderAndNumericOrderID(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"complete_order","orderId":7}`))
	require.NoError(t, err)
	assert.Equal(t, "7", m.OrderID)

	m, err = DecodeMessage([]byte(`{"type":"bar:new_order","order":{"id":"9","table":"barra","items":[{"name":"Gin","price":"110"}]}}`))
	require.NoError(t, err)
	require.NotNil(t, m.Order)
	assert.Equal(t, 110.0, m.Order.Items[0].Price)

	m, err = DecodeMessage([]byte(`{"type":"bar:new_order","order":{"id":"9","table":true}}`))
	require.NoError(t, err)
	assert.Nil(t, m.Order)

	_, err = DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestNumericTablesAreCanonical(t *testing.T) {
	var a, b Order
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","table":3.0,"timestamp":"2024-05-01T20:15:33.120Z","items":[{"name":"Taco","price":25}]}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"2","table":3,"timestamp":"2024-05-01T20:15:33.120Z","items":[{"name":"Taco","price":25}]}`), &b))
	assert.Equal(t, "3", a.Table.String())
	assert.Equal(t, Signature(a), Signature(b))

	raw, err := json.Marshal(a.Table)
	require.NoError(t, err)
	assert.Equal(t, "3", string(raw))
}
