package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/comanda-relay/pkg/audit"
)

type received struct {
	Type   string            `json:"type"`
	Order  json.RawMessage   `json:"order"`
	Orders []json.RawMessage `json:"orders"`
}

func decode(t *testing.T, payload []byte) received {
	t.Helper()
	var m received
	require.NoError(t, json.Unmarshal(payload, &m))
	return m
}

func startRelay(t *testing.T, channel Channel, opts Options) (*Relay, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := New(channel, opts)
	go r.Run(ctx)
	router := mux.NewRouter()
	r.Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return r, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	return decode(t, payload)
}

const taco = `{"id":"1","table":3,"items":[{"name":"Taco","price":25}],"status":"pending"}`

func TestNewOrderIsBroadcastToEveryPeerIncludingSender(t *testing.T) {
	_, url := startRelay(t, Kitchen, Options{})
	sender, other := dial(t, url), dial(t, url)

	for _, c := range []*websocket.Conn{sender, other} {
		initial := next(t, c)
		assert.Equal(t, "initial_data", initial.Type)
		assert.Empty(t, initial.Orders)
	}

	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_order","order":`+taco+`}`)))

	for _, c := range []*websocket.Conn{sender, other} {
		update := next(t, c)
		assert.Equal(t, "update", update.Type)
		require.Len(t, update.Orders, 1)
		assert.JSONEq(t, taco, string(update.Orders[0]))
	}
}

func TestCompleteOrderRewritesOnlyStatus(t *testing.T) {
	_, url := startRelay(t, Kitchen, Options{})
	conn := dial(t, url)
	next(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_order","order":`+taco+`}`)))
	next(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"complete_order","orderId":"1"}`)))

	update := next(t, conn)
	require.Len(t, update.Orders, 1)
	assert.JSONEq(t, `{"id":"1","table":3,"items":[{"name":"Taco","price":25}],"status":"completed"}`, string(update.Orders[0]))
}

func TestLateJoinerReceivesCurrentList(t *testing.T) {
	r, url := startRelay(t, Kitchen, Options{})
	first := dial(t, url)
	next(t, first)
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_order","order":`+taco+`}`)))
	next(t, first)
	require.Len(t, r.Snapshot(), 1)

	late := dial(t, url)
	initial := next(t, late)
	assert.Equal(t, "initial_data", initial.Type)
	require.Len(t, initial.Orders, 1)
	assert.JSONEq(t, taco, string(initial.Orders[0]))
}

func TestListIsAppendOnlyUntilReplaced(t *testing.T) {
	r := New(Kitchen, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out := r.apply(ctx, "test", []byte(fmt.Sprintf(`{"type":"new_order","order":{"id":"%d"}}`, i)))
		require.Len(t, out, 1)
		assert.Len(t, decode(t, out[0]).Orders, i+1)
	}
	assert.Len(t, r.Snapshot(), 5)

	out := r.apply(ctx, "test", []byte(`{"type":"admin:update","from":"admin","orders":[{"id":"x"}]}`))
	require.Len(t, out, 1)
	assert.Len(t, r.Snapshot(), 1)

	r.apply(ctx, "test", []byte(`{"type":"terraza:new_order","order":{"id":"y"}}`))
	r.apply(ctx, "test", []byte(`{"type":"new_order","order":{"id":"z"}}`))
	assert.Len(t, r.Snapshot(), 3)
}

func TestMalformedAndUnknownMessagesAreDropped(t *testing.T) {
	r := New(Kitchen, Options{})
	ctx := context.Background()
	for _, msg := range []string{
		`{not json`,
		`{"type":"unknown"}`,
		`{"type":"new_order"}`,
		`{"type":"new_order","order":null}`,
		`{"type":"new_order","order":"text"}`,
		`{"type":"complete_order"}`,
		`{"type":"complete_order","orderId":""}`,
		`{"type":"admin:update","orders":[]}`,
		`{"type":"admin:update","from":"admin","orders":{}}`,
		`{"type":42}`,
	} {
		assert.Empty(t, r.apply(ctx, "test", []byte(msg)), msg)
	}
	assert.Empty(t, r.Snapshot())
}

func TestCompleteOrderUsesStrictIDEquality(t *testing.T) {
	r := New(Kitchen, Options{})
	ctx := context.Background()
	r.apply(ctx, "test", []byte(`{"type":"new_order","order":{"id":"1","status":"pending"}}`))
	r.apply(ctx, "test", []byte(`{"type":"new_order","order":{"id":1,"status":"pending"}}`))

	out := r.apply(ctx, "test", []byte(`{"type":"complete_order","orderId":1}`))
	orders := decode(t, out[0]).Orders
	require.Len(t, orders, 2)
	assert.JSONEq(t, `{"id":"1","status":"pending"}`, string(orders[0]))
	assert.JSONEq(t, `{"id":1,"status":"completed"}`, string(orders[1]))
}

func TestCatalogNoticesAreBare(t *testing.T) {
	r := New(Kitchen, Options{})
	out := r.apply(context.Background(), "test", []byte(`{"type":"menu_updated","orders":[{"id":"sneaky"}]}`))
	require.Len(t, out, 1)
	assert.JSONEq(t, `{"type":"menu_updated"}`, string(out[0]))
	assert.Empty(t, r.Snapshot())
}

func TestBarBroadcastsOrderThenFullList(t *testing.T) {
	r := New(Bar, Options{})
	ctx := context.Background()

	out := r.apply(ctx, "test", []byte(`{"type":"bar:new_order","order":{"id":"b1","source":"bar"}}`))
	require.Len(t, out, 2)
	first, second := decode(t, out[0]), decode(t, out[1])
	assert.Equal(t, "bar:new_order", first.Type)
	assert.JSONEq(t, `{"id":"b1","source":"bar"}`, string(first.Order))
	assert.Equal(t, "update", second.Type)
	assert.Len(t, second.Orders, 1)

	assert.Empty(t, r.apply(ctx, "test", []byte(`{"type":"new_order","order":{"id":"k1"}}`)))
	assert.Empty(t, r.apply(ctx, "test", []byte(`{"type":"complete_order","orderId":"b1"}`)))
	assert.Len(t, r.apply(ctx, "test", []byte(`{"type":"alcohol_updated"}`)), 1)
	assert.Len(t, r.Snapshot(), 1)
}

type stubAuthorizer struct{}

func (stubAuthorizer) AuthorizeAdmin(token string) (string, error) {
	if token == "good" {
		return "ana", nil
	}
	return "", errors.New("invalid token")
}

type recordingSink struct{ events []audit.Event }

func (s *recordingSink) Record(_ context.Context, e audit.Event) error {
	s.events = append(s.events, e)
	return nil
}

func TestAdminUpdateRequiresAuthorizationAndIsAudited(t *testing.T) {
	sink := &recordingSink{}
	r := New(Kitchen, Options{Authorizer: stubAuthorizer{}, Audit: sink})
	ctx := context.Background()
	r.apply(ctx, "test", []byte(`{"type":"new_order","order":{"id":"1"}}`))

	out := r.apply(ctx, "10.0.0.9", []byte(`{"type":"admin:update","from":"admin","orders":[]}`))
	assert.Empty(t, out)
	assert.Len(t, r.Snapshot(), 1)

	out = r.apply(ctx, "10.0.0.9", []byte(`{"type":"admin:update","from":"admin","token":"good","orders":[]}`))
	require.Len(t, out, 1)
	assert.JSONEq(t, `{"type":"update","orders":[]}`, string(out[0]))
	assert.Empty(t, r.Snapshot())

	require.Len(t, sink.events, 2)
	assert.False(t, sink.events[0].Accepted)
	assert.Equal(t, "10.0.0.9", sink.events[0].Remote)
	assert.True(t, sink.events[1].Accepted)
	assert.Equal(t, "ana", sink.events[1].Subject)
}

func TestOnlyObjectOrdersAreStored(t *testing.T) {
	ctx := context.Background()
	for _, channel := range []Channel{Kitchen, Bar} {
		r := New(channel, Options{})
		msgType := "new_order"
		if channel == Bar {
			msgType = "bar:new_order"
		}
		for _, payload := range []string{`1`, `true`, `"mesa 3"`, `[{"id":"1"}]`} {
			msg := `{"type":"` + msgType + `","order":` + payload + `}`
			assert.Empty(t, r.apply(ctx, "test", []byte(msg)), msg)
		}
		assert.NotEmpty(t, r.apply(ctx, "test", []byte(`{"type":"`+msgType+`","order":{"id":"1"}}`)))
		assert.Len(t, r.Snapshot(), 1, channel)
	}
}
