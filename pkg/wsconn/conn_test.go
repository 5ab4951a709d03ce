package wsconn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/comanda-relay/pkg/order"
)

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy
	var got []time.Duration
	for i := 0; i < 8; i++ {
		got = append(got, p.Delay(i))
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
	assert.Equal(t, 30*time.Second, p.Delay(1000))
	assert.Equal(t, time.Second, Policy{}.Delay(0))
}

type fakeSocket struct {
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbox: make(chan []byte, 8), closed: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case p := <-s.inbox:
		return p, nil
	case <-s.closed:
		return nil, errors.New("closed")
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, data)
	return nil
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

// fakeTransport fails the first `failures` dials and then hands out fresh sockets.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	sockets  chan *fakeSocket
}

func (f *fakeTransport) Dial(ctx context.Context, _ string) (Socket, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	f.mu.Unlock()
	s := newFakeSocket()
	select {
	case f.sockets <- s:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s, nil
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayRecorder) Wait(ctx context.Context, delay time.Duration) error {
	d.mu.Lock()
	d.delays = append(d.delays, delay)
	d.mu.Unlock()
	return ctx.Err()
}

func (d *delayRecorder) Delays() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.delays...)
}

func nextSocket(t *testing.T, tr *fakeTransport) *fakeSocket {
	t.Helper()
	select {
	case s := <-tr.sockets:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no connection was opened")
		return nil
	}
}

func TestReconnectBackoffResetsAfterOpen(t *testing.T) {
	tr := &fakeTransport{failures: 4, sockets: make(chan *fakeSocket)}
	rec := &delayRecorder{}
	c := New(Config{Name: "bar", URL: "ws://bar", Transport: tr, Wait: rec.Wait})
	c.Connect(context.Background())
	defer c.Close()

	first := nextSocket(t, tr)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, rec.Delays())
	require.Eventually(t, c.Connected, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.RetryCount())

	require.NoError(t, first.Close())
	nextSocket(t, tr)
	assert.Equal(t, time.Second, rec.Delays()[4])
}

func TestConnectIsIdempotent(t *testing.T) {
	tr := &fakeTransport{sockets: make(chan *fakeSocket, 2)}
	c := New(Config{URL: "ws://kitchen", Transport: tr, Wait: (&delayRecorder{}).Wait})
	c.Connect(context.Background())
	c.Connect(context.Background())
	defer c.Close()

	nextSocket(t, tr)
	require.Eventually(t, c.Connected, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, tr.sockets)
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	c := New(Config{URL: "ws://kitchen", Transport: &fakeTransport{}})
	err := c.Send(order.Message{Type: order.TypeNewOrder})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendWritesJSON(t *testing.T) {
	tr := &fakeTransport{sockets: make(chan *fakeSocket, 1)}
	c := New(Config{URL: "ws://kitchen", Transport: tr})
	c.Connect(context.Background())
	defer c.Close()
	s := nextSocket(t, tr)
	require.Eventually(t, c.Connected, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send(order.Message{Type: order.TypeCompleteOrder, OrderID: "7"}))
	written := s.Written()
	require.Len(t, written, 1)
	assert.JSONEq(t, `{"type":"complete_order","orderId":"7"}`, string(written[0]))
}

func TestHandlersDispatchByTypeAndSurvivePanics(t *testing.T) {
	tr := &fakeTransport{sockets: make(chan *fakeSocket, 1)}
	c := New(Config{URL: "ws://bar", Transport: tr})

	got := make(chan order.Message, 4)
	c.On(order.TypeUpdate, func(order.Message) { panic("boom") })
	c.On(order.TypeUpdate, func(m order.Message) { got <- m })
	c.On(order.TypeInitialData, func(m order.Message) { got <- m })

	c.Connect(context.Background())
	defer c.Close()
	s := nextSocket(t, tr)

	s.inbox <- []byte(`{not json`)
	s.inbox <- []byte(`{"type":"bar:new_order","order":{"id":"x"}}`)
	s.inbox <- []byte(`{"type":"update","orders":[{"id":"a","table":1,"items":[]}]}`)
	s.inbox <- []byte(`{"type":"initial_data","orders":[]}`)

	select {
	case m := <-got:
		assert.Equal(t, order.TypeUpdate, m.Type)
		require.Len(t, m.Orders, 1)
		assert.Equal(t, "a", m.Orders[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("update handler not called")
	}
	select {
	case m := <-got:
		assert.Equal(t, order.TypeInitialData, m.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("initial_data handler not called")
	}
}

func TestCloseStopsReconnecting(t *testing.T) {
	tr := &fakeTransport{sockets: make(chan *fakeSocket, 1)}
	c := New(Config{URL: "ws://bar", Transport: tr})
	c.Connect(context.Background())
	nextSocket(t, tr)
	c.Close()
	assert.False(t, c.Connected())
	c.Close()
}
