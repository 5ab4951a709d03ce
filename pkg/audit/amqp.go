package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "relay.audit"

// Publisher is the slice of *amqp.Channel the sink needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes audit events as persistent JSON messages to a topic exchange, routed by
// "<channel>.<action>".
type AMQPSink struct {
	exchange string
	pub      Publisher
	mu       sync.Mutex
	closer   func() error
}

func NewAMQPSink(pub Publisher, exchange string) *AMQPSink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPSink{exchange: exchange, pub: pub}
}

// DialAMQP connects to the broker and declares the audit exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open amqp channel")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	s := NewAMQPSink(ch, exchange)
	s.closer = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return s, nil
}

func (s *AMQPSink) Record(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode audit event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.pub.PublishWithContext(ctx, s.exchange, event.Channel+"."+event.Action, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	return errors.Wrap(err, "publish audit event")
}

func (s *AMQPSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
