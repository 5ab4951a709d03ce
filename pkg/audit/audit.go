// Package audit records privileged relay operations such as full list replacements.
package audit

import (
	"context"
	"log/slog"
	"time"
)

type Event struct {
	Channel    string    `json:"channel"`
	Action     string    `json:"action"`
	Accepted   bool      `json:"accepted"`
	Subject    string    `json:"subject,omitempty"`
	Remote     string    `json:"remote,omitempty"`
	OrderCount int       `json:"order_count"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

type Sink interface {
	Record(ctx context.Context, event Event) error
}

// LogSink writes audit events to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, event Event) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	level := slog.LevelInfo
	if !event.Accepted {
		level = slog.LevelWarn
	}
	l.Log(ctx, level, "audit",
		"channel", event.Channel,
		"action", event.Action,
		"accepted", event.Accepted,
		"subject", event.Subject,
		"remote", event.Remote,
		"orders", event.OrderCount,
		"reason", event.Reason,
	)
	return nil
}

// Multi fans an event out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Record(ctx context.Context, event Event) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
