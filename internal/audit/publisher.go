// Package audit records security-relevant authentication events and ships them to a
// sink: process memory, a Kafka topic, or a buffered combination of both.
package audit

import (
	"context"
	"time"

	"zkpauth/pkg/requestcontext"
)

// Sink persists events. Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher enriches events from the request context and hands them to a sink.
type Publisher struct {
	sink  Sink
	clock func() time.Time
}

type Option func(*Publisher)

func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{sink: sink, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, base Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = p.clock()
	}
	if base.Category == "" {
		base.Category = base.Action.Category()
	}
	if base.RequestID == "" {
		base.RequestID = requestcontext.RequestID(ctx)
	}
	if base.ClientIP == "" {
		base.ClientIP = requestcontext.ClientIP(ctx)
	}
	return p.sink.Append(ctx, base)
}
