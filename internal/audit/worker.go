package audit

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
)

// AsyncSink decouples event producers from a slow sink. Append only enqueues; Run drains
// the buffer into the target until ctx is done, then flushes what is left.
type AsyncSink struct {
	target   Sink
	buffer   *RingBuffer
	interval time.Duration
	logger   *slog.Logger
	wake     chan struct{}
}

func NewAsyncSink(target Sink, capacity int, logger *slog.Logger) *AsyncSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncSink{
		target:   target,
		buffer:   NewRingBuffer(capacity),
		interval: defaultFlushInterval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

func (s *AsyncSink) Append(_ context.Context, event Event) error {
	s.buffer.Enqueue(event)
	if s.buffer.Len() >= defaultBatchSize {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of buffered events not yet written.
func (s *AsyncSink) Pending() int {
	return s.buffer.Len()
}

func (s *AsyncSink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// the parent context is gone; give the final flush its own deadline
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			s.flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			s.flush(ctx)
		case <-s.wake:
			s.flush(ctx)
		}
	}
}

func (s *AsyncSink) flush(ctx context.Context) {
	for {
		batch := s.buffer.DequeueBatch(defaultBatchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := s.target.Append(ctx, event); err != nil {
				s.logger.WarnContext(ctx, "audit event dropped", "action", string(event.Action), "error", err)
			}
		}
	}
}
