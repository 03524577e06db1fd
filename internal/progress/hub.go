// Package progress defines the events the capture pipeline emits while a
// batch runs, plus the hub that fans them out to pluggable sinks such as
// structured logs or Prometheus collectors. Emitting never blocks the
// pipeline; delivery happens on a background goroutine.
package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	bufferSize   = 1024
	maxBatchSize = 256
	sinkTimeout  = 5 * time.Second
)

// Hub aggregates Event streams and fans them out to registered sinks. A nil
// Hub is valid and discards everything, so callers never need nil checks.
type Hub struct {
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	closed    atomic.Bool
	dropped   atomic.Int64
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the delivery goroutine over the supplied sinks. The returned
// Hub accepts events immediately.
func NewHub(logger *zap.Logger, sinks ...Sink) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, bufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Emit enqueues an Event for delivery. It never blocks; when the buffer is
// full the event is dropped and counted.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.logger.Warn("progress event dropped", zap.Int64("dropped", h.dropped.Add(1)))
	}
}

// Close stops intake, drains buffered events through the sinks, closes the
// sinks, and waits for the delivery goroutine to exit. It is safe to call
// multiple times; only the first call initiates shutdown.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case evt := <-h.events:
			h.deliver(h.gather(evt))
		case <-h.stopCh:
			h.drain()
			h.closeSinks()
			return
		}
	}
}

// gather folds any already-buffered events into one slice so sinks see
// natural groupings without a flush timer.
func (h *Hub) gather(first Event) []Event {
	batch := append(make([]Event, 0, 16), first)
	for len(batch) < maxBatchSize {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
		default:
			return batch
		}
	}
	return batch
}

func (h *Hub) drain() {
	for {
		select {
		case evt := <-h.events:
			h.deliver(h.gather(evt))
		default:
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
