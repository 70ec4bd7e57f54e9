// Package eventlog batches domain.Event writes the way the teacher's
// internal/progress/hub.go batches crawl progress: a buffered channel feeds
// a single background goroutine that flushes on a size or time threshold,
// so callers on the request/worker path never block on storage. Adapted
// from progress milestones (job start/heartbeat/fetch) onto the spec's
// flat, persisted audit Event shape.
package eventlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/webextract/service/internal/domain"
)

// Sink persists a flushed batch of events.
type Sink interface {
	Consume(ctx context.Context, batch []domain.Event) error
}

// Config controls buffering and batching.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 200
	defaultMaxBatchWait   = 500 * time.Millisecond
)

// Hub batches Append calls and fans flushed batches out to sinks. Safe for
// concurrent use; Append never blocks.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan domain.Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64

	closeOnce sync.Once
}

// NewHub starts the background batching goroutine.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan domain.Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Append enqueues an event for batched persistence, satisfying
// sitecrawler.EventRecorder and any caller wanting fire-and-forget logging.
func (h *Hub) Append(_ context.Context, ev domain.Event) error {
	if h == nil {
		return nil
	}
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		h.logger.Warn("event dropped due to backpressure", zap.String("event_type", ev.EventType))
	}
	return nil
}

// Close drains remaining events, flushes sinks, and waits for the
// background goroutine to exit.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() { close(h.stopCh) })
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("eventlog hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]domain.Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	active := false

	for {
		select {
		case ev := <-h.events:
			batch = append(batch, ev)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
				stopTimer(timer, &active)
			} else {
				resetTimer(timer, &active, h.cfg.MaxBatchWait)
			}
		case <-timer.C:
			active = false
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			stopTimer(timer, &active)
			h.drainAndFlush(batch)
			return
		}
	}
}

func (h *Hub) drainAndFlush(batch []domain.Event) {
	for {
		select {
		case ev := <-h.events:
			batch = append(batch, ev)
		default:
			h.flush(batch)
			return
		}
	}
}

func (h *Hub) flush(batch []domain.Event) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]domain.Event(nil), batch...)
	for _, sink := range h.sinks {
		if err := sink.Consume(context.Background(), copyBatch); err != nil {
			h.logger.Warn("event sink consume failed", zap.Error(err))
		}
	}
}

func resetTimer(timer *time.Timer, active *bool, wait time.Duration) {
	if *active {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	timer.Reset(wait)
	*active = true
}

func stopTimer(timer *time.Timer, active *bool) {
	if !*active {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*active = false
}
