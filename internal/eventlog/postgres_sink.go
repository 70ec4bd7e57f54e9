package eventlog

import (
	"context"
	"fmt"

	"github.com/webextract/service/internal/domain"
)

// EventStore is the persistence boundary a PostgresSink writes through.
type EventStore interface {
	Append(ctx context.Context, ev domain.Event) error
}

// PostgresSink persists a flushed batch by appending each row — the events
// table has no bulk-insert path in store/postgres, so batching here buys
// fewer, larger goroutine handoffs rather than fewer round trips.
type PostgresSink struct {
	Store EventStore
}

// Consume implements Sink.
func (s *PostgresSink) Consume(ctx context.Context, batch []domain.Event) error {
	for _, ev := range batch {
		if err := s.Store.Append(ctx, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	return nil
}
