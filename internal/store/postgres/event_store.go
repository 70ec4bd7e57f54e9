package postgres

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/webextract/service/internal/domain"
)

// EventStore appends audit/log events, grounded on the teacher's
// progress_store.go insert shape.
type EventStore struct {
	pool *Pool
}

// NewEventStore constructs an EventStore.
func NewEventStore(pool *Pool) *EventStore { return &EventStore{pool: pool} }

// Append inserts a single event row.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, api_key_id, job_id, event_type, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.ApiKeyID, ev.JobID, ev.EventType, ev.Level, ev.Message, metadata, ev.CreatedAt,
	)
	return err
}

// ListByJob returns every event recorded for a job, oldest first.
func (s *EventStore) ListByJob(ctx context.Context, jobID string) ([]domain.Event, error) {
	rows, err := s.pool.pool.Query(ctx, `
		SELECT id, api_key_id, job_id, event_type, level, message, metadata, created_at
		FROM events WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev       domain.Event
			metadata []byte
		)
		if err := rows.Scan(&ev.ID, &ev.ApiKeyID, &ev.JobID, &ev.EventType, &ev.Level, &ev.Message, &metadata, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}
