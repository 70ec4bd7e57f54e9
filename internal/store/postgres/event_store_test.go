package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/webextract/service/internal/domain"
)

func TestEventStore_AppendInsertsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(NewWithConn(mock))

	jobID := "job-1"
	now := time.Unix(1700000000, 0).UTC()
	ev := domain.Event{
		ID:        "evt-1",
		JobID:     &jobID,
		EventType: "job.completed",
		Level:     domain.LevelInfo,
		Message:   "done",
		Metadata:  map[string]any{"pages": float64(3)},
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs(ev.ID, ev.ApiKeyID, ev.JobID, ev.EventType, ev.Level, ev.Message, []byte(`{"pages":3}`), ev.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_ListByJobScansRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewEventStore(NewWithConn(mock))

	now := time.Unix(1700000000, 0).UTC()
	jobID := "job-1"
	cols := []string{"id", "api_key_id", "job_id", "event_type", "level", "message", "metadata", "created_at"}
	mock.ExpectQuery("SELECT .* FROM events WHERE job_id").
		WithArgs(jobID).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"evt-1", (*string)(nil), &jobID, "job.started", string(domain.LevelInfo), "starting", []byte(`{}`), now,
		))

	events, err := store.ListByJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "job.started", events[0].EventType)
	require.NoError(t, mock.ExpectationsWereMet())
}
