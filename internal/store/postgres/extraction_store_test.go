package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/webextract/service/internal/domain"
)

func TestExtractionStore_CreateInsertsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewExtractionStore(NewWithConn(mock))

	pageID := "page-1"
	now := time.Unix(1700000000, 0).UTC()
	ex := domain.Extraction{
		ID:        "ex-1",
		JobID:     "job-1",
		PageID:    &pageID,
		Data:      []byte(`{"title":"x"}`),
		Prompt:    "extract title",
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO extractions").
		WithArgs(ex.ID, ex.JobID, ex.PageID, ex.Data, ex.Prompt, ex.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), ex))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractionStore_GetByJobReturnsFalseWhenMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewExtractionStore(NewWithConn(mock))

	mock.ExpectQuery("SELECT .* FROM extractions WHERE job_id").
		WithArgs("job-none").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.GetByJob(context.Background(), "job-none")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
