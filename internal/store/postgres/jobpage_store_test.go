package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/webextract/service/internal/domain"
)

func TestJobPageStore_RecordInsertsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobPageStore(NewWithConn(mock))

	link := domain.JobPage{JobID: "job-1", PageID: "page-1", Depth: 2}

	mock.ExpectExec("INSERT INTO job_pages").
		WithArgs(link.JobID, link.PageID, link.Depth).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Record(context.Background(), link))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobPageStore_ListByJobScansRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobPageStore(NewWithConn(mock))

	cols := []string{"job_id", "page_id", "depth"}
	mock.ExpectQuery("SELECT job_id, page_id, depth FROM job_pages WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("job-1", "page-1", 0).
			AddRow("job-1", "page-2", 1))

	links, err := store.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	require.Equal(t, "page-2", links[1].PageID)
	require.NoError(t, mock.ExpectationsWereMet())
}
