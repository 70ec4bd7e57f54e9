package postgres

import (
	"context"
	"fmt"

	"github.com/webextract/service/internal/domain"
)

// JobPageStore links jobs to the pages they discovered, per spec §3's
// job_pages(job_id, page_id, depth) table.
type JobPageStore struct {
	pool *Pool
}

// NewJobPageStore constructs a JobPageStore.
func NewJobPageStore(pool *Pool) *JobPageStore { return &JobPageStore{pool: pool} }

// Record links a page to a job at the given crawl depth, idempotently.
func (s *JobPageStore) Record(ctx context.Context, link domain.JobPage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_pages (job_id, page_id, depth)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id, page_id) DO NOTHING`,
		link.JobID, link.PageID, link.Depth,
	)
	return err
}

// ListByJob returns every page a job discovered, ordered by depth; the
// order of pages at the same depth is not defined.
func (s *JobPageStore) ListByJob(ctx context.Context, jobID string) ([]domain.JobPage, error) {
	rows, err := s.pool.pool.Query(ctx, `
		SELECT job_id, page_id, depth FROM job_pages
		WHERE job_id = $1 ORDER BY depth ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job pages: %w", err)
	}
	defer rows.Close()

	var links []domain.JobPage
	for rows.Next() {
		var link domain.JobPage
		if err := rows.Scan(&link.JobID, &link.PageID, &link.Depth); err != nil {
			return nil, fmt.Errorf("scan job page row: %w", err)
		}
		links = append(links, link)
	}
	return links, nil
}
