package postgres

import (
	"context"

	"github.com/webextract/service/internal/domain"
)

// ExtractionStore persists agent-extract results, linked to their job
// and (when the source page was cached) the Page they came from.
type ExtractionStore struct {
	pool *Pool
}

// NewExtractionStore constructs an ExtractionStore.
func NewExtractionStore(pool *Pool) *ExtractionStore { return &ExtractionStore{pool: pool} }

// Create inserts a single extraction result.
func (s *ExtractionStore) Create(ctx context.Context, ex domain.Extraction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO extractions (id, job_id, page_id, data, prompt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ex.ID, ex.JobID, ex.PageID, ex.Data, ex.Prompt, ex.CreatedAt,
	)
	return err
}

// GetByJob loads the extraction produced by a job, if any.
func (s *ExtractionStore) GetByJob(ctx context.Context, jobID string) (domain.Extraction, bool, error) {
	row := s.pool.pool.QueryRow(ctx, `
		SELECT id, job_id, page_id, data, prompt, created_at
		FROM extractions WHERE job_id = $1`, jobID)

	var ex domain.Extraction
	err := row.Scan(&ex.ID, &ex.JobID, &ex.PageID, &ex.Data, &ex.Prompt, &ex.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return domain.Extraction{}, false, nil
		}
		return domain.Extraction{}, false, err
	}
	return ex, true, nil
}
