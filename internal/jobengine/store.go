package jobengine

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/webextract/service/internal/domain"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Row is the subset of pgx.Row the store needs.
type Row interface {
	Scan(dest ...any) error
}

// PostgresStore implements Store against the jobs table, grounded on the
// teacher's internal/storage/postgres/progress_store.go raw-SQL shape.
type PostgresStore struct {
	db DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `
	id, api_key_id, type, status, input_params, idempotency_key,
	error_code, error_message, pages_discovered, pages_total, result_blob,
	created_at, started_at, completed_at, lease_heartbeat, reclaim_count,
	cancel_requested
`

func scanJob(row Row) (domain.Job, error) {
	var job domain.Job
	err := row.Scan(
		&job.ID, &job.ApiKeyID, &job.Type, &job.Status, &job.InputParams, &job.IdempotencyKey,
		&job.ErrorCode, &job.ErrorMessage, &job.PagesDiscovered, &job.PagesTotal, &job.ResultBlob,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.LeaseHeartbeat, &job.ReclaimCount,
		&job.CancelRequested,
	)
	return job, err
}

// Create inserts a new queued job.
func (s *PostgresStore) Create(ctx context.Context, job domain.Job) (domain.Job, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO jobs (id, api_key_id, type, status, input_params, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+jobColumns,
		job.ID, job.ApiKeyID, job.Type, job.Status, job.InputParams, job.IdempotencyKey, job.CreatedAt,
	)
	return scanJob(row)
}

// FindByIdempotencyKey looks up a prior job scoped to (api_key_id, key).
func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, apiKeyID, key string) (domain.Job, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE api_key_id = $1 AND idempotency_key = $2`,
		apiKeyID, key,
	)
	job, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, err
	}
	return job, true, nil
}

// Get loads a job by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// QueueDepth counts queued jobs, for the backpressure watermark check.
func (s *PostgresStore) QueueDepth(ctx context.Context) (int, error) {
	row := s.db.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = 'queued'`)
	var depth int
	if err := row.Scan(&depth); err != nil {
		return 0, err
	}
	return depth, nil
}

// ClaimNext atomically transitions the oldest queued job to running,
// using FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
func (s *PostgresStore) ClaimNext(ctx context.Context, now time.Time) (domain.Job, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'running', started_at = $1, lease_heartbeat = $1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		now,
	)
	job, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, err
	}
	return job, true, nil
}

// Heartbeat records progress and refreshes the lease.
func (s *PostgresStore) Heartbeat(ctx context.Context, id string, at time.Time, pagesDiscovered int, pagesTotal *int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET lease_heartbeat = $1, pages_discovered = $2, pages_total = $3
		WHERE id = $4 AND status = 'running'`,
		at, pagesDiscovered, pagesTotal, id,
	)
	return err
}

// Complete marks a job completed with its result blob.
func (s *PostgresStore) Complete(ctx context.Context, id string, resultBlob []byte, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', result_blob = $1, completed_at = $2
		WHERE id = $3`,
		resultBlob, at, id,
	)
	return err
}

// Fail marks a job failed with an error code/message.
func (s *PostgresStore) Fail(ctx context.Context, id string, code, message string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', error_code = $1, error_message = $2, completed_at = $3
		WHERE id = $4`,
		code, message, at, id,
	)
	return err
}

// MarkCancelled marks a job cancelled once its worker has observed the
// cancellation flag and stopped.
func (s *PostgresStore) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled', completed_at = $1
		WHERE id = $2`,
		at, id,
	)
	return err
}

// RequestCancel sets the cancellation flag a running job's worker polls.
func (s *PostgresStore) RequestCancel(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE jobs SET cancel_requested = true WHERE id = $1`, id)
	return err
}

// ReapStalled implements spec §4.9's lease reclaim: a job whose lease
// expired with reclaim_count = 0 goes back to queued once; a second
// stall marks it failed with WORKER_STALLED.
func (s *PostgresStore) ReapStalled(ctx context.Context, leaseExpiry time.Time) (reclaimed, failed int, err error) {
	reclaimedN, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued', started_at = NULL, lease_heartbeat = NULL, reclaim_count = reclaim_count + 1
		WHERE status = 'running'
		  AND reclaim_count = 0
		  AND coalesce(lease_heartbeat, started_at) < $1`,
		leaseExpiry,
	)
	if err != nil {
		return 0, 0, err
	}

	failedN, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', error_code = 'WORKER_STALLED', error_message = 'worker lease expired twice', completed_at = now()
		WHERE status = 'running'
		  AND reclaim_count >= 1
		  AND coalesce(lease_heartbeat, started_at) < $1`,
		leaseExpiry,
	)
	if err != nil {
		return int(reclaimedN), 0, err
	}
	return int(reclaimedN), int(failedN), nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
