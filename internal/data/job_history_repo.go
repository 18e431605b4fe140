package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/target/muster/internal/domain/model"
)

// JobHistoryRepo persists dispatched jobs and their finalized outcomes in
// PostgreSQL. The job row is written once at dispatch time and updated once
// when its collector finalizes.
type JobHistoryRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// JobHistoryRepoOptions holds construction parameters for JobHistoryRepo.
type JobHistoryRepoOptions struct {
	DB     *sql.DB
	Logger *slog.Logger
}

// NewJobHistoryRepo creates a job history repository backed by the given
// database handle.
func NewJobHistoryRepo(opts JobHistoryRepoOptions) (*JobHistoryRepo, error) {
	if opts.DB == nil {
		return nil, errors.New("job history repo: db is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHistoryRepo{db: opts.DB, logger: logger}, nil
}

const jobColumns = `
  jid,
  function,
  args,
  kwargs,
  target_expression,
  target_kind,
  resolved,
  issued_at,
  timeout_ms,
  outcome,
  recorded_at,
  finalized_at
`

// Record inserts the job row at dispatch time, before any result arrives.
// A jid collision returns ErrDuplicateJob.
func (r *JobHistoryRepo) Record(ctx context.Context, job *model.Job, resolved []string) error {
	args, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	kwargs, err := json.Marshal(job.Kwargs)
	if err != nil {
		return fmt.Errorf("marshal kwargs: %w", err)
	}
	if resolved == nil {
		resolved = []string{}
	}
	resolvedJSON, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("marshal resolved: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (jid, function, args, kwargs, target_expression, target_kind, resolved, issued_at, timeout_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Function, args, kwargs,
		job.Target.Expression, string(job.Target.Kind),
		resolvedJSON, job.IssuedAt.UTC(), job.Timeout.Milliseconds(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
		}
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// Finalize stores the collected outcome against an existing job row. A
// finalized row is never finalized again; the first write wins.
func (r *JobHistoryRepo) Finalize(ctx context.Context, outcome *model.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET outcome = $2, finalized_at = now()
		WHERE jid = $1 AND finalized_at IS NULL`,
		outcome.JobID, payload,
	)
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", outcome.JobID, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		r.logger.DebugContext(ctx, "finalize skipped", "jid", outcome.JobID)
	}
	return nil
}

// GetByID loads one job record by jid. A missing jid returns
// model.ErrJobNotFound.
func (r *JobHistoryRepo) GetByID(ctx context.Context, jobID string) (*model.JobRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE jid = $1`, jobID)

	rec, err := scanJobRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return rec, nil
}

// ListRecent returns up to limit job records, newest first.
func (r *JobHistoryRepo) ListRecent(ctx context.Context, limit int) ([]*model.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY issued_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*model.JobRecord
	for rows.Next() {
		rec, scanErr := scanJobRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRecord(row rowScanner) (*model.JobRecord, error) {
	var (
		rec         model.JobRecord
		args        []byte
		kwargs      []byte
		resolved    []byte
		kind        string
		timeoutMs   int64
		outcome     []byte
		finalizedAt sql.NullTime
	)
	err := row.Scan(
		&rec.Job.ID, &rec.Job.Function, &args, &kwargs,
		&rec.Job.Target.Expression, &kind, &resolved,
		&rec.Job.IssuedAt, &timeoutMs, &outcome,
		&rec.RecordedAt, &finalizedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Job.Target.Kind = model.MatcherKind(kind)
	rec.Job.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if err := json.Unmarshal(args, &rec.Job.Args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	if err := json.Unmarshal(kwargs, &rec.Job.Kwargs); err != nil {
		return nil, fmt.Errorf("unmarshal kwargs: %w", err)
	}
	if err := json.Unmarshal(resolved, &rec.Resolved); err != nil {
		return nil, fmt.Errorf("unmarshal resolved: %w", err)
	}
	if len(outcome) > 0 {
		rec.Outcome = &model.Outcome{}
		if err := json.Unmarshal(outcome, rec.Outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
	}
	if finalizedAt.Valid {
		rec.FinalizedAt = finalizedAt.Time
	}
	return &rec, nil
}
