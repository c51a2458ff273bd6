package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transcoder/internal/models"
)

var ErrJobNotFound = errors.New("job not found")
var ErrJobExists = errors.New("job already recorded")

const schema = `
CREATE TABLE IF NOT EXISTS transcode_jobs (
	id          TEXT PRIMARY KEY,
	video_id    TEXT NOT NULL,
	delivery_id TEXT NOT NULL,
	attempt     INT NOT NULL,
	state       TEXT NOT NULL,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS transcode_jobs_video_id_idx ON transcode_jobs (video_id);
CREATE TABLE IF NOT EXISTS transcode_renditions (
	job_id      TEXT NOT NULL REFERENCES transcode_jobs (id) ON DELETE CASCADE,
	rung        TEXT NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT,
	duration_ms BIGINT NOT NULL,
	PRIMARY KEY (job_id, rung)
);`

// JobRepository is the Postgres job ledger.
type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

func (r *JobRepository) Start(ctx context.Context, j *models.Job) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO transcode_jobs (id, video_id, delivery_id, attempt, state)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING started_at
	`, j.ID, j.VideoID, j.DeliveryID, j.Attempt, j.State).Scan(&j.StartedAt)

	if err != nil {
		if IsUniqueViolation(err) {
			return ErrJobExists
		}
		return err
	}
	return nil
}

func (r *JobRepository) UpdateState(ctx context.Context, id, state string) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE transcode_jobs
		SET state=$2, updated_at=now()
		WHERE id=$1
	`, id, state)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Finish sets the terminal state. errText is stored as NULL when empty.
func (r *JobRepository) Finish(ctx context.Context, id, state, errText string) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE transcode_jobs
		SET state=$2, error=$3, updated_at=now(), finished_at=now()
		WHERE id=$1
	`, id, state, nullIfEmpty(errText))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RecordRenditions upserts one row per rung in a single batch.
func (r *JobRepository) RecordRenditions(ctx context.Context, jobID string, rs []models.Rendition) error {
	if len(rs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, rd := range rs {
		b.Queue(`
			INSERT INTO transcode_renditions (job_id, rung, status, reason, duration_ms)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (job_id, rung) DO UPDATE
			SET status=EXCLUDED.status, reason=EXCLUDED.reason, duration_ms=EXCLUDED.duration_ms
		`, jobID, rd.Rung, rd.Status, nullIfEmpty(rd.Reason), rd.DurationMs)
	}
	return r.db.SendBatch(ctx, b).Close()
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	err := r.db.QueryRow(ctx, `
		SELECT id, video_id, delivery_id, attempt, state, error, started_at, finished_at
		FROM transcode_jobs
		WHERE id=$1
	`, id).Scan(
		&j.ID,
		&j.VideoID,
		&j.DeliveryID,
		&j.Attempt,
		&j.State,
		&j.Error,
		&j.StartedAt,
		&j.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobRepository) ListRenditions(ctx context.Context, jobID string) ([]models.Rendition, error) {
	rows, err := r.db.Query(ctx, `
		SELECT job_id, rung, status, COALESCE(reason, ''), duration_ms
		FROM transcode_renditions
		WHERE job_id=$1
		ORDER BY rung
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Rendition
	for rows.Next() {
		var rd models.Rendition
		if err := rows.Scan(&rd.JobID, &rd.Rung, &rd.Status, &rd.Reason, &rd.DurationMs); err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}
