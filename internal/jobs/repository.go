package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/motionlive/motionlive-agent/internal/convert"
)

type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ClaimNextPending(ctx context.Context) (*Job, error)
	UpdateJobState(ctx context.Context, id string, state convert.State) error
	FinishJob(ctx context.Context, job *Job) error
	CancelPending(ctx context.Context, id string) (bool, error)
	HasActiveSource(ctx context.Context, sourcePath string, target convert.Target) (bool, error)
	CountByStatus(ctx context.Context) (map[string]int, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, source_path, image_path, video_path, target, gif_frames, gif_width,
	status, state, error, error_code, output_path, asset_id, still_image_time, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.SourcePath, j.ImagePath, j.VideoPath, string(j.Target), j.GIFFrames, j.GIFWidth,
		j.Status, string(j.State), nullString(j.Error), nullString(j.ErrorCode),
		nullString(j.OutputPath), nullString(j.AssetID), j.StillImageTime,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimNextPending moves the oldest pending job to running and returns it, or
// nil when the queue is empty.
func (r *SQLiteRepository) ClaimNextPending(ctx context.Context) (*Job, error) {
	for {
		var id string
		err := r.db.QueryRowContext(ctx, `
			SELECT id FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, id ASC LIMIT 1
		`).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res, err := r.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'
		`, formatTime(time.Now()), id)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return r.GetJob(ctx, id)
		}
		// Lost the race to a cancel; look again.
	}
}

func (r *SQLiteRepository) UpdateJobState(ctx context.Context, id string, state convert.State) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?
	`, string(state), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) FinishJob(ctx context.Context, j *Job) error {
	j.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, state = ?, error = ?, error_code = ?, output_path = ?, asset_id = ?,
		    still_image_time = ?, updated_at = ?
		WHERE id = ?
	`, j.Status, string(j.State), nullString(j.Error), nullString(j.ErrorCode), nullString(j.OutputPath),
		nullString(j.AssetID), j.StillImageTime, formatTime(j.UpdatedAt), j.ID)
	return err
}

// HasActiveSource reports whether a pending or running job converts
// sourcePath to target.
func (r *SQLiteRepository) HasActiveSource(ctx context.Context, sourcePath string, target convert.Target) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE source_path = ? AND target = ? AND status IN ('pending', 'running')
	`, sourcePath, string(target)).Scan(&n)
	return n > 0, err
}

// CancelPending cancels a job that has not been claimed yet.
func (r *SQLiteRepository) CancelPending(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', state = 'cancelled', error_code = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, formatTime(time.Now()), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var target, state string
	var errMsg, errCode, outputPath, assetID sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&j.ID, &j.SourcePath, &j.ImagePath, &j.VideoPath, &target, &j.GIFFrames, &j.GIFWidth,
		&j.Status, &state, &errMsg, &errCode, &outputPath, &assetID, &j.StillImageTime,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	j.Target = convert.Target(target)
	j.State = convert.State(state)
	j.Error = errMsg.String
	j.ErrorCode = errCode.String
	j.OutputPath = outputPath.String
	j.AssetID = assetID.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
