package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = "id, user_id, channel, operation, file_count, page_count, status, error_kind, error_message, artifact, artifact_bytes, started_at, finished_at"

// Record inserts a finished job. Recording the same id twice replaces the row.
func (s *Store) Record(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errors.New("job id required")
	}
	if job.FinishedAt.IsZero() {
		job.FinishedAt = time.Now()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = job.FinishedAt
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID,
			job.UserID,
			job.Channel,
			job.Operation,
			job.FileCount,
			job.PageCount,
			string(job.Status),
			job.ErrorKind,
			job.ErrorMessage,
			job.Artifact,
			job.ArtifactBytes,
			job.StartedAt.UTC().Format(timeLayout),
			job.FinishedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("record job %s: %w", job.ID, err)
		}
		return nil
	})
}

// MarkDiscarded flags a recorded job whose result was thrown away.
func (s *Store) MarkDiscarded(ctx context.Context, id string) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, string(StatusDiscarded), id)
		return err
	})
}

// Get returns the job with id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Recent returns up to limit jobs, newest first. A userID narrows the
// result to one user.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs ORDER BY finished_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY finished_at DESC LIMIT ?`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Counts returns per-operation outcome totals ordered by operation.
func (s *Store) Counts(ctx context.Context) ([]OperationCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT operation, status, COUNT(1) FROM jobs GROUP BY operation, status ORDER BY operation`)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()

	var counts []OperationCount
	for rows.Next() {
		var (
			op     string
			status Status
			n      int
		)
		if err := rows.Scan(&op, &status, &n); err != nil {
			return nil, err
		}
		if len(counts) == 0 || counts[len(counts)-1].Operation != op {
			counts = append(counts, OperationCount{Operation: op})
		}
		c := &counts[len(counts)-1]
		switch status {
		case StatusSucceeded:
			c.Succeeded += n
		case StatusFailed:
			c.Failed += n
		case StatusDiscarded:
			c.Discarded += n
		}
	}
	return counts, rows.Err()
}

// Prune deletes jobs that finished before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE finished_at < ?`, cutoff.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return affected, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job         Job
		status      string
		startedRaw  string
		finishedRaw string
	)
	if err := scanner.Scan(
		&job.ID,
		&job.UserID,
		&job.Channel,
		&job.Operation,
		&job.FileCount,
		&job.PageCount,
		&status,
		&job.ErrorKind,
		&job.ErrorMessage,
		&job.Artifact,
		&job.ArtifactBytes,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	var err error
	if job.StartedAt, err = parseTimeString(startedRaw); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseTimeString(finishedRaw); err != nil {
		return nil, err
	}
	return &job, nil
}

func parseTimeString(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}
