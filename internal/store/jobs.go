package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/semmidev/bastion/internal/domain"
	"github.com/semmidev/bastion/internal/schedule"
)

// CreateJob validates the job, computes its first next_run_at from the
// current time and persists both atomically. A job is never stored
// with a missing or stale next_run_at.
func (r *Repository) CreateJob(j *domain.ScheduleJob) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if _, err := r.GetTarget(j.TargetID); err != nil {
		return err
	}

	next, err := schedule.NextRun(j.Schedule, r.now())
	if err != nil {
		return err
	}

	cfg, opts, meta, err := marshalJobConfigs(j)
	if err != nil {
		return err
	}

	now := r.now()
	j.CreatedAt = now
	j.UpdatedAt = now
	j.NextRunAt = &next
	j.LastRunStatus = domain.JobStatusPending

	res, err := r.db.Exec(`
		INSERT INTO jobs (target_id, name, description, is_active,
		                  schedule_config, backup_options, meta_config,
		                  last_run_status, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.TargetID, j.Name, j.Description, j.IsActive,
		cfg, opts, meta, string(j.LastRunStatus), next, now, now)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	j.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

// UpdateJob persists edits and recomputes next_run_at against the
// current time, since the schedule may have changed.
func (r *Repository) UpdateJob(j *domain.ScheduleJob) error {
	if err := j.Validate(); err != nil {
		return err
	}

	next, err := schedule.NextRun(j.Schedule, r.now())
	if err != nil {
		return err
	}

	cfg, opts, meta, err := marshalJobConfigs(j)
	if err != nil {
		return err
	}

	j.UpdatedAt = r.now()
	j.NextRunAt = &next

	res, err := r.db.Exec(`
		UPDATE jobs SET name = ?, description = ?, is_active = ?,
		                schedule_config = ?, backup_options = ?, meta_config = ?,
		                next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		j.Name, j.Description, j.IsActive, cfg, opts, meta, next, j.UpdatedAt, j.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *Repository) GetJob(id int64) (*domain.ScheduleJob, error) {
	row := r.db.QueryRow(selectJob+` WHERE id = ?`, id)
	return scanJob(row)
}

func (r *Repository) ListJobs() ([]*domain.ScheduleJob, error) {
	rows, err := r.db.Query(selectJob + ` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListDueJobs returns active jobs whose next_run_at has passed,
// oldest overdue first. That ordering is the scheduler's dispatch
// fairness policy.
func (r *Repository) ListDueJobs(now time.Time) ([]*domain.ScheduleJob, error) {
	rows, err := r.db.Query(selectJob+`
		WHERE is_active = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *Repository) DeleteJob(id int64) error {
	res, err := r.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// RecordRunResult is the only path that changes last_run_* fields. The
// next fire is computed from finishedAt, not wall clock, so execution
// latency never drifts the schedule; failed runs advance exactly like
// successful ones.
func (r *Repository) RecordRunResult(jobID int64, status domain.JobStatus, notes string, finishedAt time.Time) error {
	j, err := r.GetJob(jobID)
	if err != nil {
		return err
	}

	var nextRef *time.Time
	if next, err := schedule.NextRun(j.Schedule, finishedAt); err == nil {
		nextRef = &next
	} else {
		notes = fmt.Sprintf("%s; schedule exhausted: %v", notes, err)
	}

	_, err = r.db.Exec(`
		UPDATE jobs SET last_run_at = ?, last_run_status = ?, last_run_notes = ?,
		                next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		finishedAt, string(status), notes, nextRef, r.now(), jobID)
	if err != nil {
		return fmt.Errorf("record run result: %w", err)
	}

	r.publish(domain.Event{
		Kind:       domain.EventJobRunRecorded,
		JobID:      j.ID,
		JobName:    j.Name,
		TargetID:   j.TargetID,
		Status:     string(status),
		Notes:      notes,
		NextRunAt:  nextRef,
		FinishedAt: &finishedAt,
	})
	return nil
}

const selectJob = `
	SELECT id, target_id, name, description, is_active,
	       schedule_config, backup_options, meta_config,
	       last_run_at, last_run_status, last_run_notes, next_run_at,
	       created_at, updated_at
	FROM jobs`

func marshalJobConfigs(j *domain.ScheduleJob) (cfg, opts, meta string, err error) {
	c, err := json.Marshal(j.Schedule)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal schedule config: %w", err)
	}
	o, err := json.Marshal(j.Options)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal backup options: %w", err)
	}
	if j.Meta == nil {
		j.Meta = map[string]any{}
	}
	m, err := json.Marshal(j.Meta)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal meta config: %w", err)
	}
	return string(c), string(o), string(m), nil
}

func scanJob(row scanner) (*domain.ScheduleJob, error) {
	j := &domain.ScheduleJob{}
	var cfg, opts, meta, status string
	err := row.Scan(&j.ID, &j.TargetID, &j.Name, &j.Description, &j.IsActive,
		&cfg, &opts, &meta,
		&j.LastRunAt, &status, &j.LastRunNotes, &j.NextRunAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.LastRunStatus = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(cfg), &j.Schedule); err != nil {
		return nil, fmt.Errorf("parse schedule config: %w", err)
	}
	if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
		return nil, fmt.Errorf("parse backup options: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &j.Meta); err != nil {
		return nil, fmt.Errorf("parse meta config: %w", err)
	}
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]*domain.ScheduleJob, error) {
	var jobs []*domain.ScheduleJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
