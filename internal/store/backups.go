package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/semmidev/bastion/internal/domain"
)

// CreateBackup inserts a new backup record at run start, status
// running.
func (r *Repository) CreateBackup(b *domain.Backup) error {
	if b.Status == "" {
		b.Status = domain.BackupStatusRunning
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = r.now()
	}

	res, err := r.db.Exec(`
		INSERT INTO backups (target_id, database_name, started_at, finished_at,
		                     size_bytes, status, file_path, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.TargetID, b.DatabaseName, b.StartedAt, b.FinishedAt,
		b.SizeBytes, string(b.Status), b.FilePath, b.Notes)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}

	b.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

// FinishBackup moves a running backup to a terminal status. Terminal
// statuses are immutable; finishing an already-finished backup fails
// so no executor can resurrect or overwrite another's result.
func (r *Repository) FinishBackup(b *domain.Backup) error {
	if !b.Terminal() {
		return domain.Invalid("backup.status", "finish requires a terminal status")
	}
	if b.FinishedAt == nil {
		now := r.now()
		b.FinishedAt = &now
	}

	res, err := r.db.Exec(`
		UPDATE backups SET finished_at = ?, size_bytes = ?, status = ?,
		                   file_path = ?, notes = ?
		WHERE id = ? AND status = ?`,
		b.FinishedAt, b.SizeBytes, string(b.Status), b.FilePath, b.Notes,
		b.ID, string(domain.BackupStatusRunning))
	if err != nil {
		return fmt.Errorf("finish backup: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("backup %d is not running: %w", b.ID, domain.ErrInvalidBackupState)
	}

	r.publish(domain.Event{
		Kind:       domain.EventBackupFinished,
		BackupID:   b.ID,
		TargetID:   b.TargetID,
		Database:   b.DatabaseName,
		Status:     string(b.Status),
		Notes:      b.Notes,
		SizeBytes:  b.SizeBytes,
		FinishedAt: b.FinishedAt,
	})
	return nil
}

func (r *Repository) GetBackup(id int64) (*domain.Backup, error) {
	row := r.db.QueryRow(selectBackup+` WHERE id = ?`, id)
	return scanBackup(row)
}

func (r *Repository) ListBackups() ([]*domain.Backup, error) {
	rows, err := r.db.Query(selectBackup + ` ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

func (r *Repository) ListBackupsByTarget(targetID int64) ([]*domain.Backup, error) {
	rows, err := r.db.Query(selectBackup+` WHERE target_id = ? ORDER BY started_at DESC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

// ListPurgeable returns successful, not-yet-purged backups for a
// target finished on or before cutoff. Running backups never qualify
// regardless of age.
func (r *Repository) ListPurgeable(targetID int64, cutoff time.Time) ([]*domain.Backup, error) {
	rows, err := r.db.Query(selectBackup+`
		WHERE target_id = ? AND status = ? AND purged_at IS NULL
		  AND finished_at IS NOT NULL AND finished_at <= ?
		ORDER BY finished_at ASC`,
		targetID, string(domain.BackupStatusSuccess), cutoff)
	if err != nil {
		return nil, fmt.Errorf("query purgeable backups: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

// MarkBackupPurged soft-deletes a backup record after its artifact is
// gone. Marking an already-purged record is a no-op, which keeps
// retention idempotent across a crash between artifact deletion and
// the marker write.
func (r *Repository) MarkBackupPurged(id int64, at time.Time) error {
	res, err := r.db.Exec(`UPDATE backups SET purged_at = ? WHERE id = ? AND purged_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("mark backup purged: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	b, err := r.GetBackup(id)
	if err != nil {
		return nil
	}
	r.publish(domain.Event{
		Kind:     domain.EventBackupPurged,
		BackupID: b.ID,
		TargetID: b.TargetID,
		Database: b.DatabaseName,
		Status:   string(b.Status),
	})
	return nil
}

func (r *Repository) DeleteBackup(id int64) error {
	res, err := r.db.Exec(`DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrBackupNotFound
	}
	return nil
}

// FailInterruptedBackups force-fails records left running by a crash
// or hard shutdown. Called once at startup so no backup ever sticks at
// running forever.
func (r *Repository) FailInterruptedBackups() (int64, error) {
	res, err := r.db.Exec(`
		UPDATE backups SET status = ?, finished_at = ?, notes = ?
		WHERE status = ?`,
		string(domain.BackupStatusFailed), r.now(), "interrupted by shutdown",
		string(domain.BackupStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted backups: %w", err)
	}
	return res.RowsAffected()
}

const selectBackup = `
	SELECT id, target_id, database_name, started_at, finished_at,
	       size_bytes, status, file_path, notes, purged_at
	FROM backups`

func scanBackup(row scanner) (*domain.Backup, error) {
	b := &domain.Backup{}
	var status string
	err := row.Scan(&b.ID, &b.TargetID, &b.DatabaseName, &b.StartedAt, &b.FinishedAt,
		&b.SizeBytes, &status, &b.FilePath, &b.Notes, &b.PurgedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBackupNotFound
		}
		return nil, fmt.Errorf("scan backup: %w", err)
	}
	b.Status = domain.BackupStatus(status)
	return b, nil
}

func collectBackups(rows *sql.Rows) ([]*domain.Backup, error) {
	var backups []*domain.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}
