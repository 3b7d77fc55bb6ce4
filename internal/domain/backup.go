package domain

import "time"

type BackupStatus string

const (
	BackupStatusRunning BackupStatus = "running"
	BackupStatusSuccess BackupStatus = "success"
	BackupStatusFailed  BackupStatus = "failed"
)

// Backup records one dump of one database. Created at backup start
// with status running; mutated only by the executor that owns the run.
// Terminal statuses are immutable. PurgedAt marks soft-deleted records
// whose artifact has been removed by retention.
type Backup struct {
	ID           int64
	TargetID     int64
	DatabaseName string
	StartedAt    time.Time
	FinishedAt   *time.Time
	SizeBytes    int64
	Status       BackupStatus
	FilePath     string
	Notes        string
	PurgedAt     *time.Time
}

func (b *Backup) Terminal() bool {
	return b.Status == BackupStatusSuccess || b.Status == BackupStatusFailed
}

func (b *Backup) Restorable() bool {
	return b.Status == BackupStatusSuccess && b.PurgedAt == nil
}
