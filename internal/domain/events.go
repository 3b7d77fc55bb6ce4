package domain

import "time"

type EventKind string

const (
	EventJobRunRecorded EventKind = "job_run_recorded"
	EventBackupFinished EventKind = "backup_finished"
	EventBackupPurged   EventKind = "backup_purged"
)

// Event is emitted by the store on state transitions so observers
// (notifiers, live status feeds) can react without polling.
type Event struct {
	Kind       EventKind
	At         time.Time
	JobID      int64
	JobName    string
	BackupID   int64
	TargetID   int64
	Database   string
	Status     string
	Notes      string
	SizeBytes  int64
	NextRunAt  *time.Time
	FinishedAt *time.Time
}

// Publisher receives store events. Implementations must not block;
// slow sinks are expected to queue internally.
type Publisher interface {
	Publish(e Event)
}
