package domain

import "time"

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// BackupOptions control what a single run dumps. An empty Databases
// list means "everything the target resolves to"; a non-empty list
// narrows the run to that subset.
type BackupOptions struct {
	Compress         bool     `json:"compress"`
	IncludeStructure bool     `json:"include_structure"`
	IncludeData      bool     `json:"include_data"`
	Databases        []string `json:"databases,omitempty"`
}

func (o *BackupOptions) Validate() error {
	if !o.IncludeStructure && !o.IncludeData {
		return Invalid("backup_options", "must include structure, data, or both")
	}
	return nil
}

// ScheduleJob is a recurring backup task bound to one target. The job
// references the target, it does not own it. NextRunAt is derived from
// Schedule and cached; the store recomputes it on create, update and
// run completion so it is never stale.
type ScheduleJob struct {
	ID            int64
	TargetID      int64
	Name          string
	Description   string
	IsActive      bool
	Schedule      ScheduleConfig
	Options       BackupOptions
	Meta          map[string]any
	LastRunAt     *time.Time
	LastRunStatus JobStatus
	LastRunNotes  string
	NextRunAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (j *ScheduleJob) Validate() error {
	if j.TargetID <= 0 {
		return Invalid("job.target_id", "required")
	}
	if j.Name == "" {
		return Invalid("job.name", "required")
	}
	if err := j.Schedule.Validate(); err != nil {
		return err
	}
	return j.Options.Validate()
}
