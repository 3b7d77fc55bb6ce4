package domain

import (
	"fmt"
	"time"
)

type DatabaseMode string

const (
	DatabaseModeAll      DatabaseMode = "all"
	DatabaseModeSelected DatabaseMode = "selected"
)

// Target is a configured database connection profile to be backed up.
// CredentialRef holds the sealed password; it never leaves the store
// in plaintext except through Repository.TargetCredential.
type Target struct {
	ID            int64
	Name          string
	Host          string
	Port          int
	User          string
	CredentialRef string
	Comment       string
	RetentionDays int
	Compress      bool
	DatabaseMode  DatabaseMode
	Databases     []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (t *Target) Validate() error {
	if t.Name == "" {
		return Invalid("target.name", "required")
	}
	if t.Host == "" {
		return Invalid("target.host", "required")
	}
	if t.Port <= 0 || t.Port > 65535 {
		return Invalid("target.port", "must be between 1 and 65535")
	}
	if t.User == "" {
		return Invalid("target.user", "required")
	}
	if t.RetentionDays < 0 {
		return Invalid("target.retention_days", "must not be negative")
	}
	switch t.DatabaseMode {
	case DatabaseModeAll:
	case DatabaseModeSelected:
		if len(t.Databases) == 0 {
			return Invalid("target.databases", "selected mode requires at least one database")
		}
	default:
		return Invalid("target.database_mode", `must be "all" or "selected"`)
	}
	return nil
}

// Redacted returns a copy safe to hand to non-privileged callers.
func (t Target) Redacted() Target {
	t.CredentialRef = ""
	return t
}

func (t *Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}
