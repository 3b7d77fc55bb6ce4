package usecase

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/semmidev/bastion/internal/domain"
)

type RestoreStore interface {
	GetBackup(id int64) (*domain.Backup, error)
	GetTarget(id int64) (*domain.Target, error)
	TargetCredential(id int64) (string, error)
}

type RestoreResult struct {
	BackupID   int64
	TargetID   int64
	Database   string
	Statements int64
	Duration   time.Duration
}

// Restore replays a stored artifact against its target database. It is
// only ever invoked explicitly, never by the scheduler.
type Restore struct {
	store      RestoreStore
	local      domain.ArtifactStore
	compressor domain.Compressor
	connect    domain.ConnectorFactory
	logger     Logger
	now        func() time.Time
}

func NewRestore(
	store RestoreStore,
	local domain.ArtifactStore,
	compressor domain.Compressor,
	connect domain.ConnectorFactory,
	logger Logger,
) *Restore {
	return &Restore{
		store:      store,
		local:      local,
		compressor: compressor,
		connect:    connect,
		logger:     logger,
		now:        time.Now,
	}
}

// Run restores backup backupID. Only successful, unpurged backups
// qualify. A failure after statements were already applied is reported
// as ErrPartialRestore: the target is in an indeterminate state and the
// caller must know that.
func (uc *Restore) Run(ctx context.Context, backupID int64) (*RestoreResult, error) {
	start := uc.now()

	backup, err := uc.store.GetBackup(backupID)
	if err != nil {
		return nil, fmt.Errorf("resolve backup %d: %w", backupID, err)
	}
	if !backup.Restorable() {
		if backup.PurgedAt != nil {
			return nil, fmt.Errorf("backup %d artifact was purged: %w", backupID, domain.ErrInvalidBackupState)
		}
		return nil, fmt.Errorf("backup %d has status %s: %w", backupID, backup.Status, domain.ErrInvalidBackupState)
	}

	target, err := uc.store.GetTarget(backup.TargetID)
	if err != nil {
		return nil, fmt.Errorf("resolve target %d: %w", backup.TargetID, err)
	}
	password, err := uc.store.TargetCredential(target.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential for target %d: %w", target.ID, err)
	}

	rc, err := uc.local.Open(ctx, backup.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w: %v", backup.FilePath, domain.ErrStorageFailure, err)
	}
	defer rc.Close()

	var stream io.Reader = rc
	if strings.HasSuffix(backup.FilePath, uc.compressor.Ext()) {
		gz, err := uc.compressor.WrapReader(rc)
		if err != nil {
			return nil, fmt.Errorf("open compressed artifact %s: %w: %v", backup.FilePath, domain.ErrStorageFailure, err)
		}
		defer gz.Close()
		stream = gz
	}

	conn := uc.connect(*target, password)
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("target %s unreachable: %w: %v", target.Addr(), domain.ErrConnectionFailure, err)
	}

	uc.logger.Infof("[%s] Restoring %s from %s", target.Name, backup.DatabaseName, backup.FilePath)

	applied, err := conn.Restore(ctx, backup.DatabaseName, stream)
	if err != nil {
		if applied > 0 {
			return nil, fmt.Errorf("restore of %s stopped after %d statements: %w: %v",
				backup.DatabaseName, applied, domain.ErrPartialRestore, err)
		}
		return nil, fmt.Errorf("restore %s: %w", backup.DatabaseName, err)
	}

	result := &RestoreResult{
		BackupID:   backup.ID,
		TargetID:   target.ID,
		Database:   backup.DatabaseName,
		Statements: applied,
		Duration:   uc.now().Sub(start),
	}
	uc.logger.Infof("[%s] Restore of %s complete, %d statements in %s",
		target.Name, backup.DatabaseName, applied, result.Duration.Round(time.Second))
	return result, nil
}
