package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/semmidev/bastion/internal/domain"
)

type RetentionStore interface {
	ListTargets() ([]*domain.Target, error)
	ListPurgeable(targetID int64, cutoff time.Time) ([]*domain.Backup, error)
	MarkBackupPurged(id int64, at time.Time) error
}

// Retention purges successful backups older than each target's
// retention window. Running backups never qualify; re-running over
// already-purged records is a no-op.
type Retention struct {
	store   RetentionStore
	local   domain.ArtifactStore
	mirrors []Mirror
	logger  Logger
	now     func() time.Time
}

func NewRetention(store RetentionStore, local domain.ArtifactStore, mirrors []Mirror, logger Logger) *Retention {
	return &Retention{
		store:   store,
		local:   local,
		mirrors: mirrors,
		logger:  logger,
		now:     time.Now,
	}
}

// Execute sweeps every target. One target's failure does not stop the
// sweep for the others.
func (uc *Retention) Execute(ctx context.Context) error {
	targets, err := uc.store.ListTargets()
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}

	for _, target := range targets {
		if err := uc.EnforceTarget(ctx, target); err != nil {
			uc.logger.Errorf("[%s] Retention sweep failed: %v", target.Name, err)
		}
	}
	return nil
}

// EnforceTarget purges one target's expired backups. A target with a
// non-positive retention window keeps everything.
func (uc *Retention) EnforceTarget(ctx context.Context, target *domain.Target) error {
	if target.RetentionDays <= 0 {
		return nil
	}

	cutoff := uc.now().AddDate(0, 0, -target.RetentionDays)
	expired, err := uc.store.ListPurgeable(target.ID, cutoff)
	if err != nil {
		return fmt.Errorf("list purgeable backups: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	purged := 0
	for _, backup := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := uc.local.Delete(ctx, backup.FilePath); err != nil {
			// Leave the record unmarked so the next sweep retries.
			uc.logger.Errorf("[%s] Failed to delete artifact %s: %v", target.Name, backup.FilePath, err)
			continue
		}

		for _, mirror := range uc.mirrors {
			if err := mirror.Store.Delete(ctx, backup.FilePath); err != nil {
				uc.logger.Warnf("[%s] Failed to delete %s from %s: %v", target.Name, backup.FilePath, mirror.Name, err)
			}
		}

		if err := uc.store.MarkBackupPurged(backup.ID, uc.now()); err != nil {
			uc.logger.Errorf("[%s] Failed to mark backup %d purged: %v", target.Name, backup.ID, err)
			continue
		}
		purged++
	}

	uc.logger.Infof("[%s] Retention sweep purged %d of %d expired backup(s), cutoff %s",
		target.Name, purged, len(expired), cutoff.Format(time.RFC3339))
	return nil
}
