package usecase

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/bastion/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Mirror is a secondary artifact destination fed after a successful
// local write. Mirror failures are logged, never fatal to the run.
type Mirror struct {
	Name  string
	Store domain.ArtifactStore
}

// BackupStore is the slice of the repository the executor needs.
type BackupStore interface {
	GetTarget(id int64) (*domain.Target, error)
	TargetCredential(id int64) (string, error)
	CreateBackup(b *domain.Backup) error
	FinishBackup(b *domain.Backup) error
}

type Backup struct {
	store      BackupStore
	local      domain.ArtifactStore
	mirrors    []Mirror
	compressor domain.Compressor
	connect    domain.ConnectorFactory
	logger     Logger
	now        func() time.Time
}

func NewBackup(
	store BackupStore,
	local domain.ArtifactStore,
	mirrors []Mirror,
	compressor domain.Compressor,
	connect domain.ConnectorFactory,
	logger Logger,
) *Backup {
	return &Backup{
		store:      store,
		local:      local,
		mirrors:    mirrors,
		compressor: compressor,
		connect:    connect,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes one backup of every database the job covers. The
// returned notes summarize the run for the job record; a non-nil error
// means the run counts as failed. Artifacts of databases that
// succeeded before a later one failed are kept.
func (uc *Backup) Run(ctx context.Context, job *domain.ScheduleJob) (string, error) {
	start := uc.now()

	target, err := uc.store.GetTarget(job.TargetID)
	if err != nil {
		return "", fmt.Errorf("resolve target %d: %w", job.TargetID, err)
	}
	password, err := uc.store.TargetCredential(target.ID)
	if err != nil {
		return "", fmt.Errorf("resolve credential for target %d: %w", target.ID, err)
	}

	conn := uc.connect(*target, password)
	defer conn.Close()

	uc.logger.Infof("[%s] Starting backup run for job %q", target.Name, job.Name)

	if err := conn.Ping(ctx); err != nil {
		return "", fmt.Errorf("target %s unreachable: %w: %v", target.Addr(), domain.ErrConnectionFailure, err)
	}

	databases, missing, err := uc.resolveDatabases(ctx, conn, target, job.Options)
	if err != nil {
		return "", err
	}

	compress := job.Options.Compress || target.Compress

	var failures []string
	var succeeded int
	var totalBytes int64

	for _, db := range missing {
		uc.recordMissing(target, db)
		failures = append(failures, fmt.Sprintf("%s: %v", db, domain.ErrDatabaseNotFound))
	}

	for _, db := range databases {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", db, err))
			continue
		}

		size, err := uc.backupDatabase(ctx, conn, target, db, job.Options, compress)
		if err != nil {
			uc.logger.Errorf("[%s] Backup of %s failed: %v", target.Name, db, err)
			failures = append(failures, fmt.Sprintf("%s: %v", db, err))
			continue
		}
		succeeded++
		totalBytes += size
	}

	elapsed := uc.now().Sub(start).Round(time.Second)
	if len(failures) > 0 {
		notes := fmt.Sprintf("backed up %d/%d databases in %s; failed: %s",
			succeeded, succeeded+len(failures), elapsed, strings.Join(failures, "; "))
		return notes, fmt.Errorf("%s", notes)
	}

	notes := fmt.Sprintf("backed up %d database(s), %.2f MB in %s",
		succeeded, float64(totalBytes)/(1024*1024), elapsed)
	uc.logger.Infof("[%s] %s", target.Name, notes)
	return notes, nil
}

// resolveDatabases computes the run's database set. Mode all
// enumerates the live server; mode selected uses the target's static
// list and reports entries that no longer exist as missing rather than
// aborting the run. A non-empty options subset narrows either mode.
func (uc *Backup) resolveDatabases(ctx context.Context, conn domain.Connector, target *domain.Target, opts domain.BackupOptions) (databases, missing []string, err error) {
	live, err := conn.ListDatabases(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate databases on %s: %w: %v", target.Addr(), domain.ErrConnectionFailure, err)
	}

	liveSet := make(map[string]bool, len(live))
	for _, db := range live {
		liveSet[db] = true
	}

	requested := live
	if target.DatabaseMode == domain.DatabaseModeSelected {
		requested = target.Databases
	}
	if len(opts.Databases) > 0 {
		subset := make(map[string]bool, len(opts.Databases))
		for _, db := range opts.Databases {
			subset[db] = true
		}
		var narrowed []string
		for _, db := range requested {
			if subset[db] {
				narrowed = append(narrowed, db)
			}
		}
		requested = narrowed
	}

	for _, db := range requested {
		if liveSet[db] {
			databases = append(databases, db)
		} else {
			missing = append(missing, db)
		}
	}
	return databases, missing, nil
}

// recordMissing writes a failed Backup record for a selected database
// that disappeared from the server, so the gap shows up in history.
func (uc *Backup) recordMissing(target *domain.Target, database string) {
	rec := &domain.Backup{
		TargetID:     target.ID,
		DatabaseName: database,
		StartedAt:    uc.now(),
	}
	if err := uc.store.CreateBackup(rec); err != nil {
		uc.logger.Errorf("[%s] Failed to record missing database %s: %v", target.Name, database, err)
		return
	}

	rec.Status = domain.BackupStatusFailed
	rec.Notes = fmt.Sprintf("%s: %v", database, domain.ErrDatabaseNotFound)
	if err := uc.store.FinishBackup(rec); err != nil {
		uc.logger.Errorf("[%s] Failed to finish record for missing database %s: %v", target.Name, database, err)
	}
}

func (uc *Backup) backupDatabase(ctx context.Context, conn domain.Connector, target *domain.Target, database string, opts domain.BackupOptions, compress bool) (int64, error) {
	rec := &domain.Backup{
		TargetID:     target.ID,
		DatabaseName: database,
		StartedAt:    uc.now(),
	}
	if err := uc.store.CreateBackup(rec); err != nil {
		return 0, fmt.Errorf("create backup record: %w", err)
	}

	name := uc.artifactName(target, database, rec.StartedAt, compress)
	uc.logger.Infof("[%s] Dumping %s to %s", target.Name, database, name)

	size, dumpErr := uc.streamDump(ctx, conn, database, opts, name, compress)

	rec.SizeBytes = size
	rec.FilePath = name
	if dumpErr != nil {
		rec.Status = domain.BackupStatusFailed
		rec.Notes = dumpErr.Error()
	} else {
		rec.Status = domain.BackupStatusSuccess
	}

	if err := uc.store.FinishBackup(rec); err != nil {
		return size, fmt.Errorf("finish backup record: %w", err)
	}
	if dumpErr != nil {
		return size, dumpErr
	}

	uc.logger.Infof("[%s] Backup of %s complete, %.2f MB", target.Name, database, float64(size)/(1024*1024))

	if len(uc.mirrors) > 0 {
		uc.mirrorArtifact(ctx, target.Name, name)
	}
	return size, nil
}

// streamDump pipes the dump straight into the artifact store. The dump
// never materializes in memory; compression, when on, wraps the write
// side of the pipe.
func (uc *Backup) streamDump(ctx context.Context, conn domain.Connector, database string, opts domain.BackupOptions, name string, compress bool) (int64, error) {
	pr, pw := io.Pipe()
	defer pr.Close()

	dumpDone := make(chan error, 1)
	go func() {
		var w io.Writer = pw
		var gz io.WriteCloser
		if compress {
			var err error
			gz, err = uc.compressor.WrapWriter(pw)
			if err != nil {
				pw.CloseWithError(err)
				dumpDone <- err
				return
			}
			w = gz
		}

		err := conn.Dump(ctx, database, opts, w)
		if gz != nil {
			if cerr := gz.Close(); err == nil {
				err = cerr
			}
		}
		pw.CloseWithError(err)
		dumpDone <- err
	}()

	size, putErr := uc.local.Put(ctx, name, pr)
	if putErr != nil {
		// Unblock the dump goroutine before collecting its error.
		pr.CloseWithError(putErr)
	}
	dumpErr := <-dumpDone

	if dumpErr != nil {
		return size, fmt.Errorf("dump %s: %w", database, dumpErr)
	}
	if putErr != nil {
		return size, fmt.Errorf("store artifact %s: %w: %v", name, domain.ErrStorageFailure, putErr)
	}
	return size, nil
}

// mirrorArtifact re-reads the local artifact and uploads it to every
// mirror in parallel, the same artifact for each.
func (uc *Backup) mirrorArtifact(ctx context.Context, targetName, name string) {
	var wg sync.WaitGroup

	for _, mirror := range uc.mirrors {
		wg.Add(1)
		go func(m Mirror) {
			defer wg.Done()

			rc, err := uc.local.Open(ctx, name)
			if err != nil {
				uc.logger.Errorf("[%s] Failed to reopen %s for %s: %v", targetName, name, m.Name, err)
				return
			}
			defer rc.Close()

			uc.logger.Infof("[%s] Uploading %s to %s...", targetName, name, m.Name)
			if _, err := m.Store.Put(ctx, name, rc); err != nil {
				uc.logger.Errorf("[%s] Failed to upload %s to %s: %v", targetName, name, m.Name, err)
				return
			}
			uc.logger.Infof("[%s] Successfully uploaded %s to %s", targetName, name, m.Name)
		}(mirror)
	}

	wg.Wait()
}

func (uc *Backup) artifactName(target *domain.Target, database string, at time.Time, compress bool) string {
	name := fmt.Sprintf("%s_%s_%s.sql", target.Name, database, at.Format("20060102_150405"))
	if compress {
		name += uc.compressor.Ext()
	}
	return name
}
