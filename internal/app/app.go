package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/semmidev/bastion/internal/adapter/compressor"
	"github.com/semmidev/bastion/internal/adapter/database"
	"github.com/semmidev/bastion/internal/adapter/storage"
	"github.com/semmidev/bastion/internal/config"
	"github.com/semmidev/bastion/internal/domain"
	"github.com/semmidev/bastion/internal/infrastructure/cron"
	"github.com/semmidev/bastion/internal/infrastructure/logger"
	"github.com/semmidev/bastion/internal/notifier"
	"github.com/semmidev/bastion/internal/scheduler"
	"github.com/semmidev/bastion/internal/store"
	"github.com/semmidev/bastion/internal/usecase"
)

type App struct {
	config    *config.Config
	logger    *logger.Logger
	db        *sql.DB
	repo      *store.Repository
	loop      *scheduler.Loop
	cron      *cron.Runner
	restore   *usecase.Restore
	retention *usecase.Retention
	telegram  *notifier.Telegram
	oauth     *GoogleOAuthService
}

func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	keeper, err := store.NewKeeper(cfg.Store.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential keeper: %w", err)
	}

	repo := store.NewRepository(db, keeper)

	var telegram *notifier.Telegram
	if cfg.Notifier.Telegram.Enabled {
		telegram, err = notifier.NewTelegram(&cfg.Notifier.Telegram, log)
		if err != nil {
			log.Errorf("Failed to initialize Telegram notifier: %v", err)
		} else {
			repo.SetPublisher(telegram)
			log.Infof("✓ Telegram notifications enabled")
		}
	}

	local, err := storage.NewLocal(cfg.Artifacts.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	mirrors := initializeMirrors(cfg, log)
	comp := compressor.NewGzip()

	backupUC := usecase.NewBackup(repo, local, mirrors, comp, database.NewMySQL, log)
	restoreUC := usecase.NewRestore(repo, local, comp, database.NewMySQL, log)
	retentionUC := usecase.NewRetention(repo, local, mirrors, log)

	loop := scheduler.New(repo, backupUC, log.Named("scheduler"), scheduler.Config{
		TickInterval:     cfg.Scheduler.TickInterval,
		MaxConcurrent:    cfg.Scheduler.MaxConcurrent,
		ExecutionTimeout: cfg.Scheduler.ExecutionTimeout,
		ShutdownGrace:    cfg.Scheduler.ShutdownGrace,
	})
	loop.SetAfterRun(func(ctx context.Context, job *domain.ScheduleJob) {
		target, err := repo.GetTarget(job.TargetID)
		if err != nil {
			log.Errorf("Retention skipped, cannot resolve target %d: %v", job.TargetID, err)
			return
		}
		if err := retentionUC.EnforceTarget(ctx, target); err != nil {
			log.Errorf("[%s] Retention after run failed: %v", target.Name, err)
		}
	})

	runner := cron.New(func(name string, err error) {
		log.Errorf("Cron job %s failed: %v", name, err)
	})

	return &App{
		config:    cfg,
		logger:    log,
		db:        db,
		repo:      repo,
		loop:      loop,
		cron:      runner,
		restore:   restoreUC,
		retention: retentionUC,
		telegram:  telegram,
	}, nil
}

func initializeMirrors(cfg *config.Config, log *logger.Logger) []usecase.Mirror {
	var mirrors []usecase.Mirror

	for _, mirrorCfg := range cfg.GetEnabledMirrors() {
		var stor domain.ArtifactStore
		var err error

		switch mirrorCfg.Type {
		case "s3":
			stor, err = storage.NewS3(&mirrorCfg)
			if err != nil {
				log.Errorf("Failed to initialize S3 mirror: %v", err)
				continue
			}
			log.Infof("✓ S3 mirror enabled (bucket: %s)", mirrorCfg.Bucket)

		case "gdrive":
			stor, err = storage.NewGDrive(&mirrorCfg)
			if err != nil {
				log.Errorf("Failed to initialize Google Drive mirror: %v", err)
				continue
			}
			log.Infof("✓ Google Drive mirror enabled")

		default:
			log.Warnf("Unknown mirror type: %s", mirrorCfg.Type)
			continue
		}

		mirrors = append(mirrors, usecase.Mirror{
			Name:  mirrorCfg.Type,
			Store: stor,
		})
	}

	return mirrors
}

// Run recovers interrupted state, starts the retention timer and ticks
// the scheduler loop until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	recovered, err := a.repo.FailInterruptedBackups()
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	if recovered > 0 {
		a.logger.Warnf("Marked %d interrupted backup(s) as failed at startup", recovered)
	}

	if err := a.cron.AddJob("retention", a.config.Retention.Schedule, a.retention.Execute); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	a.cron.Start()
	a.logger.Infof("Retention sweep scheduled: %s", a.config.Retention.Schedule)

	return a.loop.Run(ctx)
}

// RunNow dispatches one job immediately, outside its schedule.
func (a *App) RunNow(ctx context.Context, jobID int64) error {
	return a.loop.RunNow(ctx, jobID)
}

// Restore replays a stored backup into its target database.
func (a *App) Restore(ctx context.Context, backupID int64) (*usecase.RestoreResult, error) {
	return a.restore.Run(ctx, backupID)
}

// Store exposes the repository for management surfaces.
func (a *App) Store() *store.Repository {
	return a.repo
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down %s...", a.config.App.Name)
	a.cron.Stop()
	if a.oauth != nil {
		_ = a.oauth.Shutdown(context.Background())
	}
	if a.telegram != nil {
		a.telegram.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Errorf("Failed to close state store: %v", err)
	}
	a.logger.Close()
}
