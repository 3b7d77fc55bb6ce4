package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semmidev/bastion/internal/domain"
)

// ErrJobInFlight rejects a dispatch for a job that is already running.
var ErrJobInFlight = errors.New("job is already running")

// ErrPoolSaturated rejects a manual dispatch when every worker slot is
// taken. Scheduled jobs are not rejected; they stay due and are picked
// up on a later tick.
var ErrPoolSaturated = errors.New("concurrency limit reached")

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type JobStore interface {
	ListDueJobs(now time.Time) ([]*domain.ScheduleJob, error)
	GetJob(id int64) (*domain.ScheduleJob, error)
	RecordRunResult(jobID int64, status domain.JobStatus, notes string, finishedAt time.Time) error
}

type Executor interface {
	Run(ctx context.Context, job *domain.ScheduleJob) (string, error)
}

type Config struct {
	TickInterval     time.Duration
	MaxConcurrent    int
	ExecutionTimeout time.Duration
	ShutdownGrace    time.Duration
}

// Loop is the orchestration core. Each tick it polls the job store for
// due jobs and dispatches them to a bounded worker pool; outcomes go
// back through RecordRunResult. One bad job never stalls the loop.
type Loop struct {
	store  JobStore
	exec   Executor
	logger Logger
	cfg    Config
	now    func() time.Time

	// afterRun fires after a successful run, outside the worker's
	// result bookkeeping. The app hooks retention here.
	afterRun func(ctx context.Context, job *domain.ScheduleJob)

	mu       sync.Mutex
	inflight map[int64]struct{}
	slots    chan struct{}
	wg       sync.WaitGroup
}

func New(store JobStore, exec Executor, logger Logger, cfg Config) *Loop {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	return &Loop{
		store:    store,
		exec:     exec,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		inflight: make(map[int64]struct{}),
		slots:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// SetAfterRun registers the post-success hook. Must be called before
// Run.
func (l *Loop) SetAfterRun(fn func(ctx context.Context, job *domain.ScheduleJob)) {
	l.afterRun = fn
}

// Run ticks until ctx is cancelled, then waits out in-flight workers
// up to the shutdown grace period.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Infof("Scheduler loop started, tick %s, %d worker(s)", l.cfg.TickInterval, l.cfg.MaxConcurrent)

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	l.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return l.drain()
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

func (l *Loop) poll(ctx context.Context) {
	due, err := l.store.ListDueJobs(l.now())
	if err != nil {
		l.logger.Errorf("Poll for due jobs failed: %v", err)
		return
	}

	for _, job := range due {
		if ctx.Err() != nil {
			return
		}
		if err := l.dispatch(ctx, job); err != nil {
			// Still due next tick; both rejections are routine.
			if errors.Is(err, ErrJobInFlight) || errors.Is(err, ErrPoolSaturated) {
				continue
			}
			l.logger.Errorf("Dispatch of job %d failed: %v", job.ID, err)
		}
	}
}

// RunNow dispatches one job immediately, bypassing its schedule but
// subject to the same in-flight and concurrency guards as the loop.
func (l *Loop) RunNow(ctx context.Context, jobID int64) error {
	job, err := l.store.GetJob(jobID)
	if err != nil {
		return err
	}
	return l.dispatch(ctx, job)
}

func (l *Loop) dispatch(ctx context.Context, job *domain.ScheduleJob) error {
	l.mu.Lock()
	if _, running := l.inflight[job.ID]; running {
		l.mu.Unlock()
		return fmt.Errorf("job %d: %w", job.ID, ErrJobInFlight)
	}

	select {
	case l.slots <- struct{}{}:
	default:
		l.mu.Unlock()
		return fmt.Errorf("job %d: %w", job.ID, ErrPoolSaturated)
	}

	l.inflight[job.ID] = struct{}{}
	l.mu.Unlock()

	l.wg.Add(1)
	go l.work(job)
	return nil
}

func (l *Loop) work(job *domain.ScheduleJob) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.inflight, job.ID)
		l.mu.Unlock()
		<-l.slots
	}()

	runID := uuid.NewString()
	l.logger.Infof("[run %s] Job %d %q dispatched", runID, job.ID, job.Name)

	status, notes := l.execute(job, runID)
	finishedAt := l.now()

	if err := l.store.RecordRunResult(job.ID, status, notes, finishedAt); err != nil {
		l.logger.Errorf("[run %s] Failed to record result for job %d: %v", runID, job.ID, err)
		return
	}
	l.logger.Infof("[run %s] Job %d finished: %s", runID, job.ID, status)

	if status == domain.JobStatusSuccess && l.afterRun != nil {
		l.afterRun(context.Background(), job)
	}
}

type runOutcome struct {
	notes string
	err   error
}

// execute runs the job under the execution timeout. A hung executor is
// abandoned: its result is discarded and the run is recorded failed
// with a timeout note, so no job ever sticks at running.
func (l *Loop) execute(job *domain.ScheduleJob, runID string) (domain.JobStatus, string) {
	// Detached from the loop's context: shutdown drains workers via
	// the grace period instead of cancelling them mid-dump.
	runCtx := context.Background()
	cancel := func() {}
	if l.cfg.ExecutionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, l.cfg.ExecutionTimeout)
	}
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		notes, err := l.exec.Run(runCtx, job)
		done <- runOutcome{notes: notes, err: err}
	}()

	var timeout <-chan time.Time
	if l.cfg.ExecutionTimeout > 0 {
		timer := time.NewTimer(l.cfg.ExecutionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-done:
		if out.err != nil {
			return domain.JobStatusFailed, out.err.Error()
		}
		return domain.JobStatusSuccess, out.notes
	case <-timeout:
		cancel()
		l.logger.Warnf("[run %s] Job %d exceeded execution timeout %s, abandoning", runID, job.ID, l.cfg.ExecutionTimeout)
		return domain.JobStatusFailed, fmt.Sprintf("%v after %s", domain.ErrExecutionTimeout, l.cfg.ExecutionTimeout)
	}
}

// drain waits for in-flight workers up to the shutdown grace period.
func (l *Loop) drain() error {
	idle := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(idle)
	}()

	grace := l.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}

	select {
	case <-idle:
		l.logger.Infof("Scheduler loop stopped cleanly")
		return nil
	case <-time.After(grace):
		l.mu.Lock()
		abandoned := len(l.inflight)
		l.mu.Unlock()
		return fmt.Errorf("shutdown grace %s elapsed with %d job(s) still in flight", grace, abandoned)
	}
}

// InFlight reports the ids of currently running jobs.
func (l *Loop) InFlight() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]int64, 0, len(l.inflight))
	for id := range l.inflight {
		ids = append(ids, id)
	}
	return ids
}
