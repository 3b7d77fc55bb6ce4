package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/bastion/internal/domain"
)

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Warnf(string, ...interface{})  {}

type runRecord struct {
	jobID  int64
	status domain.JobStatus
	notes  string
}

// fakeJobStore keeps due jobs in memory; recording a result takes the
// job off the due list the way a recomputed next_run_at would.
type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[int64]*domain.ScheduleJob
	due     []int64
	records []runRecord
}

func newFakeJobStore(jobs ...*domain.ScheduleJob) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[int64]*domain.ScheduleJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
		s.due = append(s.due, j.ID)
	}
	return s
}

func (s *fakeJobStore) ListDueJobs(now time.Time) ([]*domain.ScheduleJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*domain.ScheduleJob
	for _, id := range s.due {
		due = append(due, s.jobs[id])
	}
	return due, nil
}

func (s *fakeJobStore) GetJob(id int64) (*domain.ScheduleJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j, nil
}

func (s *fakeJobStore) RecordRunResult(jobID int64, status domain.JobStatus, notes string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, runRecord{jobID: jobID, status: status, notes: notes})
	remaining := s.due[:0]
	for _, id := range s.due {
		if id != jobID {
			remaining = append(remaining, id)
		}
	}
	s.due = remaining
	return nil
}

func (s *fakeJobStore) recorded() []runRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runRecord(nil), s.records...)
}

// blockingExecutor parks every run until released.
type blockingExecutor struct {
	started chan int64
	release chan struct{}
	notes   string
	err     error
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		started: make(chan int64, 16),
		release: make(chan struct{}),
		notes:   "done",
	}
}

func (e *blockingExecutor) Run(ctx context.Context, job *domain.ScheduleJob) (string, error) {
	e.started <- job.ID
	select {
	case <-e.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return e.notes, e.err
}

type instantExecutor struct {
	notes string
	err   error
}

func (e *instantExecutor) Run(ctx context.Context, job *domain.ScheduleJob) (string, error) {
	return e.notes, e.err
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func testConfig() Config {
	return Config{
		TickInterval:     20 * time.Millisecond,
		MaxConcurrent:    4,
		ExecutionTimeout: time.Minute,
		ShutdownGrace:    2 * time.Second,
	}
}

func TestLoop(t *testing.T) {
	Convey("Given a loop over one due job", t, func() {
		job := &domain.ScheduleJob{ID: 1, Name: "nightly", IsActive: true}

		Convey("A successful run is recorded once and leaves the due list", func() {
			store := newFakeJobStore(job)
			loop := New(store, &instantExecutor{notes: "backed up 2 database(s)"}, noopLogger{}, testConfig())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- loop.Run(ctx) }()

			So(waitFor(func() bool { return len(store.recorded()) >= 1 }), ShouldBeTrue)
			time.Sleep(100 * time.Millisecond)
			cancel()
			So(<-done, ShouldBeNil)

			records := store.recorded()
			So(len(records), ShouldEqual, 1)
			So(records[0].status, ShouldEqual, domain.JobStatusSuccess)
			So(records[0].notes, ShouldEqual, "backed up 2 database(s)")
		})

		Convey("An executor error is recorded as a failed run", func() {
			store := newFakeJobStore(job)
			loop := New(store, &instantExecutor{err: errors.New("target unreachable")}, noopLogger{}, testConfig())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- loop.Run(ctx) }()

			So(waitFor(func() bool { return len(store.recorded()) >= 1 }), ShouldBeTrue)
			cancel()
			So(<-done, ShouldBeNil)

			records := store.recorded()
			So(records[0].status, ShouldEqual, domain.JobStatusFailed)
			So(records[0].notes, ShouldContainSubstring, "unreachable")
		})
	})

	Convey("Given a job that stays due while running", t, func() {
		job := &domain.ScheduleJob{ID: 7, Name: "slow", IsActive: true}
		store := newFakeJobStore(job)
		exec := newBlockingExecutor()
		loop := New(store, exec, noopLogger{}, testConfig())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- loop.Run(ctx) }()

		Convey("It is never dispatched twice concurrently", func() {
			<-exec.started
			So(loop.InFlight(), ShouldResemble, []int64{7})

			// Several ticks pass with the job still listed as due.
			time.Sleep(150 * time.Millisecond)
			So(len(exec.started), ShouldEqual, 0)

			close(exec.release)
			So(waitFor(func() bool { return len(store.recorded()) == 1 }), ShouldBeTrue)

			cancel()
			So(<-done, ShouldBeNil)
			So(len(store.recorded()), ShouldEqual, 1)
		})
	})
}

func TestRunNow(t *testing.T) {
	Convey("Given a loop with a blocked worker", t, func() {
		job := &domain.ScheduleJob{ID: 3, Name: "manual", IsActive: false}
		store := newFakeJobStore()
		store.jobs[job.ID] = job

		exec := newBlockingExecutor()
		loop := New(store, exec, noopLogger{}, testConfig())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- loop.Run(ctx) }()
		defer func() { cancel(); <-done }()

		Convey("RunNow dispatches an idle job immediately", func() {
			So(loop.RunNow(ctx, job.ID), ShouldBeNil)
			<-exec.started

			Convey("A second RunNow while in flight is rejected, not double-run", func() {
				err := loop.RunNow(ctx, job.ID)
				So(errors.Is(err, ErrJobInFlight), ShouldBeTrue)

				close(exec.release)
				So(waitFor(func() bool { return len(store.recorded()) == 1 }), ShouldBeTrue)

				time.Sleep(100 * time.Millisecond)
				So(len(store.recorded()), ShouldEqual, 1)
			})
		})

		Convey("RunNow on an unknown job reports not found", func() {
			err := loop.RunNow(ctx, 999)
			So(errors.Is(err, domain.ErrJobNotFound), ShouldBeTrue)
			close(exec.release)
		})
	})

	Convey("Given a saturated worker pool", t, func() {
		first := &domain.ScheduleJob{ID: 1, Name: "a", IsActive: true}
		second := &domain.ScheduleJob{ID: 2, Name: "b", IsActive: true}
		store := newFakeJobStore()
		store.jobs[first.ID] = first
		store.jobs[second.ID] = second

		exec := newBlockingExecutor()
		cfg := testConfig()
		cfg.MaxConcurrent = 1
		loop := New(store, exec, noopLogger{}, cfg)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- loop.Run(ctx) }()
		defer func() { cancel(); <-done }()

		Convey("A manual dispatch beyond the cap is rejected", func() {
			So(loop.RunNow(ctx, first.ID), ShouldBeNil)
			<-exec.started

			err := loop.RunNow(ctx, second.ID)
			So(errors.Is(err, ErrPoolSaturated), ShouldBeTrue)

			close(exec.release)
			So(waitFor(func() bool { return len(store.recorded()) == 1 }), ShouldBeTrue)
		})
	})
}

func TestExecutionTimeout(t *testing.T) {
	Convey("Given an executor that hangs past the timeout", t, func() {
		job := &domain.ScheduleJob{ID: 5, Name: "hung", IsActive: true}
		store := newFakeJobStore()
		store.jobs[job.ID] = job

		exec := newBlockingExecutor()
		defer close(exec.release)

		cfg := testConfig()
		cfg.ExecutionTimeout = 50 * time.Millisecond
		loop := New(store, exec, noopLogger{}, cfg)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- loop.Run(ctx) }()
		defer func() { cancel(); <-done }()

		Convey("The run is force-marked failed with a timeout note", func() {
			So(loop.RunNow(ctx, job.ID), ShouldBeNil)
			<-exec.started

			So(waitFor(func() bool { return len(store.recorded()) == 1 }), ShouldBeTrue)
			records := store.recorded()
			So(records[0].status, ShouldEqual, domain.JobStatusFailed)
			So(records[0].notes, ShouldContainSubstring, "execution timed out")

			So(waitFor(func() bool { return len(loop.InFlight()) == 0 }), ShouldBeTrue)
		})
	})
}

func TestAfterRunHook(t *testing.T) {
	Convey("Given an after-run hook", t, func() {
		var mu sync.Mutex
		var fired []int64
		hook := func(ctx context.Context, job *domain.ScheduleJob) {
			mu.Lock()
			fired = append(fired, job.ID)
			mu.Unlock()
		}

		Convey("It fires after a successful run", func() {
			job := &domain.ScheduleJob{ID: 1, IsActive: true}
			store := newFakeJobStore(job)
			loop := New(store, &instantExecutor{notes: "ok"}, noopLogger{}, testConfig())
			loop.SetAfterRun(hook)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- loop.Run(ctx) }()

			So(waitFor(func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(fired) == 1
			}), ShouldBeTrue)
			cancel()
			So(<-done, ShouldBeNil)
		})

		Convey("It stays silent after a failed run", func() {
			job := &domain.ScheduleJob{ID: 2, IsActive: true}
			store := newFakeJobStore(job)
			loop := New(store, &instantExecutor{err: errors.New("boom")}, noopLogger{}, testConfig())
			loop.SetAfterRun(hook)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- loop.Run(ctx) }()

			So(waitFor(func() bool { return len(store.recorded()) == 1 }), ShouldBeTrue)
			time.Sleep(50 * time.Millisecond)
			cancel()
			So(<-done, ShouldBeNil)

			mu.Lock()
			defer mu.Unlock()
			So(len(fired), ShouldEqual, 0)
		})
	})
}

func TestShutdown(t *testing.T) {
	Convey("Given a loop with an in-flight worker at shutdown", t, func() {
		job := &domain.ScheduleJob{ID: 1, IsActive: true}
		store := newFakeJobStore(job)
		exec := newBlockingExecutor()
		loop := New(store, exec, noopLogger{}, testConfig())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- loop.Run(ctx) }()
		<-exec.started

		Convey("A worker finishing inside the grace period drains cleanly", func() {
			cancel()
			time.Sleep(50 * time.Millisecond)
			close(exec.release)

			So(<-done, ShouldBeNil)
			So(len(store.recorded()), ShouldEqual, 1)
		})
	})

	Convey("Given a worker that outlives the grace period", t, func() {
		job := &domain.ScheduleJob{ID: 1, IsActive: true}
		store := newFakeJobStore(job)
		exec := newBlockingExecutor()
		defer close(exec.release)

		cfg := testConfig()
		cfg.ShutdownGrace = 50 * time.Millisecond
		loop := New(store, exec, noopLogger{}, cfg)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- loop.Run(ctx) }()
		<-exec.started

		Convey("Shutdown abandons it and reports the overrun", func() {
			cancel()
			err := <-done
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "in flight")
		})
	})
}
