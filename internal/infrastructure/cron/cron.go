package cron

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Runner wraps robfig/cron for periodic maintenance work such as the
// retention sweep. Job errors are reported through the callback; a
// failing sweep never stops the timer.
type Runner struct {
	cron    *cron.Cron
	onError func(name string, err error)
}

func New(onError func(name string, err error)) *Runner {
	if onError == nil {
		onError = func(string, error) {}
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		onError: onError,
	}
}

// AddJob registers a named job on a six-field cron spec.
func (r *Runner) AddJob(name, spec string, job func(context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() {
		if err := job(context.Background()); err != nil {
			r.onError(name, err)
		}
	})
	return err
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs to return.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
