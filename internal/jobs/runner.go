package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/motionlive/motionlive-agent/internal/convert"
	"github.com/motionlive/motionlive-agent/internal/logging"
)

// Converter runs one conversion to a terminal state.
type Converter interface {
	Convert(ctx context.Context, req convert.Request) convert.Result
}

type Runner struct {
	service      *Service
	repo         Repository
	converter    Converter
	logger       *slog.Logger
	pollInterval time.Duration
	sem          chan struct{}
	wg           sync.WaitGroup
	active       atomic.Int32
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo Repository, converter Converter, workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		service:      service,
		repo:         repo,
		converter:    converter,
		logger:       logging.WithComponent(logger, "runner"),
		pollInterval: 5 * time.Second,
		sem:          make(chan struct{}, workers),
	}
}

// Start dispatches pending jobs until ctx is done, then waits for the jobs
// in flight. Cancelling ctx cancels those jobs too.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	r.logger.Info("job runner started", "workers", cap(r.sem))

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping", "active", r.active.Load())
			r.wg.Wait()
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.service.wake:
		}
		r.dispatch(ctx)
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
	r.service.notify()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) ActiveCount() int {
	return int(r.active.Load())
}

// dispatch claims pending jobs while a worker slot is free.
func (r *Runner) dispatch(ctx context.Context) {
	for !r.paused.Load() && ctx.Err() == nil {
		select {
		case r.sem <- struct{}{}:
		default:
			return
		}

		job, err := r.repo.ClaimNextPending(ctx)
		if err != nil || job == nil {
			<-r.sem
			if err != nil {
				r.logger.Error("failed to claim job", "error", err)
			}
			return
		}

		r.active.Add(1)
		r.wg.Add(1)
		go r.process(ctx, job)
	}
}

func (r *Runner) process(ctx context.Context, job *Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	if r.service.track(job.ID, cancel) {
		cancel()
	}
	defer func() {
		r.service.untrack(job.ID)
		cancel()
		r.active.Add(-1)
		<-r.sem
		r.wg.Done()
		r.service.notify()
	}()

	logger := logging.WithJobID(r.logger, job.ID)
	logger.Info("processing job", "target", job.Target)

	var res convert.Result
	if err := jobCtx.Err(); err != nil {
		res = convert.Result{
			ID:      job.ID,
			Target:  job.Target,
			Outcome: convert.OutcomeCancelled,
			State:   convert.StateCancelled,
			Err:     err,
		}
	} else {
		res = r.converter.Convert(jobCtx, job.Request())
	}
	job.applyResult(res)

	if err := r.repo.FinishJob(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("failed to record job outcome", "status", job.Status, "error", err)
		return
	}
	logger.Info("job finished",
		"status", job.Status,
		"error_code", job.ErrorCode,
		"duration_ms", res.Duration.Milliseconds(),
	)
}
