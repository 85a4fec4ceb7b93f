package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/motionlive/motionlive-agent/internal/convert"
	"github.com/motionlive/motionlive-agent/internal/logging"
)

// Service is the submission side of the queue. The runner drains it.
type Service struct {
	repo   Repository
	logger *slog.Logger
	wake   chan struct{}

	submitMu sync.Mutex

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	// Claimed jobs cancelled before the runner registered their cancel func.
	requested map[string]struct{}
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		repo:      repo,
		logger:    logging.WithComponent(logger, "jobs"),
		wake:      make(chan struct{}, 1),
		cancels:   make(map[string]context.CancelFunc),
		requested: make(map[string]struct{}),
	}
}

// Submit validates req and queues it. Paths are made absolute so the job
// means the same thing whatever the runner's working directory.
func (s *Service) Submit(ctx context.Context, req convert.Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", convert.ErrInvalidRequest, err)
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Target:    req.Target,
		GIFFrames: req.GIFFrames,
		GIFWidth:  req.GIFWidth,
		Status:    StatusPending,
		State:     convert.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var err error
	if job.SourcePath, err = absPath(req.SourcePath); err != nil {
		return nil, err
	}
	if job.ImagePath, err = absPath(req.ImagePath); err != nil {
		return nil, err
	}
	if job.VideoPath, err = absPath(req.VideoPath); err != nil {
		return nil, err
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info("job queued",
		"job_id", job.ID,
		"target", job.Target,
		"source", logging.SanitizePath(job.SourcePath),
	)
	s.notify()
	return job, nil
}

// SubmitOnce queues req unless a pending or running job already converts the
// same source to the same target, in which case it returns ErrAlreadyQueued.
func (s *Service) SubmitOnce(ctx context.Context, req convert.Request) (*Job, error) {
	source, err := absPath(req.SourcePath)
	if err != nil {
		return nil, err
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if source != "" {
		active, err := s.repo.HasActiveSource(ctx, source, req.Target)
		if err != nil {
			return nil, fmt.Errorf("check queued jobs: %w", err)
		}
		if active {
			return nil, ErrAlreadyQueued
		}
	}
	return s.Submit(ctx, req)
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) Counts(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByStatus(ctx)
}

// Cancel stops a job. A pending job is cancelled in place; a running job has
// its context cancelled and the runner records the outcome. A job claimed but
// not yet started is cancelled as soon as the runner picks it up.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Finished() {
		return job, ErrFinished
	}

	if job.Status == StatusPending {
		ok, err := s.repo.CancelPending(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			s.logger.Info("job cancelled", "job_id", id, "status", StatusPending)
			return s.Get(ctx, id)
		}
		// Claimed in the meantime.
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	if !ok {
		s.requested[id] = struct{}{}
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
	s.logger.Info("job cancel requested", "job_id", id, "status", StatusRunning)

	job, err = s.Get(ctx, id)
	if err == nil && job.Finished() {
		s.mu.Lock()
		delete(s.requested, id)
		s.mu.Unlock()
	}
	return job, err
}

// track registers the cancel func of a job the runner is starting. It reports
// whether a cancel arrived before the job was tracked.
func (s *Service) track(id string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[id] = cancel
	_, requested := s.requested[id]
	delete(s.requested, id)
	return requested
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.cancels, id)
	delete(s.requested, id)
	s.mu.Unlock()
}

func (s *Service) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func absPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", convert.ErrInvalidRequest, err)
	}
	return abs, nil
}
