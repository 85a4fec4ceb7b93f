package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/motionlive/motionlive-agent/internal/convert"
)

// Journal records non-terminal transitions on the job row and hands every
// transition on to next. Terminal states are written by the runner together
// with the rest of the outcome.
type Journal struct {
	repo   Repository
	next   convert.Observer
	logger *slog.Logger
}

func NewJournal(repo Repository, next convert.Observer, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Journal{repo: repo, next: next, logger: logger}
}

func (j *Journal) Transition(t convert.Transition) {
	if !t.To.Terminal() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := j.repo.UpdateJobState(ctx, t.ConversionID, t.To); err != nil {
			j.logger.Warn("failed to journal state", "job_id", t.ConversionID, "state", t.To, "error", err)
		}
		cancel()
	}
	if j.next != nil {
		j.next.Transition(t)
	}
}
