package jobs

import (
	"context"
	"log/slog"

	"github.com/motionlive/motionlive-agent/internal/scratch"
)

// SweepScratch removes scratch areas left behind by finished jobs, typically
// those failed as interrupted after a crash. Areas of unknown tokens belong
// to conversions run outside the queue and are kept.
func SweepScratch(ctx context.Context, repo Repository, base string, logger *slog.Logger) (int, error) {
	n, err := scratch.Sweep(base, func(token string) bool {
		job, err := repo.GetJob(ctx, token)
		return err == nil && job != nil && job.Finished()
	})
	if n > 0 && logger != nil {
		logger.Info("removed stale scratch areas", "count", n)
	}
	return n, err
}
