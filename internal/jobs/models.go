// Package jobs persists conversion requests and runs them on a bounded pool
// of workers.
package jobs

import (
	"errors"
	"time"

	"github.com/motionlive/motionlive-agent/internal/convert"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrFinished      = errors.New("job already finished")
	ErrAlreadyQueued = errors.New("source already has a queued job")
)

// timeLayout sorts lexically in the same order as time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Job struct {
	ID             string         `json:"id"`
	SourcePath     string         `json:"source_path,omitempty"`
	ImagePath      string         `json:"image_path,omitempty"`
	VideoPath      string         `json:"video_path,omitempty"`
	Target         convert.Target `json:"target"`
	GIFFrames      int            `json:"gif_frames,omitempty"`
	GIFWidth       int            `json:"gif_width,omitempty"`
	Status         string         `json:"status"`
	State          convert.State  `json:"state"`
	Error          string         `json:"error,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	OutputPath     string         `json:"output_path,omitempty"`
	AssetID        string         `json:"asset_id,omitempty"`
	StillImageTime int            `json:"still_image_time"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Request rebuilds the conversion request. The job id doubles as the
// conversion token.
func (j *Job) Request() convert.Request {
	return convert.Request{
		ID:         j.ID,
		SourcePath: j.SourcePath,
		Target:     j.Target,
		GIFFrames:  j.GIFFrames,
		GIFWidth:   j.GIFWidth,
		ImagePath:  j.ImagePath,
		VideoPath:  j.VideoPath,
	}
}

func (j *Job) Finished() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// applyResult copies a conversion result onto the job.
func (j *Job) applyResult(res convert.Result) {
	j.State = res.State
	switch res.Outcome {
	case convert.OutcomeCompleted:
		j.Status = StatusCompleted
	case convert.OutcomeCancelled:
		j.Status = StatusCancelled
	default:
		j.Status = StatusFailed
	}
	j.Error = ""
	if res.Err != nil {
		j.Error = res.Err.Error()
	}
	j.ErrorCode = convert.ErrorCode(res.Err)
	j.AssetID = res.AssetID
	j.StillImageTime = int(res.StillImageTime)
	j.OutputPath = ""
	if len(res.Output.Paths) > 0 {
		j.OutputPath = res.Output.Paths[0]
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}
