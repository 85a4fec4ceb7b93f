// Package media drives the ffmpeg/ffprobe toolchain: asset inspection,
// passthrough remuxing, metadata tagging and GIF sampling.
package media

import (
	"fmt"
	"time"
)

// Status is the terminal state of one export.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// ExportResult is produced once per remux or sampling run.
type ExportResult struct {
	Status     Status
	Err        error
	OutputPath string
	StderrTail string
	Duration   time.Duration
}

// Container is a target file format for a passthrough remux.
type Container string

const (
	ContainerMOV Container = "mov"
	ContainerMP4 Container = "mp4"
)

// Ext returns the file extension without the dot.
func (c Container) Ext() string { return string(c) }

func (c Container) muxer() (string, error) {
	switch c {
	case ContainerMOV:
		return "mov", nil
	case ContainerMP4:
		return "mp4", nil
	default:
		return "", fmt.Errorf("unsupported container %q", string(c))
	}
}

// Probe is what ffprobe reports about a video file.
type Probe struct {
	Duration  float64           `json:"duration"`
	FrameRate float64           `json:"frame_rate"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Codec     string            `json:"codec"`
	Format    string            `json:"format"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// GIFOptions controls frame sampling.
type GIFOptions struct {
	Frames     int
	Width      int
	OutputPath string
}

// RunResult is the structured outcome of one subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }
