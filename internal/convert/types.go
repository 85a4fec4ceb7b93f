// Package convert sequences one Motion Photo conversion: extraction,
// splitting, timeline correlation, transcoding, metadata synthesis and
// persistence, ending in exactly one terminal state.
package convert

import (
	"fmt"
	"strings"
	"time"

	"github.com/motionlive/motionlive-agent/internal/library"
	"github.com/motionlive/motionlive-agent/internal/motionphoto"
)

type Target string

const (
	TargetLivePhoto Target = "livephoto"
	TargetGIF       Target = "gif"
	TargetVideo     Target = "video"
)

// ParseTarget accepts the target names case-insensitively, plus "live" and
// "mp4" as aliases.
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "livephoto", "live", "live_photo":
		return TargetLivePhoto, nil
	case "gif":
		return TargetGIF, nil
	case "video", "mp4":
		return TargetVideo, nil
	default:
		return "", fmt.Errorf("unknown target %q (want livephoto, gif or video)", s)
	}
}

type State string

const (
	StateIdle                 State = "idle"
	StateExtracting           State = "extracting"
	StateSplitting            State = "splitting"
	StateCorrelating          State = "correlating"
	StateAwaitingTranscode    State = "awaiting_transcode"
	StateSynthesizingMetadata State = "synthesizing_metadata"
	StateAwaitingPersist      State = "awaiting_persist"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// plan lists the working states a target passes through, in order.
func plan(t Target) []State {
	if t == TargetLivePhoto {
		return []State{
			StateExtracting,
			StateSplitting,
			StateCorrelating,
			StateAwaitingTranscode,
			StateSynthesizingMetadata,
			StateAwaitingPersist,
		}
	}
	return []State{
		StateExtracting,
		StateSplitting,
		StateAwaitingTranscode,
		StateAwaitingPersist,
	}
}

// Request is one conversion. ImagePath and VideoPath together select the
// custom Live Photo mode, which pairs two existing files instead of
// splitting SourcePath.
type Request struct {
	ID         string `json:"id,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
	Target     Target `json:"target"`
	GIFFrames  int    `json:"gif_frames,omitempty"`
	GIFWidth   int    `json:"gif_width,omitempty"`
	ImagePath  string `json:"image_path,omitempty"`
	VideoPath  string `json:"video_path,omitempty"`
}

func (r Request) Custom() bool {
	return r.ImagePath != "" && r.VideoPath != ""
}

// Validate checks the request shape before any work starts.
func (r Request) Validate() error {
	switch r.Target {
	case TargetLivePhoto, TargetGIF, TargetVideo:
	default:
		return fmt.Errorf("unknown target %q", r.Target)
	}
	if (r.ImagePath == "") != (r.VideoPath == "") {
		return fmt.Errorf("image_path and video_path must be given together")
	}
	if r.Custom() {
		if r.Target != TargetLivePhoto {
			return fmt.Errorf("image_path and video_path only apply to livephoto")
		}
		return nil
	}
	if r.SourcePath == "" {
		return fmt.Errorf("source_path is required")
	}
	if r.GIFFrames < 0 || r.GIFWidth < 0 {
		return fmt.Errorf("gif_frames and gif_width must not be negative")
	}
	return nil
}

// Outcome is the caller-facing summary of a terminal state.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Result describes a finished conversion. Output is set only on success.
type Result struct {
	ID             string                 `json:"id"`
	Target         Target                 `json:"target"`
	Outcome        Outcome                `json:"outcome"`
	State          State                  `json:"state"`
	Err            error                  `json:"-"`
	Output         library.Location       `json:"output"`
	AssetID        string                 `json:"asset_id,omitempty"`
	StillImageTime uint8                  `json:"still_image_time"`
	Descriptor     motionphoto.Descriptor `json:"descriptor"`
	Duration       time.Duration          `json:"duration"`
}

// Transition is published on every state change of a conversion.
type Transition struct {
	ConversionID string    `json:"conversion_id"`
	Target       Target    `json:"target"`
	From         State     `json:"from"`
	To           State     `json:"to"`
	At           time.Time `json:"at"`
	Err          error     `json:"-"`
}

type Observer interface {
	Transition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) Transition(t Transition) { f(t) }
