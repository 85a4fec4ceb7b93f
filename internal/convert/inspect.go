package convert

import (
	"context"
	"fmt"

	"github.com/motionlive/motionlive-agent/internal/motionphoto"
)

// Inspection is the file-picker view of a source: whether it converts, and
// how it would be split.
type Inspection struct {
	Path         string                  `json:"path"`
	MotionPhoto  bool                    `json:"motion_photo"`
	Descriptor   *motionphoto.Descriptor `json:"descriptor,omitempty"`
	ImageBytes   int64                   `json:"image_bytes"`
	VideoBytes   int64                   `json:"video_bytes"`
	VideoIsMP4   bool                    `json:"video_is_mp4"`
	Reason       string                  `json:"reason,omitempty"`
	Code         string                  `json:"code,omitempty"`
	PhotoSeconds float64                 `json:"photo_time_seconds"`
}

// Inspect runs extraction, parsing, location and splitting without writing
// anything. A file that is not a Motion Photo is reported in the Inspection;
// only read failures are returned as errors.
func (s *Service) Inspect(ctx context.Context, path string) (*Inspection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := s.cfg.Reader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadSource, err)
	}

	in := &Inspection{Path: path}
	desc, err := motionphoto.Detect(raw)
	if err != nil {
		in.Reason = err.Error()
		in.Code = ErrorCode(err)
		return in, nil
	}
	segs, err := motionphoto.Split(raw, desc.VideoOffset)
	if err != nil {
		in.Descriptor = &desc
		in.Reason = err.Error()
		in.Code = ErrorCode(err)
		return in, nil
	}

	in.MotionPhoto = true
	in.Descriptor = &desc
	in.ImageBytes = int64(len(segs.Image))
	in.VideoBytes = int64(len(segs.Video))
	in.VideoIsMP4 = segs.LooksLikeISOBMFF()
	in.PhotoSeconds = desc.PhotoTimeSeconds()
	return in, nil
}
