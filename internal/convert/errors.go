package convert

import (
	"context"
	"errors"

	"github.com/motionlive/motionlive-agent/internal/motionphoto"
	"github.com/motionlive/motionlive-agent/internal/xmp"
)

var (
	ErrReadSource             = errors.New("cannot read source")
	ErrTranscodeFailed        = errors.New("transcode failed")
	ErrTranscodeCancelled     = errors.New("transcode cancelled")
	ErrTranscodeUnknownStatus = errors.New("transcode finished with unknown status")
	ErrMetadataWriteFailed    = errors.New("metadata write failed")
	ErrPersistFailed          = errors.New("persist failed")
)

// ErrorCode maps a conversion error onto a stable code for the API and the
// job table. The most specific cause wins.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTranscodeCancelled):
		return "transcode_cancelled"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, xmp.ErrMalformed):
		return "malformed_xmp"
	case errors.Is(err, motionphoto.ErrNotAMotionPhoto):
		return "not_a_motion_photo"
	case errors.Is(err, motionphoto.ErrInvalidOffset):
		return "invalid_offset"
	case errors.Is(err, ErrTranscodeFailed):
		return "transcode_failed"
	case errors.Is(err, ErrTranscodeUnknownStatus):
		return "transcode_unknown_status"
	case errors.Is(err, ErrMetadataWriteFailed):
		return "metadata_write_failed"
	case errors.Is(err, ErrPersistFailed):
		return "persist_failed"
	case errors.Is(err, ErrReadSource):
		return "read_failed"
	default:
		return "internal"
	}
}

func outcomeOf(err error) (Outcome, State) {
	switch {
	case err == nil:
		return OutcomeCompleted, StateCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, ErrTranscodeCancelled):
		return OutcomeCancelled, StateCancelled
	default:
		return OutcomeFailed, StateFailed
	}
}
