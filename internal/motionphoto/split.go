package motionphoto

import (
	"bytes"
	"fmt"
)

// Segments are views into the original container; nothing is copied.
type Segments struct {
	Image []byte
	Video []byte
}

// Split cuts raw so that Video holds the last offset bytes. The offset must
// leave at least one image byte.
func Split(raw []byte, offset int64) (Segments, error) {
	if offset <= 0 || offset >= int64(len(raw)) {
		return Segments{}, fmt.Errorf("%w: %d for a %d-byte container", ErrInvalidOffset, offset, len(raw))
	}
	cut := len(raw) - int(offset)
	return Segments{
		Image: raw[:cut:cut],
		Video: raw[cut:],
	}, nil
}

// LooksLikeISOBMFF reports whether the video segment opens with an ftyp box.
func (s Segments) LooksLikeISOBMFF() bool {
	return len(s.Video) >= 8 && bytes.Equal(s.Video[4:8], []byte("ftyp"))
}
