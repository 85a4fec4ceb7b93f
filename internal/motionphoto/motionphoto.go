// Package motionphoto recognises Motion Photo containers and splits them into
// the still image and the trailing video.
package motionphoto

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/motionlive/motionlive-agent/internal/xmp"
)

var (
	ErrNotAMotionPhoto = errors.New("not a motion photo")
	ErrInvalidOffset   = errors.New("invalid video offset")
)

// Descriptor locates the embedded video. VideoOffset is the video length
// counted back from the end of the file.
type Descriptor struct {
	VideoOffset             int64   `json:"video_offset"`
	PresentationTimestampUs float64 `json:"presentation_timestamp_us"`
	OffsetKey               string  `json:"offset_key"`
	TimestampKey            string  `json:"timestamp_key"`
}

// PhotoTimeSeconds returns the still's presentation time in seconds.
func (d Descriptor) PhotoTimeSeconds() float64 {
	return d.PresentationTimestampUs / 1_000_000
}

// Locate validates a parsed packet. Offset and timestamp must both parse;
// GCamera fields win over container fields.
func Locate(m xmp.Map) (Descriptor, error) {
	fields := Classify(m)

	var d Descriptor
	var ok bool
	d.VideoOffset, d.OffsetKey, ok = firstInt(fields, FieldMicroVideoOffset, FieldContainerItemLength)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: no usable video offset", ErrNotAMotionPhoto)
	}
	d.PresentationTimestampUs, d.TimestampKey, ok = firstFloat(fields, FieldMicroVideoTimestamp, FieldMotionPhotoTimestamp)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: no usable presentation timestamp", ErrNotAMotionPhoto)
	}
	return d, nil
}

// Detect runs extraction, parsing and location over a raw container. A
// missing packet is reported as ErrNotAMotionPhoto wrapping xmp.ErrNotFound.
func Detect(raw []byte) (Descriptor, error) {
	fragment, err := xmp.Extract(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrNotAMotionPhoto, err)
	}
	m, err := xmp.Parse(fragment)
	if err != nil {
		return Descriptor{}, err
	}
	return Locate(m)
}

func firstInt(fields Fields, order ...Field) (int64, string, bool) {
	for _, f := range order {
		for _, v := range fields[f] {
			n, err := strconv.ParseInt(strings.TrimSpace(v.Raw), 10, 64)
			if err == nil {
				return n, v.Key, true
			}
		}
	}
	return 0, "", false
}

func firstFloat(fields Fields, order ...Field) (float64, string, bool) {
	for _, f := range order {
		for _, v := range fields[f] {
			x, err := strconv.ParseFloat(strings.TrimSpace(v.Raw), 64)
			if err == nil && !math.IsNaN(x) && !math.IsInf(x, 0) {
				return x, v.Key, true
			}
		}
	}
	return 0, "", false
}
