// Package imagemeta reads and writes the still-image half of a Live Photo:
// the Apple maker note carrying the content identifier, plus the capture
// date and location used when filing the result.
package imagemeta

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/motionlive/motionlive-agent/internal/livephoto"
)

// Writer merges livephoto records into JPEG EXIF.
type Writer struct {
	logger *slog.Logger
}

func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// TagImage applies one image-scoped record. Only the content identifier has
// an image representation.
func (w *Writer) TagImage(img []byte, rec livephoto.Record) ([]byte, error) {
	if rec.Key != livephoto.KeyContentIdentifier {
		return nil, fmt.Errorf("record %q has no image representation", rec.Key)
	}
	out, err := SetContentIdentifier(img, rec.Value)
	if err != nil {
		return nil, err
	}
	if w.logger != nil {
		w.logger.Debug("image tagged", "key", rec.Key, "bytes_in", len(img), "bytes_out", len(out))
	}
	return out, nil
}

// SetContentIdentifier writes an Apple maker note holding id into the
// JPEG's EXIF block, creating the block when the image has none. Any
// previous maker note is replaced; all other EXIF entries are kept.
func SetContentIdentifier(img []byte, id string) ([]byte, error) {
	segs, err := parseSegments(img)
	if err != nil {
		return nil, err
	}
	note := appleMakerNote(id)

	idx := -1
	for i, s := range segs {
		if s.isEXIF() {
			idx = i
			break
		}
	}

	var block []byte
	if idx >= 0 {
		merged, err := withMakerNote(segs[idx].data[len(exifHeader):], note)
		if err != nil {
			return nil, fmt.Errorf("merge maker note: %w", err)
		}
		block = append(append([]byte{}, exifHeader...), merged...)
	} else {
		block = append(append([]byte{}, exifHeader...), minimalTIFF(note)...)
	}
	if len(block) > maxSegmentPayload {
		return nil, fmt.Errorf("%d bytes: %w", len(block), ErrEXIFTooLarge)
	}

	exifSeg := segment{marker: markerAPP1, data: block}
	if idx >= 0 {
		segs[idx] = exifSeg
	} else {
		segs = append(segs[:1], append([]segment{exifSeg}, segs[1:]...)...)
	}
	return writeSegments(segs)
}

// ContentIdentifier reads the identifier back from the maker note.
func ContentIdentifier(img []byte) (string, error) {
	x, err := exif.Decode(bytes.NewReader(img))
	if err != nil {
		return "", fmt.Errorf("decode exif: %w", err)
	}
	tag, err := x.Get(exif.MakerNote)
	if err != nil {
		return "", ErrNoContentIdentifier
	}
	return parseAppleContentIdentifier(tag.Val)
}

type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Info is what the library needs to file a still.
type Info struct {
	CapturedAt time.Time
	Location   *GeoPoint
}

// Inspect reads the capture time and GPS position. Missing fields are left
// zero; only an unreadable EXIF block is an error.
func Inspect(img []byte) (Info, error) {
	x, err := exif.Decode(bytes.NewReader(img))
	if err != nil {
		return Info{}, fmt.Errorf("decode exif: %w", err)
	}
	var info Info
	if t, err := x.DateTime(); err == nil {
		info.CapturedAt = t
	}
	if lat, lon, err := x.LatLong(); err == nil {
		info.Location = &GeoPoint{Latitude: lat, Longitude: lon}
	}
	return info, nil
}
