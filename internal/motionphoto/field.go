package motionphoto

import (
	"sort"
	"strings"

	"github.com/motionlive/motionlive-agent/internal/xmp"
)

// Field enumerates the metadata fields a Motion Photo can carry.
type Field int

const (
	FieldUnknown Field = iota
	FieldMicroVideoOffset
	FieldContainerItemLength
	FieldMicroVideoTimestamp
	FieldMotionPhotoTimestamp
)

var canonicalKeys = map[Field]string{
	FieldMicroVideoOffset:     "GCamera:MicroVideoOffset",
	FieldContainerItemLength:  "GContainer:ItemLength",
	FieldMicroVideoTimestamp:  "GCamera:MicroVideoPresentationTimestampUs",
	FieldMotionPhotoTimestamp: "GCamera:MotionPhotoPresentationTimestampUs",
}

// CanonicalKey returns the vendor key the field is normally written under.
func (f Field) CanonicalKey() string {
	return canonicalKeys[f]
}

func (f Field) String() string {
	switch f {
	case FieldMicroVideoOffset:
		return "micro_video_offset"
	case FieldContainerItemLength:
		return "container_item_length"
	case FieldMicroVideoTimestamp:
		return "micro_video_timestamp"
	case FieldMotionPhotoTimestamp:
		return "motion_photo_timestamp"
	default:
		return "unknown"
	}
}

// ClassifyKey maps a vendor key onto a Field by substring.
func ClassifyKey(key string) Field {
	switch {
	case strings.Contains(key, "MicroVideoOffset"):
		return FieldMicroVideoOffset
	case strings.Contains(key, "ItemLength"):
		return FieldContainerItemLength
	case strings.Contains(key, "MicroVideoPresentationTimestampUs"):
		return FieldMicroVideoTimestamp
	case strings.Contains(key, "MotionPhotoPresentationTimestampUs"):
		return FieldMotionPhotoTimestamp
	default:
		return FieldUnknown
	}
}

// Value is one raw occurrence of a field.
type Value struct {
	Key string
	Raw string
}

// Fields holds every recognised value per field, canonical key first and
// the rest in key order.
type Fields map[Field][]Value

// Classify translates an XMP map into Fields. Unrecognised keys are dropped.
func Classify(m xmp.Map) Fields {
	out := make(Fields)
	for _, key := range m.Keys() {
		f := ClassifyKey(key)
		if f == FieldUnknown {
			continue
		}
		out[f] = append(out[f], Value{Key: key, Raw: m[key]})
	}
	for f, vals := range out {
		canonical := f.CanonicalKey()
		sort.SliceStable(vals, func(i, j int) bool {
			return vals[i].Key == canonical && vals[j].Key != canonical
		})
	}
	return out
}
