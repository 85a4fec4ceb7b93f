// Package livephoto builds the identifier and metadata records that pair a
// still image with its video.
package livephoto

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	KeyContentIdentifier = "content-identifier"
	KeyStillImageTime    = "still-image-time"

	QuickTimeContentIdentifier       = "com.apple.quicktime.content.identifier"
	QuickTimeStillImageTime          = "com.apple.quicktime.still-image-time"
	QuickTimeLivePhotoStillImageTime = "com.apple.quicktime.live-photo.still-image-time"

	// MakerAppleContentIdentifier is the Apple maker note entry holding the
	// asset identifier on the still image.
	MakerAppleContentIdentifier = 17
)

// AssetID is shared by both halves of one Live Photo.
type AssetID string

// NewAssetID returns a fresh upper-case random UUID.
func NewAssetID() (AssetID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate asset id: %w", err)
	}
	return AssetID(strings.ToUpper(u.String())), nil
}

// Scope says which output a record is attached to.
type Scope uint8

const (
	ScopeImage Scope = 1 << iota
	ScopeVideo

	ScopeBoth = ScopeImage | ScopeVideo
)

func (s Scope) String() string {
	switch s {
	case ScopeImage:
		return "image"
	case ScopeVideo:
		return "video"
	case ScopeBoth:
		return "both"
	default:
		return "none"
	}
}

type Record struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Scope Scope  `json:"-"`
}

type Records []Record

// Synthesize returns the content identifier record (image and video) and the
// still image time record (video only).
func Synthesize(id AssetID, stillImageTime uint8) Records {
	return Records{
		{Key: KeyContentIdentifier, Value: string(id), Scope: ScopeBoth},
		{Key: KeyStillImageTime, Value: strconv.Itoa(int(stillImageTime)), Scope: ScopeVideo},
	}
}

func (r Records) ForImage() Records { return r.filter(ScopeImage) }

func (r Records) ForVideo() Records { return r.filter(ScopeVideo) }

func (r Records) filter(s Scope) Records {
	var out Records
	for _, rec := range r {
		if rec.Scope&s != 0 {
			out = append(out, rec)
		}
	}
	return out
}

// Merge appends added to a copy of existing. Nothing is dropped or replaced,
// so a repeated key appears twice.
func Merge(existing, added []Record) []Record {
	out := make([]Record, 0, len(existing)+len(added))
	out = append(out, existing...)
	return append(out, added...)
}

// RecordsFromTags turns container tags into video records in key order.
func RecordsFromTags(tags map[string]string) []Record {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, Record{Key: k, Value: tags[k], Scope: ScopeVideo})
	}
	return out
}

// QuickTimeKeys maps a record key onto the QuickTime metadata keys it is
// written under. The still image time goes under both the plain and the
// live-photo key. Unknown keys pass through unchanged.
func QuickTimeKeys(key string) []string {
	switch key {
	case KeyContentIdentifier:
		return []string{QuickTimeContentIdentifier}
	case KeyStillImageTime:
		return []string{QuickTimeLivePhotoStillImageTime, QuickTimeStillImageTime}
	default:
		return []string{key}
	}
}
