// Package library is the append-only destination for finished conversions.
// Files are laid out under <root>/<YYYY>/<MM>/ and indexed in sqlite.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const maxNameAttempts = 1000

var ErrNameExhausted = errors.New("no free library name")

// GeoPoint is a capture location in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Meta carries the source's dates and location onto the saved asset.
type Meta struct {
	Stem       string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Location   *GeoPoint
}

// LivePhoto is a tagged still and video pair sharing one content identifier.
type LivePhoto struct {
	ImagePath         string
	VideoPath         string
	ContentIdentifier string
	StillImageTime    uint8
	Meta              Meta
}

// Location is where a saved asset ended up.
type Location struct {
	AssetID string   `json:"asset_id"`
	Paths   []string `json:"paths"`
}

// Library writes into root and records every asset in repo. A nil repo
// disables indexing.
type Library struct {
	root   string
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func New(root string, repo Repository, logger *slog.Logger) (*Library, error) {
	if err := ValidateRoot(root); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create library: %w", err)
	}
	return &Library{root: root, repo: repo, logger: logger, now: time.Now}, nil
}

func (l *Library) Root() string { return l.root }

// SaveLivePhoto stores the pair as <stem>_<short id>.JPG and .MOV.
func (l *Library) SaveLivePhoto(ctx context.Context, lp LivePhoto) (Location, error) {
	asset := &Asset{
		ID:                lp.ContentIdentifier,
		Kind:              KindLivePhoto,
		ContentIdentifier: lp.ContentIdentifier,
		StillImageTime:    int(lp.StillImageTime),
	}
	if asset.ID == "" {
		asset.ID = strings.ToUpper(uuid.NewString())
	}
	base := l.stem(lp.Meta) + "_" + shortID(asset.ID)
	paths, err := l.save(ctx, lp.Meta, base, asset, []file{
		{src: lp.ImagePath, ext: ".JPG"},
		{src: lp.VideoPath, ext: ".MOV"},
	})
	if err != nil {
		return Location{}, err
	}
	return Location{AssetID: asset.ID, Paths: paths}, nil
}

func (l *Library) SaveGIF(ctx context.Context, path string, meta Meta) (Location, error) {
	return l.saveSingle(ctx, KindGIF, path, ".gif", meta)
}

func (l *Library) SaveVideo(ctx context.Context, path string, meta Meta) (Location, error) {
	return l.saveSingle(ctx, KindVideo, path, ".mp4", meta)
}

func (l *Library) saveSingle(ctx context.Context, kind, path, ext string, meta Meta) (Location, error) {
	asset := &Asset{ID: strings.ToUpper(uuid.NewString()), Kind: kind}
	paths, err := l.save(ctx, meta, l.stem(meta), asset, []file{{src: path, ext: ext}})
	if err != nil {
		return Location{}, err
	}
	return Location{AssetID: asset.ID, Paths: paths}, nil
}

type file struct {
	src string
	ext string
}

func (l *Library) save(ctx context.Context, meta Meta, base string, asset *Asset, files []file) ([]string, error) {
	created := meta.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	dir := filepath.Join(l.root, created.Format("2006"), created.Format("01"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create library folder: %w", err)
	}

	staged := make([]string, len(files))
	defer func() {
		for _, p := range staged {
			if p != "" {
				os.Remove(p)
			}
		}
	}()
	for i, f := range files {
		tmp, err := stage(dir, f.src)
		if err != nil {
			return nil, err
		}
		staged[i] = tmp
	}

	final, name, err := link(dir, base, staged, files)
	if err != nil {
		return nil, err
	}

	modified := meta.ModifiedAt
	if modified.IsZero() {
		modified = created
	}
	for _, p := range final {
		if err := os.Chtimes(p, modified, modified); err != nil {
			l.logger.Warn("failed to set file times", "path", filepath.Base(p), "error", err)
		}
	}

	asset.BaseName = name
	asset.CapturedAt = created
	asset.CreatedAt = l.now()
	if meta.Location != nil {
		lat, lon := meta.Location.Latitude, meta.Location.Longitude
		asset.Latitude, asset.Longitude = &lat, &lon
	}
	for i, f := range files {
		switch f.ext {
		case ".JPG", ".gif":
			asset.ImagePath = final[i]
		default:
			asset.VideoPath = final[i]
		}
	}

	if l.repo != nil {
		if err := l.repo.CreateAsset(ctx, asset); err != nil {
			for _, p := range final {
				os.Remove(p)
			}
			return nil, fmt.Errorf("failed to index asset: %w", err)
		}
	}

	var total int64
	for _, p := range final {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	l.logger.Info("asset saved",
		"asset_id", asset.ID,
		"kind", asset.Kind,
		"name", name,
		"size", humanize.IBytes(uint64(total)),
	)
	return final, nil
}

// stage copies src to a hidden temp file in dir and syncs it.
func stage(dir, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filepath.Base(src), err)
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

// link hard-links every staged file to base[-N]<ext>. os.Link fails when the
// target exists, so an existing library file is never replaced; on a
// collision the whole group moves to the next suffix.
func link(dir, base string, staged []string, files []file) ([]string, string, error) {
	for n := 0; n < maxNameAttempts; n++ {
		name := base
		if n > 0 {
			name = base + "-" + strconv.Itoa(n)
		}

		var done []string
		collided := false
		for i, f := range files {
			target := filepath.Join(dir, name+f.ext)
			if err := os.Link(staged[i], target); err != nil {
				for _, p := range done {
					os.Remove(p)
				}
				if os.IsExist(err) {
					collided = true
					break
				}
				return nil, "", fmt.Errorf("failed to place %s: %w", filepath.Base(target), err)
			}
			done = append(done, target)
		}
		if !collided {
			return done, name, nil
		}
	}
	return nil, "", ErrNameExhausted
}

func (l *Library) stem(meta Meta) string {
	stem := SanitizeName(meta.Stem, maxStemLen)
	if stem == "" {
		return "IMG"
	}
	return stem
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}
