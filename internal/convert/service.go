package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/motionlive/motionlive-agent/internal/imagemeta"
	"github.com/motionlive/motionlive-agent/internal/library"
	"github.com/motionlive/motionlive-agent/internal/livephoto"
	"github.com/motionlive/motionlive-agent/internal/logging"
	"github.com/motionlive/motionlive-agent/internal/media"
	"github.com/motionlive/motionlive-agent/internal/motionphoto"
	"github.com/motionlive/motionlive-agent/internal/scratch"
	"github.com/motionlive/motionlive-agent/internal/timeline"
)

var ErrInvalidRequest = errors.New("invalid request")

type FileReader interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (os.FileInfo, error)
}

type osReader struct{}

func (osReader) ReadFile(path string) ([]byte, error)  { return os.ReadFile(path) }
func (osReader) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

type Transcoder interface {
	Inspect(ctx context.Context, path string) (*media.Probe, error)
	Remux(ctx context.Context, in, out string, c media.Container) media.ExportResult
}

type VideoTagger interface {
	TagVideo(ctx context.Context, in, out string, records []livephoto.Record) error
}

type ImageTagger interface {
	TagImage(img []byte, rec livephoto.Record) ([]byte, error)
}

type GIFSampler interface {
	SampleGIF(ctx context.Context, videoPath string, opts media.GIFOptions) media.ExportResult
}

// Sink receives finished outputs. Calls are made on a context that is never
// cancelled.
type Sink interface {
	SaveLivePhoto(ctx context.Context, lp library.LivePhoto) (library.Location, error)
	SaveGIF(ctx context.Context, path string, meta library.Meta) (library.Location, error)
	SaveVideo(ctx context.Context, path string, meta library.Meta) (library.Location, error)
}

type Config struct {
	ScratchDir  string
	Reader      FileReader
	Transcoder  Transcoder
	VideoTagger VideoTagger
	ImageTagger ImageTagger
	GIFSampler  GIFSampler
	Sink        Sink
	GIFFrames   int
	GIFWidth    int
	Observers   []Observer
	NewAssetID  func() (livephoto.AssetID, error)
	Logger      *slog.Logger
}

type Service struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	observers []Observer
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Transcoder == nil || cfg.VideoTagger == nil || cfg.ImageTagger == nil ||
		cfg.GIFSampler == nil || cfg.Sink == nil {
		return nil, fmt.Errorf("convert: transcoder, taggers, gif sampler and sink are required")
	}
	if cfg.Reader == nil {
		cfg.Reader = osReader{}
	}
	if cfg.NewAssetID == nil {
		cfg.NewAssetID = livephoto.NewAssetID
	}
	if cfg.GIFFrames <= 0 {
		cfg.GIFFrames = media.DefaultGIFFrames
	}
	if cfg.GIFWidth <= 0 {
		cfg.GIFWidth = media.DefaultGIFWidth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		cfg:       cfg,
		logger:    logging.WithComponent(cfg.Logger, "convert"),
		observers: append([]Observer(nil), cfg.Observers...),
	}, nil
}

// AddObserver registers o for every later conversion.
func (s *Service) AddObserver(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Convert runs req to a terminal state. The scratch area is gone by the time
// it returns.
func (s *Service) Convert(ctx context.Context, req Request) Result {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()

	c := &conversion{
		svc:       s,
		req:       req,
		state:     StateIdle,
		observers: observers,
		logger:    logging.WithConversionID(s.logger, req.ID),
	}

	err := req.Validate()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	} else {
		err = c.run(ctx)
	}
	return c.finish(err, time.Since(start))
}

type conversion struct {
	svc       *Service
	req       Request
	state     State
	observers []Observer
	logger    *slog.Logger

	area       *scratch.Area
	raw        []byte
	image      []byte
	desc       motionphoto.Descriptor
	imagePath  string
	videoPath  string
	stillTime  uint8
	outputPath string
	assetID    livephoto.AssetID
	taggedJPEG string
	taggedMOV  string
	location   library.Location
}

func (c *conversion) run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	area, err := scratch.New(c.svc.cfg.ScratchDir, c.req.ID)
	if err != nil {
		return err
	}
	c.area = area
	defer func() {
		if err := area.Release(); err != nil {
			c.logger.Error("scratch cleanup failed", "dir", logging.SanitizePath(area.Dir()), "error", err)
		}
	}()

	for _, st := range plan(c.req.Target) {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.transition(st, nil)
		if err := c.step(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (c *conversion) step(ctx context.Context, st State) error {
	switch st {
	case StateExtracting:
		return c.extract()
	case StateSplitting:
		return c.split()
	case StateCorrelating:
		return c.correlate(ctx)
	case StateAwaitingTranscode:
		return c.transcode(ctx)
	case StateSynthesizingMetadata:
		return c.synthesize(ctx)
	case StateAwaitingPersist:
		return c.persist(ctx)
	default:
		return fmt.Errorf("no step for state %s", st)
	}
}

func (c *conversion) extract() error {
	if c.req.Custom() {
		return nil
	}
	raw, err := c.svc.cfg.Reader.ReadFile(c.req.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadSource, err)
	}
	desc, err := motionphoto.Detect(raw)
	if err != nil {
		return err
	}
	c.raw = raw
	c.desc = desc
	c.logger.Debug("motion photo located",
		"offset_key", desc.OffsetKey,
		"video_offset", desc.VideoOffset,
		"timestamp_key", desc.TimestampKey,
	)
	return nil
}

func (c *conversion) split() error {
	if c.req.Custom() {
		img, err := c.svc.cfg.Reader.ReadFile(c.req.ImagePath)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrReadSource, err)
		}
		c.image = img
		if c.imagePath, err = c.area.Write("image", "jpg", img); err != nil {
			return err
		}
		ext := strings.TrimPrefix(filepath.Ext(c.req.VideoPath), ".")
		if ext == "" {
			ext = "mov"
		}
		if c.videoPath, err = c.area.Copy("video", strings.ToLower(ext), c.req.VideoPath); err != nil {
			return fmt.Errorf("%w: %w", ErrReadSource, err)
		}
		return nil
	}

	segs, err := motionphoto.Split(c.raw, c.desc.VideoOffset)
	if err != nil {
		return err
	}
	if !segs.LooksLikeISOBMFF() {
		c.logger.Warn("video segment has no ftyp box", "video_offset", c.desc.VideoOffset)
	}
	if c.imagePath, err = c.area.Write("image", "jpg", segs.Image); err != nil {
		return err
	}
	if c.videoPath, err = c.area.Write("video", "mp4", segs.Video); err != nil {
		return err
	}
	c.image = segs.Image
	c.raw = nil
	return nil
}

func (c *conversion) correlate(ctx context.Context) error {
	if c.req.Custom() {
		c.stillTime = 0
		return nil
	}
	probe, err := c.svc.cfg.Transcoder.Inspect(ctx, c.videoPath)
	if err != nil {
		return withCause(ErrTranscodeFailed, fmt.Errorf("inspect: %w", err))
	}
	c.stillTime = timeline.StillImageTime(probe.Duration, c.desc.PhotoTimeSeconds(), probe.FrameRate)
	c.logger.Debug("timeline correlated",
		"duration", probe.Duration,
		"fps", probe.FrameRate,
		"photo_time", c.desc.PhotoTimeSeconds(),
		"still_image_time", c.stillTime,
	)
	return nil
}

func (c *conversion) transcode(ctx context.Context) error {
	var res media.ExportResult
	switch c.req.Target {
	case TargetLivePhoto:
		res = c.svc.cfg.Transcoder.Remux(ctx, c.videoPath, c.area.Path("transcoded", "mov"), media.ContainerMOV)
	case TargetVideo:
		res = c.svc.cfg.Transcoder.Remux(ctx, c.videoPath, c.area.Path("transcoded", "mp4"), media.ContainerMP4)
	case TargetGIF:
		frames, width := c.req.GIFFrames, c.req.GIFWidth
		if frames <= 0 {
			frames = c.svc.cfg.GIFFrames
		}
		if width <= 0 {
			width = c.svc.cfg.GIFWidth
		}
		res = c.svc.cfg.GIFSampler.SampleGIF(ctx, c.videoPath, media.GIFOptions{
			Frames:     frames,
			Width:      width,
			OutputPath: c.area.Path("animation", "gif"),
		})
	}

	switch res.Status {
	case media.StatusCompleted:
		c.outputPath = res.OutputPath
		return nil
	case media.StatusCancelled:
		return withCause(ErrTranscodeCancelled, res.Err)
	case media.StatusFailed:
		return withCause(ErrTranscodeFailed, res.Err)
	default:
		return withCause(ErrTranscodeUnknownStatus, res.Err)
	}
}

func (c *conversion) synthesize(ctx context.Context) error {
	id, err := c.svc.cfg.NewAssetID()
	if err != nil {
		return fmt.Errorf("asset id: %w", err)
	}
	c.assetID = id
	records := livephoto.Synthesize(id, c.stillTime)

	probe, err := c.svc.cfg.Transcoder.Inspect(ctx, c.outputPath)
	if err != nil {
		return withCause(ErrMetadataWriteFailed, fmt.Errorf("inspect transcoded video: %w", err))
	}
	videoRecords := livephoto.Merge(livephoto.RecordsFromTags(probe.Tags), records.ForVideo())

	c.taggedMOV = c.area.Path("tagged", "mov")
	if err := c.svc.cfg.VideoTagger.TagVideo(ctx, c.outputPath, c.taggedMOV, videoRecords); err != nil {
		return withCause(ErrMetadataWriteFailed, err)
	}

	img := c.image
	for _, rec := range records.ForImage() {
		if img, err = c.svc.cfg.ImageTagger.TagImage(img, rec); err != nil {
			return withCause(ErrMetadataWriteFailed, fmt.Errorf("tag image: %w", err))
		}
	}
	if c.taggedJPEG, err = c.area.Write("tagged-image", "jpg", img); err != nil {
		return withCause(ErrMetadataWriteFailed, err)
	}

	c.logger.Debug("metadata synthesized", "asset_id", string(id), "video_records", len(videoRecords))
	return nil
}

// persist runs detached from ctx: once the sink is called its result is
// surfaced even if the caller cancels meanwhile.
func (c *conversion) persist(ctx context.Context) error {
	pctx := context.WithoutCancel(ctx)
	meta := c.sourceMeta()

	var loc library.Location
	var err error
	switch c.req.Target {
	case TargetLivePhoto:
		loc, err = c.svc.cfg.Sink.SaveLivePhoto(pctx, library.LivePhoto{
			ImagePath:         c.taggedJPEG,
			VideoPath:         c.taggedMOV,
			ContentIdentifier: string(c.assetID),
			StillImageTime:    c.stillTime,
			Meta:              meta,
		})
	case TargetGIF:
		loc, err = c.svc.cfg.Sink.SaveGIF(pctx, c.outputPath, meta)
	case TargetVideo:
		loc, err = c.svc.cfg.Sink.SaveVideo(pctx, c.outputPath, meta)
	}
	if err != nil {
		return withCause(ErrPersistFailed, err)
	}
	c.location = loc
	return nil
}

// sourceMeta prefers EXIF capture time and GPS from the still, falling back
// to the source file's modification time.
func (c *conversion) sourceMeta() library.Meta {
	source := c.req.SourcePath
	if c.req.Custom() {
		source = c.req.ImagePath
	}
	meta := library.Meta{Stem: library.StemOf(source)}

	if info, err := c.svc.cfg.Reader.Stat(source); err == nil {
		meta.ModifiedAt = info.ModTime()
	}
	if exif, err := imagemeta.Inspect(c.image); err == nil {
		meta.CreatedAt = exif.CapturedAt
		if exif.Location != nil {
			meta.Location = &library.GeoPoint{Latitude: exif.Location.Latitude, Longitude: exif.Location.Longitude}
		}
	} else {
		c.logger.Debug("no usable exif on still", "error", err)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = meta.ModifiedAt
	}
	return meta
}

func (c *conversion) transition(to State, err error) {
	t := Transition{
		ConversionID: c.req.ID,
		Target:       c.req.Target,
		From:         c.state,
		To:           to,
		At:           time.Now(),
		Err:          err,
	}
	c.state = to
	c.logger.Debug("state entered", "from", t.From, "to", to)
	for _, o := range c.observers {
		o.Transition(t)
	}
}

func (c *conversion) finish(err error, elapsed time.Duration) Result {
	outcome, terminal := outcomeOf(err)
	c.transition(terminal, err)

	res := Result{
		ID:             c.req.ID,
		Target:         c.req.Target,
		Outcome:        outcome,
		State:          terminal,
		Err:            err,
		AssetID:        string(c.assetID),
		StillImageTime: c.stillTime,
		Descriptor:     c.desc,
		Duration:       elapsed,
	}
	if err == nil {
		res.Output = c.location
		if res.AssetID == "" {
			res.AssetID = c.location.AssetID
		}
	}

	switch outcome {
	case OutcomeCompleted:
		c.logger.Info("conversion completed",
			"target", c.req.Target,
			"asset_id", res.AssetID,
			"outputs", len(res.Output.Paths),
			"duration_ms", elapsed.Milliseconds(),
		)
	case OutcomeCancelled:
		c.logger.Info("conversion cancelled", "target", c.req.Target, "error", err)
	default:
		c.logger.Warn("conversion failed", "target", c.req.Target, "code", ErrorCode(err), "error", err)
	}
	return res
}

func withCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
