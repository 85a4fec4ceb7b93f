package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
)

const (
	DefaultGIFFrames = 20
	DefaultGIFWidth  = 480
)

// SampleGIF extracts opts.Frames evenly spaced frames from videoPath and
// writes them as a looping GIF to opts.OutputPath. Each frame is shown for
// duration/frames.
func (t *Toolchain) SampleGIF(ctx context.Context, videoPath string, opts GIFOptions) ExportResult {
	if opts.Frames <= 0 {
		opts.Frames = DefaultGIFFrames
	}

	probe, err := t.Inspect(ctx, videoPath)
	if err != nil {
		return failure(ctx, opts.OutputPath, fmt.Errorf("inspect: %w", err))
	}

	framesDir := opts.OutputPath + ".frames"
	if err := os.MkdirAll(framesDir, 0700); err != nil {
		return ExportResult{Status: StatusFailed, Err: err, OutputPath: opts.OutputPath}
	}
	defer os.RemoveAll(framesDir)

	pattern := filepath.Join(framesDir, "frame-%03d.png")
	res := t.export(ctx, filepath.Join(framesDir, "frame-001.png"),
		sampleArgs(videoPath, pattern, opts.Frames, probe.Duration)...)
	if res.Status != StatusCompleted {
		res.OutputPath = opts.OutputPath
		return res
	}

	paths, err := filepath.Glob(filepath.Join(framesDir, "frame-*.png"))
	if err != nil || len(paths) == 0 {
		return ExportResult{Status: StatusUnknown, Err: errors.New("no frames sampled"), OutputPath: opts.OutputPath}
	}
	sort.Strings(paths)

	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return failure(ctx, opts.OutputPath, err)
		}
		img, err := imaging.Open(p)
		if err != nil {
			return ExportResult{Status: StatusFailed, Err: fmt.Errorf("decode frame: %w", err), OutputPath: opts.OutputPath}
		}
		if opts.Width > 0 && img.Bounds().Dx() > opts.Width {
			img = imaging.Resize(img, opts.Width, 0, imaging.Lanczos)
		}
		frames = append(frames, img)
	}

	f, err := os.Create(opts.OutputPath)
	if err != nil {
		return ExportResult{Status: StatusFailed, Err: err, OutputPath: opts.OutputPath}
	}
	if err := assembleGIF(f, frames, frameDelay(probe.Duration, len(frames))); err != nil {
		f.Close()
		return ExportResult{Status: StatusFailed, Err: fmt.Errorf("encode gif: %w", err), OutputPath: opts.OutputPath}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ExportResult{Status: StatusFailed, Err: err, OutputPath: opts.OutputPath}
	}
	if err := f.Close(); err != nil {
		return ExportResult{Status: StatusFailed, Err: err, OutputPath: opts.OutputPath}
	}

	t.cfg.Logger.Info("gif assembled",
		"frames", len(frames),
		"size", fileSize(opts.OutputPath),
		"output", t.safePath(opts.OutputPath),
	)
	return ExportResult{Status: StatusCompleted, OutputPath: opts.OutputPath}
}

func failure(ctx context.Context, out string, err error) ExportResult {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ExportResult{Status: StatusCancelled, Err: ctx.Err(), OutputPath: out}
	}
	return ExportResult{Status: StatusFailed, Err: err, OutputPath: out}
}

func sampleArgs(in, pattern string, frames int, duration float64) []string {
	rate := strconv.FormatFloat(float64(frames)/duration, 'f', 6, 64)
	return []string{
		"-y", "-v", "error",
		"-i", in,
		"-vf", "fps=" + rate,
		"-frames:v", strconv.Itoa(frames),
		"-f", "image2",
		pattern,
	}
}

// frameDelay is the per-frame delay in hundredths of a second.
func frameDelay(duration float64, frames int) int {
	if frames <= 0 {
		return 0
	}
	d := int(math.Round(duration * 100 / float64(frames)))
	if d < 1 {
		return 1
	}
	return d
}

// assembleGIF dithers every frame onto the Plan 9 palette and writes an
// endlessly looping animation.
func assembleGIF(w io.Writer, frames []image.Image, delay int) error {
	if len(frames) == 0 {
		return errors.New("no frames")
	}
	anim := &gif.GIF{LoopCount: 0}
	for _, img := range frames {
		b := img.Bounds()
		p := image.NewPaletted(b, palette.Plan9)
		draw.FloydSteinberg.Draw(p, b, img, b.Min)
		anim.Image = append(anim.Image, p)
		anim.Delay = append(anim.Delay, delay)
	}
	return gif.EncodeAll(w, anim)
}
