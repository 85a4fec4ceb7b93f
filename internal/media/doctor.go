package media

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// ToolInfo is the availability of one binary.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports which targets the installed toolchain can serve.
type Capabilities struct {
	FFmpeg  ToolInfo `json:"ffmpeg"`
	FFprobe ToolInfo `json:"ffprobe"`

	HasLivePhoto bool      `json:"has_live_photo"`
	HasGIF       bool      `json:"has_gif"`
	HasVideo     bool      `json:"has_video"`
	ProbedAt     time.Time `json:"probed_at"`
}

// DoctorRunner probes the toolchain.
type DoctorRunner interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// RunDoctor runs `-version` on both binaries.
func (t *Toolchain) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.DoctorTimeout)
	defer cancel()

	caps := &Capabilities{
		FFmpeg:  t.probeTool(ctx, t.ffmpeg),
		FFprobe: t.probeTool(ctx, t.ffprobe),
	}
	both := caps.FFmpeg.Available && caps.FFprobe.Available
	caps.HasLivePhoto = both
	caps.HasGIF = both
	caps.HasVideo = caps.FFmpeg.Available
	caps.ProbedAt = time.Now()

	t.cfg.Logger.Info("doctor probe complete",
		"ffmpeg", caps.FFmpeg.Available,
		"ffprobe", caps.FFprobe.Available,
		"live_photo", caps.HasLivePhoto,
		"gif", caps.HasGIF,
	)
	return caps, nil
}

func (t *Toolchain) probeTool(ctx context.Context, bin string) ToolInfo {
	var stdout bytes.Buffer
	res := t.exec(ctx, bin, &stdout, "-version")
	if !res.IsSuccess() {
		return ToolInfo{Path: bin, Error: truncate(strings.TrimSpace(res.StderrTail), 256)}
	}
	return ToolInfo{Available: true, Path: bin, Version: versionLine(stdout.String())}
}

// versionLine extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func versionLine(out string) string {
	first, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(first)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(first)
}

// CachedDoctor wraps a DoctorRunner to cache probe results with a TTL.
type CachedDoctor struct {
	runner DoctorRunner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(runner DoctorRunner, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}
