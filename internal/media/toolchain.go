package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/motionlive/motionlive-agent/internal/livephoto"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Tags ffmpeg derives from the container itself. They are never written back.
var derivedTags = map[string]bool{
	"major_brand":       true,
	"minor_version":     true,
	"compatible_brands": true,
	"encoder":           true,
}

// Config holds the toolchain's configuration. Empty binary paths are looked
// up on PATH.
type Config struct {
	FFmpegPath    string
	FFprobePath   string
	ProbeTimeout  time.Duration
	ExportTimeout time.Duration
	DoctorTimeout time.Duration
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		ProbeTimeout:  30 * time.Second,
		ExportTimeout: 5 * time.Minute,
		DoctorTimeout: 10 * time.Second,
		Logger:        logger,
	}
}

// Toolchain runs ffmpeg and ffprobe as subprocesses.
type Toolchain struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// NewToolchain resolves the binaries. A missing binary is not an error here;
// RunDoctor reports it and calls that need it fail.
func NewToolchain(cfg Config) *Toolchain {
	t := &Toolchain{
		cfg:     cfg,
		ffmpeg:  resolveBinary(cfg.FFmpegPath, "ffmpeg"),
		ffprobe: resolveBinary(cfg.FFprobePath, "ffprobe"),
	}
	cfg.Logger.Info("media toolchain initialised", "ffmpeg", t.ffmpeg, "ffprobe", t.ffprobe)
	return t
}

// Inspect probes duration, frame rate and container tags.
func (t *Toolchain) Inspect(ctx context.Context, path string) (*Probe, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	result := t.exec(ctx, t.ffprobe, &stdout, probeArgs(path)...)
	if !result.IsSuccess() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ffprobe %s: %w", t.safePath(path), err)
		}
		return nil, fmt.Errorf("ffprobe exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return parseProbe(stdout.Bytes())
}

// Remux copies the streams of in into a new container without re-encoding.
func (t *Toolchain) Remux(ctx context.Context, in, out string, c Container) ExportResult {
	muxer, err := c.muxer()
	if err != nil {
		return ExportResult{Status: StatusFailed, Err: err}
	}
	return t.export(ctx, out, remuxArgs(in, out, muxer)...)
}

// TagVideo writes records as container metadata on a copy of in, keeping
// whatever metadata in already carries.
func (t *Toolchain) TagVideo(ctx context.Context, in, out string, records []livephoto.Record) error {
	res := t.export(ctx, out, tagArgs(in, out, records)...)
	switch res.Status {
	case StatusCompleted:
		return nil
	case StatusCancelled:
		return fmt.Errorf("tag video: %w", res.Err)
	default:
		return fmt.Errorf("tag video: %s: %w", res.Status, res.Err)
	}
}

// export runs one ffmpeg call and classifies the result. Cancellation of the
// caller's context is reported separately from the export timeout.
func (t *Toolchain) export(parent context.Context, out string, args ...string) ExportResult {
	ctx, cancel := context.WithTimeout(parent, t.cfg.ExportTimeout)
	defer cancel()

	run := t.exec(ctx, t.ffmpeg, io.Discard, args...)
	res := classify(parent, run, out)
	if res.Status == StatusCompleted {
		t.cfg.Logger.Info("export complete",
			"output", t.safePath(out),
			"size", fileSize(out),
			"duration_ms", run.Duration.Milliseconds(),
		)
	}
	return res
}

func classify(parent context.Context, run RunResult, out string) ExportResult {
	res := ExportResult{OutputPath: out, StderrTail: run.StderrTail, Duration: run.Duration}

	if err := parent.Err(); errors.Is(err, context.Canceled) {
		res.Status = StatusCancelled
		res.Err = err
		return res
	}
	if !run.IsSuccess() {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("ffmpeg exited %d: %s", run.ExitCode, truncate(run.StderrTail, 512))
		return res
	}
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		res.Status = StatusUnknown
		res.Err = fmt.Errorf("ffmpeg reported success but produced no output")
		return res
	}
	res.Status = StatusCompleted
	return res
}

func probeArgs(path string) []string {
	return []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path}
}

func remuxArgs(in, out, muxer string) []string {
	return []string{
		"-y", "-v", "error",
		"-i", in,
		"-map", "0:v", "-map", "0:a?",
		"-c", "copy",
		"-map_metadata", "0",
		"-movflags", "use_metadata_tags",
		"-f", muxer,
		out,
	}
}

func tagArgs(in, out string, records []livephoto.Record) []string {
	args := []string{
		"-y", "-v", "error",
		"-i", in,
		"-map", "0",
		"-c", "copy",
		"-map_metadata", "0",
		"-movflags", "use_metadata_tags",
	}
	for _, r := range records {
		if derivedTags[r.Key] {
			continue
		}
		for _, k := range livephoto.QuickTimeKeys(r.Key) {
			args = append(args, "-metadata", k+"="+r.Value)
		}
	}
	return append(args, "-f", "mov", out)
}

// exec is the core subprocess execution helper.
func (t *Toolchain) exec(ctx context.Context, bin string, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = stdout

	t.cfg.Logger.Debug("executing media command", "bin", filepath.Base(bin), "args", t.safeArgs(args))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		t.cfg.Logger.Warn("media command failed",
			"bin", filepath.Base(bin),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		t.cfg.Logger.Debug("media command succeeded",
			"bin", filepath.Base(bin),
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{ExitCode: exitCode, StderrTail: stderrTail, Duration: elapsed}
}

func (t *Toolchain) safeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if filepath.IsAbs(a) {
			out[i] = t.safePath(a)
		} else {
			out[i] = a
		}
	}
	return out
}

func (t *Toolchain) safePath(path string) string {
	if t.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "?"
	}
	return humanize.IBytes(uint64(info.Size()))
}

// resolveBinary prefers the configured path, then PATH lookup. It falls back
// to the bare name so the failure surfaces at exec time.
func resolveBinary(preferred, name string) string {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p
		}
		return preferred
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
