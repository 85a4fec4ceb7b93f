// Package config provides configuration management for the MotionLive agent.
// Defaults are overlaid by an optional YAML file, then by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort             = 8787
	DefaultLogLevel         = "info"
	DefaultDataDir          = ".motionlive"
	DefaultWorkers          = 2
	DefaultGIFFrames        = 20
	DefaultGIFWidth         = 480
	DefaultTranscodeTimeout = 2 * time.Minute

	// Environment variable names
	EnvPort             = "MOTIONLIVE_PORT"
	EnvLogLevel         = "MOTIONLIVE_LOG_LEVEL"
	EnvDataDir          = "MOTIONLIVE_DATA_DIR"
	EnvLibraryDir       = "MOTIONLIVE_LIBRARY_DIR"
	EnvScratchDir       = "MOTIONLIVE_SCRATCH_DIR"
	EnvFFmpeg           = "MOTIONLIVE_FFMPEG"
	EnvFFprobe          = "MOTIONLIVE_FFPROBE"
	EnvWorkers          = "MOTIONLIVE_WORKERS"
	EnvGIFFrames        = "MOTIONLIVE_GIF_FRAMES"
	EnvGIFWidth         = "MOTIONLIVE_GIF_WIDTH"
	EnvTranscodeTimeout = "MOTIONLIVE_TRANSCODE_TIMEOUT"
	EnvWatchDir         = "MOTIONLIVE_WATCH_DIR"
	EnvConfigFile       = "MOTIONLIVE_CONFIG"

	// Database filename
	DBFilename = "motionlive.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	LibraryDir() string
	ScratchDir() string
	FFmpegPath() string
	FFprobePath() string
	Workers() int
	GIFFrames() int
	GIFWidth() int
	TranscodeTimeout() time.Duration
	WatchDir() string
}

// fileConfig is the YAML shape. Zero values leave the default in place.
type fileConfig struct {
	Port             int    `yaml:"port"`
	LogLevel         string `yaml:"log_level"`
	DataDir          string `yaml:"data_dir"`
	LibraryDir       string `yaml:"library_dir"`
	ScratchDir       string `yaml:"scratch_dir"`
	FFmpeg           string `yaml:"ffmpeg"`
	FFprobe          string `yaml:"ffprobe"`
	Workers          int    `yaml:"workers"`
	GIFFrames        int    `yaml:"gif_frames"`
	GIFWidth         int    `yaml:"gif_width"`
	TranscodeTimeout string `yaml:"transcode_timeout"`
	WatchDir         string `yaml:"watch_dir"`
}

// EnvConfig holds the resolved configuration
type EnvConfig struct {
	port             int
	logLevel         string
	dataDir          string
	libraryDir       string
	scratchDir       string
	ffmpeg           string
	ffprobe          string
	workers          int
	gifFrames        int
	gifWidth         int
	transcodeTimeout time.Duration
	watchDir         string
	file             string
}

// ValidationError names the setting that was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// New creates a new EnvConfig with defaults, the YAML file named by
// MOTIONLIVE_CONFIG, and environment variable overrides, in that order.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          defaultDataDir(),
		workers:          DefaultWorkers,
		gifFrames:        DefaultGIFFrames,
		gifWidth:         DefaultGIFWidth,
		transcodeTimeout: DefaultTranscodeTimeout,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", EnvConfigFile, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return &ValidationError{Field: EnvConfigFile, Message: err.Error()}
	}
	c.file = path

	setInt(&c.port, fc.Port)
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.libraryDir, fc.LibraryDir)
	setString(&c.scratchDir, fc.ScratchDir)
	setString(&c.ffmpeg, fc.FFmpeg)
	setString(&c.ffprobe, fc.FFprobe)
	setInt(&c.workers, fc.Workers)
	setInt(&c.gifFrames, fc.GIFFrames)
	setInt(&c.gifWidth, fc.GIFWidth)
	setString(&c.watchDir, fc.WatchDir)
	if fc.TranscodeTimeout != "" {
		d, err := time.ParseDuration(fc.TranscodeTimeout)
		if err != nil {
			return &ValidationError{Field: "transcode_timeout", Message: err.Error()}
		}
		c.transcodeTimeout = d
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	for _, v := range []struct {
		name string
		dst  *int
	}{
		{EnvPort, &c.port},
		{EnvWorkers, &c.workers},
		{EnvGIFFrames, &c.gifFrames},
		{EnvGIFWidth, &c.gifWidth},
	} {
		s := os.Getenv(v.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return &ValidationError{Field: v.name, Message: err.Error()}
		}
		*v.dst = n
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.libraryDir, os.Getenv(EnvLibraryDir))
	setString(&c.scratchDir, os.Getenv(EnvScratchDir))
	setString(&c.ffmpeg, os.Getenv(EnvFFmpeg))
	setString(&c.ffprobe, os.Getenv(EnvFFprobe))
	setString(&c.watchDir, os.Getenv(EnvWatchDir))

	if s := os.Getenv(EnvTranscodeTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return &ValidationError{Field: EnvTranscodeTimeout, Message: err.Error()}
		}
		c.transcodeTimeout = d
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return &ValidationError{Field: EnvPort, Message: "port must be between 1 and 65535"}
	}
	switch strings.ToLower(c.logLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Field: EnvLogLevel, Message: fmt.Sprintf("unknown level %q", c.logLevel)}
	}
	if c.workers < 1 || c.workers > 32 {
		return &ValidationError{Field: EnvWorkers, Message: "must be between 1 and 32"}
	}
	if c.gifFrames < 2 || c.gifFrames > 300 {
		return &ValidationError{Field: EnvGIFFrames, Message: "must be between 2 and 300"}
	}
	if c.gifWidth < 16 || c.gifWidth > 4096 {
		return &ValidationError{Field: EnvGIFWidth, Message: "must be between 16 and 4096"}
	}
	if c.transcodeTimeout <= 0 {
		return &ValidationError{Field: EnvTranscodeTimeout, Message: "must be positive"}
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LibraryDir is where finished assets are placed.
func (c *EnvConfig) LibraryDir() string {
	if c.libraryDir != "" {
		return c.libraryDir
	}
	return filepath.Join(c.dataDir, "library")
}

// ScratchDir is the parent of per-conversion scratch areas.
func (c *EnvConfig) ScratchDir() string {
	if c.scratchDir != "" {
		return c.scratchDir
	}
	return filepath.Join(c.dataDir, "scratch")
}

func (c *EnvConfig) FFmpegPath() string {
	if c.ffmpeg != "" {
		return c.ffmpeg
	}
	return "ffmpeg"
}

func (c *EnvConfig) FFprobePath() string {
	if c.ffprobe != "" {
		return c.ffprobe
	}
	return "ffprobe"
}

func (c *EnvConfig) Workers() int {
	return c.workers
}

func (c *EnvConfig) GIFFrames() int {
	return c.gifFrames
}

func (c *EnvConfig) GIFWidth() int {
	return c.gifWidth
}

func (c *EnvConfig) TranscodeTimeout() time.Duration {
	return c.transcodeTimeout
}

// WatchDir is empty when no directory should be watched.
func (c *EnvConfig) WatchDir() string {
	return c.watchDir
}

// File returns the YAML file that was loaded, if any.
func (c *EnvConfig) File() string {
	return c.file
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
