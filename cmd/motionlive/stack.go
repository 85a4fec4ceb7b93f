package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/motionlive/motionlive-agent/internal/config"
	"github.com/motionlive/motionlive-agent/internal/convert"
	"github.com/motionlive/motionlive-agent/internal/db"
	"github.com/motionlive/motionlive-agent/internal/imagemeta"
	"github.com/motionlive/motionlive-agent/internal/library"
	"github.com/motionlive/motionlive-agent/internal/media"
)

// stack is everything a conversion needs, shared by serve and convert.
type stack struct {
	cfg       *config.EnvConfig
	logger    *slog.Logger
	db        *db.DB
	toolchain *media.Toolchain
	library   *library.Library
	assets    *library.SQLiteRepository
	converter *convert.Service
}

type stackOptions struct {
	LibraryDir string
	GIFFrames  int
	GIFWidth   int
}

func openStack(cfg *config.EnvConfig, logger *slog.Logger, opts stackOptions) (*stack, error) {
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ScratchDir(), 0700); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	libraryDir := opts.LibraryDir
	if libraryDir == "" {
		libraryDir = cfg.LibraryDir()
	}
	if libraryDir, err = filepath.Abs(libraryDir); err != nil {
		database.Close()
		return nil, fmt.Errorf("invalid library dir: %w", err)
	}

	assets := library.NewRepository(database.Conn())
	lib, err := library.New(libraryDir, assets, logger)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open library: %w", err)
	}

	mcfg := media.DefaultConfig(logger)
	mcfg.FFmpegPath = cfg.FFmpegPath()
	mcfg.FFprobePath = cfg.FFprobePath()
	mcfg.ExportTimeout = cfg.TranscodeTimeout()
	mcfg.DebugPaths = cfg.LogLevel() == "debug"
	toolchain := media.NewToolchain(mcfg)

	frames, width := cfg.GIFFrames(), cfg.GIFWidth()
	if opts.GIFFrames > 0 {
		frames = opts.GIFFrames
	}
	if opts.GIFWidth > 0 {
		width = opts.GIFWidth
	}

	converter, err := convert.NewService(convert.Config{
		ScratchDir:  cfg.ScratchDir(),
		Transcoder:  toolchain,
		VideoTagger: toolchain,
		ImageTagger: imagemeta.NewWriter(logger),
		GIFSampler:  toolchain,
		Sink:        lib,
		GIFFrames:   frames,
		GIFWidth:    width,
		Logger:      logger,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	return &stack{
		cfg:       cfg,
		logger:    logger,
		db:        database,
		toolchain: toolchain,
		library:   lib,
		assets:    assets,
		converter: converter,
	}, nil
}

func (s *stack) Close() error {
	return s.db.Close()
}
