package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/motionlive/motionlive-agent/internal/api"
	"github.com/motionlive/motionlive-agent/internal/config"
	"github.com/motionlive/motionlive-agent/internal/convert"
	"github.com/motionlive/motionlive-agent/internal/events"
	"github.com/motionlive/motionlive-agent/internal/jobs"
	"github.com/motionlive/motionlive-agent/internal/logging"
	"github.com/motionlive/motionlive-agent/internal/media"
	"github.com/motionlive/motionlive-agent/internal/watcher"
)

var (
	serveWatchDir string
	servePort     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local agent: HTTP API, job queue and inbox watcher",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveWatchDir, "watch", "w", "", "directory to watch for new Motion Photos (overrides "+config.EnvWatchDir+")")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides "+config.EnvPort+")")
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	port := cfg.Port()
	if servePort > 0 {
		port = servePort
	}
	watchDir := cfg.WatchDir()
	if serveWatchDir != "" {
		watchDir = serveWatchDir
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting motionlive agent", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	st, err := openStack(cfg, logger, stackOptions{})
	if err != nil {
		return err
	}
	defer st.Close()

	jobRepo := jobs.NewRepository(st.db.Conn())
	authToken, err := ensureAuthToken(jobRepo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  MOTIONLIVE AGENT v%-22s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", port)
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Library:    %-45s ║\n", truncateLeft(logging.SanitizePath(st.library.Root()), 45))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	doctor := media.NewCachedDoctor(st.toolchain, logger)
	initCtx, initCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial toolchain probe failed", "error", err)
	} else {
		logger.Info("toolchain capabilities detected",
			"livephoto", caps.HasLivePhoto,
			"gif", caps.HasGIF,
			"video", caps.HasVideo,
		)
	}
	if _, err := jobs.SweepScratch(initCtx, jobRepo, cfg.ScratchDir(), logger); err != nil {
		logger.Warn("failed to sweep scratch areas", "error", err)
	}
	initCancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(logging.WithComponent(logger, "events"))
	go hub.Run(ctx)

	jobSvc := jobs.NewService(jobRepo, logger)
	st.converter.AddObserver(jobs.NewJournal(jobRepo, hub, logger))

	runner := jobs.NewRunner(jobSvc, jobRepo, st.converter, cfg.Workers(), logger)
	runnerDone := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(runnerDone)
	}()

	var inbox *watcher.FSWatcher
	if watchDir != "" {
		inbox = watcher.NewFSWatcher(logger)
		inbox.OnChange(watcher.MotionPhotoHandler(logger, func(ctx context.Context, path string) error {
			_, err := jobSvc.SubmitOnce(ctx, convert.Request{SourcePath: path, Target: convert.TargetLivePhoto})
			return err
		}))
		if err := inbox.Watch(ctx, watchDir); err != nil {
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:      port,
		Jobs:      jobSvc,
		Tokens:    jobRepo,
		Runner:    runner,
		Inspector: st.converter,
		Assets:    st.assets,
		Doctor:    doctor,
		Events:    hub.ServeWS,
		Logger:    logger,
		StartTime: startTime,
		Version:   config.Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
			<-runnerDone
			return err
		}
	}

	logger.Info("initiating graceful shutdown")
	if inbox != nil {
		if err := inbox.Stop(); err != nil {
			logger.Warn("failed to stop watcher", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	cancel()
	<-runnerDone

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo jobs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}

func truncateLeft(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "..." + string(r[len(r)-n+3:])
}
