package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/motionlive/motionlive-agent/internal/config"
	"github.com/motionlive/motionlive-agent/internal/logging"
	"github.com/motionlive/motionlive-agent/internal/media"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that ffmpeg and ffprobe are available",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print capabilities as JSON")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel())

	mcfg := media.DefaultConfig(logger)
	mcfg.FFmpegPath = cfg.FFmpegPath()
	mcfg.FFprobePath = cfg.FFprobePath()
	caps, err := media.NewToolchain(mcfg).RunDoctor(cmd.Context())
	if err != nil {
		return err
	}

	if doctorJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(caps)
	}

	printTool("ffmpeg", caps.FFmpeg)
	printTool("ffprobe", caps.FFprobe)
	fmt.Println()
	fmt.Printf("livephoto: %s\n", yesNo(caps.HasLivePhoto))
	fmt.Printf("gif:       %s\n", yesNo(caps.HasGIF))
	fmt.Printf("video:     %s\n", yesNo(caps.HasVideo))

	if !caps.HasVideo {
		return fmt.Errorf("ffmpeg not available; set %s", config.EnvFFmpeg)
	}
	return nil
}

func printTool(name string, t media.ToolInfo) {
	if !t.Available {
		fmt.Printf("%-8s missing (%s)\n", name, t.Error)
		return
	}
	fmt.Printf("%-8s %s\n         %s\n", name, t.Path, t.Version)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
