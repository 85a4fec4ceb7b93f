package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/motionlive/motionlive-agent/internal/config"
	"github.com/motionlive/motionlive-agent/internal/logging"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect SOURCE...",
	Short: "Report whether files are Motion Photos and how they would split",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print one JSON object per file")
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel())

	st, err := openStack(cfg, logger, stackOptions{})
	if err != nil {
		return err
	}
	defer st.Close()

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, path := range args {
		in, err := st.converter.Inspect(cmd.Context(), path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		if inspectJSON {
			if err := enc.Encode(in); err != nil {
				return err
			}
			continue
		}
		if !in.MotionPhoto {
			fmt.Printf("%s: not convertible (%s)\n", path, in.Reason)
			continue
		}
		fmt.Printf("%s: motion photo\n", path)
		fmt.Printf("  video offset:  %d (%s)\n", in.Descriptor.VideoOffset, in.Descriptor.OffsetKey)
		fmt.Printf("  photo time:    %.3fs\n", in.PhotoSeconds)
		fmt.Printf("  still image:   %s\n", humanize.Bytes(uint64(in.ImageBytes)))
		fmt.Printf("  video:         %s (mp4: %t)\n", humanize.Bytes(uint64(in.VideoBytes)), in.VideoIsMP4)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be read", failed, len(args))
	}
	return nil
}
