package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/motionlive/motionlive-agent/internal/config"
	"github.com/motionlive/motionlive-agent/internal/convert"
	"github.com/motionlive/motionlive-agent/internal/logging"
)

var (
	convertTarget  string
	convertLibrary string
	convertFrames  int
	convertWidth   int
	convertImage   string
	convertVideo   string
	convertJSON    bool
	convertQuiet   bool
)

var convertCmd = &cobra.Command{
	Use:   "convert [SOURCE]",
	Short: "Convert one Motion Photo and file the result into the library",
	Long: `Convert splits SOURCE and produces the requested target.

With --image and --video no source is split: the two files are paired into
a Live Photo directly.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConvert,
}

func init() {
	f := convertCmd.Flags()
	f.StringVarP(&convertTarget, "target", "t", "livephoto", "output: livephoto, gif or video")
	f.StringVarP(&convertLibrary, "library", "l", "", "library directory (overrides "+config.EnvLibraryDir+")")
	f.IntVar(&convertFrames, "frames", 0, "GIF frame count")
	f.IntVar(&convertWidth, "width", 0, "GIF width in pixels")
	f.StringVar(&convertImage, "image", "", "still image for a custom Live Photo")
	f.StringVar(&convertVideo, "video", "", "video for a custom Live Photo")
	f.BoolVar(&convertJSON, "json", false, "print the result as JSON")
	f.BoolVarP(&convertQuiet, "quiet", "q", false, "do not print state transitions")
}

type convertOutput struct {
	convert.Result
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func runConvert(cmd *cobra.Command, args []string) error {
	target, err := convert.ParseTarget(convertTarget)
	if err != nil {
		return err
	}
	req := convert.Request{
		Target:    target,
		GIFFrames: convertFrames,
		GIFWidth:  convertWidth,
		ImagePath: convertImage,
		VideoPath: convertVideo,
	}
	if len(args) == 1 {
		req.SourcePath = args[0]
	}
	if err := req.Validate(); err != nil {
		return err
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel())

	st, err := openStack(cfg, logger, stackOptions{
		LibraryDir: convertLibrary,
		GIFFrames:  convertFrames,
		GIFWidth:   convertWidth,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	if !convertQuiet && !convertJSON {
		st.converter.AddObserver(convert.ObserverFunc(func(t convert.Transition) {
			fmt.Fprintf(os.Stderr, "  %-22s -> %s\n", t.From, t.To)
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := st.converter.Convert(ctx, req)

	if convertJSON {
		out := convertOutput{Result: res}
		if res.Err != nil {
			out.Error = res.Err.Error()
			out.ErrorCode = convert.ErrorCode(res.Err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printResult(res)
	}

	if res.Outcome != convert.OutcomeCompleted {
		return fmt.Errorf("conversion %s: %s", res.Outcome, convert.ErrorCode(res.Err))
	}
	return nil
}

func printResult(res convert.Result) {
	if res.Outcome != convert.OutcomeCompleted {
		fmt.Printf("%s: %v\n", res.Outcome, res.Err)
		return
	}
	fmt.Printf("%s %s in %s\n", res.Target, res.Outcome, res.Duration.Round(time.Millisecond))
	if res.AssetID != "" {
		fmt.Printf("  asset:            %s\n", res.AssetID)
	}
	if res.Target == convert.TargetLivePhoto {
		fmt.Printf("  still image time: %d\n", res.StillImageTime)
	}
	for _, p := range res.Output.Paths {
		size := ""
		if info, err := os.Stat(p); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Printf("  %-8s %s\n", size, p)
	}
}
