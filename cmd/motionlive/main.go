package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/motionlive/motionlive-agent/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "motionlive",
	Short: "Convert Motion Photos into Live Photos, GIFs and videos",
	Long: `motionlive splits a Motion Photo into its still and its embedded video,
then produces an Apple Live Photo pair, an animated GIF or a plain video
and files the result into a dated library.

Run "motionlive serve" for the local agent with its HTTP API, job queue and
optional inbox watcher.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}
