package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "smartremux",
		Short: "Batch remux video files into mp4/mov via stream copy",
		Long: `SmartRemux rewraps video files into mp4 or mov containers without
re-encoding. It probes each file with ffprobe, fixes variable frame
rate timestamps where needed, and runs ffmpeg stream copies across a
worker pool with atomic output commits.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
