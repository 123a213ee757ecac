// Package testutil generates synthetic media files for integration tests.
// Callers are expected to skip when ffmpeg is not on PATH.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// VideoOptions configures synthetic video generation
type VideoOptions struct {
	DurationSec int    // Video duration in seconds (default: 1)
	FPS         int    // Frame rate (default: 24)
	Size        string // Resolution (default: "320x240")
	NoAudio     bool   // Skip the audio track
}

// GenerateVideo creates a short synthetic video at outputPath. The
// container is inferred from the file extension.
func GenerateVideo(outputPath string, opts VideoOptions) error {
	if outputPath == "" {
		return fmt.Errorf("output path cannot be empty")
	}
	if opts.DurationSec == 0 {
		opts.DurationSec = 1
	}
	if opts.FPS == 0 {
		opts.FPS = 24
	}
	if opts.Size == "" {
		opts.Size = "320x240"
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=duration=%d:size=%s:rate=%d", opts.DurationSec, opts.Size, opts.FPS),
	}
	if !opts.NoAudio {
		args = append(args,
			"-f", "lavfi",
			"-i", fmt.Sprintf("anullsrc=r=48000:cl=stereo:d=%d", opts.DurationSec),
			"-c:a", "aac",
			"-shortest",
		)
	}
	args = append(args,
		"-c:v", "libx264", "-preset", "ultrafast",
		"-y", outputPath,
	)

	cmd := exec.Command("ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, output)
	}
	return nil
}
