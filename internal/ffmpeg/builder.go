package ffmpeg

import (
	"path/filepath"
	"strconv"

	"github.com/notstpa/smartremux/internal/model"
)

// BuildArgs produces the deterministic ffmpeg argument list for a job.
// The video stream is always copied; audio is copied or dropped per
// policy; the CFR fix adds a track timescale on top of the copy. Output
// goes to tmpPath with an explicit muxer since the temp name carries no
// useful extension.
func BuildArgs(job *model.RemuxJob, tmpPath string) []string {
	args := []string{
		"-y", "-nostdin",
		"-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1",
		"-i", job.File.Path,
		"-map", "0:v:0",
		"-c:v", "copy",
	}

	if job.Audio == model.AudioAll {
		args = append(args, "-map", "0:a?", "-c:a", "copy")
	} else {
		args = append(args, "-an")
	}

	if job.CFRFix {
		args = append(args, "-video_track_timescale", strconv.Itoa(job.Timescale))
	}

	args = append(args, "-f", muxerName(job.Target), tmpPath)
	return args
}

func muxerName(c model.Container) string {
	switch c {
	case model.ContainerMOV:
		return "mov"
	default:
		return "mp4"
	}
}

// TempPath returns the hidden temporary path a job writes to before the
// final rename. Lives in the destination directory so the rename never
// crosses filesystems.
func TempPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	return filepath.Join(dir, "."+base+".partial")
}
