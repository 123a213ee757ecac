package ffmpeg

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/notstpa/smartremux/internal/model"
)

func testJob() *model.RemuxJob {
	return &model.RemuxJob{
		File: &model.MediaFile{
			Path:     "/videos/clip.mkv",
			Duration: 120,
		},
		Target:     model.ContainerMP4,
		OutputPath: "/videos/clip.mp4",
		Audio:      model.AudioAll,
	}
}

func TestBuildArgs_StreamCopyWithAudio(t *testing.T) {
	job := testJob()
	args := BuildArgs(job, "/videos/.clip.mp4.partial")

	want := []string{
		"-y", "-nostdin",
		"-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1",
		"-i", "/videos/clip.mkv",
		"-map", "0:v:0",
		"-c:v", "copy",
		"-map", "0:a?", "-c:a", "copy",
		"-f", "mp4", "/videos/.clip.mp4.partial",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("BuildArgs() = %v, want %v", args, want)
	}
}

func TestBuildArgs_NoAudio(t *testing.T) {
	job := testJob()
	job.Audio = model.AudioNone

	args := BuildArgs(job, "/tmp/out")

	if !contains(args, "-an") {
		t.Errorf("BuildArgs() = %v, want -an for audio none", args)
	}
	if contains(args, "0:a?") {
		t.Errorf("BuildArgs() = %v, must not map audio streams", args)
	}
}

func TestBuildArgs_CFRFix(t *testing.T) {
	job := testJob()
	job.CFRFix = true
	job.Timescale = 24

	args := BuildArgs(job, "/tmp/out")

	idx := index(args, "-video_track_timescale")
	if idx == -1 {
		t.Fatalf("BuildArgs() = %v, missing -video_track_timescale", args)
	}
	if args[idx+1] != "24" {
		t.Errorf("timescale = %q, want 24", args[idx+1])
	}
}

func TestBuildArgs_NoCFRFix(t *testing.T) {
	args := BuildArgs(testJob(), "/tmp/out")
	if contains(args, "-video_track_timescale") {
		t.Errorf("BuildArgs() = %v, timescale must only appear with the CFR fix", args)
	}
}

func TestBuildArgs_MOVMuxer(t *testing.T) {
	job := testJob()
	job.Target = model.ContainerMOV

	args := BuildArgs(job, "/tmp/out")
	idx := index(args, "-f")
	if idx == -1 || args[idx+1] != "mov" {
		t.Errorf("BuildArgs() = %v, want -f mov", args)
	}
}

func TestTempPath(t *testing.T) {
	got := TempPath("/videos/clip.mp4")
	want := filepath.Join("/videos", ".clip.mp4.partial")
	if got != want {
		t.Errorf("TempPath() = %q, want %q", got, want)
	}
	if filepath.Dir(got) != "/videos" {
		t.Errorf("temp path left the destination directory: %q", got)
	}
}

func contains(args []string, s string) bool {
	return index(args, s) != -1
}

func index(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}
