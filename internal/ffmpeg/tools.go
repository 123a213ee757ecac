// Package ffmpeg locates the external tools and executes remux jobs
// against them.
package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// MissingToolError reports a required external tool that could not be
// resolved. Fatal at batch start: no job can proceed without the tools.
type MissingToolError struct {
	Name string
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("%s not found next to the executable or on PATH", e.Name)
}

// Tools holds resolved paths to the external executables.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

// Locate resolves ffmpeg and ffprobe. Explicit overrides win; otherwise
// the directory of the running executable is checked before PATH, so a
// bundled copy takes precedence over a system install.
func Locate(ffmpegOverride, ffprobeOverride string) (Tools, error) {
	ffmpeg, err := locateOne("ffmpeg", ffmpegOverride)
	if err != nil {
		return Tools{}, err
	}
	ffprobe, err := locateOne("ffprobe", ffprobeOverride)
	if err != nil {
		return Tools{}, err
	}
	return Tools{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
}

func locateOne(name, override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", &MissingToolError{Name: override}
		}
		return override, nil
	}

	if exe, err := os.Executable(); err == nil {
		local := filepath.Join(filepath.Dir(exe), exeName(name))
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", &MissingToolError{Name: name}
}

func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}
