package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/notstpa/smartremux/internal/model"
)

// ErrOutputExists marks a job skipped because the final output path is
// already occupied and overwrite is off.
var ErrOutputExists = errors.New("output file already exists")

// ExecError is a failed ffmpeg invocation, carrying the exit status and
// the tail of the captured diagnostic output.
type ExecError struct {
	Path     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("ffmpeg %s (exit %d): %s", e.Path, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("ffmpeg %s: %v", e.Path, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Progress is one parsed ffmpeg progress update.
type Progress struct {
	Percent float64 // 0-100, best effort against the probed duration
	Speed   string  // e.g. "32.5x"
}

// ProgressFunc receives progress updates during a run.
type ProgressFunc func(Progress)

// maxStderrTail bounds the diagnostic text carried into an ExecError.
const maxStderrTail = 2048

// Executor runs remux jobs through ffmpeg.
type Executor struct {
	ffmpegPath string
	// execCommand allows injection of command execution for testing
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewExecutor creates an Executor. If ffmpegPath is empty, "ffmpeg" from
// PATH is used.
func NewExecutor(ffmpegPath string) *Executor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Executor{
		ffmpegPath:  ffmpegPath,
		execCommand: exec.CommandContext,
	}
}

// Run executes one remux job. The output is written to a temporary path
// and renamed into place only on success, so a crash or kill never leaves
// a partial file at the final path. Context cancellation terminates the
// external process and discards the temp output.
func (e *Executor) Run(ctx context.Context, job *model.RemuxJob, onProgress ProgressFunc) error {
	if _, err := os.Stat(job.OutputPath); err == nil && !job.Overwrite {
		return ErrOutputExists
	}

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := TempPath(job.OutputPath)
	cmd := e.execCommand(ctx, e.ffmpegPath, BuildArgs(job, tmp)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &ExecError{Path: job.File.Path, Err: err}
	}

	scanner := bufio.NewScanner(stdout)
	var speed string
	for scanner.Scan() {
		handleProgressLine(scanner.Text(), job.File.Duration, &speed, onProgress)
	}

	err = cmd.Wait()

	if ctx.Err() != nil {
		os.Remove(tmp)
		return ctx.Err()
	}

	if err != nil {
		os.Remove(tmp)
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &ExecError{
			Path:     job.File.Path,
			ExitCode: exitCode,
			Stderr:   tail(stderr.String(), maxStderrTail),
			Err:      err,
		}
	}

	if err := os.Rename(tmp, job.OutputPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit output: %w", err)
	}

	if onProgress != nil {
		onProgress(Progress{Percent: 100})
	}
	return nil
}

// handleProgressLine parses one key=value line of `-progress pipe:1`
// output and dispatches a progress update on out_time changes.
func handleProgressLine(line string, duration float64, speed *string, onProgress ProgressFunc) {
	if onProgress == nil {
		return
	}

	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}

	switch key {
	case "out_time_ms":
		// Despite the name, ffmpeg reports microseconds here.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || duration <= 0 {
			return
		}
		percent := float64(us) / 1e6 / duration * 100
		if percent > 100 {
			percent = 100
		}
		onProgress(Progress{Percent: percent, Speed: *speed})
	case "speed":
		*speed = strings.TrimSpace(value)
	case "progress":
		if value == "end" {
			onProgress(Progress{Percent: 100})
		}
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
