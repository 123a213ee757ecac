package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/notstpa/smartremux/internal/model"
)

func tmpJob(t *testing.T) *model.RemuxJob {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mkv")
	if err := os.WriteFile(input, []byte("fake video data"), 0644); err != nil {
		t.Fatal(err)
	}
	return &model.RemuxJob{
		File: &model.MediaFile{
			Path:     input,
			Duration: 10,
		},
		Target:     model.ContainerMP4,
		OutputPath: filepath.Join(dir, "clip.mp4"),
		Audio:      model.AudioAll,
	}
}

func TestExecutor_Run_CommitsOnSuccess(t *testing.T) {
	job := tmpJob(t)
	tmp := TempPath(job.OutputPath)

	e := NewExecutor("")
	e.execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		// Simulate ffmpeg: write the temp output and report completion.
		script := fmt.Sprintf("echo progress=end; printf data > %q", tmp)
		return exec.CommandContext(ctx, "sh", "-c", script)
	}

	if err := e.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := os.Stat(job.OutputPath); err != nil {
		t.Errorf("output not committed at final path: %v", err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("temp file still present after commit")
	}
	// Original must still exist; lifecycle handling is a separate stage.
	if _, err := os.Stat(job.File.Path); err != nil {
		t.Errorf("original missing after successful run: %v", err)
	}
}

func TestExecutor_Run_NoPartialOutputOnFailure(t *testing.T) {
	job := tmpJob(t)
	tmp := TempPath(job.OutputPath)

	e := NewExecutor("")
	e.execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		script := fmt.Sprintf("printf garbage > %q; echo 'Invalid data found' >&2; exit 1", tmp)
		return exec.CommandContext(ctx, "sh", "-c", script)
	}

	err := e.Run(context.Background(), job, nil)

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("Run() error = %v, want *ExecError", err)
	}
	if execErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", execErr.ExitCode)
	}
	if execErr.Stderr == "" {
		t.Error("Stderr not captured in ExecError")
	}

	if _, err := os.Stat(job.OutputPath); !os.IsNotExist(err) {
		t.Error("partial output visible at final path after failure")
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("temp file not cleaned up after failure")
	}
}

func TestExecutor_Run_SkipsExistingOutput(t *testing.T) {
	job := tmpJob(t)
	if err := os.WriteFile(job.OutputPath, []byte("previous"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewExecutor("")
	e.execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		t.Error("ffmpeg invoked despite existing output")
		return exec.CommandContext(ctx, "true")
	}

	err := e.Run(context.Background(), job, nil)
	if !errors.Is(err, ErrOutputExists) {
		t.Errorf("Run() error = %v, want ErrOutputExists", err)
	}
}

func TestExecutor_Run_OverwriteReplacesOutput(t *testing.T) {
	job := tmpJob(t)
	job.Overwrite = true
	if err := os.WriteFile(job.OutputPath, []byte("previous"), 0644); err != nil {
		t.Fatal(err)
	}
	tmp := TempPath(job.OutputPath)

	e := NewExecutor("")
	e.execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		script := fmt.Sprintf("printf fresh > %q", tmp)
		return exec.CommandContext(ctx, "sh", "-c", script)
	}

	if err := e.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "fresh" {
		t.Errorf("output = %q, want replaced content", data)
	}
}

func TestExecutor_Run_Cancellation(t *testing.T) {
	job := tmpJob(t)
	tmp := TempPath(job.OutputPath)

	e := NewExecutor("")
	e.execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		script := fmt.Sprintf("printf part > %q; sleep 10", tmp)
		return exec.CommandContext(ctx, "sh", "-c", script)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	err := e.Run(ctx, job, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	if _, err := os.Stat(job.OutputPath); !os.IsNotExist(err) {
		t.Error("output visible at final path after cancellation")
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("temp file not discarded after cancellation")
	}
}

func TestExecutor_Run_ReportsProgress(t *testing.T) {
	job := tmpJob(t) // Duration 10s
	tmp := TempPath(job.OutputPath)

	e := NewExecutor("")
	e.execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		script := fmt.Sprintf(
			"echo out_time_ms=5000000; echo out_time_ms=10000000; echo progress=end; printf x > %q", tmp)
		return exec.CommandContext(ctx, "sh", "-c", script)
	}

	var updates []Progress
	err := e.Run(context.Background(), job, func(p Progress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(updates) < 3 {
		t.Fatalf("got %d progress updates, want at least 3", len(updates))
	}
	if updates[0].Percent != 50 {
		t.Errorf("first update = %v%%, want 50", updates[0].Percent)
	}
	last := updates[len(updates)-1]
	if last.Percent != 100 {
		t.Errorf("final update = %v%%, want 100", last.Percent)
	}
}

func TestHandleProgressLine_ClampsOverrun(t *testing.T) {
	var got Progress
	var speed string
	// 15s reported against a 10s duration clamps to 100.
	handleProgressLine("out_time_ms=15000000", 10, &speed, func(p Progress) { got = p })
	if got.Percent != 100 {
		t.Errorf("Percent = %v, want clamped 100", got.Percent)
	}
}

func TestHandleProgressLine_CarriesSpeed(t *testing.T) {
	var got Progress
	var speed string
	handleProgressLine("speed=31.2x", 10, &speed, func(p Progress) { got = p })
	handleProgressLine("out_time_ms=5000000", 10, &speed, func(p Progress) { got = p })
	if got.Percent != 50 {
		t.Errorf("Percent = %v, want 50", got.Percent)
	}
	if got.Speed != "31.2x" {
		t.Errorf("Speed = %q, want %q", got.Speed, "31.2x")
	}
}
