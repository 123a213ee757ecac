// Package batch runs the probe, plan, execute and lifecycle stages over a
// set of files with a bounded worker pool. Workers never touch shared
// state: every outcome flows through an event channel into a single
// collector goroutine that owns the aggregate counters and the journal.
package batch

import (
	"context"
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/notstpa/smartremux/internal/config"
	"github.com/notstpa/smartremux/internal/ffmpeg"
	"github.com/notstpa/smartremux/internal/history"
	"github.com/notstpa/smartremux/internal/lifecycle"
	"github.com/notstpa/smartremux/internal/model"
	"github.com/notstpa/smartremux/internal/plan"
	"github.com/notstpa/smartremux/internal/probe"
)

// Event is a batch lifecycle notification. Events are delivered in order
// from a single goroutine, so consumers need no locking.
type Event interface{ event() }

// FileStarted signals that a worker picked up a file.
type FileStarted struct {
	Path  string
	Index int // 1-based position in the batch
	Total int
}

// FileProbed carries the probed frame-rate info, emitted before planning.
type FileProbed struct {
	Path    string
	FPS     float64
	Profile model.FrameRateProfile
}

// FileProgress is a remux progress update for one file.
type FileProgress struct {
	Path    string
	Percent float64
	Speed   string
}

// FileFinished carries the terminal result for one file.
type FileFinished struct {
	Result model.JobResult
}

// BatchFinished is the last event of a run.
type BatchFinished struct {
	State *model.BatchState
}

func (FileStarted) event()   {}
func (FileProbed) event()    {}
func (FileProgress) event()  {}
func (FileFinished) event()  {}
func (BatchFinished) event() {}

// Stages are the per-file pipeline steps. Split out so tests can run the
// scheduler without the external tools.
type Stages struct {
	Probe   func(ctx context.Context, path string) (*model.MediaFile, error)
	Plan    func(cfg *config.Config, mf *model.MediaFile) (*model.RemuxJob, error)
	Execute func(ctx context.Context, job *model.RemuxJob, onProgress ffmpeg.ProgressFunc) error
	Finish  func(job *model.RemuxJob) error
}

// DefaultStages wires the real tool-backed pipeline.
func DefaultStages(cfg *config.Config, tools ffmpeg.Tools) Stages {
	prober := probe.New(tools.FFprobe, cfg.ProbeTimeout())
	executor := ffmpeg.NewExecutor(tools.FFmpeg)
	return Stages{
		Probe:   prober.Probe,
		Plan:    plan.Build,
		Execute: executor.Run,
		Finish:  lifecycle.Apply,
	}
}

// Report is what a completed run hands back to the caller.
type Report struct {
	BatchID string
	State   *model.BatchState
	// FrameRates counts probed files per rendered frame rate, e.g.
	// "23.976" -> 12.
	FrameRates map[string]int
}

// errSkipRequested is the cancellation cause set by Skip.
var errSkipRequested = errors.New("skip requested")

// Scheduler fans a file list out over a worker pool.
type Scheduler struct {
	cfg     *config.Config
	stages  Stages
	log     hclog.Logger
	journal *history.Journal

	mu        sync.Mutex
	paused    chan struct{} // non-nil while paused, closed on Resume
	executing map[string]context.CancelCauseFunc
}

// New creates a Scheduler. A nil logger discards output; a nil journal
// disables history persistence.
func New(cfg *config.Config, stages Stages, log hclog.Logger, journal *history.Journal) *Scheduler {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Scheduler{
		cfg:       cfg,
		stages:    stages,
		log:       log,
		journal:   journal,
		executing: make(map[string]context.CancelCauseFunc),
	}
}

// Pause holds workers at the next stage boundary. Running ffmpeg
// processes finish their current stage first. Safe from any goroutine.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil {
		s.paused = make(chan struct{})
	}
}

// Resume releases workers held by Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused != nil {
		close(s.paused)
		s.paused = nil
	}
}

// Skip terminates the in-flight remux of path and records it as skipped.
// A no-op when path is not currently in its execute stage.
func (s *Scheduler) Skip(path string) {
	s.mu.Lock()
	cancel := s.executing[path]
	s.mu.Unlock()
	if cancel != nil {
		cancel(errSkipRequested)
	}
}

// gate blocks while paused. ctx unblocks it so cancellation is never
// held up by a pause.
func (s *Scheduler) gate(ctx context.Context) {
	for {
		s.mu.Lock()
		ch := s.paused
		s.mu.Unlock()
		if ch == nil {
			return
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

// Run processes every file and returns the aggregate report. onEvent, when
// non-nil, observes each event; it is invoked from the collector goroutine.
// Cancellation honors the configured mode: drain lets in-flight files
// finish, kill terminates their processes.
func (s *Scheduler) Run(ctx context.Context, files []string, onEvent func(Event)) (*Report, error) {
	state := &model.BatchState{Total: len(files), StartedAt: time.Now()}
	report := &Report{State: state, FrameRates: make(map[string]int)}

	if s.journal != nil {
		id, err := s.journal.StartBatch(ctx, s.cfg.InputDir, s.cfg.Container, len(files))
		if err != nil {
			s.log.Warn("history disabled for this run", "error", err)
			s.journal = nil
		} else {
			report.BatchID = id
		}
	}

	events := make(chan Event, 128)
	collectorDone := make(chan struct{})
	go s.collect(ctx, events, report, onEvent, collectorDone)

	// In drain mode in-flight jobs keep running after cancellation; only
	// the intake loop observes ctx.
	jobCtx := ctx
	if s.cfg.CancelMode == model.CancelDrain {
		jobCtx = context.WithoutCancel(ctx)
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.WorkerCount())

	for i, path := range files {
		if ctx.Err() != nil {
			events <- FileFinished{Result: model.JobResult{
				Path:   path,
				Status: model.StatusCancelled,
				Stage:  "queue",
				Err:    ctx.Err(),
			}}
			continue
		}
		index, p := i+1, path
		g.Go(func() error {
			// Re-check at start: a worker slot may free up only after
			// cancellation, and drain must not admit new files then.
			if ctx.Err() != nil {
				events <- FileFinished{Result: model.JobResult{
					Path:   p,
					Status: model.StatusCancelled,
					Stage:  "queue",
					Err:    ctx.Err(),
				}}
				return nil
			}
			s.runFile(jobCtx, index, len(files), p, events)
			return nil
		})
	}
	g.Wait()

	state.FinishedAt = time.Now()
	events <- BatchFinished{State: state}
	close(events)
	<-collectorDone

	s.log.Info("batch finished",
		"done", state.Done, "skipped", state.Skipped,
		"failed", state.Failed, "cancelled", state.Cancelled,
		"elapsed", state.Elapsed().Round(time.Millisecond))

	return report, nil
}

// collect is the only goroutine that mutates batch state or writes history.
func (s *Scheduler) collect(ctx context.Context, events <-chan Event, report *Report, onEvent func(Event), done chan<- struct{}) {
	defer close(done)

	// Journal writes must survive cancellation so partial runs stay on
	// record.
	jctx := context.WithoutCancel(ctx)

	for ev := range events {
		switch e := ev.(type) {
		case FileProbed:
			if e.FPS > 0 {
				report.FrameRates[FormatRate(e.FPS)]++
			}
		case FileFinished:
			report.State.Record(e.Result)
			if s.journal != nil {
				if err := s.journal.RecordResult(jctx, report.BatchID, e.Result); err != nil {
					s.log.Warn("failed to record result", "path", e.Result.Path, "error", err)
				}
			}
		case BatchFinished:
			if s.journal != nil {
				if err := s.journal.FinishBatch(jctx, report.BatchID, e.State); err != nil {
					s.log.Warn("failed to finish batch record", "error", err)
				}
			}
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func (s *Scheduler) runFile(ctx context.Context, index, total int, path string, events chan<- Event) {
	start := time.Now()
	events <- FileStarted{Path: path, Index: index, Total: total}

	result := model.JobResult{Path: path}
	defer func() {
		result.Elapsed = time.Since(start)
		events <- FileFinished{Result: result}
	}()

	var job *model.RemuxJob
	s.gate(ctx)
	mf, err := s.stages.Probe(ctx, path)
	switch {
	case err == nil:
		events <- FileProbed{Path: path, FPS: mf.FPS(), Profile: mf.Profile}
		job, err = s.stages.Plan(s.cfg, mf)
		if err != nil {
			result.Status = model.StatusFailed
			result.Stage = "plan"
			result.Err = err
			return
		}
	case ctx.Err() != nil:
		result.Status = model.StatusCancelled
		result.Stage = "probe"
		result.Err = ctx.Err()
		return
	case !s.cfg.ValidateInputs:
		s.log.Warn("probe failed, remuxing without validation", "path", path, "error", err)
		job = plan.Passthrough(s.cfg, path)
	default:
		result.Status = model.StatusFailed
		result.Stage = "probe"
		result.Err = err
		return
	}

	onProgress := func(p ffmpeg.Progress) {
		events <- FileProgress{Path: path, Percent: p.Percent, Speed: p.Speed}
	}

	// The execute stage runs under its own cancellable context so Skip can
	// terminate this one process without touching the rest of the batch.
	execCtx, cancelExec := context.WithCancelCause(ctx)
	s.mu.Lock()
	s.executing[path] = cancelExec
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.executing, path)
		s.mu.Unlock()
		cancelExec(nil)
	}()

	var execErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			s.log.Warn("retrying remux", "path", path, "attempt", attempt)
		}
		s.gate(ctx)
		execErr = s.stages.Execute(execCtx, job, onProgress)
		if execErr == nil || errors.Is(execErr, ffmpeg.ErrOutputExists) || execCtx.Err() != nil {
			break
		}
	}

	result.OutputPath = job.OutputPath
	result.Stage = "execute"
	switch {
	case errors.Is(execErr, ffmpeg.ErrOutputExists):
		result.Status = model.StatusSkipped
	case execErr != nil && errors.Is(context.Cause(execCtx), errSkipRequested):
		s.log.Info("remux skipped on request", "path", path)
		result.Status = model.StatusSkipped
	case execErr != nil && ctx.Err() != nil:
		result.Status = model.StatusCancelled
		result.Err = ctx.Err()
	case execErr != nil:
		result.Status = model.StatusFailed
		result.Err = execErr
	default:
		result.Status = model.StatusDone
		result.BytesIn = job.File.Size
		if result.BytesIn == 0 {
			if in, err := os.Stat(path); err == nil {
				result.BytesIn = in.Size()
			}
		}
		if out, err := os.Stat(job.OutputPath); err == nil {
			result.BytesOut = out.Size()
		}
		// Post-action failures do not undo a committed remux. The result
		// stays successful but carries the error for the log and journal.
		if err := s.stages.Finish(job); err != nil {
			s.log.Warn("post-action failed, output kept", "path", path, "error", err)
			result.Stage = "lifecycle"
			result.Err = err
		}
	}
}

// FormatRate renders a frame rate the way scan summaries group them:
// three decimals with trailing zeros trimmed (23.976, 25, 29.97).
func FormatRate(fps float64) string {
	s := strconv.FormatFloat(fps, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// SortedRates returns histogram keys ordered by numeric value.
func SortedRates(rates map[string]int) []string {
	keys := make([]string, 0, len(rates))
	for k := range rates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseFloat(keys[i], 64)
		b, _ := strconv.ParseFloat(keys[j], 64)
		return a < b
	})
	return keys
}
