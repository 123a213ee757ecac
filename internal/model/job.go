package model

import "time"

// AudioPolicy controls which audio streams are carried into the output.
type AudioPolicy string

const (
	AudioAll  AudioPolicy = "all"
	AudioNone AudioPolicy = "none"
)

// CFRPolicy controls when the frame-rate normalization pass is applied.
type CFRPolicy string

const (
	CFRAuto CFRPolicy = "auto" // Only when the input is detected as VFR
	CFROn   CFRPolicy = "on"
	CFROff  CFRPolicy = "off"
)

// PostAction is what happens to the original file after a successful remux.
type PostAction string

const (
	PostKeep   PostAction = "keep"
	PostMove   PostAction = "move"
	PostDelete PostAction = "delete"
)

// CancelMode controls how a batch reacts to cancellation.
type CancelMode string

const (
	// CancelDrain stops picking up new files but lets in-flight jobs finish.
	CancelDrain CancelMode = "drain"
	// CancelKill terminates in-flight external processes immediately.
	CancelKill CancelMode = "kill"
)

// RemuxJob is the fully resolved work order for one file. Built by the
// planner, consumed by the executor and the lifecycle step.
type RemuxJob struct {
	File *MediaFile

	Target     Container
	OutputPath string

	Audio   AudioPolicy
	CFRFix  bool
	// Timescale is the -video_track_timescale value applied when CFRFix
	// is set. Derived from the probed average frame rate.
	Timescale int

	PreserveTimestamps bool
	Overwrite          bool
	PostAction         PostAction
	MoveSubdir         string
}

// JobStatus is the terminal state of one file's pipeline run.
type JobStatus string

const (
	StatusDone      JobStatus = "done"
	StatusSkipped   JobStatus = "skipped"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// JobResult records the outcome of one file. Never mutated after creation.
type JobResult struct {
	Path       string
	OutputPath string
	Status     JobStatus
	Err        error
	Stage      string // Pipeline stage that produced the outcome
	Elapsed    time.Duration
	BytesIn    int64
	BytesOut   int64
}

// Success reports whether the remux completed and the output is committed.
func (r *JobResult) Success() bool {
	return r.Status == StatusDone
}

// BatchState aggregates results for one batch run. Owned by the scheduler's
// collector goroutine; workers never touch it directly.
type BatchState struct {
	Total     int
	Done      int
	Skipped   int
	Failed    int
	Cancelled int

	BytesIn  int64
	BytesOut int64

	StartedAt  time.Time
	FinishedAt time.Time

	Results []JobResult
}

// Pending returns the number of files not yet accounted for.
func (b *BatchState) Pending() int {
	return b.Total - b.Done - b.Skipped - b.Failed - b.Cancelled
}

// Record folds one result into the aggregate counters.
func (b *BatchState) Record(r JobResult) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case StatusDone:
		b.Done++
		b.BytesIn += r.BytesIn
		b.BytesOut += r.BytesOut
	case StatusSkipped:
		b.Skipped++
	case StatusCancelled:
		b.Cancelled++
	default:
		b.Failed++
	}
}

// Elapsed returns the batch wall-clock duration.
func (b *BatchState) Elapsed() time.Duration {
	end := b.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(b.StartedAt)
}
