// Package lifecycle handles the original file after a successful remux:
// timestamp carry-over and the configured post-action. It must only ever
// be invoked for committed outputs; a failed job leaves the original
// untouched.
package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/notstpa/smartremux/internal/model"
)

// Error is a post-action failure. The remuxed output is already committed
// when this is raised, so it is reported but never rolls anything back.
type Error struct {
	Path   string
	Action model.PostAction
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("post-action %s for %s: %v", e.Action, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Apply runs the configured post-conversion handling for one successful
// job: optionally stamps the output with the source's times, then moves,
// keeps, or deletes the original.
func Apply(job *model.RemuxJob) error {
	if job.PreserveTimestamps {
		if err := copyTimes(job); err != nil {
			// Timestamp carry-over is best effort; the post-action still runs.
			return runPostAction(job, err)
		}
	}
	return runPostAction(job, nil)
}

func runPostAction(job *model.RemuxJob, timesErr error) error {
	var err error
	switch job.PostAction {
	case model.PostMove:
		err = moveOriginal(job)
	case model.PostDelete:
		err = os.Remove(job.File.Path)
	case model.PostKeep:
		// Nothing to do.
	}

	if err != nil {
		return &Error{Path: job.File.Path, Action: job.PostAction, Err: err}
	}
	if timesErr != nil {
		return &Error{Path: job.File.Path, Action: job.PostAction,
			Err: fmt.Errorf("failed to preserve timestamps: %w", timesErr)}
	}
	return nil
}

// moveOriginal relocates the source into a subfolder of its own directory,
// creating it on demand. The subfolder always hangs off the source
// directory, never the output directory.
func moveOriginal(job *model.RemuxJob) error {
	src := job.File.Path
	subdir := filepath.Join(filepath.Dir(src), job.MoveSubdir)
	if err := os.MkdirAll(subdir, 0755); err != nil {
		return fmt.Errorf("failed to create subfolder: %w", err)
	}
	return os.Rename(src, filepath.Join(subdir, filepath.Base(src)))
}

// copyTimes stamps the committed output with the source's modification
// time so the remuxed file sorts like the original.
func copyTimes(job *model.RemuxJob) error {
	fi, err := os.Stat(job.File.Path)
	if err != nil {
		return err
	}
	return os.Chtimes(job.OutputPath, fi.ModTime(), fi.ModTime())
}
