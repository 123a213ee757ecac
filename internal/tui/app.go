// Package tui renders live batch progress with bubbletea. The scheduler's
// events are forwarded into the program as messages; the model never
// reaches back into the pipeline except to cancel it.
package tui

import (
	"context"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/notstpa/smartremux/internal/batch"
	"github.com/notstpa/smartremux/internal/model"
)

// maxRecent bounds the finished-file log kept on screen.
const maxRecent = 8

// EventMsg wraps a scheduler event for the bubbletea loop.
type EventMsg struct {
	Event batch.Event
}

// Controller is the scheduler surface the dashboard drives.
type Controller interface {
	Pause()
	Resume()
	Skip(path string)
}

type fileProgress struct {
	percent float64
	speed   string
}

// App is the batch progress dashboard.
type App struct {
	cancel context.CancelFunc
	ctrl   Controller

	total     int
	done      int
	skipped   int
	failed    int
	cancelled int

	// Files currently in flight, in start order.
	active   []string
	progress map[string]fileProgress

	recent []string

	finished   bool
	cancelling bool
	paused     bool
	width      int
}

// NewApp creates the dashboard model. cancel is invoked on q or ctrl+c;
// ctrl, when non-nil, backs the pause and skip keys.
func NewApp(total int, cancel context.CancelFunc, ctrl Controller) *App {
	return &App{
		cancel:   cancel,
		ctrl:     ctrl,
		total:    total,
		progress: make(map[string]fileProgress),
		width:    80,
	}
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if a.finished {
				return a, tea.Quit
			}
			if !a.cancelling {
				a.cancelling = true
				// A paused batch must be released or drain-mode
				// cancellation would never finish.
				if a.paused && a.ctrl != nil {
					a.paused = false
					a.ctrl.Resume()
				}
				a.cancel()
			}
			return a, nil

		case "p":
			if a.finished || a.cancelling || a.ctrl == nil {
				return a, nil
			}
			if a.paused {
				a.ctrl.Resume()
			} else {
				a.ctrl.Pause()
			}
			a.paused = !a.paused
			return a, nil

		case "s":
			if !a.finished && !a.cancelling && a.ctrl != nil && len(a.active) > 0 {
				a.ctrl.Skip(a.active[0])
			}
			return a, nil
		}
		return a, nil

	case tea.WindowSizeMsg:
		a.width = msg.Width
		return a, nil

	case EventMsg:
		return a.handleEvent(msg.Event)
	}

	return a, nil
}

func (a *App) handleEvent(ev batch.Event) (tea.Model, tea.Cmd) {
	switch e := ev.(type) {
	case batch.FileStarted:
		a.active = append(a.active, e.Path)
		a.progress[e.Path] = fileProgress{}

	case batch.FileProgress:
		if _, ok := a.progress[e.Path]; ok {
			a.progress[e.Path] = fileProgress{percent: e.Percent, speed: e.Speed}
		}

	case batch.FileFinished:
		a.recordResult(e.Result)

	case batch.BatchFinished:
		a.finished = true
		return a, tea.Quit
	}

	return a, nil
}

func (a *App) recordResult(r model.JobResult) {
	for i, p := range a.active {
		if p == r.Path {
			a.active = append(a.active[:i], a.active[i+1:]...)
			break
		}
	}
	delete(a.progress, r.Path)

	switch r.Status {
	case model.StatusDone:
		a.done++
	case model.StatusSkipped:
		a.skipped++
	case model.StatusCancelled:
		a.cancelled++
	default:
		a.failed++
	}

	line := fmt.Sprintf("%s %s", StatusIcon(r.Status), filepath.Base(r.Path))
	if r.Err != nil && r.Status != model.StatusCancelled {
		line += fmt.Sprintf("  %v", r.Err)
	}
	a.recent = append(a.recent, line)
	if len(a.recent) > maxRecent {
		a.recent = a.recent[len(a.recent)-maxRecent:]
	}
}

// completed returns how many files reached a terminal state.
func (a *App) completed() int {
	return a.done + a.skipped + a.failed + a.cancelled
}

// View implements tea.Model
func (a *App) View() string {
	s := titleStyle.Render("SmartRemux") + "\n"

	if a.cancelling && !a.finished {
		s += cancellingStyle.Render("Cancelling...") + "\n"
	} else if a.paused {
		s += pausedStyle.Render("Paused") + "\n"
	}

	barWidth := a.width - 40
	if barWidth < 10 {
		barWidth = 10
	}
	for _, path := range a.active {
		p := a.progress[path]
		line := fmt.Sprintf("%s %s %5.1f%%",
			fileStyle.Render(truncate(filepath.Base(path), 24)),
			RenderBar(p.percent, barWidth),
			p.percent)
		if p.speed != "" {
			line += " " + speedStyle.Render(p.speed)
		}
		s += line + "\n"
	}

	for _, line := range a.recent {
		s += line + "\n"
	}

	s += counterStyle.Render(fmt.Sprintf(
		"%d/%d files  •  %d remuxed  %d skipped  %d failed  %d cancelled",
		a.completed(), a.total, a.done, a.skipped, a.failed, a.cancelled)) + "\n"

	if !a.finished {
		help := "q: cancel"
		if a.ctrl != nil {
			pause := "p: pause"
			if a.paused {
				pause = "p: resume"
			}
			help = pause + "  s: skip  " + help
		}
		s += helpStyle.Render(help) + "\n"
	}

	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
