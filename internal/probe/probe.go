// Package probe inspects input files with ffprobe and produces immutable
// MediaFile snapshots. One JSON invocation per file replaces the several
// separate ffprobe calls the legacy tool made.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/notstpa/smartremux/internal/model"
)

// Error is a probe failure for a single file.
type Error struct {
	Path   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("probe %s: %v: %s", e.Path, e.Err, e.Stderr)
	}
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoVideoStream marks files without a usable video stream.
var ErrNoVideoStream = errors.New("no video stream")

// Prober runs ffprobe against input files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	// execCommand allows injection of command execution for testing
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates a Prober. If ffprobePath is empty, "ffprobe" from PATH is used.
func New(ffprobePath string, timeout time.Duration) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     timeout,
		execCommand: exec.CommandContext,
	}
}

// Probe runs a single ffprobe JSON call against path and returns the parsed
// snapshot. A hung ffprobe is killed after the configured timeout and
// reported as a probe error.
func (p *Prober) Probe(ctx context.Context, path string) (*model.MediaFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := p.execCommand(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{Path: path, Err: fmt.Errorf("ffprobe timed out after %s", p.timeout)}
		}
		return nil, &Error{Path: path, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}

	mf, err := ParseJSON(out)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	mf.Path = path
	mf.Size = fi.Size()
	mf.ModTime = fi.ModTime()
	mf.ProbedAt = time.Now()
	return mf, nil
}

// ParseJSON converts raw ffprobe JSON output into a MediaFile snapshot.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*model.MediaFile, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	return buildMediaFile(&raw)
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Channels     int               `json:"channels"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	Disposition  map[string]int    `json:"disposition"`
	Tags         map[string]string `json:"tags"`
}

// --- Conversion from wire types to the domain snapshot ---

func buildMediaFile(raw *ffprobeOutput) (*model.MediaFile, error) {
	mf := &model.MediaFile{
		Container: raw.Format.FormatName,
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(raw.Format.Duration), 64); err == nil {
		mf.Duration = d
	}

	var video *ffprobeStream
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if s.Disposition["attached_pic"] == 1 {
				continue
			}
			if video == nil {
				video = s
			}
			mf.Streams = append(mf.Streams, convertStream(s, model.StreamVideo))
		case "audio":
			mf.Streams = append(mf.Streams, convertStream(s, model.StreamAudio))
		case "subtitle":
			mf.Streams = append(mf.Streams, convertStream(s, model.StreamSubtitle))
		}
	}

	if video == nil {
		return nil, ErrNoVideoStream
	}

	mf.VideoCodec = video.CodecName
	mf.AvgFrameRate = video.AvgFrameRate
	mf.RealFrameRate = video.RFrameRate
	mf.Profile = classifyFrameRate(video.AvgFrameRate, video.RFrameRate)
	return mf, nil
}

func convertStream(s *ffprobeStream, t model.StreamType) model.Stream {
	return model.Stream{
		Index:    s.Index,
		Type:     t,
		Codec:    s.CodecName,
		Channels: s.Channels,
		Language: s.Tags["language"],
		Default:  s.Disposition["default"] == 1,
	}
}

// frameRateTolerance absorbs rounding differences between the average and
// container frame rates of files that are effectively constant-rate.
const frameRateTolerance = 0.01

// classifyFrameRate compares the stream's average frame rate against the
// container-declared rate. A meaningful mismatch indicates variable frame
// rate footage needing the normalization pass.
func classifyFrameRate(avg, real string) model.FrameRateProfile {
	avgFPS := model.ParseRate(avg)
	realFPS := model.ParseRate(real)

	if avgFPS == 0 && realFPS == 0 {
		return model.FrameRateUnknown
	}
	if avgFPS == 0 || realFPS == 0 {
		return model.FrameRateVariable
	}
	if math.Abs(avgFPS-realFPS) <= frameRateTolerance {
		return model.FrameRateConstant
	}
	return model.FrameRateVariable
}
