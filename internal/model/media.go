package model

import (
	"strconv"
	"strings"
	"time"
)

// Container is the output container format.
type Container string

const (
	ContainerMP4 Container = "mp4"
	ContainerMOV Container = "mov"
)

// FrameRateProfile classifies how stable a file's video frame rate is.
type FrameRateProfile string

const (
	FrameRateConstant FrameRateProfile = "cfr"
	FrameRateVariable FrameRateProfile = "vfr"
	FrameRateUnknown  FrameRateProfile = "unknown"
)

// StreamType identifies the kind of a media stream.
type StreamType string

const (
	StreamVideo    StreamType = "video"
	StreamAudio    StreamType = "audio"
	StreamSubtitle StreamType = "subtitle"
)

// Stream describes a single stream inside a container.
type Stream struct {
	Index    int
	Type     StreamType
	Codec    string
	Channels int    // Audio only
	Language string // From stream tags, "" if untagged
	Default  bool
}

// MediaFile is an immutable snapshot of a probed input file.
type MediaFile struct {
	Path      string
	Container string // ffprobe format_name, e.g. "matroska,webm"
	Size      int64
	Duration  float64 // Seconds
	ModTime   time.Time

	VideoCodec    string
	AvgFrameRate  string // Fraction as reported, e.g. "24000/1001"
	RealFrameRate string
	Profile       FrameRateProfile

	Streams []Stream

	ProbedAt time.Time
}

// FPS returns the average frame rate as a float, or 0 if unparseable.
func (m *MediaFile) FPS() float64 {
	return ParseRate(m.AvgFrameRate)
}

// AudioStreams returns only the audio streams.
func (m *MediaFile) AudioStreams() []Stream {
	var out []Stream
	for _, s := range m.Streams {
		if s.Type == StreamAudio {
			out = append(out, s)
		}
	}
	return out
}

// Stale reports whether the snapshot is older than maxAge and should be
// re-probed before planning.
func (m *MediaFile) Stale(maxAge time.Duration) bool {
	return time.Since(m.ProbedAt) > maxAge
}

// ParseRate converts an ffprobe rate fraction ("24000/1001", "25/1", "25")
// to frames per second. Returns 0 for empty, malformed, or "0/0" input.
func ParseRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if rate == "" || rate == "0/0" {
		return 0
	}
	if num, den, ok := strings.Cut(rate, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0
	}
	return f
}
