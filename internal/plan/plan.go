// Package plan turns a probed snapshot plus batch options into a concrete
// remux job, rejecting inputs that cannot be stream-copied into the
// requested container.
package plan

import (
	"fmt"
	"math"

	"github.com/notstpa/smartremux/internal/config"
	"github.com/notstpa/smartremux/internal/model"
)

// Error is a planning failure: the input is structurally incompatible
// with the requested output without re-encoding.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("plan %s: %s", e.Path, e.Reason)
}

// Codecs that the mp4/mov muxers accept via stream copy. Anything outside
// these sets would need a re-encode, which is out of contract.
var videoCodecs = map[model.Container]map[string]bool{
	model.ContainerMP4: {
		"h264": true, "hevc": true, "mpeg4": true, "av1": true, "mpeg2video": true, "vp9": true,
	},
	model.ContainerMOV: {
		"h264": true, "hevc": true, "mpeg4": true, "mpeg2video": true,
		"prores": true, "mjpeg": true, "dnxhd": true,
	},
}

var audioCodecs = map[model.Container]map[string]bool{
	model.ContainerMP4: {
		"aac": true, "mp3": true, "ac3": true, "eac3": true, "alac": true,
		"flac": true, "opus": true,
	},
	model.ContainerMOV: {
		"aac": true, "mp3": true, "ac3": true, "eac3": true, "alac": true,
		"pcm_s16le": true, "pcm_s24le": true,
	},
}

// Build computes the remux job for one probed file. The CFR normalization
// pass is attached per policy: "auto" applies it only to files detected as
// variable frame rate.
func Build(cfg *config.Config, mf *model.MediaFile) (*model.RemuxJob, error) {
	if !videoCodecs[cfg.Container][mf.VideoCodec] {
		return nil, &Error{
			Path:   mf.Path,
			Reason: fmt.Sprintf("video codec %q cannot be copied into %s", mf.VideoCodec, cfg.Container),
		}
	}

	if cfg.Audio == model.AudioAll {
		for _, s := range mf.AudioStreams() {
			if !audioCodecs[cfg.Container][s.Codec] {
				return nil, &Error{
					Path:   mf.Path,
					Reason: fmt.Sprintf("audio codec %q (stream %d) cannot be copied into %s", s.Codec, s.Index, cfg.Container),
				}
			}
		}
	}

	job := &model.RemuxJob{
		File:               mf,
		Target:             cfg.Container,
		OutputPath:         cfg.OutputFor(mf.Path),
		Audio:              cfg.Audio,
		PreserveTimestamps: cfg.PreserveTimestamps,
		Overwrite:          cfg.Overwrite,
		PostAction:         cfg.PostAction,
		MoveSubdir:         cfg.MoveSubdir,
	}

	if needsCFRFix(cfg.CFR, mf.Profile) {
		ts := timescaleFor(mf)
		if ts == 0 {
			return nil, &Error{
				Path:   mf.Path,
				Reason: "frame-rate normalization requested but no usable frame rate was probed",
			}
		}
		job.CFRFix = true
		job.Timescale = ts
	}

	return job, nil
}

// Passthrough builds a job for a file that was never successfully probed,
// used when validation is disabled. No codec gating and no frame-rate fix;
// the remux itself will surface any real incompatibility.
func Passthrough(cfg *config.Config, path string) *model.RemuxJob {
	return &model.RemuxJob{
		File:               &model.MediaFile{Path: path},
		Target:             cfg.Container,
		OutputPath:         cfg.OutputFor(path),
		Audio:              cfg.Audio,
		PreserveTimestamps: cfg.PreserveTimestamps,
		Overwrite:          cfg.Overwrite,
		PostAction:         cfg.PostAction,
		MoveSubdir:         cfg.MoveSubdir,
	}
}

func needsCFRFix(policy model.CFRPolicy, profile model.FrameRateProfile) bool {
	switch policy {
	case model.CFROn:
		return true
	case model.CFRAuto:
		return profile == model.FrameRateVariable
	default:
		return false
	}
}

// timescaleFor picks the track timescale used to regularize timestamps.
// Fractional NTSC rates are rounded to the nearest integer so the
// timescale stays integral (23.976 -> 24, 29.97 -> 30).
func timescaleFor(mf *model.MediaFile) int {
	fps := mf.FPS()
	if fps == 0 {
		fps = model.ParseRate(mf.RealFrameRate)
	}
	if fps <= 0 {
		return 0
	}
	return int(math.Round(fps))
}
