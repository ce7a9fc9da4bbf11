// Package audio turns speech recordings into transcripts. Stream properties
// come from ffprobe or the WAV header; the transcript, its confidence and the
// detected language come from a Transcriber.
package audio

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/retry"
)

// Request describes one recording to transcribe.
type Request struct {
	Path        string
	Name        string
	ContentType string
	Size        int64
	// Language is the declared BCP-47 language hint.
	Language string
}

// Transcript is a transcription result. SpeechDetected is false for
// recordings that contain no intelligible speech.
type Transcript struct {
	Text           string
	Confidence     float64
	Language       string
	SpeechDetected bool
}

// Transcriber converts a recording into a Transcript. Failures should be
// classified with the failure package so transient ones can be retried.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}

// Options configures a Handler.
type Options struct {
	// Method is recorded as the extraction method, e.g. "gemini".
	Method   string
	Language string
	Retry    retry.Policy
	// Probe overrides stream inspection; nil selects ProbeFile.
	Probe func(ctx context.Context, path string) (*Info, error)
}

// Handler is the audio format handler.
type Handler struct {
	transcriber Transcriber
	opts        Options
}

// New returns a Handler backed by t.
func New(t Transcriber, opts Options) *Handler {
	if opts.Method == "" {
		opts.Method = "transcription"
	}
	if opts.Probe == nil {
		opts.Probe = ProbeFile
	}
	return &Handler{transcriber: t, opts: opts}
}

// Extract transcribes the payload. A recording without speech yields an
// empty transcript and a warning.
func (h *Handler) Extract(ctx context.Context, p extract.Payload) (*extract.Result, error) {
	res := &extract.Result{Method: h.opts.Method}

	info, err := h.opts.Probe(ctx, p.Path)
	if err != nil {
		log.Debug().Err(err).Str("name", p.Name).Msg("Audio probe unavailable")
	}
	if info != nil {
		if info.DurationSeconds > 0 {
			res.Metrics.DurationSeconds = extract.FloatPtr(info.DurationSeconds)
		}
		if info.SampleRate > 0 {
			res.Metrics.SampleRate = extract.IntPtr(info.SampleRate)
		}
		if info.Channels > 0 {
			res.Metrics.Channels = extract.IntPtr(info.Channels)
		}
		if info.Silent {
			res.Metrics.Language = h.opts.Language
			res.Metrics.Confidence = extract.FloatPtr(0)
			res.Warnings = append(res.Warnings, "no speech detected: recording is silent")
			return res, nil
		}
	}

	req := Request{Path: p.Path, Name: p.Name, ContentType: p.ContentType, Size: p.Size, Language: h.opts.Language}
	var tr *Transcript
	err = retry.Do(ctx, "transcribe", h.opts.Retry, func(ctx context.Context) error {
		var err error
		tr, err = h.transcriber.Transcribe(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, failure.New(failure.KindInternalFault, p.Name, "transcriber returned no result")
	}

	lang := tr.Language
	if lang == "" {
		lang = h.opts.Language
	}
	res.Metrics.Language = lang
	res.Metrics.Confidence = extract.FloatPtr(clamp01(tr.Confidence))

	if !tr.SpeechDetected || tr.Text == "" {
		res.Warnings = append(res.Warnings, "no speech detected")
		return res, nil
	}
	res.Text = tr.Text
	if tr.Confidence > 0 && tr.Confidence < 0.5 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("low transcription confidence %.2f", tr.Confidence))
	}
	return res, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
