package pipeline

import (
	"fmt"

	"github.com/fpang/text-extract-pipeline/internal/archive"
	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/config"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/extract/audio"
	"github.com/fpang/text-extract-pipeline/internal/extract/document"
	"github.com/fpang/text-extract-pipeline/internal/extract/plaintext"
	"github.com/fpang/text-extract-pipeline/internal/retry"
)

// NewDispatcher wires the format handlers and the archive unpacker for cfg.
// Audio is only routed when a transcriber is supplied; without one audio
// payloads are rejected as unsupported.
func NewDispatcher(cfg config.Config, transcriber audio.Transcriber) (*extract.Dispatcher, error) {
	classifier, err := category.New(cfg.CategoryRules)
	if err != nil {
		return nil, fmt.Errorf("category rules: %w", err)
	}
	text, err := plaintext.New(cfg.LegacyEncoding)
	if err != nil {
		return nil, err
	}

	handlers := map[category.Category]extract.Handler{
		category.Text:     text,
		category.Document: document.New(cfg.Archive.MaxEntryBytes),
	}
	if transcriber != nil {
		handlers[category.Audio] = audio.New(transcriber, audio.Options{
			Method:   "gemini",
			Language: cfg.TranscribeLang,
			Retry: retry.Policy{
				Attempts: cfg.Retry.Attempts,
				Delay:    cfg.Retry.Delay,
				Timeout:  cfg.Timeouts.Transcribe,
			},
		})
	}
	return extract.NewDispatcher(classifier, handlers, archive.New(cfg.Archive, cfg.WorkDir)), nil
}
