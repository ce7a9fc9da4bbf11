package main

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/text-extract-pipeline/internal/config"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/notify"
	"github.com/fpang/text-extract-pipeline/internal/pipeline"
	"github.com/fpang/text-extract-pipeline/internal/sink"
	"github.com/fpang/text-extract-pipeline/internal/source"
	"github.com/fpang/text-extract-pipeline/internal/trigger"
)

// errNotAccepted makes the process exit non-zero when any object asked for
// redelivery.
var errNotAccepted = errors.New("one or more objects failed and would be redelivered")

type processSummary struct {
	EventID  string   `json:"event_id"`
	Object   string   `json:"object"`
	Outcome  string   `json:"outcome"`
	Category string   `json:"category,omitempty"`
	Outputs  []string `json:"outputs,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	d, err := dispatcher(cfg)
	if err != nil {
		return err
	}
	svc := newLocalService(cfg, d, rootFlag, outFlag)

	evs := make([]trigger.Event, 0, len(args))
	for _, key := range args {
		evs = append(evs, trigger.Event{
			ID:              uuid.NewString(),
			Bucket:          bucketFlag,
			Name:            key,
			ContentType:     contentTypeFlag,
			Source:          trigger.SourceStorage,
			DeliveryAttempt: 1,
		})
	}

	results := svc.HandleBatch(cmd.Context(), evs)
	svc.Wait()

	summaries := make([]processSummary, 0, len(results))
	failed := false
	for _, res := range results {
		s := processSummary{
			EventID:  res.Event.ID,
			Object:   res.Event.Name,
			Outcome:  res.Outcome.String(),
			Category: string(res.Category),
			Outputs:  res.Outputs,
			Warnings: res.Warnings,
		}
		if res.Err != nil {
			s.Error = res.Err.Error()
		}
		if res.Outcome == pipeline.Retryable {
			failed = true
		}
		summaries = append(summaries, s)
	}
	if err := printJSON(cmd.OutOrStdout(), summaries); err != nil {
		return err
	}
	if failed {
		return errNotAccepted
	}
	return nil
}

// newLocalService wires the pipeline to the filesystem. Status reports go to
// the log only.
func newLocalService(cfg config.Config, d *extract.Dispatcher, root, out string) *pipeline.Service {
	if out == "" {
		out = root
	}
	log.Debug().Str("root", root).Str("out", out).Msg("Using local source and sink")
	return pipeline.New(cfg, pipeline.Deps{
		Source:     source.NewLocalSource(root),
		Sink:       sink.NewFileSink(out, cfg.ChunkSize),
		Dispatcher: d,
		Notifier:   notify.Nop{},
	})
}
