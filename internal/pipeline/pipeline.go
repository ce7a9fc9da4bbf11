// Package pipeline runs one inbound event through parsing, classification,
// extraction, envelope building and the sink, and decides whether the
// trigger should redeliver it.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/config"
	"github.com/fpang/text-extract-pipeline/internal/envelope"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/identity"
	"github.com/fpang/text-extract-pipeline/internal/metrics"
	"github.com/fpang/text-extract-pipeline/internal/notify"
	"github.com/fpang/text-extract-pipeline/internal/retry"
	"github.com/fpang/text-extract-pipeline/internal/sink"
	"github.com/fpang/text-extract-pipeline/internal/source"
	"github.com/fpang/text-extract-pipeline/internal/trigger"
)

// Stage names used in logs, status reports and metrics.
const (
	StageParse    = "parse"
	StageClassify = "classify"
	StageDownload = "download"
	StageExtract  = "extract"
	StageEnvelope = "envelope"
	StageSink     = "sink"
	StageDone     = "done"
)

// Result describes how one event was handled.
type Result struct {
	Event    trigger.Event
	Identity identity.Identity
	Category category.Category
	Outcome  Outcome
	// Stage is the last stage reached.
	Stage    string
	Outputs  []string
	Warnings []string
	Err      *failure.Error
	Duration time.Duration

	SourceBytes  int64
	BytesWritten int64
}

// Deps are the collaborators of a Service.
type Deps struct {
	Source     source.Source
	Sink       sink.Sink
	Dispatcher *extract.Dispatcher
	// Notifier is optional.
	Notifier notify.Notifier
}

// Service processes inbound events.
type Service struct {
	cfg        config.Config
	parser     *identity.Parser
	source     source.Source
	sink       sink.Sink
	dispatcher *extract.Dispatcher
	notifier   *notify.Async
	now        func() time.Time
}

// New builds a Service from a validated configuration.
func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:        cfg,
		parser:     identity.NewParser(cfg.SourcePrefix),
		source:     deps.Source,
		sink:       deps.Sink,
		dispatcher: deps.Dispatcher,
		notifier:   notify.NewAsync(deps.Notifier, cfg.Timeouts.Notify),
		now:        time.Now,
	}
}

// Wait blocks until in-flight status notifications finish.
func (s *Service) Wait() {
	s.notifier.Wait()
}

func (s *Service) policy(timeout time.Duration) retry.Policy {
	return retry.Policy{Attempts: s.cfg.Retry.Attempts, Delay: s.cfg.Retry.Delay, Timeout: timeout}
}

// Process handles one event end to end. It never returns an error: every
// failure is folded into the Result's outcome.
func (s *Service) Process(ctx context.Context, ev trigger.Event) (res Result) {
	start := s.now()
	res = Result{Event: ev, Stage: StageParse}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("panic", fmt.Sprint(rec)).
				Str("stack", string(debug.Stack())).
				Str("object", ev.Name).
				Msg("Panic while processing event")
			res.Err = failure.New(failure.KindInternalFault, ev.Name, fmt.Sprintf("panic: %v", rec))
			res.Outputs, res.BytesWritten = nil, 0
		}
		res.Duration = s.now().Sub(start)
		s.finish(ctx, &res)
	}()

	if err := s.run(ctx, ev, &res); err != nil {
		res.Err = failure.Classify(err, ev.Name)
		res.Outputs, res.BytesWritten = nil, 0
	}
	return res
}

func (s *Service) run(ctx context.Context, ev trigger.Event, res *Result) error {
	id, err := s.parser.Parse(ev.Name)
	if err != nil {
		return err
	}
	res.Identity = id

	res.Stage = StageClassify
	payload := s.dispatcher.Classify(extract.Payload{
		FileID:      id.FileID,
		Name:        id.OriginalFilename,
		ContentType: ev.ContentType,
		Size:        ev.Size,
	})
	res.Category = payload.Category
	// Without a declared type the stored object's metadata may still
	// identify the format, so the decision waits for the download.
	if payload.Category == category.Unsupported && ev.ContentType != "" {
		return unsupported(payload)
	}

	workDir, err := os.MkdirTemp(s.cfg.WorkDir, "invocation-*")
	if err != nil {
		return failure.Wrap(failure.KindInternalFault, ev.Name, "create working directory", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("Failed to remove working directory")
		}
	}()

	res.Stage = StageDownload
	var obj *source.Object
	err = retry.Do(ctx, "download", s.policy(s.cfg.Timeouts.Download), func(ctx context.Context) error {
		var ferr error
		obj, ferr = s.source.Fetch(ctx, ev.Bucket, ev.Name, workDir, s.cfg.MaxSourceBytes)
		return ferr
	})
	if err != nil {
		return err
	}

	payload.Path = obj.Path
	payload.Size = obj.Size
	res.SourceBytes = obj.Size
	if category.IsGeneric(ev.ContentType) && !category.IsGeneric(obj.ContentType) {
		payload.ContentType = obj.ContentType
		payload = s.dispatcher.Classify(payload)
		res.Category = payload.Category
	}
	if payload.Category == category.Unsupported {
		return unsupported(payload)
	}

	res.Stage = StageExtract
	batch, err := s.dispatcher.Dispatch(ctx, payload, 0)
	if err != nil {
		return err
	}
	res.Warnings = batch.Warnings
	if err := s.checkCeilings(ev.Name, batch); err != nil {
		return err
	}

	res.Stage = StageEnvelope
	writes, err := s.envelopes(ev, id, payload, batch)
	if err != nil {
		return err
	}

	res.Stage = StageSink
	for _, w := range writes {
		var loc string
		err := retry.Do(ctx, "sink write", s.policy(s.cfg.Timeouts.Upload), func(ctx context.Context) error {
			var werr error
			loc, werr = s.sink.Write(ctx, w.dst, w.env, w.text)
			return werr
		})
		if err != nil {
			return err
		}
		res.Outputs = append(res.Outputs, loc)
		res.BytesWritten += int64(len(w.text))
	}
	res.Stage = StageDone
	return nil
}

func unsupported(p extract.Payload) error {
	return failure.Newf(failure.KindUnsupportedCategory, p.Name, "content type %q is not supported", p.ContentType)
}

// checkCeilings enforces the per-request unit and output size limits
// before anything is written.
func (s *Service) checkCeilings(name string, b *extract.Batch) error {
	if len(b.Units) > s.cfg.MaxUnits {
		return failure.Newf(failure.KindCeilingExceeded, name,
			"%d extracted units exceed the maximum of %d", len(b.Units), s.cfg.MaxUnits)
	}
	var total int64
	for _, u := range b.Units {
		total += int64(len(u.Text))
	}
	if total > s.cfg.MaxOutputBytes {
		return failure.Newf(failure.KindCeilingExceeded, name,
			"%d bytes of extracted text exceed the maximum of %d", total, s.cfg.MaxOutputBytes)
	}
	return nil
}

type write struct {
	dst  sink.Destination
	env  *envelope.Envelope
	text string
}

// envelopes builds and validates every envelope up front so that a bad
// one rejects the event before the first write.
func (s *Service) envelopes(ev trigger.Event, id identity.Identity, p extract.Payload, b *extract.Batch) ([]write, error) {
	bucket := s.cfg.OutputBucket
	if bucket == "" {
		bucket = ev.Bucket
	}
	original := envelope.Original{
		Filename:    id.OriginalFilename,
		ContentType: p.ContentType,
		SizeBytes:   p.Size,
		Bucket:      ev.Bucket,
		ObjectPath:  ev.Name,
	}
	if !ev.Time.IsZero() {
		original.UploadedAt = ev.Time.UTC().Format(time.RFC3339)
	}

	writes := make([]write, 0, len(b.Units))
	for _, u := range b.Units {
		dst := sink.Destination{
			Bucket: bucket,
			Key:    sink.OutputName(s.cfg.OutputPrefix, id.FileID, u.SequenceIndex, b.Archive),
		}
		d := envelope.Descriptor{
			TextURI:    s.sink.URI(dst),
			EventID:    ev.ID,
			Category:   u.Category,
			Method:     u.Method,
			At:         u.ExtractedAt,
			Duration:   u.Duration,
			Warnings:   u.Warnings,
			TextLength: len(u.Text),
		}
		if b.Archive {
			d.Archive = &envelope.Archive{EntryName: u.EntryName, SequenceIndex: u.SequenceIndex, Depth: u.Depth}
		}
		env, err := envelope.Build(id, original, d, u.Metrics)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write{dst: dst, env: env, text: u.Text})
	}
	return writes, nil
}

// finish decides the outcome, logs it, records metrics and fires the
// status notification.
func (s *Service) finish(ctx context.Context, res *Result) {
	outcome, status := decide(res.Err, res.Event.DeliveryAttempt)
	res.Outcome = outcome

	switch {
	case res.Err == nil:
		log.Info().
			Str("object", res.Event.Name).
			Str("fileId", res.Identity.FileID).
			Str("category", string(res.Category)).
			Int("units", len(res.Outputs)).
			Int("warnings", len(res.Warnings)).
			Dur("took", res.Duration).
			Msg("Event processed")
	case outcome == Accepted:
		log.Warn().
			Str("kind", res.Err.Kind.String()).
			Str("reason", res.Err.Reason).
			Str("identifier", res.Err.Identifier).
			Str("stage", res.Stage).
			Int("deliveryAttempt", res.Event.DeliveryAttempt).
			Msg("Event rejected permanently, not redelivering")
	default:
		log.Error().Err(res.Err).
			Str("object", res.Event.Name).
			Str("stage", res.Stage).
			Int("deliveryAttempt", res.Event.DeliveryAttempt).
			Dur("took", res.Duration).
			Msg("Event failed, requesting redelivery")
	}

	rec := metrics.New(metrics.Namespace).
		Dimension("Operation", "Process").
		Dimension("Outcome", outcome.String()).
		Dimension("Category", string(res.Category)).
		Duration("ProcessingMs", res.Duration).
		Metric("UnitsWritten", float64(len(res.Outputs)), metrics.UnitCount).
		Metric("BytesWritten", float64(res.BytesWritten), metrics.UnitBytes).
		Metric("SourceBytes", float64(res.SourceBytes), metrics.UnitBytes).
		Property("fileId", res.Identity.FileID).
		Property("stage", res.Stage)
	if res.Err != nil {
		rec.Property("errorKind", res.Err.Kind.String())
	}
	rec.Flush()

	report := notify.Report{
		FileID:    res.Identity.FileID,
		RegionID:  res.Identity.RegionID,
		EventID:   res.Event.ID,
		Status:    status,
		Stage:     res.Stage,
		Timestamp: s.now().UTC(),
		Outputs:   res.Outputs,
	}
	if res.Err != nil {
		report.Detail = res.Err.Error()
	}
	if report.FileID == "" {
		// Unparseable paths have no file id; report the raw object name.
		report.FileID = res.Event.Name
	}
	s.notifier.Fire(ctx, report)
}
