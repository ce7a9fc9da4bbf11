// Package main provides the SQS-triggered extraction Lambda.
//
// S3 ObjectCreated notifications (directly or through EventBridge) are
// delivered via SQS. Every record is normalised into one or more events and
// processed with bounded concurrency. Records whose events ask for
// redelivery are reported as batch item failures so SQS retries only them;
// everything else, including permanent rejections, is acknowledged.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/lambdaboot"
	"github.com/fpang/text-extract-pipeline/internal/logging"
	"github.com/fpang/text-extract-pipeline/internal/pipeline"
	"github.com/fpang/text-extract-pipeline/internal/trigger"
)

// commitHash is set at build time with -ldflags "-X main.commitHash=...".
var commitHash string

var svc *pipeline.Service

func setup() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	cfg := lambdaboot.InitConfig()
	lambdaboot.LoadGeminiKey(clients.SSM)
	svc = lambdaboot.InitService(clients, cfg)

	lambdaboot.StartupLog("extract-lambda", cfg, initStart).CommitHash(commitHash).Log()
}

func handler(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	resp := handleRecords(ctx, svc, ev.Records)
	svc.Wait()
	return resp, nil
}

// handleRecords processes every record and returns the ids of the messages
// that must be redelivered.
func handleRecords(ctx context.Context, s *pipeline.Service, records []events.SQSMessage) events.SQSEventResponse {
	var (
		evs    []trigger.Event
		owners []string
	)
	for _, rec := range records {
		parsed, err := trigger.FromSQS(rec)
		if err != nil {
			// Malformed bodies never become valid on redelivery.
			log.Warn().Err(err).Str("messageId", rec.MessageId).Msg("Discarding unparseable message")
			continue
		}
		if len(parsed) == 0 {
			log.Debug().Str("messageId", rec.MessageId).Msg("Message carries no object events")
		}
		for _, e := range parsed {
			evs = append(evs, e)
			owners = append(owners, rec.MessageId)
		}
	}

	var resp events.SQSEventResponse
	failed := make(map[string]bool)
	for i, res := range s.HandleBatch(ctx, evs) {
		id := owners[i]
		if res.Outcome == pipeline.Retryable && !failed[id] {
			failed[id] = true
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
		}
	}
	log.Info().
		Int("records", len(records)).
		Int("events", len(evs)).
		Int("redeliver", len(resp.BatchItemFailures)).
		Msg("Batch processed")
	return resp
}

func main() {
	setup()
	lambda.Start(handler)
}
