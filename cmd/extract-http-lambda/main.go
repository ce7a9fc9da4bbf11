// Package main provides the push-triggered extraction Lambda behind a
// Function URL or API Gateway.
//
// Storage notifications are POSTed to /events as an S3 event, an
// EventBridge event, a CloudEvent (structured or binary mode), a Pub/Sub
// push message or a bare storage object. The status code tells the sender
// whether to redeliver:
//   - 200: processed, or rejected permanently (including malformed bodies)
//   - 503: at least one event failed in a way that may succeed later
package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/lambdaboot"
	"github.com/fpang/text-extract-pipeline/internal/logging"
	"github.com/fpang/text-extract-pipeline/internal/pipeline"
	"github.com/fpang/text-extract-pipeline/internal/trigger"
)

// commitHash is set at build time with -ldflags "-X main.commitHash=...".
var commitHash string

// eventResult is the per-event part of the response body.
type eventResult struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Outcome string   `json:"outcome"`
	Outputs []string `json:"outputs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type response struct {
	Accepted bool          `json:"accepted"`
	Detail   string        `json:"detail,omitempty"`
	Events   []eventResult `json:"events"`
}

type server struct {
	svc *pipeline.Service
}

func newMux(svc *pipeline.Service) *http.ServeMux {
	s := &server{svc: svc}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handleEvents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := trigger.FromHTTP(r)
	if err != nil {
		if failure.IsTransient(err) {
			log.Warn().Err(err).Msg("Failed to read notification, requesting redelivery")
			writeJSON(w, http.StatusServiceUnavailable, response{Detail: err.Error(), Events: []eventResult{}})
			return
		}
		log.Warn().Err(err).Msg("Discarding malformed notification")
		writeJSON(w, http.StatusOK, response{Accepted: true, Detail: err.Error(), Events: []eventResult{}})
		return
	}

	results := s.svc.HandleBatch(r.Context(), evs)
	s.svc.Wait()

	resp := response{Accepted: true, Events: make([]eventResult, 0, len(results))}
	for _, res := range results {
		er := eventResult{
			ID:      res.Event.ID,
			Object:  res.Event.Name,
			Outcome: res.Outcome.String(),
			Outputs: res.Outputs,
		}
		if res.Err != nil {
			er.Error = res.Err.Error()
		}
		if res.Outcome == pipeline.Retryable {
			resp.Accepted = false
		}
		resp.Events = append(resp.Events, er)
	}

	status := http.StatusOK
	if !resp.Accepted {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func main() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	cfg := lambdaboot.InitConfig()
	lambdaboot.LoadGeminiKey(clients.SSM)
	svc := lambdaboot.InitService(clients, cfg)
	lambdaboot.StartupLog("extract-http-lambda", cfg, initStart).CommitHash(commitHash).Log()

	adapter := httpadapter.NewV2(newMux(svc))
	lambda.Start(adapter.ProxyWithContext)
}
