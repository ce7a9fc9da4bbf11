// Package notify reports the outcome of each processed file to downstream
// collaborators. Delivery is best effort: a failed report is logged and
// never changes the outcome of the pipeline.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the reported processing status.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRetrying  Status = "RETRYING"
)

// Report is the status payload sent to every target.
type Report struct {
	FileID    string    `json:"file_id"`
	RegionID  string    `json:"region_id,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	Status    Status    `json:"status"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
	Outputs   []string  `json:"outputs,omitempty"`
}

// Notifier delivers one report.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, r Report) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every report.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Report) error { return nil }

// Async fires reports on detached goroutines with their own timeout.
// Results are only logged.
type Async struct {
	n       Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps n.
func NewAsync(n Notifier, timeout time.Duration) *Async {
	if n == nil {
		n = Nop{}
	}
	return &Async{n: n, timeout: timeout}
}

// Fire starts delivery of r and returns immediately. Cancelling ctx does
// not cancel the delivery; only the notifier timeout does.
func (a *Async) Fire(ctx context.Context, r Report) {
	if _, ok := a.n.(Nop); ok {
		return
	}
	dctx := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Str("panic", fmt.Sprint(rec)).Str("fileId", r.FileID).Msg("Status notifier panicked")
			}
		}()

		tctx, cancel := context.WithTimeout(dctx, a.timeout)
		defer cancel()

		start := time.Now()
		if err := a.n.Notify(tctx, r); err != nil {
			log.Warn().Err(err).
				Str("fileId", r.FileID).
				Str("status", string(r.Status)).
				Dur("took", time.Since(start)).
				Msg("Status notification failed")
			return
		}
		log.Debug().Str("fileId", r.FileID).Str("status", string(r.Status)).Dur("took", time.Since(start)).Msg("Status notification sent")
	}()
}

// Wait blocks until every fired report has finished or timed out. Lambda
// handlers call it before returning so the runtime does not freeze an
// in-flight delivery.
func (a *Async) Wait() {
	a.wg.Wait()
}
