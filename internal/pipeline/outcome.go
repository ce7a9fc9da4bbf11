package pipeline

import (
	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/notify"
)

// Outcome is the answer given to the trigger for one event.
type Outcome int

const (
	// Accepted means the event must not be redelivered, whether it
	// succeeded or failed permanently.
	Accepted Outcome = iota
	// Retryable means the trigger should redeliver the event later.
	Retryable
)

func (o Outcome) String() string {
	if o == Retryable {
		return "Retryable"
	}
	return "Accepted"
}

// decide maps a classified failure to an outcome. Transient failures that
// exhausted their local retries are retryable. An internal fault is
// retryable on a known first delivery only, so a deterministic bug cannot
// loop. An unknown attempt (0) counts as already retried.
func decide(fe *failure.Error, deliveryAttempt int) (Outcome, notify.Status) {
	switch {
	case fe == nil:
		return Accepted, notify.StatusCompleted
	case fe.Kind == failure.KindTransientIO:
		return Retryable, notify.StatusRetrying
	case fe.Kind == failure.KindInternalFault && deliveryAttempt == 1:
		return Retryable, notify.StatusRetrying
	default:
		return Accepted, notify.StatusFailed
	}
}
