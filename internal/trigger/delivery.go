package trigger

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// MaxBodyBytes bounds the notification bodies read from HTTP requests.
const MaxBodyBytes = 1 << 20

// FromSQS decodes the body of one SQS message. The delivery attempt comes
// from ApproximateReceiveCount.
func FromSQS(msg events.SQSMessage) ([]Event, error) {
	evs, err := Parse([]byte(msg.Body))
	if err != nil {
		return nil, err
	}
	attempt := atoi(msg.Attributes["ApproximateReceiveCount"])
	for i := range evs {
		if attempt > 0 {
			evs[i].DeliveryAttempt = attempt
		}
	}
	return evs, nil
}

// FromHTTP decodes a pushed notification. Binary-mode CloudEvents carry
// their attributes in ce-* headers and the storage object as the body.
func FromHTTP(r *http.Request) ([]Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, failure.Transient("", "read request body", err)
	}
	if len(body) > MaxBodyBytes {
		return nil, failure.New(failure.KindInvalidEvent, "", "notification body too large")
	}

	var evs []Event
	if id := r.Header.Get("ce-id"); id != "" && r.Header.Get("ce-specversion") != "" {
		evs, err = ParseStorageObject(body, id)
		for i := range evs {
			evs[i].Source = SourceCloudEvent
		}
	} else {
		evs, err = Parse(body)
	}
	if err != nil {
		return nil, err
	}

	attempt := HeaderAttempt(r.Header)
	for i := range evs {
		if attempt > 0 {
			evs[i].DeliveryAttempt = attempt
		}
	}
	return evs, nil
}

// HeaderAttempt reads the delivery attempt from X-Delivery-Attempt or
// ce-attempt. It returns 0 when neither is present.
func HeaderAttempt(h http.Header) int {
	for _, name := range []string{"X-Delivery-Attempt", "ce-attempt"} {
		if n := atoi(h.Get(name)); n > 0 {
			return n
		}
	}
	return 0
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
