package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

const (
	eventSource     = "text-extract-pipeline"
	eventDetailType = "File Extraction Status"
)

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeNotifier publishes the report to an event bus.
type EventBridgeNotifier struct {
	client EventBridgeAPI
	bus    string
}

// NewEventBridgeNotifier returns a notifier for the named bus.
func NewEventBridgeNotifier(client EventBridgeAPI, bus string) *EventBridgeNotifier {
	return &EventBridgeNotifier{client: client, bus: bus}
}

// Notify implements Notifier.
func (e *EventBridgeNotifier) Notify(ctx context.Context, r Report) error {
	detail, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal status report: %w", err)
	}
	out, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{{
			EventBusName: aws.String(e.bus),
			Source:       aws.String(eventSource),
			DetailType:   aws.String(eventDetailType),
			Detail:       aws.String(string(detail)),
		}},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}
	if out.FailedEntryCount > 0 {
		for i, entry := range out.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", out.FailedEntryCount)
	}
	return nil
}

// LambdaAPI is the subset of the Lambda client used here.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambdasvc.InvokeInput, opts ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// LambdaNotifier invokes a function asynchronously with the report as its
// payload.
type LambdaNotifier struct {
	client   LambdaAPI
	function string
}

// NewLambdaNotifier returns a notifier invoking function.
func NewLambdaNotifier(client LambdaAPI, function string) *LambdaNotifier {
	return &LambdaNotifier{client: client, function: function}
}

// Notify implements Notifier.
func (l *LambdaNotifier) Notify(ctx context.Context, r Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal status report: %w", err)
	}
	out, err := l.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(l.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", l.function, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("invoke %s: %s", l.function, aws.ToString(out.FunctionError))
	}
	return nil
}
