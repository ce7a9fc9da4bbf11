// Package trigger normalizes the payload shapes an object-created
// notification can arrive in into Events.
//
// Recognized shapes: S3 event notifications (direct or as an SQS body),
// EventBridge "Object Created" events, structured CloudEvents carrying
// storage object data, raw storage object notifications and Pub/Sub push
// envelopes wrapping any of these.
package trigger

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// Event is one object-created notification.
type Event struct {
	ID          string    `json:"id"`
	Bucket      string    `json:"bucket"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Time        time.Time `json:"time,omitempty"`
	// Source names the payload shape the event was decoded from.
	Source string `json:"source"`
	// DeliveryAttempt is 1 on first delivery, 0 when the trigger does not
	// say.
	DeliveryAttempt int `json:"deliveryAttempt,omitempty"`
}

const (
	SourceS3          = "s3"
	SourceEventBridge = "eventbridge"
	SourceCloudEvent  = "cloudevent"
	SourceStorage     = "storage"
)

// probe holds the discriminating fields of every supported shape.
type probe struct {
	Records     json.RawMessage `json:"Records"`
	Event       string          `json:"Event"`
	DetailType  string          `json:"detail-type"`
	SpecVersion string          `json:"specversion"`
	Kind        string          `json:"kind"`
	Message     *pubsubMessage  `json:"message"`
	Attempt     int             `json:"deliveryAttempt"`
}

type pubsubMessage struct {
	Data       string            `json:"data"`
	Attributes map[string]string `json:"attributes"`
	MessageID  string            `json:"messageId"`
}

// storageObject is the object resource of a storage notification.
type storageObject struct {
	Bucket      string      `json:"bucket"`
	Name        string      `json:"name"`
	ContentType string      `json:"contentType"`
	Size        json.Number `json:"size"`
	TimeCreated time.Time   `json:"timeCreated"`
}

type cloudEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

type eventBridgeDetail struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
	} `json:"object"`
}

func invalid(reason string, err error) error {
	if err != nil {
		return failure.Wrap(failure.KindInvalidEvent, "", reason, err)
	}
	return failure.New(failure.KindInvalidEvent, "", reason)
}

// Parse decodes a notification body. An S3 test event yields no events and
// no error. Every returned event has a bucket, a name and an ID.
func Parse(body []byte) ([]Event, error) {
	var p probe
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, invalid("payload is not a JSON object", err)
	}

	var (
		evs []Event
		err error
	)
	switch {
	case p.Records != nil:
		evs, err = parseS3(body)
	case p.Event == "s3:TestEvent":
		return nil, nil
	case p.DetailType != "":
		evs, err = parseEventBridge(body)
	case p.SpecVersion != "":
		evs, err = parseCloudEvent(body)
	case p.Message != nil:
		evs, err = parsePubSub(p)
	case p.Kind == "storage#object":
		evs, err = parseStorage(body, "")
	default:
		return nil, invalid("unrecognized notification shape", nil)
	}
	if err != nil {
		return nil, err
	}
	return finish(evs)
}

// ParseStorageObject decodes a bare storage object resource, as delivered
// in the body of a binary-mode CloudEvent. id may be empty.
func ParseStorageObject(body []byte, id string) ([]Event, error) {
	evs, err := parseStorage(body, id)
	if err != nil {
		return nil, err
	}
	return finish(evs)
}

func finish(evs []Event) ([]Event, error) {
	for i := range evs {
		if evs[i].Bucket == "" || evs[i].Name == "" {
			return nil, invalid("notification is missing the bucket or object name", nil)
		}
		if evs[i].ID == "" {
			evs[i].ID = uuid.NewString()
		}
	}
	return evs, nil
}

func parseS3(body []byte) ([]Event, error) {
	var s3e events.S3Event
	if err := json.Unmarshal(body, &s3e); err != nil {
		return nil, invalid("malformed S3 event notification", err)
	}
	evs := make([]Event, 0, len(s3e.Records))
	for _, r := range s3e.Records {
		if r.EventName != "" && !strings.HasPrefix(r.EventName, "ObjectCreated:") {
			continue
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, invalid("undecodable object key", err)
		}
		id := ""
		if r.ResponseElements != nil {
			id = r.ResponseElements["x-amz-request-id"]
		}
		evs = append(evs, Event{
			ID:     id,
			Bucket: r.S3.Bucket.Name,
			Name:   key,
			Size:   r.S3.Object.Size,
			Time:   r.EventTime,
			Source: SourceS3,
		})
	}
	return evs, nil
}

func parseEventBridge(body []byte) ([]Event, error) {
	var cw events.CloudWatchEvent
	if err := json.Unmarshal(body, &cw); err != nil {
		return nil, invalid("malformed EventBridge event", err)
	}
	if cw.DetailType != "Object Created" {
		return nil, invalid("unsupported EventBridge detail type "+strconv.Quote(cw.DetailType), nil)
	}
	var d eventBridgeDetail
	if err := json.Unmarshal(cw.Detail, &d); err != nil {
		return nil, invalid("malformed EventBridge detail", err)
	}
	return []Event{{
		ID:     cw.ID,
		Bucket: d.Bucket.Name,
		Name:   d.Object.Key,
		Size:   d.Object.Size,
		Time:   cw.Time,
		Source: SourceEventBridge,
	}}, nil
}

func parseCloudEvent(body []byte) ([]Event, error) {
	var ce cloudEvent
	if err := json.Unmarshal(body, &ce); err != nil {
		return nil, invalid("malformed CloudEvent", err)
	}
	if len(ce.Data) == 0 {
		return nil, invalid("CloudEvent has no data", nil)
	}
	evs, err := parseStorage(ce.Data, ce.ID)
	if err != nil {
		return nil, err
	}
	for i := range evs {
		evs[i].Source = SourceCloudEvent
		if evs[i].Time.IsZero() {
			evs[i].Time = ce.Time
		}
	}
	return evs, nil
}

func parseStorage(body []byte, id string) ([]Event, error) {
	var obj storageObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, invalid("malformed storage object notification", err)
	}
	var size int64
	if obj.Size != "" {
		n, err := obj.Size.Int64()
		if err != nil {
			return nil, invalid("non-integer object size", err)
		}
		size = n
	}
	return []Event{{
		ID:          id,
		Bucket:      obj.Bucket,
		Name:        obj.Name,
		ContentType: obj.ContentType,
		Size:        size,
		Time:        obj.TimeCreated,
		Source:      SourceStorage,
	}}, nil
}

func parsePubSub(p probe) ([]Event, error) {
	data, err := base64.StdEncoding.DecodeString(p.Message.Data)
	if err != nil {
		return nil, invalid("Pub/Sub message data is not base64", err)
	}
	evs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for i := range evs {
		if p.Attempt > 0 {
			evs[i].DeliveryAttempt = p.Attempt
		}
		if id := p.Message.MessageID; id != "" && evs[i].Source == SourceStorage {
			evs[i].ID = id
		}
	}
	return evs, nil
}
