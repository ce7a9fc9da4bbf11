package trigger

import (
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/fpang/text-extract-pipeline/internal/failure"
)

const s3Notification = `{
  "Records": [{
    "eventVersion": "2.1",
    "eventSource": "aws:s3",
    "eventTime": "2025-01-14T10:30:00.000Z",
    "eventName": "ObjectCreated:Put",
    "responseElements": {"x-amz-request-id": "REQ123"},
    "s3": {
      "bucket": {"name": "uploads-bucket"},
      "object": {"key": "uploads/r1/f1_my+report%281%29.pdf", "size": 2048}
    }
  }]
}`

const eventBridgeEvent = `{
  "version": "0",
  "id": "eb-1",
  "detail-type": "Object Created",
  "source": "aws.s3",
  "time": "2025-01-14T10:30:00Z",
  "detail": {"bucket": {"name": "uploads-bucket"}, "object": {"key": "uploads/r1/f1_a.txt", "size": 5}}
}`

const cloudEventBody = `{
  "specversion": "1.0",
  "id": "ce-1",
  "type": "google.cloud.storage.object.v1.finalized",
  "source": "//storage.googleapis.com/projects/_/buckets/b",
  "time": "2025-01-14T10:30:00Z",
  "data": {"bucket": "b", "name": "uploads/r1/f1_a.mp3", "contentType": "audio/mpeg", "size": "12345"}
}`

const storageObjectBody = `{"kind": "storage#object", "bucket": "b", "name": "uploads/r1/f1_a.zip", "contentType": "application/zip", "size": "77"}`

func TestParse_Shapes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   Event
		wantID bool
	}{
		{"s3 notification", s3Notification, Event{ID: "REQ123", Bucket: "uploads-bucket", Name: "uploads/r1/f1_my report(1).pdf", Size: 2048, Source: SourceS3}, true},
		{"eventbridge", eventBridgeEvent, Event{ID: "eb-1", Bucket: "uploads-bucket", Name: "uploads/r1/f1_a.txt", Size: 5, Source: SourceEventBridge}, true},
		{"cloudevent", cloudEventBody, Event{ID: "ce-1", Bucket: "b", Name: "uploads/r1/f1_a.mp3", ContentType: "audio/mpeg", Size: 12345, Source: SourceCloudEvent}, true},
		{"storage object", storageObjectBody, Event{Bucket: "b", Name: "uploads/r1/f1_a.zip", ContentType: "application/zip", Size: 77, Source: SourceStorage}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs, err := Parse([]byte(tt.body))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(evs) != 1 {
				t.Fatalf("got %d events", len(evs))
			}
			got := evs[0]
			if got.Bucket != tt.want.Bucket || got.Name != tt.want.Name || got.Size != tt.want.Size ||
				got.ContentType != tt.want.ContentType || got.Source != tt.want.Source {
				t.Errorf("event = %+v, want %+v", got, tt.want)
			}
			if tt.wantID && got.ID != tt.want.ID {
				t.Errorf("id = %q, want %q", got.ID, tt.want.ID)
			}
			if got.ID == "" {
				t.Error("event has no id")
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":       `not json`,
		"unknown shape":  `{"hello": "world"}`,
		"missing bucket": `{"kind": "storage#object", "name": "uploads/r1/f1_a.txt"}`,
		"missing name":   `{"Records": [{"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "b"}, "object": {"key": ""}}}]}`,
		"other detail":   `{"detail-type": "Object Deleted", "detail": {}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			if failure.KindOf(err) != failure.KindInvalidEvent {
				t.Fatalf("Parse() error = %v, want InvalidEvent", err)
			}
			if !failure.IsPermanent(err) {
				t.Error("invalid event should be permanent")
			}
		})
	}
}

func TestParse_S3TestEvent(t *testing.T) {
	evs, err := Parse([]byte(`{"Service":"Amazon S3","Event":"s3:TestEvent","Bucket":"b"}`))
	if err != nil || len(evs) != 0 {
		t.Errorf("Parse(test event) = %v, %v", evs, err)
	}
}

func TestParse_PubSubPush(t *testing.T) {
	body := `{"message": {"data": "` + base64.StdEncoding.EncodeToString([]byte(storageObjectBody)) + `", "messageId": "m-9"}, "deliveryAttempt": 3, "subscription": "s"}`
	evs, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if evs[0].ID != "m-9" || evs[0].DeliveryAttempt != 3 || evs[0].Name != "uploads/r1/f1_a.zip" {
		t.Errorf("event = %+v", evs[0])
	}
}

func TestFromSQS(t *testing.T) {
	evs, err := FromSQS(events.SQSMessage{
		MessageId:  "msg-1",
		Body:       s3Notification,
		Attributes: map[string]string{"ApproximateReceiveCount": "2"},
	})
	if err != nil {
		t.Fatalf("FromSQS() error = %v", err)
	}
	if evs[0].DeliveryAttempt != 2 {
		t.Errorf("delivery attempt = %d", evs[0].DeliveryAttempt)
	}
}

func TestFromHTTP(t *testing.T) {
	t.Run("binary cloudevent", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(storageObjectBody))
		req.Header.Set("ce-id", "ce-77")
		req.Header.Set("ce-specversion", "1.0")
		req.Header.Set("ce-attempt", "4")
		evs, err := FromHTTP(req)
		if err != nil {
			t.Fatalf("FromHTTP() error = %v", err)
		}
		if evs[0].ID != "ce-77" || evs[0].DeliveryAttempt != 4 || evs[0].Source != SourceCloudEvent {
			t.Errorf("event = %+v", evs[0])
		}
	})

	t.Run("structured with header attempt", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(eventBridgeEvent))
		req.Header.Set("X-Delivery-Attempt", "2")
		evs, err := FromHTTP(req)
		if err != nil {
			t.Fatalf("FromHTTP() error = %v", err)
		}
		if evs[0].DeliveryAttempt != 2 {
			t.Errorf("delivery attempt = %d", evs[0].DeliveryAttempt)
		}
	})

	t.Run("oversized", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat(" ", MaxBodyBytes+10)))
		if _, err := FromHTTP(req); failure.KindOf(err) != failure.KindInvalidEvent {
			t.Errorf("FromHTTP() error = %v, want InvalidEvent", err)
		}
	})
}
