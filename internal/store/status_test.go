package store

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/text-extract-pipeline/internal/notify"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func key(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value + "|" + item["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[key(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[key(in.Key)]}, nil
}

func TestStatusStore_NotifyAndGet(t *testing.T) {
	db := &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
	s := NewStatusStore(db, "file-status")
	s.now = func() time.Time { return time.Unix(1000, 0) }

	err := s.Notify(context.Background(), notify.Report{
		FileID:    "f1",
		RegionID:  "r1",
		Status:    notify.StatusCompleted,
		Stage:     "sink",
		Timestamp: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Outputs:   []string{"s3://out/text/f1.txt"},
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	item := db.items["FILE#f1|STATUS"]
	if item == nil {
		t.Fatal("status record not written")
	}
	ttl := item["expiresAt"].(*types.AttributeValueMemberN).Value
	if ttl != "605800" {
		t.Errorf("expiresAt = %s, want 605800", ttl)
	}

	st, err := s.GetStatus(context.Background(), "f1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.FileID != "f1" || st.Status != "COMPLETED" || st.RegionID != "r1" || st.UpdatedAt != "2025-01-01T12:00:00Z" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Outputs) != 1 {
		t.Errorf("outputs = %v", st.Outputs)
	}

	missing, err := s.GetStatus(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Errorf("GetStatus(missing) = %+v, %v", missing, err)
	}
}
