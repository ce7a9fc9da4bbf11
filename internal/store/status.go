// Package store persists per-file extraction status in DynamoDB. Items are
// keyed by file id and expire a week after their last update, so the table
// only answers "what happened to this upload recently".
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/notify"
)

// StatusTTL is how long a file status record is kept.
const StatusTTL = 7 * 24 * time.Hour

const statusSK = "STATUS"

// FileStatus is the latest known processing state of one upload.
type FileStatus struct {
	FileID    string   `json:"fileId" dynamodbav:"-"`
	RegionID  string   `json:"regionId,omitempty" dynamodbav:"regionId,omitempty"`
	EventID   string   `json:"eventId,omitempty" dynamodbav:"eventId,omitempty"`
	Status    string   `json:"status" dynamodbav:"status"`
	Stage     string   `json:"stage" dynamodbav:"stage"`
	Detail    string   `json:"detail,omitempty" dynamodbav:"detail,omitempty"`
	Outputs   []string `json:"outputs,omitempty" dynamodbav:"outputs,omitempty"`
	UpdatedAt string   `json:"updatedAt" dynamodbav:"updatedAt"`
}

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// StatusStore keeps one status record per file in a DynamoDB table keyed
// by PK=FILE#{fileId}, SK=STATUS. It doubles as a status notifier target.
type StatusStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

var _ notify.Notifier = (*StatusStore)(nil)

// NewStatusStore creates a StatusStore for the given table.
func NewStatusStore(client DynamoAPI, tableName string) *StatusStore {
	return &StatusStore{client: client, tableName: tableName, now: time.Now}
}

func statusPK(fileID string) string {
	return "FILE#" + fileID
}

// PutStatus replaces the status record of st.FileID.
func (s *StatusStore) PutStatus(ctx context.Context, st *FileStatus) error {
	pk := statusPK(st.FileID)

	start := time.Now()
	item, err := attributevalue.MarshalMap(st)
	if err != nil {
		return fmt.Errorf("marshal file status: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: statusSK}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(StatusTTL).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	duration := time.Since(start)
	if err != nil {
		log.Debug().Err(err).Str("pk", pk).Dur("duration", duration).Msg("PutStatus: DynamoDB PutItem failed")
		return fmt.Errorf("PutItem file status PK=%s: %w", pk, err)
	}
	log.Debug().Str("pk", pk).Str("status", st.Status).Dur("duration", duration).Msg("PutStatus: file status persisted")
	return nil
}

// GetStatus returns the status record of fileID, or nil, nil when none
// exists.
func (s *StatusStore) GetStatus(ctx context.Context, fileID string) (*FileStatus, error) {
	pk := statusPK(fileID)
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: statusSK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem file status PK=%s: %w", pk, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var st FileStatus
	if err := attributevalue.UnmarshalMap(result.Item, &st); err != nil {
		return nil, fmt.Errorf("unmarshal file status PK=%s: %w", pk, err)
	}
	st.FileID = fileID
	return &st, nil
}

// Notify implements notify.Notifier by persisting the report.
func (s *StatusStore) Notify(ctx context.Context, r notify.Report) error {
	return s.PutStatus(ctx, &FileStatus{
		FileID:    r.FileID,
		RegionID:  r.RegionID,
		EventID:   r.EventID,
		Status:    string(r.Status),
		Stage:     r.Stage,
		Detail:    r.Detail,
		Outputs:   r.Outputs,
		UpdatedAt: r.Timestamp.UTC().Format(time.RFC3339),
	})
}
