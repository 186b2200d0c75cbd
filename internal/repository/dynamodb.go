package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-relay/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	ttlDuration = 90 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client wraps a DynamoDB table holding chat history, partitioned by user.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new DynamoDB-backed history Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// userPK returns the partition key for a user's history.
func userPK(userID string) string {
	return "USER#" + userID
}

// msgSK orders a user's rows by time; the request id keeps same-instant
// inserts distinct.
func msgSK(ts time.Time, requestID string) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano) + "#" + requestID
}

// ttlValue returns a Unix timestamp ttlDuration after ts.
func ttlValue(ts time.Time) int64 {
	return ts.Add(ttlDuration).Unix()
}

// Insert writes a new history row. The row must not already exist.
func (c *Client) Insert(ctx context.Context, rec domain.ChatHistoryRecord) error {
	if err := validateRecord("Insert", rec); err != nil {
		return err
	}
	rec.Timestamp = timestampOrNow(rec.Timestamp)

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                recordItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Insert: %w", err)
	}
	return nil
}

// Latest returns the newest row for userID.
func (c *Client) Latest(ctx context.Context, userID string) (domain.ChatHistoryRecord, bool, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return domain.ChatHistoryRecord{}, false, fmt.Errorf("repository: Latest query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return domain.ChatHistoryRecord{}, false, nil
	}
	rec, err := itemToRecord(out.Items[0])
	if err != nil {
		return domain.ChatHistoryRecord{}, false, fmt.Errorf("repository: Latest unmarshal: %w", err)
	}
	return rec, true, nil
}

// SetResponse patches the response of an existing row. rec.ID is used as
// the sort key when set; otherwise the key is derived from the timestamp
// and request id the row was inserted with.
func (c *Client) SetResponse(ctx context.Context, rec domain.ChatHistoryRecord, response string) error {
	if rec.UserID == "" {
		return errors.New("repository: SetResponse: user id is required")
	}
	sk := rec.ID
	if sk == "" {
		if rec.RequestID == "" || rec.Timestamp.IsZero() {
			return errors.New("repository: SetResponse: row key or request id and timestamp are required")
		}
		sk = msgSK(rec.Timestamp, rec.RequestID)
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(rec.UserID)},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression:    aws.String("SET #response = :response"),
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
		ExpressionAttributeNames: map[string]string{
			"#response": "response",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":response": &types.AttributeValueMemberS{Value: response},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("repository: SetResponse: %w", ErrNotFound)
		}
		return fmt.Errorf("repository: SetResponse: %w", err)
	}
	return nil
}

func recordItem(rec domain.ChatHistoryRecord) map[string]types.AttributeValue {
	var response types.AttributeValue = &types.AttributeValueMemberNULL{Value: true}
	if rec.Response != nil {
		response = &types.AttributeValueMemberS{Value: *rec.Response}
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(rec.UserID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(rec.Timestamp, rec.RequestID)},
		"requestId": &types.AttributeValueMemberS{Value: rec.RequestID},
		"userId":    &types.AttributeValueMemberS{Value: rec.UserID},
		"source":    &types.AttributeValueMemberS{Value: rec.Source},
		"message":   &types.AttributeValueMemberS{Value: rec.Message},
		"response":  response,
		"ts":        &types.AttributeValueMemberS{Value: rec.Timestamp.UTC().Format(time.RFC3339Nano)},
		"model":     &types.AttributeValueMemberS{Value: rec.Model},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue(rec.Timestamp))},
	}
}

// itemToRecord converts a DynamoDB attribute map to a ChatHistoryRecord.
func itemToRecord(item map[string]types.AttributeValue) (domain.ChatHistoryRecord, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.ChatHistoryRecord{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.ChatHistoryRecord{}, err
	}
	message, err := strAttr(item, "message")
	if err != nil {
		return domain.ChatHistoryRecord{}, err
	}
	requestID, _ := strAttr(item, "requestId") // legacy rows may lack it
	source, _ := strAttr(item, "source")
	model, _ := strAttr(item, "model")

	rec := domain.ChatHistoryRecord{
		ID:        sk,
		RequestID: requestID,
		UserID:    userID,
		Source:    source,
		Message:   message,
		Model:     model,
	}
	if response, err := strAttr(item, "response"); err == nil {
		rec.Response = &response
	}
	if raw, err := strAttr(item, "ts"); err == nil {
		ts, perr := time.Parse(time.RFC3339Nano, raw)
		if perr != nil {
			return domain.ChatHistoryRecord{}, fmt.Errorf("repository: parse attribute %q: %w", "ts", perr)
		}
		rec.Timestamp = ts
	}
	return rec, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
