package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"piggybank/internal/domain"
	"piggybank/internal/session"
)

const (
	pkPrefixSession = "SESSION#"
	skMeta          = "META#"
	// ttlGrace is how long after last access DynamoDB may drop an item on
	// its own if no sweep has removed it first.
	ttlGrace = 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ session.Store = (*Client)(nil)

// Client stores conversation sessions in a DynamoDB table, one item per session.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(id string) string {
	return pkPrefixSession + id
}

func sessionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UTC().UnixMilli(), 10)}
}

// ttlValue returns the Unix second after which DynamoDB may expire the item.
func ttlValue(lastAccess time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(lastAccess.Add(ttlGrace).Unix(), 10)}
}

// CreateSession writes a new session item. Ids are never reused.
func (c *Client) CreateSession(ctx context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: CreateSession: id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                sessionItem(s),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

// TouchSession refreshes last access if the session is active and owned by
// the subscription; otherwise it returns session.ErrNotFound.
func (c *Client) TouchSession(ctx context.Context, id string, subscriptionID int64, since, now time.Time) (domain.Session, error) {
	return c.update(ctx, "TouchSession", id, subscriptionID, since, now,
		"SET lastAccess = :now, #ttl = :ttl", nil)
}

// AppendMessages appends to the message list in a single conditional update,
// so concurrent appends are never lost and an expired session is never revived.
func (c *Client) AppendMessages(ctx context.Context, id string, subscriptionID int64, since, now time.Time, msgs []domain.ChatMessage) (domain.Session, error) {
	return c.update(ctx, "AppendMessages", id, subscriptionID, since, now,
		"SET messages = list_append(messages, :msgs), lastAccess = :now, #ttl = :ttl",
		map[string]types.AttributeValue{":msgs": messagesAttr(msgs)})
}

func (c *Client) update(ctx context.Context, op, id string, subscriptionID int64, since, now time.Time, expr string, extra map[string]types.AttributeValue) (domain.Session, error) {
	values := map[string]types.AttributeValue{
		":sub":   &types.AttributeValueMemberN{Value: strconv.FormatInt(subscriptionID, 10)},
		":since": millis(since),
		":now":   millis(now),
		":ttl":   ttlValue(now),
	}
	for k, v := range extra {
		values[k] = v
	}
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       sessionKey(id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK) AND subscriptionId = :sub AND lastAccess >= :since"),
		ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return domain.Session{}, session.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("repository: %s: %w", op, err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.Session{}, fmt.Errorf("repository: %s: empty update result", op)
	}
	s, err := itemToSession(out.Attributes)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: %s unmarshal: %w", op, err)
	}
	return s, nil
}

// DeleteIdleSessions removes sessions last accessed before the cutoff. The
// cutoff is re-checked on each delete, so a session touched after the scan
// survives.
func (c *Client) DeleteIdleSessions(ctx context.Context, before time.Time) (int, error) {
	cutoff := millis(before)
	return c.deleteMatching(ctx, "DeleteIdleSessions",
		aws.String("begins_with(PK, :prefix) AND lastAccess < :before"),
		map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: pkPrefixSession},
			":before": cutoff,
		},
		func(key map[string]types.AttributeValue) *dynamodb.DeleteItemInput {
			return &dynamodb.DeleteItemInput{
				TableName:                 aws.String(c.tableName),
				Key:                       key,
				ConditionExpression:       aws.String("lastAccess < :before"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":before": cutoff},
			}
		})
}

// DeleteAllSessions removes every session item.
func (c *Client) DeleteAllSessions(ctx context.Context) (int, error) {
	return c.deleteMatching(ctx, "DeleteAllSessions",
		aws.String("begins_with(PK, :prefix)"),
		map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: pkPrefixSession},
		},
		func(key map[string]types.AttributeValue) *dynamodb.DeleteItemInput {
			return &dynamodb.DeleteItemInput{TableName: aws.String(c.tableName), Key: key}
		})
}

func (c *Client) deleteMatching(ctx context.Context, op string, filter *string, values map[string]types.AttributeValue, del func(map[string]types.AttributeValue) *dynamodb.DeleteItemInput) (int, error) {
	deleted := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(c.tableName),
			FilterExpression:          filter,
			ExpressionAttributeValues: values,
			ProjectionExpression:      aws.String("PK, SK"),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return deleted, fmt.Errorf("repository: %s scan: %w", op, err)
		}
		for _, item := range out.Items {
			key := map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]}
			if _, err := c.api.DeleteItem(ctx, del(key)); err != nil {
				if isConditionalCheckFailed(err) {
					continue
				}
				return deleted, fmt.Errorf("repository: %s delete: %w", op, err)
			}
			deleted++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return deleted, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func sessionItem(s domain.Session) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":      &types.AttributeValueMemberS{Value: s.ID},
		"subscriptionId": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.SubscriptionID, 10)},
		"messages":       messagesAttr(s.Messages),
		"lastAccess":     millis(s.LastAccess),
		"createdAt":      millis(s.CreatedAt),
		"ttl":            ttlValue(s.LastAccess),
	}
}

func messagesAttr(msgs []domain.ChatMessage) types.AttributeValue {
	list := make([]types.AttributeValue, 0, len(msgs))
	for _, m := range msgs {
		list = append(list, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"role":    &types.AttributeValueMemberS{Value: m.Role},
			"content": &types.AttributeValueMemberS{Value: m.Content},
		}})
	}
	return &types.AttributeValueMemberL{Value: list}
}

// itemToSession converts a DynamoDB attribute map to a Session.
func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Session{}, err
	}
	subID, err := intAttr(item, "subscriptionId")
	if err != nil {
		return domain.Session{}, err
	}
	lastAccess, err := intAttr(item, "lastAccess")
	if err != nil {
		return domain.Session{}, err
	}
	createdAt, err := intAttr(item, "createdAt")
	if err != nil {
		return domain.Session{}, err
	}
	msgs, err := messagesFromAttr(item)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		ID:             id,
		SubscriptionID: subID,
		Messages:       msgs,
		LastAccess:     time.UnixMilli(lastAccess).UTC(),
		CreatedAt:      time.UnixMilli(createdAt).UTC(),
	}, nil
}

func messagesFromAttr(item map[string]types.AttributeValue) ([]domain.ChatMessage, error) {
	v, ok := item["messages"]
	if !ok {
		return nil, nil
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, errors.New(`repository: attribute "messages" is not a list`)
	}
	msgs := make([]domain.ChatMessage, 0, len(list.Value))
	for i, entry := range list.Value {
		m, ok := entry.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: message %d is not a map", i)
		}
		role, err := strAttr(m.Value, "role")
		if err != nil {
			return nil, fmt.Errorf("repository: message %d: %w", i, err)
		}
		content, _ := strAttr(m.Value, "content") // allow empty
		msgs = append(msgs, domain.ChatMessage{Role: role, Content: content})
	}
	return msgs, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
