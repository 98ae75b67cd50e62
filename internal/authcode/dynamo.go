package authcode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jun/secondbrain/internal/model"
)

// DynamoStore keeps codes as DynamoDB items whose expires_at attribute
// doubles as the table TTL.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
	ttl       time.Duration
}

func NewDynamoStore(client *dynamodb.Client, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoStore{client: client, tableName: tableName, ttl: ttl}
}

func (s *DynamoStore) Issue(ctx context.Context, userID string) (string, error) {
	code := model.LoginCode{
		Code:      uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.ttl).Unix(),
	}

	item, err := attributevalue.MarshalMap(code)
	if err != nil {
		return "", fmt.Errorf("failed to marshal login code: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(code)"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store login code: %w", err)
	}
	return code.Code, nil
}

// Consume deletes the item conditionally, so two concurrent exchanges of the
// same code cannot both succeed.
func (s *DynamoStore) Consume(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", ErrInvalidCode
	}
	now := time.Now().Unix()

	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"code": &types.AttributeValueMemberS{Value: code},
		},
		ConditionExpression: aws.String("attribute_exists(code) AND expires_at >= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return "", ErrInvalidCode
		}
		return "", fmt.Errorf("failed to consume login code: %w", err)
	}

	var lc model.LoginCode
	if err := attributevalue.UnmarshalMap(out.Attributes, &lc); err != nil {
		return "", fmt.Errorf("failed to unmarshal login code: %w", err)
	}
	return lc.UserID, nil
}
