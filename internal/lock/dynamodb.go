package lock

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoKeyAttr    = "LockMailKey"
	dynamoExpiryAttr = "ExpirationUnixTime"
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore keeps lock records in a DynamoDB table keyed by LockMailKey.
// ExpirationUnixTime is meant to be the table's TTL attribute so DynamoDB
// removes stale records on its own.
type DynamoStore struct {
	client dynamoAPI
	table  string
}

// NewDynamoStore creates a DynamoStore over the given client and table.
func NewDynamoStore(client dynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Name() string { return "dynamodb" }

// Create writes the record with a condition that the key does not exist.
func (s *DynamoStore) Create(ctx context.Context, key string, expiresAt time.Time) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			dynamoKeyAttr:    &types.AttributeValueMemberS{Value: key},
			dynamoExpiryAttr: &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{
			"#k": dynamoKeyAttr,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyLocked
		}
		return err
	}
	return nil
}

// Delete removes the record for key. Deleting a missing key is not an error.
func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
		},
	})
	return err
}

// Ping describes the table to verify credentials and reachability.
func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	return err
}
