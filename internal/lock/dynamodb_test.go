package lock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo emulates a conditional PutItem on a single hash key.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	puts    []*dynamodb.PutItemInput
	putErr  error
	descErr error
	deleted []string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	key := in.Item[dynamoKeyAttr].(*types.AttributeValueMemberS).Value
	if _, exists := f.items[key]; exists && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: stringPtr("The conditional request failed")}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Key[dynamoKeyAttr].(*types.AttributeValueMemberS).Value
	delete(f.items, key)
	f.deleted = append(f.deleted, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, f.descErr
}

func stringPtr(s string) *string { return &s }

func TestDynamoStore_CreateWritesKeyAndExpiry(t *testing.T) {
	t.Parallel()

	fake := newFakeDynamo()
	store := NewDynamoStore(fake, "MailQueueLockTable")
	expiresAt := time.Unix(1_800_000_000, 0)

	require.NoError(t, store.Create(context.Background(), "m1", expiresAt))
	require.Len(t, fake.puts, 1)

	in := fake.puts[0]
	assert.Equal(t, "MailQueueLockTable", *in.TableName)
	assert.Equal(t, "attribute_not_exists(#k)", *in.ConditionExpression)
	assert.Equal(t, dynamoKeyAttr, in.ExpressionAttributeNames["#k"])
	assert.Equal(t, "m1", in.Item[dynamoKeyAttr].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, strconv.FormatInt(expiresAt.Unix(), 10), in.Item[dynamoExpiryAttr].(*types.AttributeValueMemberN).Value)
}

func TestDynamoStore_ConditionFailureIsAlreadyLocked(t *testing.T) {
	t.Parallel()

	store := NewDynamoStore(newFakeDynamo(), "t")
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "m1", time.Now().Add(time.Minute)))
	assert.ErrorIs(t, store.Create(ctx, "m1", time.Now().Add(time.Minute)), ErrAlreadyLocked)
}

func TestDynamoStore_OtherErrorsPassThrough(t *testing.T) {
	t.Parallel()

	fake := newFakeDynamo()
	fake.putErr = &types.ProvisionedThroughputExceededException{Message: stringPtr("slow down")}
	store := NewDynamoStore(fake, "t")

	err := store.Create(context.Background(), "m1", time.Now().Add(time.Minute))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyLocked)

	var pte *types.ProvisionedThroughputExceededException
	assert.True(t, errors.As(err, &pte))
}

func TestDynamoStore_DeleteAndPing(t *testing.T) {
	t.Parallel()

	fake := newFakeDynamo()
	store := NewDynamoStore(fake, "t")
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "m1", time.Now().Add(time.Minute)))
	require.NoError(t, store.Delete(ctx, "m1"))
	assert.Equal(t, []string{"m1"}, fake.deleted)
	assert.NoError(t, store.Create(ctx, "m1", time.Now().Add(time.Minute)))

	assert.NoError(t, store.Ping(ctx))
	fake.descErr = errors.New("no such table")
	assert.Error(t, store.Ping(ctx))
}
