package region

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

const (
	dynamoServiceAttr = "ServiceName"
	dynamoRegionAttr  = "RegionName"

	// RedisHashKey is the hash holding service -> region fields.
	RedisHashKey = "ses:region_mappings"

	selectRegionSQL = `SELECT region_name FROM ses_region_mappings WHERE service_name = $1`
)

// errMalformed marks a stored mapping that exists but carries no usable region.
var errMalformed = errors.New("region: malformed mapping")

func validRegion(region string) (string, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return "", errMalformed
	}
	return region, nil
}

// dynamoGetter is the subset of the DynamoDB client used by DynamoStore.
type dynamoGetter interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore reads mappings from a table keyed by ServiceName with a
// string RegionName attribute.
type DynamoStore struct {
	client dynamoGetter
	table  string
}

// NewDynamoStore creates a DynamoStore over client and table.
func NewDynamoStore(client dynamoGetter, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Name() string { return "dynamodb" }

// Lookup performs a GetItem for serviceName.
func (s *DynamoStore) Lookup(ctx context.Context, serviceName string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			dynamoServiceAttr: &types.AttributeValueMemberS{Value: serviceName},
		},
	})
	if err != nil {
		return "", fmt.Errorf("dynamodb get item: %w", err)
	}
	if len(out.Item) == 0 {
		return "", ErrNotFound
	}

	attr, ok := out.Item[dynamoRegionAttr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("%w: %s is missing or not a string", errMalformed, dynamoRegionAttr)
	}
	return validRegion(attr.Value)
}

// RedisStore reads mappings from the RedisHashKey hash.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore creates a RedisStore over client. An empty key uses
// RedisHashKey.
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = RedisHashKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Name() string { return "redis" }

// Lookup runs HGET on the mapping hash.
func (s *RedisStore) Lookup(ctx context.Context, serviceName string) (string, error) {
	v, err := s.client.HGet(ctx, s.key, serviceName).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis hget %s: %w", s.key, err)
	}
	return validRegion(v)
}

// pgQuerier is the subset of pgxpool.Pool used by PostgresStore.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads mappings from the ses_region_mappings table.
type PostgresStore struct {
	db pgQuerier
}

// NewPostgresStore creates a PostgresStore over db.
func NewPostgresStore(db pgQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string { return "postgres" }

// Lookup selects the region for serviceName.
func (s *PostgresStore) Lookup(ctx context.Context, serviceName string) (string, error) {
	var region string
	err := s.db.QueryRow(ctx, selectRegionSQL, serviceName).Scan(&region)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select region: %w", err)
	}
	return validRegion(region)
}

// StaticStore serves mappings from configuration. Viper lowercases map keys,
// so lookups fall back to the lowercased service name.
type StaticStore map[string]string

func (s StaticStore) Name() string { return "static" }

// Lookup returns the configured region for serviceName.
func (s StaticStore) Lookup(_ context.Context, serviceName string) (string, error) {
	v, ok := s[serviceName]
	if !ok {
		v, ok = s[strings.ToLower(serviceName)]
	}
	if !ok {
		return "", ErrNotFound
	}
	return validRegion(v)
}
