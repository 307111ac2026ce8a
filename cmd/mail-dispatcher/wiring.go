package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatcher/internal/api"
	"github.com/sungwon/mail-dispatcher/internal/config"
	"github.com/sungwon/mail-dispatcher/internal/dispatch"
	"github.com/sungwon/mail-dispatcher/internal/lock"
	"github.com/sungwon/mail-dispatcher/internal/provider"
	"github.com/sungwon/mail-dispatcher/internal/region"
	"github.com/sungwon/mail-dispatcher/internal/storage"
)

// memoryLockSweep is how often the in-memory lock store drops expired keys.
const memoryLockSweep = time.Minute

// components is the dispatch pipeline built from configuration.
type components struct {
	processor *dispatch.Processor
	lock      *lock.DispatchLock
	checks    map[string]api.Pinger
	closers   []func()
}

// Close releases clients in reverse construction order.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// pingFunc adapts a function to api.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// builder creates shared clients on first use so a deployment only connects
// to the backends its configuration selects.
type builder struct {
	ctx    context.Context
	cfg    *config.Config
	log    zerolog.Logger
	awsCfg *aws.Config
	redis  *redis.Client
	db     *storage.DB
	out    *components
}

func buildComponents(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*components, error) {
	b := &builder{
		ctx: ctx,
		cfg: cfg,
		log: log,
		out: &components{checks: make(map[string]api.Pinger)},
	}

	lockStore, err := b.lockStore()
	if err != nil {
		b.out.Close()
		return nil, err
	}
	regionStore, err := b.regionStore()
	if err != nil {
		b.out.Close()
		return nil, err
	}
	dispatcher, err := b.dispatcher()
	if err != nil {
		b.out.Close()
		return nil, err
	}

	dl := lock.New(lockStore, cfg.Dispatch.LockTTL, log, lock.WithKeyPrefix(cfg.Lock.KeyPrefix))
	resolver := region.NewResolver(regionStore, cfg.Dispatch.DefaultRegion, cfg.Region.CacheTTL, log)

	b.out.lock = dl
	b.out.checks["lock"] = dl
	b.out.processor = dispatch.NewProcessor(resolver, dl, dispatcher, cfg.Dispatch, log)

	log.Info().
		Str("lock_backend", lockStore.Name()).
		Str("region_backend", regionStore.Name()).
		Str("transport", dispatcher.Name()).
		Dur("lock_ttl", cfg.Dispatch.LockTTL).
		Int("concurrency", cfg.Dispatch.Concurrency).
		Msg("dispatch pipeline configured")

	return b.out, nil
}

func (b *builder) aws() (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}
	region := b.cfg.AWS.Region
	if region == "" {
		region = b.cfg.Queue.SQSRegion
	}
	cfg, err := loadAWSConfig(b.ctx, region)
	if err != nil {
		return aws.Config{}, err
	}
	b.awsCfg = &cfg
	return cfg, nil
}

// loadAWSConfig loads the default credential chain. An empty region keeps
// the region from the environment (AWS_REGION in Lambda). It fails when no
// region resolves: every lock call would then fail and the records would be
// skipped as lock errors.
func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		return aws.Config{}, errors.New("aws region not set: configure aws.region, queue.sqs_region or AWS_REGION")
	}
	return cfg, nil
}

func (b *builder) redisClient() *redis.Client {
	if b.redis != nil {
		return b.redis
	}
	b.redis = redis.NewClient(&redis.Options{
		Addr:     b.cfg.Redis.Addr,
		Password: b.cfg.Redis.Password,
		DB:       b.cfg.Redis.DB,
	})
	client := b.redis
	b.out.checks["redis"] = pingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	b.out.closers = append(b.out.closers, func() { _ = client.Close() })
	return b.redis
}

func (b *builder) database() (*storage.DB, error) {
	if b.db != nil {
		return b.db, nil
	}
	db, err := storage.NewDB(b.ctx, b.cfg.Database.URL, b.cfg.Database.PoolMin, b.cfg.Database.PoolMax, b.cfg.Database.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	b.db = db
	b.out.checks["database"] = db
	b.out.closers = append(b.out.closers, db.Close)
	return db, nil
}

func (b *builder) lockStore() (lock.Store, error) {
	switch b.cfg.Lock.Backend {
	case "dynamodb":
		awsCfg, err := b.aws()
		if err != nil {
			return nil, err
		}
		return lock.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), b.cfg.Lock.Table), nil
	case "redis":
		return lock.NewRedisStore(b.redisClient()), nil
	case "postgres":
		db, err := b.database()
		if err != nil {
			return nil, err
		}
		return lock.NewPostgresStore(db.Pool), nil
	case "memory":
		b.log.Warn().Msg("in-memory lock store only deduplicates within this process")
		return lock.NewMemoryStore(memoryLockSweep), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", b.cfg.Lock.Backend)
	}
}

func (b *builder) regionStore() (region.Store, error) {
	switch b.cfg.Region.Backend {
	case "dynamodb":
		awsCfg, err := b.aws()
		if err != nil {
			return nil, err
		}
		return region.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), b.cfg.Region.Table), nil
	case "redis":
		return region.NewRedisStore(b.redisClient(), region.RedisHashKey), nil
	case "postgres":
		db, err := b.database()
		if err != nil {
			return nil, err
		}
		return region.NewPostgresStore(db.Pool), nil
	case "static":
		return region.StaticStore(b.cfg.Region.Static), nil
	default:
		return nil, fmt.Errorf("unknown region backend %q", b.cfg.Region.Backend)
	}
}

func (b *builder) dispatcher() (provider.Dispatcher, error) {
	switch b.cfg.Mail.Transport {
	case "ses":
		awsCfg, err := b.aws()
		if err != nil {
			return nil, err
		}
		client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			o.HTTPClient = awshttp.NewBuildableClient().WithTimeout(b.cfg.Mail.Timeout)
		})
		return provider.NewSES(client), nil
	case "smtp":
		return provider.NewSMTP(provider.SMTPConfig{
			HostTemplate: b.cfg.Mail.SMTPHostTemplate,
			Port:         b.cfg.Mail.SMTPPort,
			Username:     b.cfg.Mail.SMTPUsername,
			Password:     b.cfg.Mail.SMTPPassword,
			StartTLS:     b.cfg.Mail.SMTPStartTLS,
			Timeout:      b.cfg.Mail.Timeout,
		}), nil
	case "stdout":
		return provider.NewStdout(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", b.cfg.Mail.Transport)
	}
}
