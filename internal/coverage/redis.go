package coverage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/0xb-s/fuzzer/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const CoverageRedisKey = "fuzz:%s:coverage" // fuzz:<service>:coverage

// RedisStore shares coverage between coordinators as a redis hash of block id to hit count
type RedisStore struct {
	logger      *zap.Logger
	redisClient *redis.Client
	key         string
}

type RedisStoreParams struct {
	fx.In

	Logger      *zap.Logger
	RedisClient *redis.Client `optional:"true"`
	AppConfig   *config.AppConfig
}

// NewConfiguredRedisStore returns nil without redis. The key defaults to fuzz:<service>:coverage.
func NewConfiguredRedisStore(p RedisStoreParams) *RedisStore {
	if p.RedisClient == nil {
		return nil
	}
	key := p.AppConfig.RedisKeys.Coverage
	if key == "" {
		key = fmt.Sprintf(CoverageRedisKey, p.AppConfig.ServiceName)
	}
	return NewRedisStore(p.Logger, p.RedisClient, key)
}

func NewRedisStore(logger *zap.Logger, redisClient *redis.Client, key string) *RedisStore {
	return &RedisStore{
		logger,
		redisClient,
		key,
	}
}

func (s *RedisStore) Key() string { return s.key }

// Push adds the hit counts of d to the hash, which gives the same sum semantics as Data.Merge
func (s *RedisStore) Push(ctx context.Context, d *Data) error {
	if d == nil || d.Len() == 0 {
		return nil
	}
	pipe := s.redisClient.Pipeline()
	for _, id := range d.Covered() {
		pipe.HIncrBy(ctx, s.key, strconv.FormatUint(id, 10), int64(d.HitCount(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push coverage to redis: %w", err)
	}
	s.logger.Debug("pushed coverage to redis", zap.String("key", s.key), zap.Int("blocks", d.Len()))
	return nil
}

func (s *RedisStore) Pull(ctx context.Context) (*Data, error) {
	fields, err := s.redisClient.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get coverage hash from redis: %w", err)
	}

	d := NewData()
	for field, value := range fields {
		id, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			s.logger.Warn("skipping malformed coverage block", zap.String("key", s.key), zap.String("block", field))
			continue
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			s.logger.Warn("skipping malformed hit count", zap.String("key", s.key), zap.String("block", field))
			continue
		}
		d.hits[id] = n
	}
	return d, nil
}
