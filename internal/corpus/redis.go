package corpus

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/0xb-s/fuzzer/internal/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisGrabber reads seeds from the paths kept in a redis set.
// A member may name a single seed file, a corpus directory or a tar.gz blob.
type RedisGrabber struct {
	redisClient *redis.Client
	logger      *zap.Logger
	key         string
}

func NewRedisGrabber(redisClient *redis.Client, logger *zap.Logger, key string) *RedisGrabber {
	return &RedisGrabber{
		redisClient,
		logger,
		key,
	}
}

func (s *RedisGrabber) Name() string { return "redis:" + s.key }

func (s *RedisGrabber) Grab(ctx context.Context) ([][]byte, error) {
	paths, err := s.redisClient.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get corpus set from redis: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no corpus found under %s in redis", s.key)
	}
	slices.Sort(paths)

	s.logger.Info("Got corpus paths from redis", zap.String("key", s.key), zap.Int("paths", len(paths)))

	var seeds [][]byte
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			s.logger.Warn("skipping corpus path", zap.String("path", path), zap.Error(err))
			continue
		}
		if info.Mode().IsRegular() && !utils.IsTarGz(path) {
			if info.Size() == 0 || info.Size() > MaxSeedSize {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.Warn("skipping corpus path", zap.String("path", path), zap.Error(err))
				continue
			}
			seeds = append(seeds, data)
			continue
		}
		grabbed, err := ForPath(path).Grab(ctx)
		if err != nil {
			s.logger.Warn("skipping corpus path", zap.String("path", path), zap.Error(err))
			continue
		}
		seeds = append(seeds, grabbed...)
	}
	return seeds, nil
}
