package dict

import (
	"context"
	"fmt"
	"slices"

	"github.com/0xb-s/fuzzer/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Grabber merges the dictionary files whose paths are kept in a redis set
type Grabber struct {
	logger      *zap.Logger
	redisClient *redis.Client
	key         string
}

type GrabberParams struct {
	fx.In

	Logger      *zap.Logger
	RedisClient *redis.Client `optional:"true"`
	AppConfig   *config.AppConfig
}

// NewGrabber returns nil when redis or DICT_REDIS_KEY is not configured
func NewGrabber(params GrabberParams) *Grabber {
	if params.RedisClient == nil || params.AppConfig.RedisKeys.Dict == "" {
		return nil
	}
	return NewRedisGrabber(params.Logger, params.RedisClient, params.AppConfig.RedisKeys.Dict)
}

func NewRedisGrabber(logger *zap.Logger, redisClient *redis.Client, key string) *Grabber {
	return &Grabber{
		logger,
		redisClient,
		key,
	}
}

// Grab reads every dictionary listed under the key and merges their words, dropping duplicates.
// Unreadable files are skipped; an empty set is an error.
func (d *Grabber) Grab(ctx context.Context) ([][]byte, error) {
	dictPaths, err := d.redisClient.SMembers(ctx, d.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get dict set from redis: %w", err)
	}
	if len(dictPaths) == 0 {
		return nil, fmt.Errorf("no dicts found under %s in redis", d.key)
	}
	// set order is unspecified; sort so the merged word order is stable
	slices.Sort(dictPaths)

	d.logger.Info("Got dicts from Redis",
		zap.String("key", d.key),
		zap.Int("numDicts", len(dictPaths)))

	var merged [][]byte
	seen := make(map[string]struct{})
	for _, path := range dictPaths {
		words, err := Load(path)
		if err != nil {
			d.logger.Warn("skipping dict file", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, w := range words {
			if _, ok := seen[string(w)]; ok {
				continue
			}
			seen[string(w)] = struct{}{}
			merged = append(merged, w)
		}
	}
	return merged, nil
}

func (d *Grabber) Key() string { return d.key }
