package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/0xb-s/fuzzer/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultRedisTimeout = 5 * time.Second

type RedisParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewRedisClient returns nil when no redis endpoint is configured. The client is pinged
// within REDIS_TIMEOUT and closed when the app stops.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	if !p.Config.RedisEnabled() {
		p.Logger.Info("redis not configured, redis-backed corpus and coverage disabled")
		return nil, nil
	}

	var client *redis.Client
	mode := "sentinel"
	if p.Config.RedisUrl != "" {
		mode = "url"
		options, err := redisOptions(p.Config)
		if err != nil {
			p.Logger.Error("Failed to create Redis client", zap.Error(err))
			return nil, err
		}
		client = redis.NewClient(options)
	} else {
		client = redis.NewFailoverClient(failoverOptions(p.Config))
	}

	timeout := p.Config.RedisTimeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		p.Logger.Error("Failed to reach Redis", zap.String("mode", mode), zap.Error(err))
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	p.Logger.Debug("Redis client created successfully", zap.String("mode", mode))
	return client, nil
}

// redisOptions parses OVERRIDE_REDIS_URL. Timeouts given in the URL query win over REDIS_TIMEOUT,
// and the database comes from the URL path.
func redisOptions(cfg *config.AppConfig) (*redis.Options, error) {
	options, err := redis.ParseURL(cfg.RedisUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if options.ClientName == "" {
		options.ClientName = cfg.ServiceName
	}
	if options.DialTimeout == 0 {
		options.DialTimeout = cfg.RedisTimeout
	}
	if options.ReadTimeout == 0 {
		options.ReadTimeout = cfg.RedisTimeout
	}
	if options.WriteTimeout == 0 {
		options.WriteTimeout = cfg.RedisTimeout
	}
	return options, nil
}

func failoverOptions(cfg *config.AppConfig) *redis.FailoverOptions {
	var hosts []string
	for _, h := range strings.Split(cfg.RedisSentinelHosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &redis.FailoverOptions{
		MasterName:    cfg.RedisMasterName,
		SentinelAddrs: hosts,
		DB:            cfg.RedisDB,
		ClientName:    cfg.ServiceName,
		DialTimeout:   cfg.RedisTimeout,
		ReadTimeout:   cfg.RedisTimeout,
		WriteTimeout:  cfg.RedisTimeout,
	}
}
