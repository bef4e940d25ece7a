package corpus

import (
	"context"
	"crypto/sha256"
	"fmt"
	"reflect"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// crash artifacts replayed per session
const dbReplayLimit = 64

// Collector merges the seeds of every grabber, dropping duplicate inputs
type Collector struct {
	grabbers []Grabber
	logger   *zap.Logger
}

type CollectorParams struct {
	fx.In

	Logger   *zap.Logger
	Grabbers []Grabber `group:"corpus_grabbers"`
}

func NewCollector(params CollectorParams) *Collector {
	return NewCollectorFrom(params.Logger, params.Grabbers...)
}

func NewCollectorFrom(logger *zap.Logger, grabbers ...Grabber) *Collector {
	var kept []Grabber
	for _, grabber := range grabbers {
		if grabber == nil || reflect.ValueOf(grabber).IsNil() {
			continue // skip nil grabbers
		}
		kept = append(kept, grabber)
	}
	return &Collector{
		kept,
		logger,
	}
}

func (c *Collector) Len() int { return len(c.grabbers) }

// Collect asks every grabber in turn. A failing grabber is logged and skipped.
func (c *Collector) Collect(ctx context.Context) [][]byte {
	tracer := telemetry.FromContext(ctx)
	corpusTracer := tracer.Spawn("syncing corpus")
	corpusTracer.Start()
	defer corpusTracer.End()

	var seeds [][]byte
	seen := make(map[[sha256.Size]byte]struct{})
	for _, grabber := range c.grabbers {
		grabbed, err := c.grabFrom(ctx, corpusTracer, grabber)
		if err != nil {
			continue
		}
		for _, seed := range grabbed {
			sum := sha256.Sum256(seed)
			if _, ok := seen[sum]; ok {
				continue
			}
			seen[sum] = struct{}{}
			seeds = append(seeds, seed)
		}
	}

	c.logger.Info("collected corpus", zap.Int("grabbers", len(c.grabbers)), zap.Int("seed_count", len(seeds)))
	corpusTracer.WithAttributes(
		telemetry.EmptySpanAttributes().WithCorpusSize(len(seeds)),
	)
	return seeds
}

func (c *Collector) grabFrom(ctx context.Context, tracer telemetry.Tracer, grabber Grabber) ([][]byte, error) {
	grabberTracer := tracer.Spawn(fmt.Sprintf("syncing corpus from %s", grabber.Name()))
	grabberTracer.Start()
	defer grabberTracer.End()

	seeds, err := grabber.Grab(ctx)
	if err != nil {
		c.logger.Warn("failed to grab corpus",
			zap.String("grabber", grabber.Name()),
			zap.Error(err))
		grabberTracer.AddEvent("failed_to_grab_corpus", telemetry.EventAttributes{})
		return nil, fmt.Errorf("failed to grab corpus: %w", err)
	}

	c.logger.Info("grabbed corpus",
		zap.String("grabber", grabber.Name()),
		zap.Int("seed_count", len(seeds)))
	return seeds, nil
}

type GrabberParams struct {
	fx.In

	Logger      *zap.Logger
	Config      *config.FuzzerConfig
	AppConfig   *config.AppConfig
	RedisClient *redis.Client `optional:"true"`
	DB          *gorm.DB      `optional:"true"`
}

type GrabberResult struct {
	fx.Out

	Grabbers []Grabber `group:"corpus_grabbers,flatten"`
}

// NewConfiguredGrabbers builds a grabber for every configured source:
// the corpus directory or blob, the redis corpus set and the crash table.
func NewConfiguredGrabbers(params GrabberParams) GrabberResult {
	var grabbers []Grabber
	if params.Config.CorpusDirectory != "" {
		grabbers = append(grabbers, ForPath(params.Config.CorpusDirectory))
	}
	if params.RedisClient != nil && params.AppConfig.RedisKeys.Corpus != "" {
		grabbers = append(grabbers, NewRedisGrabber(params.RedisClient, params.Logger, params.AppConfig.RedisKeys.Corpus))
	}
	if params.DB != nil {
		grabbers = append(grabbers, NewDBGrabber(params.DB, params.Logger, "", dbReplayLimit))
	}
	return GrabberResult{Grabbers: grabbers}
}
