package corpus

import (
	"context"
	"fmt"

	"github.com/0xb-s/fuzzer/internal/crash"
	"github.com/0xb-s/fuzzer/pkg/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBGrabber replays the inputs of previously recorded crashes
type DBGrabber struct {
	db     *gorm.DB
	logger *zap.Logger
	target string
	limit  int
}

// NewDBGrabber limits the replay to the newest limit artifacts of target; an empty target takes all
func NewDBGrabber(db *gorm.DB, logger *zap.Logger, target string, limit int) *DBGrabber {
	return &DBGrabber{
		db,
		logger,
		target,
		limit,
	}
}

func (s *DBGrabber) Name() string { return "database" }

func (s *DBGrabber) Grab(ctx context.Context) ([][]byte, error) {
	paths, err := database.CrashPaths(ctx, s.db, s.target, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crash paths: %w", err)
	}
	if len(paths) == 0 {
		s.logger.Info("No crash artifacts found in db", zap.String("target", s.target))
		return nil, nil
	}

	var seeds [][]byte
	for _, path := range paths {
		input, _, err := crash.ReadArtifact(path)
		if err != nil {
			s.logger.Debug("skipping crash artifact", zap.String("path", path), zap.Error(err))
			continue
		}
		seeds = append(seeds, input)
	}
	s.logger.Info("Got crash inputs in db", zap.String("target", s.target), zap.Int("count", len(seeds)))
	return seeds, nil
}
