package corpus

import (
	"context"
	"os"

	"github.com/0xb-s/fuzzer/pkg/watchdog"
	"go.uber.org/zap"
)

// Feeder accepts new corpus entries while a session runs
type Feeder interface {
	AddToCorpus(data []byte)
}

// Watcher forwards files created in a corpus directory to a Feeder.
// Writers should create the file under a dot-prefixed name and rename it into place,
// since hidden files are ignored and only creation is observed.
type Watcher struct {
	logger  *zap.Logger
	factory *watchdog.WatchDogFactory
	dir     string
}

func NewWatcher(logger *zap.Logger, factory *watchdog.WatchDogFactory, dir string) *Watcher {
	return &Watcher{
		logger,
		factory,
		dir,
	}
}

// Watch blocks until ctx is done
func (w *Watcher) Watch(ctx context.Context, feeder Feeder) error {
	notifyChan := make(chan string, 64)
	dog, err := w.factory.New(ctx, notifyChan, func(path string) bool { return !hidden(path) })
	if err != nil {
		return err
	}
	if err := dog.AddDir(w.dir); err != nil {
		// drain so the watchdog can shut down once ctx ends
		go func() {
			for range notifyChan {
			}
		}()
		return err
	}
	w.logger.Info("watching corpus directory", zap.String("dir", w.dir))

	for path := range notifyChan {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || info.Size() > MaxSeedSize {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn("failed to read new corpus file", zap.String("path", path), zap.Error(err))
			continue
		}
		feeder.AddToCorpus(data)
		w.logger.Debug("new corpus entry", zap.String("path", path), zap.Int("size", len(data)))
	}
	return nil
}
