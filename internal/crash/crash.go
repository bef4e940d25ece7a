package crash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/types"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Record is what sinks receive for every saved crash
type Record struct {
	SessionID string
	Target    string
	Path      string
	Info      Info
	Desc      string
}

// Sink forwards crash records to an external system
type Sink interface {
	Name() string
	Store(ctx context.Context, records []Record) error
}

// Manager writes crash artifacts and fans records out to sinks in the background
type Manager struct {
	logger    *zap.Logger
	crashDir  string
	sessionID string
	analysis  *Analysis
	sinks     []Sink

	recordChan chan Record
	done       chan struct{}
	closeOnce  sync.Once
}

// New starts the sink loop. An empty crashDir disables artifact files.
func New(crashDir string, logger *zap.Logger, sinks ...Sink) *Manager {
	m := &Manager{
		logger,
		crashDir,
		uuid.New().String(),
		NewAnalysis(),
		sinks,
		make(chan Record, 1024),
		make(chan struct{}),
		sync.Once{},
	}
	go m.start()
	return m
}

type ManagerParams struct {
	fx.In

	Config    *config.FuzzerConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
	Sinks     []Sink `group:"crash_sinks"`
}

func NewManager(p ManagerParams) (*Manager, error) {
	dir := ""
	if p.Config.SaveCrashes {
		dir = p.Config.CrashDirectory
		if dir == "" {
			dir = "crashes"
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create crash directory: %w", err)
		}
	}

	var sinks []Sink
	for _, s := range p.Sinks {
		if s != nil {
			sinks = append(sinks, s)
		}
	}
	m := New(dir, p.Logger, sinks...)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			m.logger.Info("stopping crash manager")
			m.Close()
			return nil
		},
	})
	return m, nil
}

func (m *Manager) SessionID() string   { return m.sessionID }
func (m *Manager) Analysis() *Analysis { return m.analysis }

// Save classifies the crash, writes crash_<uuid>.bin holding the input, a newline and the
// escaped description, and queues the record for the sinks. It returns the artifact path, if any.
func (m *Manager) Save(ctx context.Context, msg types.CrashMessage) (string, error) {
	info := m.analysis.Analyze(msg.Input, msg.Description)

	path := ""
	if m.crashDir != "" {
		if err := os.MkdirAll(m.crashDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create crash directory: %w", err)
		}
		path = filepath.Join(m.crashDir, fmt.Sprintf("crash_%s.bin", uuid.New().String()))

		if err := os.WriteFile(path, encodeArtifact(msg.Input, msg.Description), 0644); err != nil {
			return "", fmt.Errorf("failed to write crash file: %w", err)
		}
		m.logger.Info("crash saved",
			zap.String("target", msg.Target),
			zap.String("path", path),
			zap.String("severity", string(info.Severity)))
	}

	if len(m.sinks) == 0 {
		return path, nil
	}
	record := Record{m.sessionID, msg.Target, path, info, msg.Description}
	select {
	case m.recordChan <- record:
	case <-ctx.Done():
		return path, ctx.Err()
	}
	return path, nil
}

// Close flushes queued records to the sinks and stops the loop
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.recordChan)
	})
	<-m.done
}

func (m *Manager) start() {
	defer close(m.done)
	for record := range m.recordChan {
		batch := []Record{record}
		// drain what is already queued into the same batch
	drain:
		for len(batch) < 64 {
			select {
			case r, ok := <-m.recordChan:
				if !ok {
					break drain
				}
				batch = append(batch, r)
			default:
				break drain
			}
		}
		m.store(batch)
	}
}

func (m *Manager) store(batch []Record) {
	for _, sink := range m.sinks {
		if err := sink.Store(context.Background(), batch); err != nil {
			m.logger.Error("failed to store crashes",
				zap.String("sink", sink.Name()),
				zap.Int("count", len(batch)),
				zap.Error(err))
		}
	}
}
