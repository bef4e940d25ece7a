package crash

import (
	"context"
	"fmt"

	"github.com/0xb-s/fuzzer/pkg/database"
	"github.com/0xb-s/fuzzer/pkg/mq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const CrashQueueName = "fuzz_crash_queue"

// NotificationQueue registers CrashQueueName with the RabbitMQ pool, which declares it on every connection it opens
func NotificationQueue() mq.Queue {
	return CrashQueueName
}

type dbSink struct {
	db *gorm.DB
}

// NewDBSink stores crash rows with gorm. It returns nil when db is nil.
func NewDBSink(db *gorm.DB) Sink {
	if db == nil {
		return nil
	}
	return &dbSink{db}
}

func (s *dbSink) Name() string { return "database" }

func (s *dbSink) Store(ctx context.Context, records []Record) error {
	rows := make([]*database.Crash, 0, len(records))
	for _, r := range records {
		seen, err := database.CountCrashes(ctx, s.db, r.Info.Hash)
		if err != nil {
			return fmt.Errorf("failed to count crashes: %w", err)
		}
		rows = append(rows, database.NewCrash(
			r.SessionID,
			r.Target,
			r.Path,
			r.Desc,
			r.Info.Hash,
			string(r.Info.Severity),
			string(r.Info.Exploitability),
			database.Metric{"input_size": len(r.Info.Input), "seen_before": seen},
		))
	}
	if err := database.AddCrashes(ctx, s.db, rows); err != nil {
		return fmt.Errorf("failed to add crashes: %w", err)
	}
	return nil
}

// CrashNotification is the body published to CrashQueueName
type CrashNotification struct {
	SessionID      string `json:"session_id"`
	Target         string `json:"target"`
	Path           string `json:"path,omitempty"`
	Description    string `json:"description"`
	Hash           string `json:"hash"`
	Severity       string `json:"severity"`
	Exploitability string `json:"exploitability"`
}

type mqSink struct {
	rabbitMQ mq.RabbitMQ
	logger   *zap.Logger
}

// NewMQSink publishes one notification per crash. It returns nil when rabbitMQ is nil.
func NewMQSink(rabbitMQ mq.RabbitMQ, logger *zap.Logger) Sink {
	if rabbitMQ == nil {
		return nil
	}
	return &mqSink{rabbitMQ, logger}
}

func (s *mqSink) Name() string { return "rabbitmq" }

func (s *mqSink) Store(ctx context.Context, records []Record) error {
	for _, r := range records {
		n := CrashNotification{
			r.SessionID,
			r.Target,
			r.Path,
			r.Desc,
			r.Info.Hash,
			string(r.Info.Severity),
			string(r.Info.Exploitability),
		}
		if err := mq.PublishJSON(ctx, s.rabbitMQ, CrashQueueName, n); err != nil {
			return err
		}
		s.logger.Debug("crash notification published", zap.String("hash", n.Hash))
	}
	return nil
}
