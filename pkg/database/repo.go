package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// inserts multiple crash records into the database
func AddCrashes(ctx context.Context, db *gorm.DB, crashes []*Crash) error {
	if len(crashes) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(crashes).Error
}

// NewCrash creates a new Crash object with the provided parameters
func NewCrash(
	sessionID string,
	target string,
	path string,
	description string,
	hash string,
	severity string,
	exploitability string,
	metric Metric,
) *Crash {
	return &Crash{
		SessionID:      sessionID,
		CreatedAt:      time.Now(),
		Target:         target,
		Path:           path,
		Description:    description,
		Hash:           hash,
		Severity:       severity,
		Exploitability: exploitability,
		Metric:         metric,
	}
}

// CountCrashes returns the number of stored crashes with the given hash
func CountCrashes(ctx context.Context, db *gorm.DB, hash string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&Crash{}).Where("hash = ?", hash).Count(&n).Error
	return n, err
}

// CrashPaths lists the distinct artifact paths recorded for a target, newest first.
// An empty target matches every target.
func CrashPaths(ctx context.Context, db *gorm.DB, target string, limit int) ([]string, error) {
	var paths []string
	query := db.WithContext(ctx).Model(&Crash{}).Where("path <> ''")
	if target != "" {
		query = query.Where("target = ?", target)
	}
	err := query.Group("path").Order("MAX(created_at) DESC").Limit(limit).Pluck("path", &paths).Error
	return paths, err
}
