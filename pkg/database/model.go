package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Crash represents a record in the public.crashes table
type Crash struct {
	ID             int       `gorm:"primaryKey;column:id"`
	SessionID      string    `gorm:"column:session_id;not null;index"`
	CreatedAt      time.Time `gorm:"column:created_at;default:now()"`
	Target         string    `gorm:"column:target;not null"`
	Path           string    `gorm:"column:path"`
	Description    string    `gorm:"column:description;not null"`
	Hash           string    `gorm:"column:hash;not null;index"`
	Severity       string    `gorm:"column:severity"`
	Exploitability string    `gorm:"column:exploitability"`
	Metric         Metric    `gorm:"column:metric;type:jsonb"`
}

// Metric represents the jsonb field in the crashes table
type Metric map[string]any

// Value implements the driver.Valuer interface for the Metric type
func (m Metric) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for the Metric type
func (m *Metric) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, &m)
}
