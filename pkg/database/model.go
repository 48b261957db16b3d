package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Finding represents a record in the public.findings table
type Finding struct {
	ID             int      `gorm:"primaryKey;column:id"`
	FindingID      string   `gorm:"column:finding_id;not null"`
	RunID          string   `gorm:"column:run_id;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;default:now()"`
	Module         string   `gorm:"column:module;not null"`
	Title          string   `gorm:"column:title;not null"`
	Severity       string   `gorm:"column:severity;not null"`
	Category       string   `gorm:"column:category"`
	FilePath       string   `gorm:"column:file_path"`
	ReproducerPath string   `gorm:"column:reproducer_path"`
	Metadata       Metadata `gorm:"column:metadata;type:jsonb"`
}

// Metadata represents the jsonb field in the findings table
type Metadata map[string]any

// Value implements the driver.Valuer interface for the Metadata type
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for the Metadata type
func (m *Metadata) Scan(value any) error {
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
