package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// inserts multiple finding records into the database
func AddFindings(ctx context.Context, db *gorm.DB, findings []*Finding) error {
	if len(findings) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(findings).Error
}

// NewFinding creates a new Finding row with the provided parameters
func NewFinding(
	findingID string,
	runID string,
	module string,
	title string,
	severity string,
	category string,
	filePath string,
	reproducerPath string,
	metadata Metadata,
) *Finding {
	return &Finding{
		FindingID:      findingID,
		RunID:          runID,
		CreatedAt:      time.Now(),
		Module:         module,
		Title:          title,
		Severity:       severity,
		Category:       category,
		FilePath:       filePath,
		ReproducerPath: reproducerPath,
		Metadata:       metadata,
	}
}
