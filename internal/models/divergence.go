package models

import "time"

// DivergenceEvent records one confirmed app-hash or last-results divergence.
// One row per height; re-observations update the existing row.
type DivergenceEvent struct {
	ID                  uint   `gorm:"primaryKey"`
	Height              int64  `gorm:"uniqueIndex;not null"`
	Cause               string `gorm:"size:32;index"` // "app_hash" or "last_results"
	NodeAppHash         string `gorm:"size:128"`
	ABCIAppHash         string `gorm:"size:128"`
	NodeLastResultsHash string `gorm:"size:128"`
	FirstDetectedAt     time.Time
	NodeTxCount         *int
	ReferenceTxCount    *int
	MatchingTxCount     *int
	MissingTxs          string `gorm:"type:text"` // newline-joined hex values
	UnexpectedTxs       string `gorm:"type:text"`
	ReferenceNode       string `gorm:"size:256"`
	AnalysisError       string `gorm:"type:text"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
