// Package models defines the database models for health monitoring.
package models

import "time"

// HealthSample is one evaluated poll of the monitored node.
type HealthSample struct {
	ID              uint      `gorm:"primaryKey"`
	SampledAt       time.Time `gorm:"index"`
	Online          bool      `gorm:"index"`
	Healthy         bool      `gorm:"index"`
	Height          *int64    `gorm:"index"`
	Round           *int64
	StepCode        *int
	StepLabel       string `gorm:"size:64"`
	PrevoteRatio    *float64
	PrecommitRatio  *float64
	Issues          string `gorm:"type:text"` // newline-joined issue list
	Peers           int
	MempoolTxs      int
	ProposerAddress string `gorm:"size:128;index"`
	ProposerMoniker string `gorm:"size:128"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
