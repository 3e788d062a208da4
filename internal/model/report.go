package model

import "time"

// Report is an issue submitted by a guest or staff member.
type Report struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Issue      string    `gorm:"size:4096;not null" json:"issue"`
	ReportedBy string    `gorm:"size:64" json:"reportedBy,omitempty"`
	ReportedAt time.Time `gorm:"not null;index" json:"reportedAt"`
}

func (Report) TableName() string { return "reports" }
