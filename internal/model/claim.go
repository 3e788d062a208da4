package model

import "time"

// ClaimAttemptLog holds the recent claim attempts of one user.
type ClaimAttemptLog struct {
	UserID    string      `gorm:"primaryKey;size:64" json:"userId"`
	Attempts  []time.Time `gorm:"serializer:json" json:"attempts"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (ClaimAttemptLog) TableName() string { return "claim_attempts" }

// UserStats counts successful claims per user.
type UserStats struct {
	UserID     string    `gorm:"primaryKey;size:64" json:"userId"`
	ClaimCount int64     `gorm:"not null;default:0" json:"claimCount"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (UserStats) TableName() string { return "user_stats" }
