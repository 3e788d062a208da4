package model

import "time"

// Setting is a persisted process-wide key/value pair.
type Setting struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"size:255;not null"`
	UpdatedAt time.Time
}

func (Setting) TableName() string { return "settings" }
