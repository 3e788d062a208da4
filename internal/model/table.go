package model

import "time"

// TableStatus is the seating state of a table.
type TableStatus string

const (
	StatusAvailable TableStatus = "Available"
	StatusClaimed   TableStatus = "Claimed"
	StatusOccupied  TableStatus = "Occupied"
)

// Valid reports whether s is one of the known statuses.
func (s TableStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusClaimed, StatusOccupied:
		return true
	}
	return false
}

// Table represents one physical table or seating area.
type Table struct {
	ID                string      `gorm:"primaryKey;size:36" json:"id"`
	Name              string      `gorm:"size:128;not null" json:"name"`
	Capacity          int         `gorm:"not null" json:"capacity"`
	Status            TableStatus `gorm:"size:16;not null;index" json:"status"`
	ClaimedAt         *time.Time  `json:"claimedAt,omitempty"`
	ClaimedBy         string      `gorm:"size:64" json:"claimedBy,omitempty"`
	OccupiedAt        *time.Time  `json:"occupiedAt,omitempty"`
	LastUpdated       time.Time   `gorm:"not null" json:"lastUpdated"`
	Queue             []string    `gorm:"serializer:json" json:"queue"`
	Note              string      `gorm:"size:1024" json:"note,omitempty"`
	CustomWaitMessage string      `gorm:"size:256" json:"customWaitMessage,omitempty"`
	History           []string    `gorm:"serializer:json" json:"history,omitempty"`
	// Version is bumped on every mutation and used for compare-and-swap writes.
	Version   int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`
}

func (Table) TableName() string { return "tables" }
