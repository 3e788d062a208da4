package model

import "time"

// Role is the authorization role attached to a user at sign-up.
type Role string

const (
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

// User is an account registered with the identity provider.
type User struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string    `gorm:"size:255;not null"`
	Role         Role      `gorm:"size:16;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStaff || r == RoleCustomer
}
