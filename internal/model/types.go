package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account. The phone number, not the username,
// is the unique identifier used for authentication.
type User struct {
	ID           uuid.UUID
	PhoneNumber  string
	Username     string
	PasswordHash string
	FirstName    *string
	LastName     *string
	IsActive     bool
	IsStaff      bool
	IsSuperuser  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
