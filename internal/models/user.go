package models

import (
	"time"
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a patient or portal login scoped to one sponsor.
// (SponsorID, Username) is unique; the same username may exist under other sponsors.
type User struct {
	ID             string
	SponsorID      string
	Username       string
	PasswordHash   []byte // Argon2id digest
	Salt           []byte
	FailedAttempts int
	LockedUntil    *time.Time // Temporary lock expiration
	Status         string     // "active", "disabled"
	Role           string     // Opaque, carried into tokens but never evaluated here
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLocked reports whether the lockout is still in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// LockoutEvent describes an account that just crossed the failure threshold.
type LockoutEvent struct {
	UserID         string
	SponsorID      string
	Username       string
	FailedAttempts int
	LockedUntil    time.Time
	ClientAddress  string
}
