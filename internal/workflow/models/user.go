package models

import (
	"time"

	id "docket/pkg/domain"
)

// User is a platform account as seen by the workflow engine. Identity is immutable once
// created; users are never hard-deleted while audit history references them.
type User struct {
	ID             id.UserID
	DisplayName    string
	Email          string
	Role           GlobalRole
	FailedAttempts int
	LockUntil      *time.Time
	CreatedAt      time.Time
}

// IsLocked reports whether the account is locked out at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && now.Before(*u.LockUntil)
}
