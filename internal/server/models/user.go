package models

import "time"

// Roles known to the application.
const (
	RoleFarmManager = "farm_manager"
	RoleSupervisor  = "supervisor"
)

// User is a row of the users table. PasswordHash holds the stored credential
// string (<hexDigest>.<hexSalt>) and is never serialised to clients.
type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	FirstName         string    `json:"firstName"`
	LastName          string    `json:"lastName"`
	ProfileImageURL   string    `json:"profileImageUrl"`
	Role              string    `json:"role"`
	CredentialVersion int64     `json:"-"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
