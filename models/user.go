package models

import (
	"encoding/json"
	"time"
)

// User is an account of any role. The password hash never leaves the server.
type User struct {
	ID                 int64      `json:"users_id"`
	Username           string     `json:"username"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	Phone              string     `json:"phone,omitempty"`
	PasswordHash       string     `json:"-"`
	Role               Role       `json:"role"`
	Active             bool       `json:"active"`
	ForcePasswordReset bool       `json:"force_password_reset"`
	LastLogin          *time.Time `json:"last_login"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// MarshalJSON also emits the plain "id" key that the older admin view reads.
func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	return json.Marshal(struct {
		plain
		LegacyID int64 `json:"id"`
	}{plain(u), u.ID})
}

// Error is the body of every non-2xx response.
type Error struct {
	Message string `json:"error"`
}
