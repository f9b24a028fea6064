package models

import "time"

// ActivityLog is one entry of the admin audit trail.
type ActivityLog struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    *int64    `json:"userId"`
	UserName  string    `json:"userName"`
	UserRole  string    `json:"userRole"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}
