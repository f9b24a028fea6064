package models

import (
	"encoding/json"
	"time"
)

type Category struct {
	ID          int64     `json:"categories_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	UsageCount  int64     `json:"usage_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MarshalJSON adds the "id" and "usageCount" keys the PM view reads.
func (c Category) MarshalJSON() ([]byte, error) {
	type plain Category
	return json.Marshal(struct {
		plain
		LegacyID   int64 `json:"id"`
		UsageCamel int64 `json:"usageCount"`
	}{plain(c), c.ID, c.UsageCount})
}
