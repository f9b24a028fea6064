package models

// SystemStats feeds the admin dashboard's summary cards.
type SystemStats struct {
	TotalUsers    int64 `json:"totalUsers"`
	ActiveUsers   int64 `json:"activeUsers"`
	NewThisMonth  int64 `json:"newThisMonth"`
	AdminUsers    int64 `json:"adminUsers"`
	TotalRequests int64 `json:"totalRequests"`
	OpenRequests  int64 `json:"openRequests"`
}

// UserStats is the breakdown served to /api/admin/user-stats and /stats.
type UserStats struct {
	TotalUsers       int64            `json:"total_users"`
	ActiveUsers      int64            `json:"active_users"`
	TotalRequests    int64            `json:"total_requests"`
	UsersByRole      map[string]int64 `json:"users_by_role"`
	RequestsByStatus map[string]int64 `json:"requests_by_status"`
}
