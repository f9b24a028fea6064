package controllers

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"csr-volunteer/models"
	"csr-volunteer/utils"
)

const (
	defaultActivityLimit = 100
	maxActivityLimit     = 500
)

func count(ctx context.Context, db *sql.DB, query string, args ...interface{}) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (c AdminController) Stats(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := c.now()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

		var stats models.SystemStats
		queries := []struct {
			dst   *int64
			query string
			args  []interface{}
		}{
			{&stats.TotalUsers, `SELECT COUNT(*) FROM users`, nil},
			{&stats.ActiveUsers, `SELECT COUNT(*) FROM users WHERE active = ?`, []interface{}{true}},
			{&stats.NewThisMonth, `SELECT COUNT(*) FROM users WHERE created_at >= ?`, []interface{}{monthStart}},
			{&stats.AdminUsers, `SELECT COUNT(*) FROM users WHERE role = ?`, []interface{}{string(models.RoleAdmin)}},
			{&stats.TotalRequests, `SELECT COUNT(*) FROM help_requests`, nil},
			{&stats.OpenRequests, `SELECT COUNT(*) FROM help_requests WHERE status = ?`, []interface{}{string(models.StatusOpen)}},
		}
		for _, q := range queries {
			n, err := count(ctx, db, q.query, q.args...)
			if err != nil {
				c.serverError(w, err, "computing system stats")
				return
			}
			*q.dst = n
		}
		utils.ResponseJSON(w, stats)
	}
}

// userStats is shared by the admin endpoint and the legacy /stats route.
func userStats(ctx context.Context, db *sql.DB) (models.UserStats, error) {
	stats := models.UserStats{
		UsersByRole:      make(map[string]int64, len(models.Roles)),
		RequestsByStatus: make(map[string]int64, len(models.Statuses)),
	}
	for _, role := range models.Roles {
		stats.UsersByRole[string(role)] = 0
	}
	for _, status := range models.Statuses {
		stats.RequestsByStatus[string(status)] = 0
	}

	var err error
	if stats.TotalUsers, err = count(ctx, db, `SELECT COUNT(*) FROM users`); err != nil {
		return stats, err
	}
	if stats.ActiveUsers, err = count(ctx, db, `SELECT COUNT(*) FROM users WHERE active = ?`, true); err != nil {
		return stats, err
	}
	if stats.TotalRequests, err = count(ctx, db, `SELECT COUNT(*) FROM help_requests`); err != nil {
		return stats, err
	}
	if err := groupCount(ctx, db, `SELECT role, COUNT(*) FROM users GROUP BY role`, stats.UsersByRole); err != nil {
		return stats, err
	}
	if err := groupCount(ctx, db, `SELECT status, COUNT(*) FROM help_requests GROUP BY status`, stats.RequestsByStatus); err != nil {
		return stats, err
	}
	return stats, nil
}

func groupCount(ctx context.Context, db *sql.DB, query string, into map[string]int64, args ...interface{}) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

func (c AdminController) UserStats(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := userStats(r.Context(), db)
		if err != nil {
			c.serverError(w, err, "computing user stats")
			return
		}
		utils.ResponseJSON(w, stats)
	}
}

func (c AdminController) ActivityLogs(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		var clauses []string
		var args []interface{}

		if since := query.Get("since"); since != "" {
			day, err := time.Parse("2006-01-02", since)
			if err != nil {
				badRequest(w, "since must be a date in YYYY-MM-DD format.")
				return
			}
			clauses = append(clauses, "created_at >= ?")
			args = append(args, day.UTC())
		}
		if action := strings.TrimSpace(query.Get("action")); action != "" && action != "all" {
			clauses = append(clauses, "action = ?")
			args = append(args, action)
		}
		limit := utils.StrToInt(query.Get("limit"), defaultActivityLimit)
		if limit <= 0 {
			limit = defaultActivityLimit
		}
		if limit > maxActivityLimit {
			limit = maxActivityLimit
		}

		where := ""
		if len(clauses) > 0 {
			where = " WHERE " + strings.Join(clauses, " AND ")
		}
		logs, err := listActivity(r.Context(), db, where, limit, args...)
		if err != nil {
			c.serverError(w, err, "listing activity logs")
			return
		}
		utils.ResponseJSON(w, logs)
	}
}

func listActivity(ctx context.Context, db *sql.DB, where string, limit int, args ...interface{}) ([]models.ActivityLog, error) {
	rows, err := db.QueryContext(ctx, `SELECT activity_logs_id, created_at, user_id, user_name, user_role, action, details
		FROM activity_logs`+where+` ORDER BY created_at DESC, activity_logs_id DESC LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.ActivityLog{}
	for rows.Next() {
		var l models.ActivityLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.UserID, &l.UserName, &l.UserRole, &l.Action, &l.Details); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
