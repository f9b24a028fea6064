package controllers

import (
	"database/sql"
	"net/http"
	"time"

	"csr-volunteer/models"
	"csr-volunteer/utils"
)

const (
	defaultLegacyLimit = 10
	maxLegacyLimit     = 100
	serviceVersion     = "2.0"
)

// LegacyController serves the health check and the read-only routes the
// older dashboard pages call without a token.
type LegacyController struct {
	*Env
}

func (c LegacyController) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.ResponseJSON(w, map[string]string{
			"message": "CSR Volunteer System is running",
			"status":  "healthy",
			"version": serviceVersion,
		})
	}
}

// publicUser is the directory entry served without credentials. Contact
// details stay behind the admin API.
type publicUser struct {
	ID        int64       `json:"id"`
	UsersID   int64       `json:"users_id"`
	Username  string      `json:"username"`
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
}

func (c LegacyController) Users(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := queryUsers(r.Context(), db, "ORDER BY users_id")
		if err != nil {
			c.serverError(w, err, "listing users")
			return
		}
		out := make([]publicUser, 0, len(users))
		for _, u := range users {
			out = append(out, publicUser{
				ID:        u.ID,
				UsersID:   u.ID,
				Username:  u.Username,
				Name:      u.Name,
				Role:      u.Role,
				Active:    u.Active,
				CreatedAt: u.CreatedAt,
			})
		}
		utils.ResponseJSON(w, out)
	}
}

func (c LegacyController) Requests(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := utils.StrToInt(r.URL.Query().Get("limit"), defaultLegacyLimit)
		if limit <= 0 {
			limit = defaultLegacyLimit
		}
		if limit > maxLegacyLimit {
			limit = maxLegacyLimit
		}
		requests, err := queryRequests(r.Context(), db, "ORDER BY hr.created_at DESC, hr.pin_requests_id DESC LIMIT ?", limit)
		if err != nil {
			c.serverError(w, err, "listing recent requests")
			return
		}
		for i := range requests {
			requests[i].ContactInfo = ""
		}
		utils.ResponseJSON(w, requests)
	}
}

func (c LegacyController) Categories(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := listCategories(r.Context(), db, "ORDER BY c.name")
		if err != nil {
			c.serverError(w, err, "listing categories")
			return
		}
		utils.ResponseJSON(w, categories)
	}
}

func (c LegacyController) Stats(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := userStats(r.Context(), db)
		if err != nil {
			c.serverError(w, err, "computing stats")
			return
		}
		utils.ResponseJSON(w, stats)
	}
}
