package controllers

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csr-volunteer/models"
	"csr-volunteer/testutil"
)

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	csr := s.user(models.RoleCSR)
	pm := s.user(models.RolePlatformManager)

	for _, u := range []models.User{csr, pm} {
		rec := s.do("GET", "/api/admin/users", &u, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "You do not have permission to access this resource", errorMessage(t, rec))
	}
	assert.Equal(t, http.StatusUnauthorized, s.do("GET", "/api/admin/stats", nil, nil).Code)
}

func TestListUsersFilters(t *testing.T) {
	s := newTestServer(t)
	admin := s.user(models.RoleAdmin)
	s.user(models.RoleCSR, testutil.WithName("Carla Helper"))
	s.user(models.RoleCSR, testutil.Inactive())
	s.user(models.RolePIN, testutil.WithName("Carl Needs"))

	list := func(query string) []models.User {
		rec := s.do("GET", "/api/admin/users"+query, &admin, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var users []models.User
		decode(t, rec, &users)
		return users
	}

	assert.Len(t, list(""), 4)
	assert.Len(t, list("?role=CSR%20Rep"), 2)
	assert.Len(t, list("?role=csr&active=false"), 1)

	byName := list("?q=CARL")
	require.Len(t, byName, 2)

	rec := s.do("GET", "/api/admin/users?role=wizard", &admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportUsersCSV(t *testing.T) {
	s := newTestServer(t)
	admin := s.user(models.RoleAdmin)
	s.user(models.RolePIN, testutil.Inactive())

	for _, path := range []string{"/api/admin/users/export", "/api/admin/users?format=csv"} {
		rec := s.do("GET", path, &admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "users-export-")

		records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []string{"User ID", "Username", "Name", "Email", "Role", "Status", "Last Login", "Created At"}, records[0])
		statuses := []string{records[1][5], records[2][5]}
		assert.ElementsMatch(t, []string{"Active", "Inactive"}, statuses)
	}
}

func TestCreateUser(t *testing.T) {
	s := newTestServer(t)
	admin := s.user(models.RoleAdmin)

	t.Run("generated password", func(t *testing.T) {
		rec := s.do("POST", "/api/admin/users", &admin, map[string]string{"name": "New Person", "email": "New.Person@mail.com", "role": "CSR Rep"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var body struct {
			models.User
			TemporaryPassword string `json:"temporary_password"`
		}
		decode(t, rec, &body)
		assert.Equal(t, "new.person", body.Username)
		assert.Equal(t, "new.person@mail.com", body.Email)
		assert.Equal(t, models.RoleCSR, body.Role)
		assert.True(t, body.ForcePasswordReset)
		require.Len(t, body.TemporaryPassword, tempPasswordLength)

		sent := s.notifier.sentTo("new.person@mail.com")
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].Body, body.TemporaryPassword)

		login := s.do("POST", "/api/login", nil, map[string]string{"email": "new.person@mail.com", "password": body.TemporaryPassword})
		assert.Equal(t, http.StatusOK, login.Code)
	})

	t.Run("username falls back to full email", func(t *testing.T) {
		rec := s.do("POST", "/api/admin/users/create", &admin, map[string]string{"name": "Other", "email": "new.person@other.org", "password": "longenough"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var user models.User
		decode(t, rec, &user)
		assert.Equal(t, "new.person@other.org", user.Username)
		assert.Equal(t, models.RolePIN, user.Role)
		assert.False(t, user.ForcePasswordReset)
		assert.NotContains(t, rec.Body.String(), "temporary_password")
	})

	t.Run("duplicate email", func(t *testing.T) {
		rec := s.do("POST", "/api/admin/users", &admin, map[string]string{"name": "Dup", "email": "NEW.PERSON@mail.com", "password": "longenough"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("duplicate username", func(t *testing.T) {
		rec := s.do("POST", "/api/admin/users", &admin, map[string]string{"name": "Dup", "email": "fresh@mail.com", "username": "New.Person", "password": "longenough"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		rec := s.do("POST", "/api/admin/users", &admin, map[string]string{"email": "not-an-email", "password": "short"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		msg := errorMessage(t, rec)
		assert.Contains(t, msg, "name is required")
		assert.Contains(t, msg, "email must be a valid email address")
		assert.Contains(t, msg, "password must be at least 8 characters")
	})

	t.Run("unknown role", func(t *testing.T) {
		rec := s.do("POST", "/api/admin/users", &admin, map[string]string{"name": "X", "email": "x1@mail.com", "role": "wizard"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.Contains(t, s.actions(), "user_create")
}

func TestUpdateUser(t *testing.T) {
	s := newTestServer(t)
	admin := s.user(models.RoleAdmin)
	csr := s.user(models.RoleCSR)
	other := s.user(models.RolePIN)
	path := fmt.Sprintf("/api/admin/users/%d", csr.ID)

	rec := s.do("PATCH", path, &admin, map[string]interface{}{"name": "Renamed", "role": "pm", "active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var user models.User
	decode(t, rec, &user)
	assert.Equal(t, "Renamed", user.Name)
	assert.Equal(t, models.RolePlatformManager, user.Role)
	assert.False(t, user.Active)
	assert.Subset(t, s.actions(), []string{"user_update", "user_deactivate"})

	rec = s.do("PATCH", path, &admin, map[string]interface{}{"email": other.Email})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do("PATCH", path, &admin, map[string]interface{}{"username": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "username is required", errorMessage(t, rec))
	stored, err := loadUser(context.Background(), s.db, csr.ID)
	require.NoError(t, err)
	assert.Equal(t, csr.Username, stored.Username)

	rec = s.do("PATCH", "/api/admin/users/99999", &admin, map[string]interface{}{"name": "Nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	self := fmt.Sprintf("/api/admin/users/%d", admin.ID)
	rec = s.do("PATCH", self, &admin, map[string]interface{}{"active": false})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do("PATCH", self, &admin, map[string]interface{}{"role": "pin"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do("PATCH", path, &admin, map[string]interface{}{"password": "another-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do("PATCH", path, &admin, map[string]interface{}{"active": true})
	require.Equal(t, http.StatusOK, rec.Code)
	login := s.do("POST", "/api/login", nil, map[string]string{"email": csr.Email, "password": "another-secret"})
	assert.Equal(t, http.StatusOK, login.Code)
	assert.Contains(t, s.actions(), "user_activate")
}

func TestDeleteUser(t *testing.T) {
	s := newTestServer(t)
	admin := s.user(models.RoleAdmin)
	pin := s.user(models.RolePIN)
	csr := s.user(models.RoleCSR)

	assigned := testutil.CreateRequest(t, s.db, pin.ID, testutil.WithStatus(models.StatusInProgress), testutil.AssignedTo(csr.ID))
	other := s.user(models.RolePIN)
	kept := testutil.CreateRequest(t, s.db, other.ID, testutil.WithStatus(models.StatusOnHold), testutil.AssignedTo(csr.ID))
	_, err := s.db.Exec(`INSERT INTO csr_shortlist (csr_id, request_id, shortlisted_at) VALUES (?, ?, ?)`, csr.ID, assigned.ID, time.Now().UTC())
	require.NoError(t, err)

	rec := s.do("DELETE", fmt.Sprintf("/api/admin/users/%d", csr.ID), &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status, assignee := s.status(kept.ID)
	assert.Equal(t, models.StatusOpen, status)
	assert.Nil(t, assignee)
	assert.Equal(t, models.MatchCancelled, s.matchStatus(kept.ID))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM csr_shortlist WHERE csr_id = ?`, csr.ID).Scan(&n))
	assert.Zero(t, n)

	rec = s.do("DELETE", fmt.Sprintf("/api/admin/users/%d", pin.ID), &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM help_requests WHERE user_id = ?`, pin.ID).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM match_history WHERE request_id = ?`, assigned.ID).Scan(&n))
	assert.Zero(t, n)

	assert.Equal(t, http.StatusConflict, s.do("DELETE", fmt.Sprintf("/api/admin/users/%d", admin.ID), &admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("DELETE", "/api/admin/users/99999", &admin, nil).Code)
	assert.Contains(t, s.actions(), "user_delete")
}

func TestResetPassword(t *testing.T) {
	s := newTestServer(t)
	admin := s.user(models.RoleAdmin)
	pin := s.user(models.RolePIN)
	path := fmt.Sprintf("/api/admin/users/%d/reset-password", pin.ID)

	rec := s.do("POST", path, &admin, map[string]interface{}{"new_password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", path, &admin, map[string]interface{}{"new_password": "longenough", "confirm_password": "different1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", path, &admin, map[string]interface{}{"new_password": "longenough", "force_reset": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "temporary_password")

	rec = s.do("POST", path, &admin, map[string]interface{}{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		TemporaryPassword  string `json:"temporary_password"`
		ForcePasswordReset bool   `json:"force_password_reset"`
	}
	decode(t, rec, &body)
	assert.True(t, body.ForcePasswordReset)
	require.NotEmpty(t, body.TemporaryPassword)

	login := s.do("POST", "/api/login", nil, map[string]string{"email": pin.Email, "password": body.TemporaryPassword})
	require.Equal(t, http.StatusOK, login.Code)
	assert.Contains(t, login.Body.String(), `"force_password_reset":true`)

	assert.Len(t, s.notifier.sentTo(pin.Email), 2)
	assert.Contains(t, s.actions(), "password_reset")
	assert.Equal(t, http.StatusNotFound, s.do("POST", "/api/admin/users/99999/reset-password", &admin, map[string]interface{}{}).Code)
}

func TestAdminStats(t *testing.T) {
	s := newTestServer(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	s.env.Now = fixedClock(now)

	admin := s.user(models.RoleAdmin, testutil.CreatedAt(now.AddDate(0, -2, 0)))
	pin := s.user(models.RolePIN, testutil.CreatedAt(now.AddDate(0, 0, -3)))
	s.user(models.RoleCSR, testutil.Inactive(), testutil.CreatedAt(now.AddDate(0, 0, -20)))
	testutil.CreateRequest(t, s.db, pin.ID)
	testutil.CreateRequest(t, s.db, pin.ID, testutil.WithStatus(models.StatusCompleted))

	rec := s.do("GET", "/api/admin/stats", &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"totalUsers":3,"activeUsers":2,"newThisMonth":1,"adminUsers":1,"totalRequests":2,"openRequests":1}`, rec.Body.String())

	rec = s.do("GET", "/api/admin/user-stats", &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.UserStats
	decode(t, rec, &stats)
	assert.Equal(t, int64(3), stats.TotalUsers)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Len(t, stats.UsersByRole, len(models.Roles))
	assert.Equal(t, int64(0), stats.UsersByRole[string(models.RolePlatformManager)])
	assert.Len(t, stats.RequestsByStatus, len(models.Statuses))
	assert.Equal(t, int64(1), stats.RequestsByStatus[string(models.StatusCompleted)])
}

func TestActivityLogs(t *testing.T) {
	s := newTestServer(t)
	admin := s.user(models.RoleAdmin)

	old := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.db.Exec(`INSERT INTO activity_logs (user_id, user_name, user_role, action, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			admin.ID, admin.Name, string(admin.Role), "user_update", "old entry", old.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	s.env.record(context.Background(), s.db, actor{ID: admin.ID, Name: admin.Name, Role: admin.Role}, "login", "Signed in")

	list := func(query string) []models.ActivityLog {
		rec := s.do("GET", "/api/admin/activity-logs"+query, &admin, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var logs []models.ActivityLog
		decode(t, rec, &logs)
		return logs
	}

	all := list("")
	require.Len(t, all, 4)
	assert.Equal(t, "login", all[0].Action)
	assert.Len(t, list("?limit=2"), 2)
	assert.Len(t, list("?action=user_update"), 3)
	assert.Len(t, list("?since=2026-01-01"), 1)

	rec := s.do("GET", "/api/admin/activity-logs?since=yesterday", &admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
