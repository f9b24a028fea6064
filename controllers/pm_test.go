package controllers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csr-volunteer/cache"
	"csr-volunteer/models"
	"csr-volunteer/testutil"
)

func TestCategoryManagement(t *testing.T) {
	s := newTestServer(t)
	pm := s.user(models.RolePlatformManager)
	pin := s.user(models.RolePIN)
	csr := s.user(models.RoleCSR)

	rec := s.do("POST", "/api/pm/categories", &pm, map[string]interface{}{"name": " Groceries ", "description": "Food shopping"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var groceries models.Category
	decode(t, rec, &groceries)
	assert.Equal(t, "Groceries", groceries.Name)
	assert.True(t, groceries.Active)
	assert.Contains(t, rec.Body.String(), `"usageCount":0`)

	rec = s.do("POST", "/api/pm/categories", &pm, map[string]interface{}{"name": "GROCERIES"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do("POST", "/api/pm/categories", &pm, map[string]interface{}{"description": "nameless"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", "/api/pm/categories", &pm, map[string]interface{}{"name": "Transport", "active": false})
	require.Equal(t, http.StatusCreated, rec.Code)
	var transport models.Category
	decode(t, rec, &transport)
	assert.False(t, transport.Active)
	medical := testutil.CreateCategory(t, s.db, "Medical")

	for i := 0; i < highUsage; i++ {
		testutil.CreateRequest(t, s.db, pin.ID, testutil.WithCategory(groceries.ID))
	}
	testutil.CreateRequest(t, s.db, pin.ID, testutil.WithCategory(medical))

	list := func(query string) []string {
		rec := s.do("GET", "/api/pm/categories"+query, &pm, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var cats []models.Category
		decode(t, rec, &cats)
		names := make([]string, len(cats))
		for i, c := range cats {
			names[i] = c.Name
		}
		return names
	}
	assert.Equal(t, []string{"Groceries", "Medical", "Transport"}, list(""))
	assert.Equal(t, []string{"Groceries", "Medical"}, list("?usage=active"))
	assert.Equal(t, []string{"Transport"}, list("?usage=unused"))
	assert.Equal(t, []string{"Groceries"}, list("?usage=high"))
	assert.Equal(t, []string{"Groceries"}, list("?q=food"))
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/pm/categories?usage=sometimes", &pm, nil).Code)

	path := fmt.Sprintf("/api/pm/categories/%d", transport.ID)
	rec = s.do("PATCH", path, &pm, map[string]interface{}{"name": "medical"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do("PATCH", path, &pm, map[string]interface{}{"name": "Rides", "active": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rides models.Category
	decode(t, rec, &rides)
	assert.Equal(t, "Rides", rides.Name)
	assert.True(t, rides.Active)
	assert.Equal(t, http.StatusNotFound, s.do("PATCH", "/api/pm/categories/99999", &pm, map[string]interface{}{"name": "X"}).Code)

	rec = s.do("DELETE", fmt.Sprintf("/api/pm/categories/%d", groceries.ID), &pm, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "10 request(s)")
	require.Equal(t, http.StatusOK, s.do("DELETE", path, &pm, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("DELETE", path, &pm, nil).Code)

	assert.Equal(t, http.StatusForbidden, s.do("GET", "/api/pm/categories", &csr, nil).Code)
	assert.Subset(t, s.actions(), []string{"category_create", "category_update", "category_delete"})
}

func TestPMRequests(t *testing.T) {
	s := newTestServer(t)
	pm := s.user(models.RolePlatformManager)
	pin := s.user(models.RolePIN, testutil.WithEmail("pin-owner@mail.com"))
	csr := s.user(models.RoleCSR, testutil.WithEmail("csr-worker@mail.com"))
	medical := testutil.CreateCategory(t, s.db, "Medical")

	open := testutil.CreateRequest(t, s.db, pin.ID, testutil.WithCategory(medical))
	active := testutil.CreateRequest(t, s.db, pin.ID, testutil.WithStatus(models.StatusInProgress), testutil.AssignedTo(csr.ID))
	done := testutil.CreateRequest(t, s.db, pin.ID, testutil.WithStatus(models.StatusCompleted), testutil.AssignedTo(csr.ID),
		testutil.ClosedAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	list := func(query string) []int64 {
		rec := s.do("GET", "/api/pm/requests"+query, &pm, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []models.HelpRequest
		decode(t, rec, &out)
		ids := make([]int64, len(out))
		for i, hr := range out {
			ids[i] = hr.ID
		}
		return ids
	}
	assert.Len(t, list(""), 3)
	assert.Equal(t, []int64{open.ID}, list("?status=unassigned"))
	assert.Equal(t, []int64{active.ID}, list("?status=In%20Progress"))
	assert.Equal(t, []int64{open.ID}, list("?q=medic"))
	assert.Equal(t, []int64{done.ID}, list("?q=complete"))
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/pm/requests?status=lost", &pm, nil).Code)

	t.Run("reopen clears the assignee", func(t *testing.T) {
		rec := s.do("POST", fmt.Sprintf("/api/pm/requests/%d/status", active.ID), &pm, map[string]string{"status": "open"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		status, assignee := s.status(active.ID)
		assert.Equal(t, models.StatusOpen, status)
		assert.Nil(t, assignee)
		assert.Equal(t, models.MatchCancelled, s.matchStatus(active.ID))
		assert.Len(t, s.notifier.sentTo("pin-owner@mail.com"), 1)
		assert.Len(t, s.notifier.sentTo("csr-worker@mail.com"), 1)
	})

	t.Run("closing keeps the original closed_at", func(t *testing.T) {
		rec := s.do("POST", fmt.Sprintf("/api/pm/requests/%d/status", done.ID), &pm, map[string]string{"status": "closed"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var hr models.HelpRequest
		decode(t, rec, &hr)
		require.NotNil(t, hr.ClosedAt)
		assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), hr.ClosedAt.UTC())
	})

	t.Run("illegal moves", func(t *testing.T) {
		path := fmt.Sprintf("/api/pm/requests/%d/status", done.ID)
		assert.Equal(t, http.StatusConflict, s.do("POST", path, &pm, map[string]string{"status": "completed"}).Code)
		assert.Equal(t, http.StatusBadRequest, s.do("POST", path, &pm, map[string]string{"status": "nowhere"}).Code)
		assert.Equal(t, http.StatusBadRequest, s.do("POST", path, &pm, map[string]string{}).Code)
		assert.Equal(t, http.StatusNotFound, s.do("POST", "/api/pm/requests/99999/status", &pm, map[string]string{"status": "open"}).Code)
	})

	t.Run("export", func(t *testing.T) {
		rec := s.do("GET", "/api/pm/requests/export?status=open", &pm, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "requests-export-")
		records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "Request ID", records[0][0])
	})

	assert.Contains(t, s.actions(), "request_status")
}

func newRedisCache(t *testing.T) (*miniredis.Miniredis, *cache.JSONCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, cache.NewJSONCache(client, time.Minute)
}

func TestAnalytics(t *testing.T) {
	s := newTestServer(t)
	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	s.env.Now = fixedClock(now)
	mr, jsonCache := newRedisCache(t)
	s.env.Cache = jsonCache

	pm := s.user(models.RolePlatformManager)
	pin := s.user(models.RolePIN)
	testutil.CreateRequest(t, s.db, pin.ID, testutil.RequestCreatedAt(now.Add(-2*time.Hour)))
	testutil.CreateRequest(t, s.db, pin.ID, testutil.RequestCreatedAt(now.AddDate(0, 0, -3)), testutil.WithStatus(models.StatusClosed),
		testutil.ClosedAt(now.Add(-time.Hour)))
	testutil.CreateRequest(t, s.db, pin.ID, testutil.RequestCreatedAt(now.AddDate(0, 0, -20)))
	testutil.CreateRequest(t, s.db, pin.ID, testutil.RequestCreatedAt(now.AddDate(0, 0, -40)))

	get := func() models.Analytics {
		rec := s.do("GET", "/api/pm/analytics", &pm, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var a models.Analytics
		decode(t, rec, &a)
		return a
	}

	first := get()
	assert.Equal(t, models.WindowSummary{Created: 1, Closed: 1}, first.Daily)
	assert.Equal(t, models.WindowSummary{Created: 2, Closed: 1}, first.Weekly)
	assert.Equal(t, models.WindowSummary{Created: 3, Closed: 1}, first.Monthly)
	assert.True(t, mr.Exists(analyticsCacheKey))

	testutil.CreateRequest(t, s.db, pin.ID, testutil.RequestCreatedAt(now.Add(-time.Minute)))
	assert.Equal(t, int64(1), get().Daily.Created, "served from cache")

	rec := s.do("POST", "/api/help-requests", &pin, map[string]string{"title": "Fresh", "description": "New one"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, mr.Exists(analyticsCacheKey))
	assert.Equal(t, int64(3), get().Daily.Created)
}

func TestAnalyticsWithoutCache(t *testing.T) {
	s := newTestServer(t)
	pm := s.user(models.RolePlatformManager)
	pin := s.user(models.RolePIN)
	testutil.CreateRequest(t, s.db, pin.ID)

	rec := s.do("GET", "/api/pm/analytics", &pm, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var a models.Analytics
	decode(t, rec, &a)
	assert.Equal(t, int64(1), a.Monthly.Created)
}

func TestReports(t *testing.T) {
	s := newTestServer(t)
	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	s.env.Now = fixedClock(now)
	archiver := &fakeArchiver{}
	s.env.Archiver = archiver
	s.env.S3Prefix = "reports/"

	pm := s.user(models.RolePlatformManager)
	pin := s.user(models.RolePIN)
	medical := testutil.CreateCategory(t, s.db, "Medical")
	testutil.CreateRequest(t, s.db, pin.ID, testutil.WithCategory(medical), testutil.RequestCreatedAt(now.Add(-time.Hour)))
	testutil.CreateRequest(t, s.db, pin.ID, testutil.WithStatus(models.StatusCancelled), testutil.RequestCreatedAt(now.AddDate(0, 0, -2)))
	testutil.CreateRequest(t, s.db, pin.ID, testutil.RequestCreatedAt(now.AddDate(0, 0, -10)))

	rec := s.do("POST", "/api/pm/reports", &pm, map[string]string{"report_type": "Weekly"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rep models.Report
	decode(t, rec, &rep)
	assert.Equal(t, "weekly", rep.ReportType)
	assert.Equal(t, pm.ID, rep.ManagerID)

	key := fmt.Sprintf("reports/weekly/%d-20260630T120000Z.json", rep.ID)
	require.Equal(t, []string{key}, archiver.keys)
	assert.Equal(t, "https://reports.example.com/"+key, rep.ObjectURL)

	var content models.ReportContent
	require.NoError(t, json.Unmarshal(rep.Content, &content))
	assert.Equal(t, int64(2), content.Summary.Created)
	assert.Equal(t, int64(1), content.ByStatus["open"])
	assert.Equal(t, int64(1), content.ByStatus["cancelled"])
	assert.Equal(t, int64(0), content.ByStatus["closed"])
	assert.Equal(t, map[string]int64{"Medical": 1, "Uncategorized": 1}, content.ByCategory)
	assert.JSONEq(t, string(rep.Content), string(archiver.bodies[0]))

	rec = s.do("GET", fmt.Sprintf("/api/pm/reports/%d", rep.ID), &pm, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/pm/reports/99999", &pm, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/pm/reports", &pm, map[string]string{"report_type": "yearly"}).Code)

	t.Run("archive failure keeps the report", func(t *testing.T) {
		archiver.err = errors.New("bucket unavailable")
		rec := s.do("POST", "/api/pm/reports", &pm, map[string]string{"report_type": "daily"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var failed models.Report
		decode(t, rec, &failed)
		assert.Empty(t, failed.ObjectURL)

		var logged bool
		for _, e := range s.logs.AllEntries() {
			if e.Message == "archiving report" {
				logged = true
			}
		}
		assert.True(t, logged)
	})

	rec = s.do("GET", "/api/pm/reports", &pm, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reports []models.Report
	decode(t, rec, &reports)
	assert.Len(t, reports, 2)
	assert.Contains(t, s.actions(), "report_generate")
}
