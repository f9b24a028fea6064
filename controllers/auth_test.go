package controllers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csr-volunteer/middleware"
	"csr-volunteer/models"
	"csr-volunteer/testutil"
)

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	pin := s.user(models.RolePIN, testutil.WithEmail("Jane@Mail.com"))
	inactive := s.user(models.RoleCSR, testutil.Inactive())

	t.Run("email is case-insensitive", func(t *testing.T) {
		rec := s.do("POST", "/api/login", nil, map[string]string{"email": "jane@mail.com", "password": testutil.Password})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body struct {
			Token              string      `json:"token"`
			User               models.User `json:"user"`
			ForcePasswordReset bool        `json:"force_password_reset"`
		}
		decode(t, rec, &body)
		assert.NotEmpty(t, body.Token)
		assert.Equal(t, pin.ID, body.User.ID)
		assert.NotNil(t, body.User.LastLogin)
		assert.False(t, body.ForcePasswordReset)
		assert.NotContains(t, rec.Body.String(), "password_hash")

		claims, err := s.env.Tokens.Parse(body.Token)
		require.NoError(t, err)
		assert.Equal(t, pin.ID, claims.UserID)
		assert.Equal(t, models.RolePIN, claims.Role)
	})

	t.Run("username", func(t *testing.T) {
		rec := s.do("POST", "/api/login", nil, map[string]string{"username": strings.ToUpper(pin.Username), "password": testutil.Password})
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := s.do("POST", "/api/login", nil, map[string]string{"email": pin.Email, "password": "nope-nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid email or password.", errorMessage(t, rec))
	})

	t.Run("unknown email", func(t *testing.T) {
		rec := s.do("POST", "/api/login", nil, map[string]string{"email": "ghost@mail.com", "password": testutil.Password})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid email or password.", errorMessage(t, rec))
	})

	t.Run("deactivated", func(t *testing.T) {
		rec := s.do("POST", "/api/login", nil, map[string]string{"email": inactive.Email, "password": testutil.Password})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Account is deactivated.", errorMessage(t, rec))
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := s.do("POST", "/api/login", nil, map[string]string{"email": pin.Email})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.Contains(t, s.actions(), "login")
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t)
	s.user(models.RolePIN)
	s.handler = NewHandler(s.db, s.env, middleware.NewIPRateLimiter(60, 2), nil)

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/login", strings.NewReader(`{"email":"x@mail.com","password":"whatever1"}`))
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestLoginRateLimitIgnoresForwardedFor(t *testing.T) {
	s := newTestServer(t)
	s.user(models.RolePIN)
	s.handler = NewHandler(s.db, s.env, middleware.NewIPRateLimiter(10, 5), nil)

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest("POST", "/api/login", strings.NewReader(`{"email":"x@mail.com","password":"whatever1"}`))
		req.RemoteAddr = "10.0.0.9:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 15, limited)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	csr := s.user(models.RoleCSR)
	token := testutil.Token(t, s.env.Tokens, csr)

	send := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send("GET", "/api/me").Code)
	rec := send("POST", "/api/logout")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Logged out successfully"}`, rec.Body.String())

	rec = send("GET", "/api/me")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token has been revoked.", errorMessage(t, rec))
	assert.Contains(t, s.actions(), "logout")
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	pm := s.user(models.RolePlatformManager, testutil.WithName("Pat Manager"))

	rec := s.do("GET", "/api/me", &pm, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var user models.User
	decode(t, rec, &user)
	assert.Equal(t, "Pat Manager", user.Name)
	assert.Equal(t, models.RolePlatformManager, user.Role)

	assert.Equal(t, http.StatusUnauthorized, s.do("GET", "/api/me", nil, nil).Code)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	pin := s.user(models.RolePIN)
	_, err := s.db.Exec(`UPDATE users SET force_password_reset = ? WHERE users_id = ?`, true, pin.ID)
	require.NoError(t, err)

	rec := s.do("POST", "/api/change-password", &pin, map[string]string{"current_password": "wrong-one", "new_password": "brand-new-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do("POST", "/api/change-password", &pin, map[string]string{"current_password": testutil.Password, "new_password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "new_password")

	rec = s.do("POST", "/api/change-password", &pin, map[string]string{"current_password": testutil.Password, "new_password": testutil.Password})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", "/api/change-password", &pin, map[string]string{"current_password": testutil.Password, "new_password": "brand-new-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var force bool
	require.NoError(t, s.db.QueryRow(`SELECT force_password_reset FROM users WHERE users_id = ?`, pin.ID).Scan(&force))
	assert.False(t, force)

	rec = s.do("POST", "/api/login", nil, map[string]string{"email": pin.Email, "password": "brand-new-pass"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, s.actions(), "password_change")
}
