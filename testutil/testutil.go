// Package testutil holds helpers shared by package tests: an in-memory
// migrated database, fixture rows and signed tokens.
package testutil

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"csr-volunteer/driver"
	"csr-volunteer/models"
	"csr-volunteer/utils"
)

// Password is the plain password of every fixture user.
const Password = "password123"

var (
	seq          int64
	passwordHash string
)

func init() {
	b, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	passwordHash = string(b)
}

// OpenDB returns a migrated in-memory SQLite database private to the test.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_loc=UTC"
	db, err := driver.Open("sqlite3", dsn)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(db, "sqlite3", 0))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Issuer returns the token issuer tests sign with.
func Issuer() *utils.TokenIssuer {
	return &utils.TokenIssuer{Secret: "test-secret", Issuer: "csr-volunteer", TTL: time.Hour}
}

// Token signs a token for user.
func Token(t testing.TB, issuer *utils.TokenIssuer, user models.User) string {
	t.Helper()
	token, _, err := issuer.Issue(user)
	require.NoError(t, err)
	return token
}

type UserOption func(*models.User)

func WithName(name string) UserOption { return func(u *models.User) { u.Name = name } }

func WithEmail(email string) UserOption { return func(u *models.User) { u.Email = email } }

func WithPhone(phone string) UserOption { return func(u *models.User) { u.Phone = phone } }

func Inactive() UserOption { return func(u *models.User) { u.Active = false } }

func CreatedAt(at time.Time) UserOption { return func(u *models.User) { u.CreatedAt = at } }

// CreateUser inserts a user whose password is Password.
func CreateUser(t testing.TB, db *sql.DB, role models.Role, opts ...UserOption) models.User {
	t.Helper()
	n := atomic.AddInt64(&seq, 1)
	now := utils.NowUTC()
	u := models.User{
		Username:  fmt.Sprintf("%s%d", role, n),
		Name:      fmt.Sprintf("User %d", n),
		Email:     fmt.Sprintf("%s%d@mail.com", role, n),
		Role:      role,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(&u)
	}
	res, err := db.Exec(`INSERT INTO users (username, name, email, phone, password_hash, role, active, force_password_reset, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Name, u.Email, u.Phone, passwordHash, string(u.Role), u.Active, false, u.CreatedAt, u.UpdatedAt)
	require.NoError(t, err)
	u.ID, err = res.LastInsertId()
	require.NoError(t, err)
	return u
}

// CreateCategory inserts an active category and returns its id.
func CreateCategory(t testing.TB, db *sql.DB, name string) int64 {
	t.Helper()
	now := utils.NowUTC()
	res, err := db.Exec(`INSERT INTO categories (name, description, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name, name+" help", true, now, now)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

type RequestOption func(*models.HelpRequest)

func WithStatus(s models.RequestStatus) RequestOption {
	return func(r *models.HelpRequest) { r.Status = s }
}

func WithCategory(id int64) RequestOption {
	return func(r *models.HelpRequest) { r.CategoryID = &id }
}

func WithUrgency(u models.Urgency) RequestOption {
	return func(r *models.HelpRequest) { r.Urgency = u }
}

func WithTitle(title string) RequestOption {
	return func(r *models.HelpRequest) { r.Title = title }
}

func AssignedTo(csrID int64) RequestOption {
	return func(r *models.HelpRequest) { r.AssignedTo = &csrID }
}

func RequestCreatedAt(at time.Time) RequestOption {
	return func(r *models.HelpRequest) { r.CreatedAt = at; r.UpdatedAt = at }
}

func ClosedAt(at time.Time) RequestOption {
	return func(r *models.HelpRequest) { r.ClosedAt = &at }
}

// CreateRequest inserts a help request owned by userID, open by default.
// An assigned request also gets a pending match row.
func CreateRequest(t testing.TB, db *sql.DB, userID int64, opts ...RequestOption) models.HelpRequest {
	t.Helper()
	n := atomic.AddInt64(&seq, 1)
	now := utils.NowUTC()
	hr := models.HelpRequest{
		UserID:      userID,
		Title:       fmt.Sprintf("Request %d", n),
		Description: "Sample help request",
		Urgency:     models.UrgencyMedium,
		Status:      models.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(&hr)
	}
	res, err := db.Exec(`INSERT INTO help_requests (user_id, category_id, title, description, urgency, location, preferred_time,
		special_requirements, contact_info, status, view_count, assigned_to, completion_note, created_at, updated_at, closed_at, feedback_comment, feedback_anonymous)
		VALUES (?, ?, ?, ?, ?, '', '', '', '', ?, 0, ?, '', ?, ?, ?, '', ?)`,
		hr.UserID, hr.CategoryID, hr.Title, hr.Description, string(hr.Urgency), string(hr.Status), hr.AssignedTo,
		hr.CreatedAt, hr.UpdatedAt, hr.ClosedAt, false)
	require.NoError(t, err)
	hr.ID, err = res.LastInsertId()
	require.NoError(t, err)
	hr.PinRequestsID = hr.ID

	if hr.AssignedTo != nil {
		matchStatus := models.MatchPending
		if hr.Status == models.StatusCompleted {
			matchStatus = models.MatchCompleted
		}
		_, err = db.Exec(`INSERT INTO match_history (csr_id, request_id, matched_at, match_status, note) VALUES (?, ?, ?, ?, '')`,
			*hr.AssignedTo, hr.ID, now, string(matchStatus))
		require.NoError(t, err)
	}
	return hr
}
