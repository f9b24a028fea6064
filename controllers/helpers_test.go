package controllers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"csr-volunteer/cache"
	"csr-volunteer/models"
	"csr-volunteer/notify"
	"csr-volunteer/testutil"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (n *recordingNotifier) Notify(msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.sent...)
}

func (n *recordingNotifier) sentTo(email string) []notify.Message {
	var out []notify.Message
	for _, m := range n.messages() {
		if m.To.Email == email {
			out = append(out, m)
		}
	}
	return out
}

type fakeArchiver struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (a *fakeArchiver) Archive(_ context.Context, key string, body []byte, _ string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, key)
	a.bodies = append(a.bodies, body)
	return "https://reports.example.com/" + key, nil
}

type testServer struct {
	t        *testing.T
	db       *sql.DB
	env      *Env
	handler  http.Handler
	notifier *recordingNotifier
	logs     *test.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.OpenDB(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	notifier := &recordingNotifier{}
	env := &Env{
		Log:      logger,
		Tokens:   testutil.Issuer(),
		Denylist: cache.NewMemoryDenylist(),
		Notifier: notifier,
	}
	return &testServer{
		t:        t,
		db:       db,
		env:      env,
		handler:  NewHandler(db, env, nil, []string{"*"}),
		notifier: notifier,
		logs:     hook,
	}
}

// rebuild re-creates the handler after env fields were swapped.
func (s *testServer) rebuild() {
	s.handler = NewHandler(s.db, s.env, nil, []string{"*"})
}

// do sends a request as user (anonymous when nil). body is JSON-encoded
// unless it is already a string.
func (s *testServer) do(method, path string, user *models.User, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+testutil.Token(s.t, s.env.Tokens, *user))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) user(role models.Role, opts ...testutil.UserOption) models.User {
	return testutil.CreateUser(s.t, s.db, role, opts...)
}

func (s *testServer) actions() []string {
	s.t.Helper()
	rows, err := s.db.Query(`SELECT action FROM activity_logs ORDER BY activity_logs_id`)
	require.NoError(s.t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		require.NoError(s.t, rows.Scan(&a))
		out = append(out, a)
	}
	require.NoError(s.t, rows.Err())
	return out
}

func (s *testServer) status(id int64) (models.RequestStatus, *int64) {
	s.t.Helper()
	var status string
	var assigned *int64
	require.NoError(s.t, s.db.QueryRow(`SELECT status, assigned_to FROM help_requests WHERE pin_requests_id = ?`, id).Scan(&status, &assigned))
	return models.RequestStatus(status), assigned
}

func (s *testServer) matchStatus(requestID int64) models.MatchStatus {
	s.t.Helper()
	var status string
	require.NoError(s.t, s.db.QueryRow(`SELECT match_status FROM match_history WHERE request_id = ? ORDER BY match_history_id DESC LIMIT 1`, requestID).Scan(&status))
	return models.MatchStatus(status)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.Error
	decode(t, rec, &body)
	return body.Message
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
