package controllers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"csr-volunteer/cache"
	"csr-volunteer/middleware"
	"csr-volunteer/models"
	"csr-volunteer/notify"
	"csr-volunteer/storage"
	"csr-volunteer/utils"
)

const analyticsCacheKey = "analytics:summary"

// Env carries the collaborators every controller shares. Cache is nil
// without Redis and Archiver is nil without S3.
type Env struct {
	Log      logrus.FieldLogger
	Tokens   *utils.TokenIssuer
	Denylist cache.TokenDenylist
	Cache    *cache.JSONCache
	Notifier notify.Notifier
	Archiver storage.Archiver
	S3Prefix string
	Now      func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC().Truncate(time.Second)
	}
	return utils.NowUTC()
}

func (e *Env) serverError(w http.ResponseWriter, err error, msg string) {
	e.Log.WithError(err).Error(msg)
	utils.RespondWithError(w, http.StatusInternalServerError, models.Error{Message: "Server error."})
}

func (e *Env) notify(msg notify.Message) {
	if e.Notifier != nil {
		e.Notifier.Notify(msg)
	}
}

// invalidateAnalytics drops the cached PM summary after a request write.
func (e *Env) invalidateAnalytics(ctx context.Context) {
	if err := e.Cache.Delete(ctx, analyticsCacheKey); err != nil {
		e.Log.WithError(err).Warn("invalidating analytics cache")
	}
}

// actor is who an activity log entry is attributed to.
type actor struct {
	ID   int64
	Name string
	Role models.Role
}

func actorOf(p middleware.Principal) actor {
	return actor{ID: p.UserID, Name: p.Name, Role: p.Role}
}

// record appends to the activity log. Failures are logged, not returned.
func (e *Env) record(ctx context.Context, db *sql.DB, who actor, action, details string) {
	var userID interface{}
	if who.ID != 0 {
		userID = who.ID
	}
	_, err := db.ExecContext(ctx, `INSERT INTO activity_logs (user_id, user_name, user_role, action, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, who.Name, string(who.Role), action, details, e.now())
	if err != nil {
		e.Log.WithError(err).WithField("action", action).Error("recording activity")
	}
}

func principal(r *http.Request) middleware.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}

func badRequest(w http.ResponseWriter, msg string) {
	utils.RespondWithError(w, http.StatusBadRequest, models.Error{Message: msg})
}

func forbidden(w http.ResponseWriter, msg string) {
	utils.RespondWithError(w, http.StatusForbidden, models.Error{Message: msg})
}

func notFound(w http.ResponseWriter, msg string) {
	utils.RespondWithError(w, http.StatusNotFound, models.Error{Message: msg})
}

func conflict(w http.ResponseWriter, msg string) {
	utils.RespondWithError(w, http.StatusConflict, models.Error{Message: msg})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
