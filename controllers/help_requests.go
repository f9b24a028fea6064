package controllers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"csr-volunteer/models"
	"csr-volunteer/notify"
	"csr-volunteer/utils"
)

type HelpRequestController struct {
	*Env
}

var errIllegalTransition = errors.New("illegal status transition")

// pinCanTransition is the subset of moves a requester may make on their
// own request.
func pinCanTransition(from, to models.RequestStatus) bool {
	switch to {
	case models.StatusCompleted:
		return from.Assigned()
	case models.StatusCancelled:
		return from == models.StatusOpen || from.Assigned()
	case models.StatusOpen:
		return from == models.StatusCancelled
	}
	return false
}

// applyStatus moves a request and keeps its match and timestamps in step.
// It must run inside tx.
func applyStatus(ctx context.Context, tx *sql.Tx, id int64, to models.RequestStatus, now time.Time) error {
	var err error
	switch to {
	case models.StatusOpen:
		_, err = tx.ExecContext(ctx, `UPDATE help_requests SET status = ?, assigned_to = NULL, completed_at = NULL, closed_at = NULL, updated_at = ?
			WHERE pin_requests_id = ?`, string(to), now, id)
		if err == nil {
			err = settleMatch(ctx, tx, id, models.MatchCancelled, now)
		}
	case models.StatusCompleted:
		_, err = tx.ExecContext(ctx, `UPDATE help_requests SET status = ?, completed_at = ?, closed_at = ?, updated_at = ? WHERE pin_requests_id = ?`,
			string(to), now, now, now, id)
		if err == nil {
			err = settleMatch(ctx, tx, id, models.MatchCompleted, now)
		}
	case models.StatusCancelled:
		_, err = tx.ExecContext(ctx, `UPDATE help_requests SET status = ?, assigned_to = NULL, closed_at = ?, updated_at = ? WHERE pin_requests_id = ?`,
			string(to), now, now, id)
		if err == nil {
			err = settleMatch(ctx, tx, id, models.MatchCancelled, now)
		}
	case models.StatusClosed:
		_, err = tx.ExecContext(ctx, `UPDATE help_requests SET status = ?, closed_at = COALESCE(closed_at, ?), updated_at = ? WHERE pin_requests_id = ?`,
			string(to), now, now, id)
		if err == nil {
			err = settleMatch(ctx, tx, id, models.MatchCancelled, now)
		}
	default:
		_, err = tx.ExecContext(ctx, `UPDATE help_requests SET status = ?, updated_at = ? WHERE pin_requests_id = ?`, string(to), now, id)
	}
	return errors.Wrapf(err, "move request %d to %s", id, to)
}

// settleMatch resolves the request's pending match, if any.
func settleMatch(ctx context.Context, tx *sql.Tx, requestID int64, status models.MatchStatus, now time.Time) error {
	var completedAt interface{}
	if status == models.MatchCompleted {
		completedAt = now
	}
	_, err := tx.ExecContext(ctx, `UPDATE match_history SET match_status = ?, completed_at = ? WHERE request_id = ? AND match_status = ?`,
		string(status), completedAt, requestID, string(models.MatchPending))
	return err
}

func (c HelpRequestController) ListForUser(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := utils.IDParam(r, "userId")
		if err != nil {
			badRequest(w, "Invalid user id.")
			return
		}
		p := principal(r)
		if p.UserID != userID && p.Role != models.RoleAdmin {
			forbidden(w, "You can only view your own requests.")
			return
		}
		requests, err := queryRequests(r.Context(), db, "WHERE hr.user_id = ? ORDER BY hr.updated_at DESC, hr.pin_requests_id DESC", userID)
		if err != nil {
			c.serverError(w, err, "listing requests for user")
			return
		}
		utils.ResponseJSON(w, requests)
	}
}

func (c HelpRequestController) Get(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		ctx := r.Context()
		hr, err := loadRequest(ctx, db, id)
		if err == errRequestNotFound {
			notFound(w, "Help request not found.")
			return
		} else if err != nil {
			c.serverError(w, err, "loading request")
			return
		}

		p := principal(r)
		assigned := hr.AssignedTo != nil && *hr.AssignedTo == p.UserID
		switch {
		case p.UserID == hr.UserID, p.HasRole(models.RoleAdmin, models.RolePlatformManager):
		case p.Role == models.RoleCSR && (assigned || hr.Status == models.StatusOpen):
		default:
			forbidden(w, "You do not have access to this request.")
			return
		}

		if p.Role == models.RoleCSR {
			if _, err := db.ExecContext(ctx, `UPDATE help_requests SET view_count = view_count + 1 WHERE pin_requests_id = ?`, id); err != nil {
				c.serverError(w, err, "counting view")
				return
			}
			hr.ViewCount++
			shortlisted, err := exists(ctx, db, `SELECT 1 FROM csr_shortlist WHERE csr_id = ? AND request_id = ?`, p.UserID, id)
			if err != nil {
				c.serverError(w, err, "checking shortlist")
				return
			}
			hr.Shortlisted = &shortlisted
		}
		if hr.FeedbackAnonymous && p.UserID != hr.UserID && p.Role != models.RoleAdmin {
			hr.PINName = ""
		}
		utils.ResponseJSON(w, hr)
	}
}

type createHelpRequest struct {
	UserID              *int64 `json:"user_id"`
	Title               string `json:"title" validate:"required,max=100"`
	Description         string `json:"description" validate:"required,max=5000"`
	Urgency             string `json:"urgency"`
	Location            string `json:"location" validate:"max=255"`
	PreferredTime       string `json:"preferred_time" validate:"max=100"`
	SpecialRequirements string `json:"special_requirements" validate:"max=2000"`
	ContactInfo         string `json:"contact_info" validate:"max=255"`
	CategoryID          *int64 `json:"category_id"`
	Category            string `json:"category"`
}

func (c HelpRequestController) Create(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createHelpRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		req.Description = strings.TrimSpace(req.Description)
		if err := utils.Validate(req); err != nil {
			badRequest(w, err.Error())
			return
		}

		ctx := r.Context()
		p := principal(r)
		ownerID := p.UserID
		if p.Role == models.RoleAdmin {
			if req.UserID == nil {
				badRequest(w, "user_id is required when creating a request for someone else.")
				return
			}
			ownerID = *req.UserID
			var role string
			err := db.QueryRowContext(ctx, `SELECT role FROM users WHERE users_id = ?`, ownerID).Scan(&role)
			if err == sql.ErrNoRows {
				badRequest(w, "user_id does not match any user.")
				return
			} else if err != nil {
				c.serverError(w, err, "loading request owner")
				return
			}
			if models.Role(role) != models.RolePIN {
				badRequest(w, "Requests can only be created for PIN users.")
				return
			}
		} else if req.UserID != nil && *req.UserID != p.UserID {
			forbidden(w, "You can only create requests for yourself.")
			return
		}

		urgency, ok := models.NormalizeUrgency(req.Urgency)
		if !ok {
			badRequest(w, fmt.Sprintf("Unknown urgency %q.", req.Urgency))
			return
		}
		categoryID, err := resolveCategory(ctx, db, req.CategoryID, req.Category)
		if err == errCategoryUnusable {
			badRequest(w, err.Error())
			return
		} else if err != nil {
			c.serverError(w, err, "resolving category")
			return
		}

		now := c.now()
		res, err := db.ExecContext(ctx, `INSERT INTO help_requests (user_id, category_id, title, description, urgency, location, preferred_time,
			special_requirements, contact_info, status, view_count, assigned_to, completion_note, created_at, updated_at, feedback_comment, feedback_anonymous)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, '', ?, ?, '', ?)`,
			ownerID, categoryID, req.Title, req.Description, string(urgency), strings.TrimSpace(req.Location), strings.TrimSpace(req.PreferredTime),
			strings.TrimSpace(req.SpecialRequirements), strings.TrimSpace(req.ContactInfo), string(models.StatusOpen), now, now, false)
		if err != nil {
			c.serverError(w, err, "inserting request")
			return
		}
		id, err := res.LastInsertId()
		if err != nil {
			c.serverError(w, err, "reading new request id")
			return
		}

		hr, err := loadRequest(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "loading new request")
			return
		}
		c.invalidateAnalytics(ctx)
		c.record(ctx, db, actorOf(p), "request_create", fmt.Sprintf("Created request #%d %q", id, hr.Title))
		utils.ResponseJSONStatus(w, http.StatusCreated, hr)
	}
}

type updateHelpRequest struct {
	Title               *string `json:"title" validate:"omitempty,max=100"`
	Description         *string `json:"description" validate:"omitempty,max=5000"`
	Urgency             *string `json:"urgency"`
	Location            *string `json:"location" validate:"omitempty,max=255"`
	PreferredTime       *string `json:"preferred_time" validate:"omitempty,max=100"`
	SpecialRequirements *string `json:"special_requirements" validate:"omitempty,max=2000"`
	ContactInfo         *string `json:"contact_info" validate:"omitempty,max=255"`
	CategoryID          *int64  `json:"category_id"`
	Category            *string `json:"category"`
	Status              *string `json:"status"`
}

func (u updateHelpRequest) editsContent() bool {
	return u.Title != nil || u.Description != nil || u.Urgency != nil || u.Location != nil || u.PreferredTime != nil ||
		u.SpecialRequirements != nil || u.ContactInfo != nil || u.CategoryID != nil || u.Category != nil
}

func (c HelpRequestController) Update(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		var req updateHelpRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := utils.Validate(req); err != nil {
			badRequest(w, err.Error())
			return
		}

		ctx := r.Context()
		p := principal(r)
		hr, err := loadRequest(ctx, db, id)
		if err == errRequestNotFound {
			notFound(w, "Help request not found.")
			return
		} else if err != nil {
			c.serverError(w, err, "loading request")
			return
		}
		if hr.UserID != p.UserID && p.Role != models.RoleAdmin {
			forbidden(w, "You can only edit your own requests.")
			return
		}

		sets := []string{}
		args := []interface{}{}
		if req.editsContent() {
			if hr.Status.Terminal() {
				conflict(w, fmt.Sprintf("A %s request can no longer be edited.", hr.Status))
				return
			}
			for _, f := range []struct {
				column   string
				value    *string
				required bool
			}{
				{"title", req.Title, true},
				{"description", req.Description, true},
				{"location", req.Location, false},
				{"preferred_time", req.PreferredTime, false},
				{"special_requirements", req.SpecialRequirements, false},
				{"contact_info", req.ContactInfo, false},
			} {
				if f.value == nil {
					continue
				}
				v := strings.TrimSpace(*f.value)
				if f.required && v == "" {
					badRequest(w, f.column+" is required")
					return
				}
				sets, args = append(sets, f.column+" = ?"), append(args, v)
			}
			if req.Urgency != nil {
				urgency, ok := models.NormalizeUrgency(*req.Urgency)
				if !ok {
					badRequest(w, fmt.Sprintf("Unknown urgency %q.", *req.Urgency))
					return
				}
				sets, args = append(sets, "urgency = ?"), append(args, string(urgency))
			}
			if req.CategoryID != nil && *req.CategoryID == 0 {
				sets = append(sets, "category_id = NULL")
			} else if req.CategoryID != nil || (req.Category != nil && strings.TrimSpace(*req.Category) != "") {
				name := ""
				if req.Category != nil {
					name = *req.Category
				}
				categoryID, err := resolveCategory(ctx, db, req.CategoryID, name)
				if err == errCategoryUnusable {
					badRequest(w, err.Error())
					return
				} else if err != nil {
					c.serverError(w, err, "resolving category")
					return
				}
				sets, args = append(sets, "category_id = ?"), append(args, categoryID)
			}
		}

		var target models.RequestStatus
		if req.Status != nil {
			var ok bool
			if target, ok = models.NormalizeStatus(*req.Status); !ok {
				badRequest(w, fmt.Sprintf("Unknown status %q.", *req.Status))
				return
			}
			allowed := pinCanTransition(hr.Status, target)
			if p.Role == models.RoleAdmin {
				allowed = models.CanTransition(hr.Status, target)
			}
			if !allowed {
				conflict(w, fmt.Sprintf("Cannot change status from %s to %s.", hr.Status, target))
				return
			}
		}

		now := c.now()
		err = c.updateTx(ctx, db, id, hr.Status, sets, args, target, now)
		if err == errIllegalTransition {
			conflict(w, "The request changed in the meantime. Reload and try again.")
			return
		} else if err != nil {
			c.serverError(w, err, "updating request")
			return
		}

		updated, err := loadRequest(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "reloading request")
			return
		}
		c.invalidateAnalytics(ctx)
		if target != "" {
			c.record(ctx, db, actorOf(p), "request_status", fmt.Sprintf("Request #%d %s -> %s", id, hr.Status, target))
			if target == models.StatusCancelled && hr.AssignedTo != nil {
				c.notifyUser(ctx, db, *hr.AssignedTo, "Request cancelled",
					fmt.Sprintf("The request %q you accepted was cancelled by the requester.", hr.Title))
			}
		}
		if len(sets) > 0 {
			c.record(ctx, db, actorOf(p), "request_update", fmt.Sprintf("Updated request #%d", id))
		}
		utils.ResponseJSON(w, updated)
	}
}

// updateTx applies content edits and a status move only while the request is
// still in the status the checks ran against.
func (c HelpRequestController) updateTx(ctx context.Context, db *sql.DB, id int64, from models.RequestStatus, sets []string, args []interface{}, target models.RequestStatus, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM help_requests WHERE pin_requests_id = ?`, id).Scan(&current); err != nil {
		return err
	}
	if models.RequestStatus(current) != from {
		return errIllegalTransition
	}

	if len(sets) > 0 {
		sets, args = append(sets, "updated_at = ?"), append(args, now, id)
		if _, err := tx.ExecContext(ctx, "UPDATE help_requests SET "+strings.Join(sets, ", ")+" WHERE pin_requests_id = ?", args...); err != nil {
			return err
		}
	}
	if target != "" {
		if err := applyStatus(ctx, tx, id, target, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// notifyUser queues a message to a user, looked up by id.
func (e *Env) notifyUser(ctx context.Context, db *sql.DB, userID int64, subject, body string) {
	name, email, phone, err := contact(ctx, db, userID)
	if err != nil {
		e.Log.WithError(err).WithField("user_id", userID).Warn("looking up notification recipient")
		return
	}
	e.notify(notify.Message{
		To:      notify.Recipient{Name: name, Email: email, Phone: phone},
		Subject: subject,
		Body:    body,
	})
}

func (c HelpRequestController) Delete(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		ctx := r.Context()
		p := principal(r)
		hr, err := loadRequest(ctx, db, id)
		if err == errRequestNotFound {
			notFound(w, "Help request not found.")
			return
		} else if err != nil {
			c.serverError(w, err, "loading request")
			return
		}
		if hr.UserID != p.UserID && p.Role != models.RoleAdmin {
			forbidden(w, "You can only delete your own requests.")
			return
		}

		if err := deleteRequestTx(ctx, db, id); err != nil {
			c.serverError(w, err, "deleting request")
			return
		}
		c.invalidateAnalytics(ctx)
		c.record(ctx, db, actorOf(p), "request_delete", fmt.Sprintf("Deleted request #%d %q", id, hr.Title))
		utils.ResponseJSON(w, map[string]string{"message": "Help request deleted successfully"})
	}
}

func deleteRequestTx(ctx context.Context, db *sql.DB, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)
	for _, q := range []string{
		`DELETE FROM csr_shortlist WHERE request_id = ?`,
		`DELETE FROM match_history WHERE request_id = ?`,
		`DELETE FROM help_requests WHERE pin_requests_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c HelpRequestController) SubmitFeedback(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		var fb models.Feedback
		if err := utils.DecodeJSONBody(r, &fb); err != nil {
			badRequest(w, err.Error())
			return
		}
		fb.Comment = strings.TrimSpace(fb.Comment)
		if err := utils.Validate(fb); err != nil {
			badRequest(w, err.Error())
			return
		}

		ctx := r.Context()
		p := principal(r)
		hr, err := loadRequest(ctx, db, id)
		if err == errRequestNotFound {
			notFound(w, "Help request not found.")
			return
		} else if err != nil {
			c.serverError(w, err, "loading request")
			return
		}
		if hr.UserID != p.UserID {
			forbidden(w, "Only the requester can leave feedback.")
			return
		}
		completed := hr.Status == models.StatusCompleted || (hr.Status == models.StatusClosed && hr.CompletedAt != nil)
		if !completed {
			conflict(w, "Feedback can only be left on a completed request.")
			return
		}

		res, err := db.ExecContext(ctx, `UPDATE help_requests SET feedback_rating = ?, feedback_comment = ?, feedback_anonymous = ?,
			feedback_submitted_at = ?, updated_at = ? WHERE pin_requests_id = ? AND feedback_submitted_at IS NULL`,
			fb.Rating, fb.Comment, fb.Anonymous, c.now(), c.now(), id)
		if err != nil {
			c.serverError(w, err, "saving feedback")
			return
		}
		if n, err := res.RowsAffected(); err != nil {
			c.serverError(w, err, "saving feedback")
			return
		} else if n == 0 {
			conflict(w, "Feedback has already been submitted for this request.")
			return
		}

		c.record(ctx, db, actorOf(p), "feedback_submit", fmt.Sprintf("Rated request #%d %d/5", id, fb.Rating))
		if hr.AssignedTo != nil {
			c.notifyUser(ctx, db, *hr.AssignedTo, "New feedback",
				fmt.Sprintf("You received a %d/5 rating for %q.", fb.Rating, hr.Title))
		}
		updated, err := loadRequest(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "reloading request")
			return
		}
		utils.ResponseJSON(w, updated)
	}
}
