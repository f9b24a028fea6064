package controllers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"csr-volunteer/models"
	"csr-volunteer/utils"
)

type CSRController struct {
	*Env
}

var errNotAssigned = errors.New("request is not assigned to the caller")

func (c CSRController) OpenRequests(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		clauses := []string{"hr.status = ?", "hr.assigned_to IS NULL"}
		args := []interface{}{string(models.StatusOpen)}

		if category := strings.TrimSpace(query.Get("category")); category != "" && category != "all" {
			if id, err := strconv.ParseInt(category, 10, 64); err == nil {
				clauses, args = append(clauses, "hr.category_id = ?"), append(args, id)
			} else {
				clauses, args = append(clauses, "LOWER(c.name) = ?"), append(args, strings.ToLower(category))
			}
		}
		if urgent, ok := utils.ParseBool(query.Get("urgent")); ok && urgent {
			clauses, args = append(clauses, "hr.urgency = ?"), append(args, string(models.UrgencyHigh))
		}
		if q := strings.TrimSpace(query.Get("q")); q != "" {
			pattern := likePattern(q)
			clauses = append(clauses, "(LOWER(hr.title) LIKE ? OR LOWER(hr.description) LIKE ? OR LOWER(COALESCE(c.name, '')) LIKE ? OR LOWER(hr.location) LIKE ?)")
			args = append(args, pattern, pattern, pattern, pattern)
		}

		ctx := r.Context()
		requests, err := queryRequests(ctx, db, "WHERE "+strings.Join(clauses, " AND ")+
			" ORDER BY CASE hr.urgency WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, hr.created_at DESC, hr.pin_requests_id DESC", args...)
		if err != nil {
			c.serverError(w, err, "listing open requests")
			return
		}

		shortlisted, err := shortlistedIDs(ctx, db, principal(r).UserID)
		if err != nil {
			c.serverError(w, err, "loading shortlist")
			return
		}
		for i := range requests {
			s := shortlisted[requests[i].ID]
			requests[i].Shortlisted = &s
		}
		utils.ResponseJSON(w, requests)
	}
}

func shortlistedIDs(ctx context.Context, db *sql.DB, csrID int64) (map[int64]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT request_id FROM csr_shortlist WHERE csr_id = ?`, csrID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (c CSRController) Accept(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		ctx := r.Context()
		p := principal(r)

		won, err := c.acceptTx(ctx, db, id, p.UserID)
		if err != nil {
			c.serverError(w, err, "accepting request")
			return
		}
		if !won {
			if _, err := loadRequest(ctx, db, id); err == errRequestNotFound {
				notFound(w, "Help request not found.")
				return
			} else if err != nil {
				c.serverError(w, err, "loading request")
				return
			}
			conflict(w, "This request is no longer open for acceptance.")
			return
		}

		hr, err := loadRequest(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "loading accepted request")
			return
		}
		c.invalidateAnalytics(ctx)
		c.record(ctx, db, actorOf(p), "request_accept", fmt.Sprintf("Accepted request #%d %q", id, hr.Title))
		c.notifyUser(ctx, db, hr.UserID, "Request accepted",
			fmt.Sprintf("%s accepted your request %q and will be in touch.", p.Name, hr.Title))
		utils.ResponseJSON(w, hr)
	}
}

// acceptTx claims an open request for csrID. It reports false when another
// CSR got there first or the request is not open.
func (c CSRController) acceptTx(ctx context.Context, db *sql.DB, id, csrID int64) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer rollback(tx)

	now := c.now()
	res, err := tx.ExecContext(ctx, `UPDATE help_requests SET status = ?, assigned_to = ?, updated_at = ?
		WHERE pin_requests_id = ? AND status = ? AND assigned_to IS NULL`,
		string(models.StatusInProgress), csrID, now, id, string(models.StatusOpen))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO match_history (csr_id, request_id, matched_at, match_status, note) VALUES (?, ?, ?, ?, '')`,
		csrID, id, now, string(models.MatchPending)); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM csr_shortlist WHERE csr_id = ? AND request_id = ?`, csrID, id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (c CSRController) Shortlist(db *sql.DB) http.HandlerFunc {
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
		if hr.Status != models.StatusOpen || hr.AssignedTo != nil {
			conflict(w, "Only open requests can be shortlisted.")
			return
		}

		already, err := exists(ctx, db, `SELECT 1 FROM csr_shortlist WHERE csr_id = ? AND request_id = ?`, p.UserID, id)
		if err != nil {
			c.serverError(w, err, "checking shortlist")
			return
		}
		if !already {
			_, err := db.ExecContext(ctx, `INSERT INTO csr_shortlist (csr_id, request_id, shortlisted_at) VALUES (?, ?, ?)`, p.UserID, id, c.now())
			if err != nil {
				// a concurrent insert of the same pair trips the unique key
				if again, checkErr := exists(ctx, db, `SELECT 1 FROM csr_shortlist WHERE csr_id = ? AND request_id = ?`, p.UserID, id); checkErr != nil || !again {
					c.serverError(w, err, "shortlisting request")
					return
				}
			}
			c.record(ctx, db, actorOf(p), "request_shortlist", fmt.Sprintf("Shortlisted request #%d", id))
		}
		utils.ResponseJSON(w, map[string]interface{}{"message": "Request shortlisted", "request_id": id, "shortlisted": true})
	}
}

func (c CSRController) Unshortlist(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		p := principal(r)
		res, err := db.ExecContext(r.Context(), `DELETE FROM csr_shortlist WHERE csr_id = ? AND request_id = ?`, p.UserID, id)
		if err != nil {
			c.serverError(w, err, "removing from shortlist")
			return
		}
		if n, _ := res.RowsAffected(); n > 0 {
			c.record(r.Context(), db, actorOf(p), "request_unshortlist", fmt.Sprintf("Removed request #%d from shortlist", id))
		}
		utils.ResponseJSON(w, map[string]interface{}{"message": "Request removed from shortlist", "request_id": id, "shortlisted": false})
	}
}

// csrScope resolves whose lists to show. all is true when a PM or admin
// asked without naming a CSR.
func csrScope(r *http.Request) (csrID int64, all bool, status int, msg string) {
	p := principal(r)
	raw, named := mux.Vars(r)["csrId"]
	if !named {
		if p.Role == models.RoleCSR {
			return p.UserID, false, 0, ""
		}
		return 0, true, 0, ""
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, http.StatusBadRequest, "Invalid CSR id."
	}
	if p.Role == models.RoleCSR && id != p.UserID {
		return 0, false, http.StatusForbidden, "You can only view your own lists."
	}
	return id, false, 0, ""
}

func (c CSRController) ListShortlist(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		csrID, all, status, msg := csrScope(r)
		if status != 0 {
			utils.RespondWithError(w, status, models.Error{Message: msg})
			return
		}
		tail := "WHERE hr.pin_requests_id IN (SELECT request_id FROM csr_shortlist WHERE csr_id = ?) ORDER BY hr.created_at DESC, hr.pin_requests_id DESC"
		args := []interface{}{csrID}
		if all {
			tail = "WHERE hr.pin_requests_id IN (SELECT request_id FROM csr_shortlist) ORDER BY hr.created_at DESC, hr.pin_requests_id DESC"
			args = nil
		}
		requests, err := queryRequests(r.Context(), db, tail, args...)
		if err != nil {
			c.serverError(w, err, "listing shortlist")
			return
		}
		if !all {
			yes := true
			for i := range requests {
				requests[i].Shortlisted = &yes
			}
		}
		utils.ResponseJSON(w, requests)
	}
}

func (c CSRController) ListAccepted(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		csrID, all, status, msg := csrScope(r)
		if status != 0 {
			utils.RespondWithError(w, status, models.Error{Message: msg})
			return
		}
		where := "WHERE m.match_status = ? AND hr.status IN (?, ?)"
		args := []interface{}{string(models.MatchPending), string(models.StatusInProgress), string(models.StatusOnHold)}
		if !all {
			where, args = where+" AND m.csr_id = ?", append(args, csrID)
		}
		matches, err := queryMatches(r.Context(), db, where+" ORDER BY m.matched_at DESC, m.match_history_id DESC", args...)
		if err != nil {
			c.serverError(w, err, "listing accepted requests")
			return
		}
		utils.ResponseJSON(w, matches)
	}
}

func (c CSRController) ListCompleted(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		csrID, all, status, msg := csrScope(r)
		if status != 0 {
			utils.RespondWithError(w, status, models.Error{Message: msg})
			return
		}
		where := "WHERE m.match_status = ?"
		args := []interface{}{string(models.MatchCompleted)}
		if !all {
			where, args = where+" AND m.csr_id = ?", append(args, csrID)
		}
		matches, err := queryMatches(r.Context(), db, where+" ORDER BY m.completed_at DESC, m.match_history_id DESC", args...)
		if err != nil {
			c.serverError(w, err, "listing completed requests")
			return
		}
		for i := range matches {
			if matches[i].FeedbackAnonymous {
				matches[i].PINName = ""
			}
		}
		utils.ResponseJSON(w, matches)
	}
}

// assignedTo loads a request and checks that csrID is working on it.
func assignedTo(ctx context.Context, db *sql.DB, id, csrID int64) (models.HelpRequest, error) {
	hr, err := loadRequest(ctx, db, id)
	if err != nil {
		return hr, err
	}
	if hr.AssignedTo == nil || *hr.AssignedTo != csrID {
		return hr, errNotAssigned
	}
	return hr, nil
}

// respondAssignedErr maps assignedTo failures onto responses.
func (c CSRController) respondAssignedErr(w http.ResponseWriter, err error) {
	switch err {
	case errRequestNotFound:
		notFound(w, "Help request not found.")
	case errNotAssigned:
		forbidden(w, "This request is not assigned to you.")
	default:
		c.serverError(w, err, "loading assigned request")
	}
}

type acceptedStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=2000"`
}

func (c CSRController) UpdateAccepted(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		var req acceptedStatusRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := utils.Validate(req); err != nil {
			badRequest(w, err.Error())
			return
		}
		target, ok := models.NormalizeStatus(req.Status)
		if !ok || !(target.Assigned() || target == models.StatusCompleted) {
			badRequest(w, "status must be one of: in-progress, on-hold, completed")
			return
		}

		ctx := r.Context()
		p := principal(r)
		hr, err := assignedTo(ctx, db, id, p.UserID)
		if err != nil {
			c.respondAssignedErr(w, err)
			return
		}
		if !hr.Status.Assigned() {
			conflict(w, fmt.Sprintf("A %s request cannot be updated.", hr.Status))
			return
		}
		if target == models.StatusCompleted {
			c.complete(w, r, db, hr, req.Note)
			return
		}
		if target == hr.Status {
			utils.ResponseJSON(w, hr)
			return
		}

		res, err := db.ExecContext(ctx, `UPDATE help_requests SET status = ?, updated_at = ? WHERE pin_requests_id = ? AND assigned_to = ? AND status IN (?, ?)`,
			string(target), c.now(), id, p.UserID, string(models.StatusInProgress), string(models.StatusOnHold))
		if err != nil {
			c.serverError(w, err, "updating accepted request")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			conflict(w, "The request changed while you were updating it.")
			return
		}

		updated, err := loadRequest(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "reloading request")
			return
		}
		c.invalidateAnalytics(ctx)
		c.record(ctx, db, actorOf(p), "request_status", fmt.Sprintf("Request #%d %s -> %s", id, hr.Status, target))
		utils.ResponseJSON(w, updated)
	}
}

func (c CSRController) Remove(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		ctx := r.Context()
		p := principal(r)
		hr, err := assignedTo(ctx, db, id, p.UserID)
		if err != nil {
			c.respondAssignedErr(w, err)
			return
		}
		if !hr.Status.Assigned() {
			conflict(w, fmt.Sprintf("A %s request cannot be withdrawn from.", hr.Status))
			return
		}

		released, err := c.releaseTx(ctx, db, id, p.UserID)
		if err != nil {
			c.serverError(w, err, "withdrawing from request")
			return
		}
		if !released {
			conflict(w, "The request changed while you were updating it.")
			return
		}

		c.invalidateAnalytics(ctx)
		c.record(ctx, db, actorOf(p), "request_withdraw", fmt.Sprintf("Withdrew from request #%d", id))
		c.notifyUser(ctx, db, hr.UserID, "Volunteer withdrew",
			fmt.Sprintf("The volunteer for %q can no longer help. Your request is open again.", hr.Title))
		utils.ResponseJSON(w, map[string]interface{}{"message": "Request returned to the open pool", "request_id": id})
	}
}

func (c CSRController) releaseTx(ctx context.Context, db *sql.DB, id, csrID int64) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer rollback(tx)

	now := c.now()
	res, err := tx.ExecContext(ctx, `UPDATE help_requests SET status = ?, assigned_to = NULL, updated_at = ?
		WHERE pin_requests_id = ? AND assigned_to = ? AND status IN (?, ?)`,
		string(models.StatusOpen), now, id, csrID, string(models.StatusInProgress), string(models.StatusOnHold))
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	if err := settleMatch(ctx, tx, id, models.MatchCancelled, now); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

type completeRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

func (c CSRController) Complete(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		var req completeRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil && err != utils.ErrEmptyBody {
			badRequest(w, err.Error())
			return
		}
		if err := utils.Validate(req); err != nil {
			badRequest(w, err.Error())
			return
		}

		hr, err := assignedTo(r.Context(), db, id, principal(r).UserID)
		if err != nil {
			c.respondAssignedErr(w, err)
			return
		}
		if !hr.Status.Assigned() {
			conflict(w, fmt.Sprintf("A %s request cannot be completed.", hr.Status))
			return
		}
		c.complete(w, r, db, hr, req.Note)
	}
}

func (c CSRController) complete(w http.ResponseWriter, r *http.Request, db *sql.DB, hr models.HelpRequest, note string) {
	ctx := r.Context()
	p := principal(r)
	done, err := c.completeTx(ctx, db, hr.ID, p.UserID, strings.TrimSpace(note))
	if err != nil {
		c.serverError(w, err, "completing request")
		return
	}
	if !done {
		conflict(w, "The request changed while you were updating it.")
		return
	}

	updated, err := loadRequest(ctx, db, hr.ID)
	if err != nil {
		c.serverError(w, err, "reloading request")
		return
	}
	c.invalidateAnalytics(ctx)
	c.record(ctx, db, actorOf(p), "request_complete", fmt.Sprintf("Completed request #%d %q", hr.ID, hr.Title))
	c.notifyUser(ctx, db, hr.UserID, "Request completed",
		fmt.Sprintf("%s marked %q as completed. Please leave feedback on your dashboard.", p.Name, hr.Title))
	utils.ResponseJSON(w, updated)
}

func (c CSRController) completeTx(ctx context.Context, db *sql.DB, id, csrID int64, note string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer rollback(tx)

	now := c.now()
	res, err := tx.ExecContext(ctx, `UPDATE help_requests SET status = ?, completion_note = ?, completed_at = ?, closed_at = ?, updated_at = ?
		WHERE pin_requests_id = ? AND assigned_to = ? AND status IN (?, ?)`,
		string(models.StatusCompleted), note, now, now, now, id, csrID, string(models.StatusInProgress), string(models.StatusOnHold))
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE match_history SET match_status = ?, completed_at = ?, note = ?
		WHERE request_id = ? AND csr_id = ? AND match_status = ?`,
		string(models.MatchCompleted), now, note, id, csrID, string(models.MatchPending)); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
