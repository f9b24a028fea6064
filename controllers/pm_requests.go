package controllers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"csr-volunteer/models"
	"csr-volunteer/utils"
)

// pmRequestFilter turns ?status=&q= into a WHERE clause over requestSelect.
func pmRequestFilter(r *http.Request) (string, []interface{}, error) {
	query := r.URL.Query()
	var conds []string
	var args []interface{}

	switch raw := strings.TrimSpace(query.Get("status")); strings.ToLower(raw) {
	case "", "all":
	case "unassigned":
		conds, args = append(conds, "hr.status = ? AND hr.assigned_to IS NULL"), append(args, string(models.StatusOpen))
	default:
		status, ok := models.NormalizeStatus(raw)
		if !ok {
			return "", nil, fmt.Errorf("Unknown status %q.", raw)
		}
		conds, args = append(conds, "hr.status = ?"), append(args, string(status))
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		pattern := likePattern(q)
		conds = append(conds, "(LOWER(hr.title) LIKE ? OR LOWER(COALESCE(c.name, '')) LIKE ? OR LOWER(hr.status) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func (c PMController) ListRequests(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		where, args, err := pmRequestFilter(r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		requests, err := queryRequests(r.Context(), db, where+" ORDER BY hr.created_at DESC, hr.pin_requests_id DESC", args...)
		if err != nil {
			c.serverError(w, err, "listing requests for manager")
			return
		}
		utils.ResponseJSON(w, requests)
	}
}

func (c PMController) ExportRequests(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		where, args, err := pmRequestFilter(r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		requests, err := queryRequests(r.Context(), db, where+" ORDER BY hr.created_at DESC, hr.pin_requests_id DESC", args...)
		if err != nil {
			c.serverError(w, err, "exporting requests")
			return
		}

		rows := make([][]string, 0, len(requests))
		for _, hr := range requests {
			rows = append(rows, []string{
				strconv.FormatInt(hr.ID, 10), hr.Title, hr.Category, string(hr.Urgency), string(hr.Status),
				hr.PINName, hr.AssignedName, strconv.FormatInt(hr.ViewCount, 10), strconv.FormatInt(hr.ShortlistCount, 10),
				formatTime(&hr.CreatedAt), formatTime(hr.ClosedAt),
			})
		}
		header := []string{"Request ID", "Title", "Category", "Urgency", "Status", "Requester", "Assigned To", "Views", "Shortlisted", "Created At", "Closed At"}
		utils.ResponseCSV(w, fmt.Sprintf("requests-export-%s.csv", c.now().Format("2006-01-02")), header, rows)
	}
}

type statusChange struct {
	Status string `json:"status" validate:"required"`
}

func (c PMController) SetRequestStatus(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid request id.")
			return
		}
		var req statusChange
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := utils.Validate(req); err != nil {
			badRequest(w, err.Error())
			return
		}
		target, ok := models.NormalizeStatus(req.Status)
		if !ok {
			badRequest(w, fmt.Sprintf("Unknown status %q.", req.Status))
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
		if !models.CanTransition(hr.Status, target) {
			conflict(w, fmt.Sprintf("Cannot change status from %s to %s.", hr.Status, target))
			return
		}

		err = c.statusTx(ctx, db, id, hr.Status, target)
		if err == errIllegalTransition {
			conflict(w, "The request changed in the meantime. Reload and try again.")
			return
		} else if err != nil {
			c.serverError(w, err, "changing request status")
			return
		}

		updated, err := loadRequest(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "reloading request")
			return
		}
		c.invalidateAnalytics(ctx)
		c.record(ctx, db, actorOf(principal(r)), "request_status", fmt.Sprintf("Request #%d %s -> %s", id, hr.Status, target))
		c.notifyUser(ctx, db, hr.UserID, "Request status updated",
			fmt.Sprintf("Your request %q is now %s.", hr.Title, target))
		if hr.AssignedTo != nil && !target.Assigned() {
			c.notifyUser(ctx, db, *hr.AssignedTo, "Request status updated",
				fmt.Sprintf("The request %q you accepted is now %s.", hr.Title, target))
		}
		utils.ResponseJSON(w, updated)
	}
}

// statusTx moves the request only if it is still in the status it was
// loaded with.
func (c PMController) statusTx(ctx context.Context, db *sql.DB, id int64, from, to models.RequestStatus) error {
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
	if err := applyStatus(ctx, tx, id, to, c.now()); err != nil {
		return err
	}
	return tx.Commit()
}
