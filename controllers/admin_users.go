package controllers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"csr-volunteer/models"
	"csr-volunteer/notify"
	"csr-volunteer/utils"
)

const tempPasswordLength = 12

type AdminController struct {
	*Env
}

// userFilter turns the role, q and active query values into a WHERE clause.
func userFilter(r *http.Request) (string, []interface{}, error) {
	query := r.URL.Query()
	var clauses []string
	var args []interface{}

	if raw := query.Get("role"); raw != "" && raw != "all" {
		role, ok := models.NormalizeRole(raw)
		if !ok {
			return "", nil, errors.Errorf("Unknown role %q.", raw)
		}
		clauses = append(clauses, "role = ?")
		args = append(args, string(role))
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		pattern := likePattern(q)
		clauses = append(clauses, "(LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(username) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if raw := query.Get("active"); raw != "" && raw != "all" {
		active, ok := utils.ParseBool(raw)
		if !ok {
			return "", nil, errors.Errorf("Invalid active filter %q.", raw)
		}
		clauses = append(clauses, "active = ?")
		args = append(args, active)
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (c AdminController) ListUsers(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
			c.ExportUsers(db)(w, r)
			return
		}
		where, args, err := userFilter(r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		users, err := queryUsers(r.Context(), db, where+" ORDER BY created_at DESC, users_id DESC", args...)
		if err != nil {
			c.serverError(w, err, "listing users")
			return
		}
		utils.ResponseJSON(w, users)
	}
}

func (c AdminController) ExportUsers(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		where, args, err := userFilter(r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		users, err := queryUsers(r.Context(), db, where+" ORDER BY created_at DESC, users_id DESC", args...)
		if err != nil {
			c.serverError(w, err, "exporting users")
			return
		}

		rows := make([][]string, 0, len(users))
		for _, u := range users {
			status := "Active"
			if !u.Active {
				status = "Inactive"
			}
			rows = append(rows, []string{
				strconv.FormatInt(u.ID, 10), u.Username, u.Name, u.Email, string(u.Role), status,
				formatTime(u.LastLogin), formatTime(&u.CreatedAt),
			})
		}
		header := []string{"User ID", "Username", "Name", "Email", "Role", "Status", "Last Login", "Created At"}
		utils.ResponseCSV(w, fmt.Sprintf("users-export-%s.csv", c.now().Format("2006-01-02")), header, rows)
	}
}

type createUserRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role"`
	Password string `json:"password" validate:"omitempty,min=8"`
	Username string `json:"username" validate:"omitempty,max=50"`
	Phone    string `json:"phone" validate:"omitempty,max=30"`
	Active   *bool  `json:"active"`
}

type createUserResponse struct {
	models.User
	TemporaryPassword string `json:"temporary_password,omitempty"`
}

// MarshalJSON keeps the user's own encoding and adds the temporary password.
func (r createUserResponse) MarshalJSON() ([]byte, error) {
	b, err := r.User.MarshalJSON()
	if err != nil || r.TemporaryPassword == "" {
		return b, err
	}
	return append(b[:len(b)-1], []byte(fmt.Sprintf(`,"temporary_password":%q}`, r.TemporaryPassword))...), nil
}

func (c AdminController) CreateUser(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		req.Username = strings.TrimSpace(req.Username)
		if err := utils.Validate(req); err != nil {
			badRequest(w, err.Error())
			return
		}

		role := models.RolePIN
		if req.Role != "" {
			var ok bool
			if role, ok = models.NormalizeRole(req.Role); !ok {
				badRequest(w, fmt.Sprintf("Unknown role %q.", req.Role))
				return
			}
		}

		ctx := r.Context()
		taken, err := exists(ctx, db, `SELECT 1 FROM users WHERE LOWER(email) = ?`, req.Email)
		if err != nil {
			c.serverError(w, err, "checking email")
			return
		}
		if taken {
			conflict(w, "Email already exists.")
			return
		}

		username, err := c.pickUsername(ctx, db, req.Username, req.Email)
		if err == errUsernameTaken {
			conflict(w, "Username already exists.")
			return
		} else if err != nil {
			c.serverError(w, err, "choosing username")
			return
		}

		password := req.Password
		forceReset := false
		tempPassword := ""
		if password == "" {
			if password, err = utils.GenerateRandomPassword(tempPasswordLength); err != nil {
				c.serverError(w, err, "generating password")
				return
			}
			tempPassword = password
			forceReset = true
		}
		hash, err := utils.HashPassword(password)
		if err != nil {
			c.serverError(w, err, "hashing password")
			return
		}

		active := true
		if req.Active != nil {
			active = *req.Active
		}
		now := c.now()
		res, err := db.ExecContext(ctx, `INSERT INTO users (username, name, email, phone, password_hash, role, active, force_password_reset, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			username, req.Name, req.Email, strings.TrimSpace(req.Phone), hash, string(role), active, forceReset, now, now)
		if err != nil {
			c.serverError(w, err, "inserting user")
			return
		}
		id, err := res.LastInsertId()
		if err != nil {
			c.serverError(w, err, "reading new user id")
			return
		}

		user, err := loadUser(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "loading new user")
			return
		}
		c.record(ctx, db, actorOf(principal(r)), "user_create", fmt.Sprintf("Created %s %s (%s)", role, user.Name, user.Email))
		if tempPassword != "" {
			c.notify(notify.Message{
				To:      notify.Recipient{Name: user.Name, Email: user.Email},
				Subject: "Your CSR Volunteer account",
				Body:    fmt.Sprintf("An account was created for you. Sign in with %s and the temporary password %s, then choose a new one.", user.Email, tempPassword),
			})
		}
		utils.ResponseJSONStatus(w, http.StatusCreated, createUserResponse{User: user, TemporaryPassword: tempPassword})
	}
}

var errUsernameTaken = errors.New("username taken")

// pickUsername returns the requested username, or the email's local part,
// or the full email when the local part is taken.
func (c AdminController) pickUsername(ctx context.Context, db *sql.DB, requested, email string) (string, error) {
	if requested != "" {
		taken, err := exists(ctx, db, `SELECT 1 FROM users WHERE LOWER(username) = ?`, strings.ToLower(requested))
		if err != nil {
			return "", err
		}
		if taken {
			return "", errUsernameTaken
		}
		return requested, nil
	}

	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	taken, err := exists(ctx, db, `SELECT 1 FROM users WHERE LOWER(username) = ?`, local)
	if err != nil {
		return "", err
	}
	if !taken {
		return local, nil
	}
	taken, err = exists(ctx, db, `SELECT 1 FROM users WHERE LOWER(username) = ?`, email)
	if err != nil {
		return "", err
	}
	if taken {
		return "", errUsernameTaken
	}
	return email, nil
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

func exists(ctx context.Context, db *sql.DB, query string, args ...interface{}) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

type updateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Username *string `json:"username" validate:"omitempty,min=1,max=50"`
	Phone    *string `json:"phone" validate:"omitempty,max=30"`
	Role     *string `json:"role"`
	Active   *bool   `json:"active"`
	Password *string `json:"password" validate:"omitempty,min=8"`
}

func (c AdminController) UpdateUser(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid user id.")
			return
		}
		var req updateUserRequest
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
		user, err := loadUser(ctx, db, id)
		if err == errUserNotFound {
			notFound(w, "User not found.")
			return
		} else if err != nil {
			c.serverError(w, err, "loading user")
			return
		}

		sets := []string{}
		args := []interface{}{}
		var changes []string

		if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
			badRequest(w, "name is required")
			return
		}
		if req.Email != nil && strings.TrimSpace(*req.Email) == "" {
			badRequest(w, "email is required")
			return
		}
		if req.Username != nil && strings.TrimSpace(*req.Username) == "" {
			badRequest(w, "username is required")
			return
		}
		if req.Name != nil && strings.TrimSpace(*req.Name) != user.Name {
			sets, args = append(sets, "name = ?"), append(args, strings.TrimSpace(*req.Name))
			changes = append(changes, "name")
		}
		if req.Email != nil {
			email := strings.ToLower(strings.TrimSpace(*req.Email))
			if email != user.Email {
				taken, err := exists(ctx, db, `SELECT 1 FROM users WHERE LOWER(email) = ? AND users_id <> ?`, email, id)
				if err != nil {
					c.serverError(w, err, "checking email")
					return
				}
				if taken {
					conflict(w, "Email already exists.")
					return
				}
				sets, args = append(sets, "email = ?"), append(args, email)
				changes = append(changes, "email")
			}
		}
		if req.Username != nil {
			username := strings.TrimSpace(*req.Username)
			if username != user.Username {
				taken, err := exists(ctx, db, `SELECT 1 FROM users WHERE LOWER(username) = ? AND users_id <> ?`, strings.ToLower(username), id)
				if err != nil {
					c.serverError(w, err, "checking username")
					return
				}
				if taken {
					conflict(w, "Username already exists.")
					return
				}
				sets, args = append(sets, "username = ?"), append(args, username)
				changes = append(changes, "username")
			}
		}
		if req.Phone != nil {
			sets, args = append(sets, "phone = ?"), append(args, strings.TrimSpace(*req.Phone))
			changes = append(changes, "phone")
		}
		if req.Role != nil {
			role, ok := models.NormalizeRole(*req.Role)
			if !ok {
				badRequest(w, fmt.Sprintf("Unknown role %q.", *req.Role))
				return
			}
			if id == p.UserID && role != models.RoleAdmin {
				conflict(w, "You cannot remove your own admin role.")
				return
			}
			if role != user.Role {
				sets, args = append(sets, "role = ?"), append(args, string(role))
				changes = append(changes, "role")
			}
		}
		activeAction := ""
		if req.Active != nil && *req.Active != user.Active {
			if id == p.UserID && !*req.Active {
				conflict(w, "You cannot deactivate your own account.")
				return
			}
			sets, args = append(sets, "active = ?"), append(args, *req.Active)
			changes = append(changes, "active")
			activeAction = "user_deactivate"
			if *req.Active {
				activeAction = "user_activate"
			}
		}
		if req.Password != nil {
			hash, err := utils.HashPassword(*req.Password)
			if err != nil {
				c.serverError(w, err, "hashing password")
				return
			}
			sets, args = append(sets, "password_hash = ?"), append(args, hash)
			changes = append(changes, "password")
		}

		if len(sets) > 0 {
			sets, args = append(sets, "updated_at = ?"), append(args, c.now())
			args = append(args, id)
			if _, err := db.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE users_id = ?", args...); err != nil {
				c.serverError(w, err, "updating user")
				return
			}
			if fields := without(changes, "active"); len(fields) > 0 {
				c.record(ctx, db, actorOf(p), "user_update", fmt.Sprintf("Updated %s: %s", user.Email, strings.Join(fields, ", ")))
			}
			if activeAction != "" {
				c.record(ctx, db, actorOf(p), activeAction, fmt.Sprintf("%s %s", strings.TrimPrefix(activeAction, "user_")+"d", user.Email))
			}
		}

		updated, err := loadUser(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "reloading user")
			return
		}
		utils.ResponseJSON(w, updated)
	}
}

func (c AdminController) DeleteUser(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid user id.")
			return
		}
		p := principal(r)
		if id == p.UserID {
			conflict(w, "You cannot delete your own account.")
			return
		}

		ctx := r.Context()
		user, err := loadUser(ctx, db, id)
		if err == errUserNotFound {
			notFound(w, "User not found.")
			return
		} else if err != nil {
			c.serverError(w, err, "loading user")
			return
		}

		if err := c.deleteUserTx(ctx, db, id); err != nil {
			c.serverError(w, err, "deleting user")
			return
		}

		c.invalidateAnalytics(ctx)
		c.record(ctx, db, actorOf(p), "user_delete", fmt.Sprintf("Deleted %s %s (%s)", user.Role, user.Name, user.Email))
		utils.ResponseJSON(w, map[string]string{"message": "User deleted successfully"})
	}
}

// deleteUserTx removes a user with everything that hangs off them. Requests
// they were working on go back to the open pool.
func (c AdminController) deleteUserTx(ctx context.Context, db *sql.DB, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	now := c.now()
	stmts := []struct {
		query string
		args  []interface{}
	}{
		{`DELETE FROM csr_shortlist WHERE request_id IN (SELECT pin_requests_id FROM help_requests WHERE user_id = ?)`, []interface{}{id}},
		{`DELETE FROM match_history WHERE request_id IN (SELECT pin_requests_id FROM help_requests WHERE user_id = ?)`, []interface{}{id}},
		{`DELETE FROM help_requests WHERE user_id = ?`, []interface{}{id}},
		{`DELETE FROM csr_shortlist WHERE csr_id = ?`, []interface{}{id}},
		{`UPDATE match_history SET match_status = ? WHERE csr_id = ? AND match_status = ?`, []interface{}{string(models.MatchCancelled), id, string(models.MatchPending)}},
		{`UPDATE help_requests SET status = ?, assigned_to = NULL, updated_at = ? WHERE assigned_to = ? AND status IN (?, ?)`,
			[]interface{}{string(models.StatusOpen), now, id, string(models.StatusInProgress), string(models.StatusOnHold)}},
		{`UPDATE help_requests SET assigned_to = NULL WHERE assigned_to = ?`, []interface{}{id}},
		{`UPDATE activity_logs SET user_id = NULL WHERE user_id = ?`, []interface{}{id}},
		{`DELETE FROM users WHERE users_id = ?`, []interface{}{id}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return errors.Wrap(err, "delete user")
		}
	}
	return tx.Commit()
}

type resetPasswordRequest struct {
	NewPassword     string `json:"new_password" validate:"omitempty,min=8"`
	ConfirmPassword string `json:"confirm_password"`
	ForceReset      *bool  `json:"force_reset"`
}

func (c AdminController) ResetPassword(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid user id.")
			return
		}
		var req resetPasswordRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil && err != utils.ErrEmptyBody {
			badRequest(w, err.Error())
			return
		}
		if err := utils.Validate(req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if req.ConfirmPassword != "" && req.ConfirmPassword != req.NewPassword {
			badRequest(w, "Passwords do not match.")
			return
		}

		ctx := r.Context()
		user, err := loadUser(ctx, db, id)
		if err == errUserNotFound {
			notFound(w, "User not found.")
			return
		} else if err != nil {
			c.serverError(w, err, "loading user")
			return
		}

		password := req.NewPassword
		generated := password == ""
		if generated {
			if password, err = utils.GenerateRandomPassword(tempPasswordLength); err != nil {
				c.serverError(w, err, "generating password")
				return
			}
		}
		forceReset := true
		if req.ForceReset != nil {
			forceReset = *req.ForceReset
		}

		hash, err := utils.HashPassword(password)
		if err != nil {
			c.serverError(w, err, "hashing password")
			return
		}
		_, err = db.ExecContext(ctx, `UPDATE users SET password_hash = ?, force_password_reset = ?, updated_at = ? WHERE users_id = ?`,
			hash, forceReset, c.now(), id)
		if err != nil {
			c.serverError(w, err, "resetting password")
			return
		}

		body := "An administrator reset your password."
		if generated {
			body += " Your temporary password is " + password + "."
		}
		if forceReset {
			body += " You will be asked to choose a new one when you next sign in."
		}
		c.notify(notify.Message{
			To:      notify.Recipient{Name: user.Name, Email: user.Email},
			Subject: "Your password was reset",
			Body:    body,
		})
		c.record(ctx, db, actorOf(principal(r)), "password_reset", "Reset password for "+user.Email)

		resp := map[string]interface{}{"message": "Password reset successfully", "force_password_reset": forceReset}
		if generated {
			resp["temporary_password"] = password
		}
		utils.ResponseJSON(w, resp)
	}
}
