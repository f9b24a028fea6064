package controllers

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"csr-volunteer/models"
	"csr-volunteer/utils"
)

type AuthController struct {
	*Env
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token              string      `json:"token"`
	User               models.User `json:"user"`
	ForcePasswordReset bool        `json:"force_password_reset"`
}

func (c AuthController) Login(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		var error models.Error

		if err := utils.DecodeJSONBody(r, &req); err != nil {
			error.Message = err.Error()
			utils.RespondWithError(w, http.StatusBadRequest, error)
			return
		}
		identifier := strings.ToLower(strings.TrimSpace(req.Email))
		column := "email"
		if identifier == "" {
			identifier = strings.ToLower(strings.TrimSpace(req.Username))
			column = "username"
		}
		if identifier == "" || req.Password == "" {
			error.Message = "Email and password are required."
			utils.RespondWithError(w, http.StatusBadRequest, error)
			return
		}

		user, err := scanUser(db.QueryRowContext(r.Context(), userSelect+" WHERE LOWER("+column+") = ?", identifier))
		if err == sql.ErrNoRows {
			error.Message = "Invalid email or password."
			utils.RespondWithError(w, http.StatusUnauthorized, error)
			return
		} else if err != nil {
			c.serverError(w, err, "loading user for login")
			return
		}
		if !utils.ComparePasswords(user.PasswordHash, []byte(req.Password)) {
			error.Message = "Invalid email or password."
			utils.RespondWithError(w, http.StatusUnauthorized, error)
			return
		}
		if !user.Active {
			error.Message = "Account is deactivated."
			utils.RespondWithError(w, http.StatusForbidden, error)
			return
		}

		now := c.now()
		if _, err := db.ExecContext(r.Context(), `UPDATE users SET last_login = ? WHERE users_id = ?`, now, user.ID); err != nil {
			c.serverError(w, err, "updating last login")
			return
		}
		user.LastLogin = &now

		token, _, err := c.Tokens.Issue(user)
		if err != nil {
			c.serverError(w, err, "issuing token")
			return
		}

		c.record(r.Context(), db, actor{ID: user.ID, Name: user.Name, Role: user.Role}, "login", "Signed in")
		c.Log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user logged in")
		utils.ResponseJSON(w, loginResponse{Token: token, User: user, ForcePasswordReset: user.ForcePasswordReset})
	}
}

func (c AuthController) Logout(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principal(r)
		if err := c.Denylist.Revoke(r.Context(), p.TokenID, p.ExpiresAt); err != nil {
			c.serverError(w, err, "revoking token")
			return
		}
		c.record(r.Context(), db, actorOf(p), "logout", "Signed out")
		utils.ResponseJSON(w, map[string]string{"message": "Logged out successfully"})
	}
}

func (c AuthController) Me(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := loadUser(r.Context(), db, principal(r).UserID)
		if err == errUserNotFound {
			notFound(w, "User not found.")
			return
		} else if err != nil {
			c.serverError(w, err, "loading current user")
			return
		}
		utils.ResponseJSON(w, user)
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

func (c AuthController) ChangePassword(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := utils.Validate(req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if req.NewPassword == req.CurrentPassword {
			badRequest(w, "New password must differ from the current one.")
			return
		}

		p := principal(r)
		user, err := loadUser(r.Context(), db, p.UserID)
		if err != nil {
			c.serverError(w, err, "loading user for password change")
			return
		}
		if !utils.ComparePasswords(user.PasswordHash, []byte(req.CurrentPassword)) {
			utils.RespondWithError(w, http.StatusUnauthorized, models.Error{Message: "Current password is incorrect."})
			return
		}

		hash, err := utils.HashPassword(req.NewPassword)
		if err != nil {
			c.serverError(w, err, "hashing password")
			return
		}
		_, err = db.ExecContext(r.Context(), `UPDATE users SET password_hash = ?, force_password_reset = ?, updated_at = ? WHERE users_id = ?`,
			hash, false, c.now(), p.UserID)
		if err != nil {
			c.serverError(w, err, "updating password")
			return
		}

		c.record(r.Context(), db, actorOf(p), "password_change", "Changed own password")
		utils.ResponseJSON(w, map[string]string{"message": "Password updated successfully"})
	}
}
