package controllers

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"csr-volunteer/models"
)

var errUserNotFound = errors.New("user not found")

const userSelect = `SELECT users_id, username, name, email, phone, password_hash, role, active, force_password_reset,
	last_login, created_at, updated_at FROM users`

func scanUser(row scanner) (models.User, error) {
	var u models.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &role, &u.Active,
		&u.ForcePasswordReset, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	u.Role = models.Role(role)
	return u, err
}

func loadUser(ctx context.Context, db *sql.DB, id int64) (models.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, userSelect+" WHERE users_id = ?", id))
	if err == sql.ErrNoRows {
		return u, errUserNotFound
	}
	return u, err
}

func queryUsers(ctx context.Context, db *sql.DB, tail string, args ...interface{}) ([]models.User, error) {
	rows, err := db.QueryContext(ctx, userSelect+" "+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
