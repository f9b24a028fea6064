// Package seed fills an empty database with demo accounts, categories and
// open help requests.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"csr-volunteer/models"
	"csr-volunteer/utils"
)

type account struct {
	name     string
	email    string
	role     models.Role
	password string
}

var categories = []struct{ name, description string }{
	{"Groceries", "Shopping and food delivery"},
	{"Transport", "Rides to appointments and errands"},
	{"Medical", "Pharmacy runs and clinic visits"},
	{"Companionship", "Visits, calls and walks"},
	{"Household", "Small repairs and chores"},
}

const requestCount = 10

func accounts() []account {
	list := []account{
		{"Admin User", "admin@mail.com", models.RoleAdmin, "adminpass"},
		{"Platform Manager", "pm@mail.com", models.RolePlatformManager, "pmpass"},
	}
	for i := 1; i <= 5; i++ {
		list = append(list, account{fmt.Sprintf("CSR User %d", i), fmt.Sprintf("csr%d@mail.com", i), models.RoleCSR, "csrpass"})
	}
	for i := 1; i <= 3; i++ {
		list = append(list, account{fmt.Sprintf("PIN User %d", i), fmt.Sprintf("pin%d@mail.com", i), models.RolePIN, "pinpass"})
	}
	return list
}

// Result reports what Run did.
type Result struct {
	Seeded     bool
	Users      int
	Categories int
	Requests   int
}

// Run inserts the demo data in one transaction when the users table is
// empty. It is a no-op otherwise.
func Run(ctx context.Context, db *sql.DB, log logrus.FieldLogger) (Result, error) {
	var users int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&users); err != nil {
		return Result{}, errors.Wrap(err, "count users")
	}
	if users > 0 {
		log.Info("data already exists, skipping seed")
		return Result{}, nil
	}

	// hash before the transaction so the single sqlite connection is not held
	list := accounts()
	hashes := make(map[string]string)
	for _, a := range list {
		if _, ok := hashes[a.password]; ok {
			continue
		}
		hash, err := utils.HashPassword(a.password)
		if err != nil {
			return Result{}, errors.Wrap(err, "hash seed password")
		}
		hashes[a.password] = hash
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "begin seed")
	}
	defer func() { _ = tx.Rollback() }()

	now := utils.NowUTC()
	var pins []int64
	for _, a := range list {
		username := a.email[:strings.Index(a.email, "@")]
		res, err := tx.ExecContext(ctx, `INSERT INTO users (username, name, email, phone, password_hash, role, active, force_password_reset, created_at, updated_at)
			VALUES (?, ?, ?, '', ?, ?, ?, ?, ?, ?)`,
			username, a.name, a.email, hashes[a.password], string(a.role), true, false, now, now)
		if err != nil {
			return Result{}, errors.Wrapf(err, "insert user %s", a.email)
		}
		if a.role == models.RolePIN {
			id, err := res.LastInsertId()
			if err != nil {
				return Result{}, err
			}
			pins = append(pins, id)
		}
	}

	categoryIDs := make([]int64, 0, len(categories))
	for _, c := range categories {
		res, err := tx.ExecContext(ctx, `INSERT INTO categories (name, description, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			c.name, c.description, true, now, now)
		if err != nil {
			return Result{}, errors.Wrapf(err, "insert category %s", c.name)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return Result{}, err
		}
		categoryIDs = append(categoryIDs, id)
	}

	for i := 0; i < requestCount; i++ {
		created := now.Add(-time.Duration(requestCount-i) * time.Hour)
		_, err := tx.ExecContext(ctx, `INSERT INTO help_requests (user_id, category_id, title, description, urgency, location, preferred_time,
			special_requirements, contact_info, status, view_count, assigned_to, completion_note, created_at, updated_at, feedback_comment, feedback_anonymous)
			VALUES (?, ?, ?, ?, ?, '', '', '', '', ?, 0, NULL, '', ?, ?, '', ?)`,
			pins[i%len(pins)], categoryIDs[i%len(categoryIDs)], fmt.Sprintf("Request %d", i+1), "Sample help request",
			string(models.UrgencyMedium), string(models.StatusOpen), created, created, false)
		if err != nil {
			return Result{}, errors.Wrapf(err, "insert request %d", i+1)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, errors.Wrap(err, "commit seed")
	}
	result := Result{Seeded: true, Users: len(list), Categories: len(categoryIDs), Requests: requestCount}
	log.WithFields(logrus.Fields{
		"users":      result.Users,
		"categories": result.Categories,
		"requests":   result.Requests,
	}).Info("seeded demo data")
	return result, nil
}
