package controllers

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"csr-volunteer/models"
)

var errRequestNotFound = errors.New("help request not found")

const (
	requestColumns = `hr.pin_requests_id, hr.user_id, COALESCE(pu.name, ''), hr.category_id, COALESCE(c.name, ''),
	hr.title, hr.description, hr.urgency, hr.location, hr.preferred_time, hr.special_requirements, hr.contact_info,
	hr.status, hr.view_count,
	(SELECT COUNT(*) FROM csr_shortlist s WHERE s.request_id = hr.pin_requests_id),
	hr.assigned_to, COALESCE(au.name, ''), hr.completion_note, hr.created_at, hr.updated_at, hr.completed_at, hr.closed_at,
	hr.feedback_rating, hr.feedback_comment, hr.feedback_anonymous, hr.feedback_submitted_at`

	requestJoins = `LEFT JOIN users pu ON pu.users_id = hr.user_id
	LEFT JOIN categories c ON c.categories_id = hr.category_id
	LEFT JOIN users au ON au.users_id = hr.assigned_to`

	requestSelect = "SELECT " + requestColumns + " FROM help_requests hr " + requestJoins

	matchSelect = "SELECT " + requestColumns + `, m.match_history_id, m.csr_id, m.matched_at, m.match_status
	FROM match_history m JOIN help_requests hr ON hr.pin_requests_id = m.request_id ` + requestJoins
)

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanner, extra ...interface{}) (models.HelpRequest, error) {
	var hr models.HelpRequest
	var urgency, status string
	dest := []interface{}{
		&hr.ID, &hr.UserID, &hr.PINName, &hr.CategoryID, &hr.Category,
		&hr.Title, &hr.Description, &urgency, &hr.Location, &hr.PreferredTime, &hr.SpecialRequirements, &hr.ContactInfo,
		&status, &hr.ViewCount, &hr.ShortlistCount,
		&hr.AssignedTo, &hr.AssignedName, &hr.CompletionNote, &hr.CreatedAt, &hr.UpdatedAt, &hr.CompletedAt, &hr.ClosedAt,
		&hr.FeedbackRating, &hr.FeedbackComment, &hr.FeedbackAnonymous, &hr.FeedbackSubmittedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return hr, err
	}
	hr.PinRequestsID = hr.ID
	hr.Urgency = models.Urgency(urgency)
	hr.Status = models.RequestStatus(status)
	hr.FeedbackSubmitted = hr.FeedbackSubmittedAt != nil
	return hr, nil
}

// queryRequests runs requestSelect with a WHERE/ORDER tail and closes the
// rows before returning.
func queryRequests(ctx context.Context, db *sql.DB, tail string, args ...interface{}) ([]models.HelpRequest, error) {
	rows, err := db.QueryContext(ctx, requestSelect+" "+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.HelpRequest{}
	for rows.Next() {
		hr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, hr)
	}
	return requests, rows.Err()
}

func queryMatches(ctx context.Context, db *sql.DB, tail string, args ...interface{}) ([]models.MatchRecord, error) {
	rows, err := db.QueryContext(ctx, matchSelect+" "+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := []models.MatchRecord{}
	for rows.Next() {
		var m models.MatchRecord
		var status string
		m.HelpRequest, err = scanRequest(rows, &m.MatchID, &m.CSRID, &m.MatchedAt, &status)
		if err != nil {
			return nil, err
		}
		m.RequestID = m.ID
		m.MatchStatus = models.MatchStatus(status)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func loadRequest(ctx context.Context, db *sql.DB, id int64) (models.HelpRequest, error) {
	hr, err := scanRequest(db.QueryRowContext(ctx, requestSelect+" WHERE hr.pin_requests_id = ?", id))
	if err == sql.ErrNoRows {
		return hr, errRequestNotFound
	}
	return hr, err
}

// contact looks up how to reach a user.
func contact(ctx context.Context, db *sql.DB, userID int64) (name, email, phone string, err error) {
	err = db.QueryRowContext(ctx, `SELECT name, email, phone FROM users WHERE users_id = ?`, userID).Scan(&name, &email, &phone)
	return
}

// likePattern builds a case-insensitive LIKE pattern for a search term.
func likePattern(q string) string {
	return "%" + strings.ToLower(strings.TrimSpace(q)) + "%"
}

// resolveCategory finds an active category by id or case-insensitive name.
// It returns errCategoryUnusable when the category is unknown or inactive.
func resolveCategory(ctx context.Context, db *sql.DB, id *int64, name string) (*int64, error) {
	var catID int64
	var active bool
	var err error
	switch {
	case id != nil && *id > 0:
		err = db.QueryRowContext(ctx, `SELECT categories_id, active FROM categories WHERE categories_id = ?`, *id).Scan(&catID, &active)
	case strings.TrimSpace(name) != "":
		err = db.QueryRowContext(ctx, `SELECT categories_id, active FROM categories WHERE LOWER(name) = ?`,
			strings.ToLower(strings.TrimSpace(name))).Scan(&catID, &active)
	default:
		return nil, nil
	}
	if err == sql.ErrNoRows {
		return nil, errCategoryUnusable
	}
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, errCategoryUnusable
	}
	return &catID, nil
}

var errCategoryUnusable = errors.New("Unknown or inactive category.")
