package controllers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"csr-volunteer/models"
	"csr-volunteer/utils"
)

// highUsage is the request count from which a category counts as busy.
const highUsage = 10

const categorySelect = `SELECT c.categories_id, c.name, c.description, c.active, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM help_requests hr WHERE hr.category_id = c.categories_id)
	FROM categories c`

// PMController serves the platform manager dashboard.
type PMController struct {
	*Env
}

func scanCategory(row scanner) (models.Category, error) {
	var cat models.Category
	err := row.Scan(&cat.ID, &cat.Name, &cat.Description, &cat.Active, &cat.CreatedAt, &cat.UpdatedAt, &cat.UsageCount)
	return cat, err
}

func listCategories(ctx context.Context, db *sql.DB, tail string, args ...interface{}) ([]models.Category, error) {
	rows, err := db.QueryContext(ctx, categorySelect+" "+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, cat)
	}
	return categories, rows.Err()
}

func loadCategory(ctx context.Context, db *sql.DB, id int64) (models.Category, bool, error) {
	cat, err := scanCategory(db.QueryRowContext(ctx, categorySelect+" WHERE c.categories_id = ?", id))
	if err == sql.ErrNoRows {
		return cat, false, nil
	}
	return cat, err == nil, err
}

// ActiveCategories feeds the request form.
func (c HelpRequestController) ActiveCategories(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := listCategories(r.Context(), db, "WHERE c.active = ? ORDER BY c.name", true)
		if err != nil {
			c.serverError(w, err, "listing active categories")
			return
		}
		utils.ResponseJSON(w, categories)
	}
}

func (c PMController) ListCategories(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		tail := ""
		var args []interface{}
		if q := strings.TrimSpace(query.Get("q")); q != "" {
			pattern := likePattern(q)
			tail, args = "WHERE (LOWER(c.name) LIKE ? OR LOWER(c.description) LIKE ?)", []interface{}{pattern, pattern}
		}
		usage := strings.ToLower(query.Get("usage"))
		switch usage {
		case "", "all", "active", "unused", "high":
		default:
			badRequest(w, "usage must be one of: all, active, unused, high")
			return
		}

		categories, err := listCategories(r.Context(), db, tail+" ORDER BY c.name", args...)
		if err != nil {
			c.serverError(w, err, "listing categories")
			return
		}

		filtered := categories[:0]
		for _, cat := range categories {
			switch {
			case usage == "active" && !cat.Active,
				usage == "unused" && cat.UsageCount != 0,
				usage == "high" && cat.UsageCount < highUsage:
				continue
			}
			filtered = append(filtered, cat)
		}
		utils.ResponseJSON(w, filtered)
	}
}

type categoryForm struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=255"`
	Active      *bool   `json:"active"`
}

func (c PMController) nameTaken(ctx context.Context, db *sql.DB, name string, exceptID int64) (bool, error) {
	return exists(ctx, db, `SELECT 1 FROM categories WHERE LOWER(name) = ? AND categories_id <> ?`, strings.ToLower(name), exceptID)
}

func (c PMController) CreateCategory(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var form categoryForm
		if err := utils.DecodeJSONBody(r, &form); err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := utils.Validate(form); err != nil {
			badRequest(w, err.Error())
			return
		}
		if form.Name == nil || strings.TrimSpace(*form.Name) == "" {
			badRequest(w, "name is required")
			return
		}
		name := strings.TrimSpace(*form.Name)
		description := ""
		if form.Description != nil {
			description = strings.TrimSpace(*form.Description)
		}
		active := true
		if form.Active != nil {
			active = *form.Active
		}

		ctx := r.Context()
		taken, err := c.nameTaken(ctx, db, name, 0)
		if err != nil {
			c.serverError(w, err, "checking category name")
			return
		}
		if taken {
			conflict(w, "A category with this name already exists.")
			return
		}

		now := c.now()
		res, err := db.ExecContext(ctx, `INSERT INTO categories (name, description, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			name, description, active, now, now)
		if err != nil {
			c.serverError(w, err, "inserting category")
			return
		}
		id, err := res.LastInsertId()
		if err != nil {
			c.serverError(w, err, "reading new category id")
			return
		}
		cat, _, err := loadCategory(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "loading new category")
			return
		}
		c.record(ctx, db, actorOf(principal(r)), "category_create", fmt.Sprintf("Created category %q", name))
		utils.ResponseJSONStatus(w, http.StatusCreated, cat)
	}
}

func (c PMController) UpdateCategory(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid category id.")
			return
		}
		var form categoryForm
		if err := utils.DecodeJSONBody(r, &form); err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := utils.Validate(form); err != nil {
			badRequest(w, err.Error())
			return
		}

		ctx := r.Context()
		cat, found, err := loadCategory(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "loading category")
			return
		}
		if !found {
			notFound(w, "Category not found.")
			return
		}

		sets := []string{}
		args := []interface{}{}
		if form.Name != nil {
			name := strings.TrimSpace(*form.Name)
			if name == "" {
				badRequest(w, "name is required")
				return
			}
			if name != cat.Name {
				taken, err := c.nameTaken(ctx, db, name, id)
				if err != nil {
					c.serverError(w, err, "checking category name")
					return
				}
				if taken {
					conflict(w, "A category with this name already exists.")
					return
				}
				sets, args = append(sets, "name = ?"), append(args, name)
			}
		}
		if form.Description != nil {
			sets, args = append(sets, "description = ?"), append(args, strings.TrimSpace(*form.Description))
		}
		if form.Active != nil {
			sets, args = append(sets, "active = ?"), append(args, *form.Active)
		}
		if len(sets) > 0 {
			sets, args = append(sets, "updated_at = ?"), append(args, c.now(), id)
			if _, err := db.ExecContext(ctx, "UPDATE categories SET "+strings.Join(sets, ", ")+" WHERE categories_id = ?", args...); err != nil {
				c.serverError(w, err, "updating category")
				return
			}
			c.record(ctx, db, actorOf(principal(r)), "category_update", fmt.Sprintf("Updated category %q", cat.Name))
		}

		updated, _, err := loadCategory(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "reloading category")
			return
		}
		utils.ResponseJSON(w, updated)
	}
}

func (c PMController) DeleteCategory(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid category id.")
			return
		}
		ctx := r.Context()
		cat, found, err := loadCategory(ctx, db, id)
		if err != nil {
			c.serverError(w, err, "loading category")
			return
		}
		if !found {
			notFound(w, "Category not found.")
			return
		}
		if cat.UsageCount > 0 {
			conflict(w, fmt.Sprintf("Category is used by %d request(s). Deactivate it instead.", cat.UsageCount))
			return
		}

		// the guard is repeated in SQL so a request filed meanwhile keeps its category
		res, err := db.ExecContext(ctx, `DELETE FROM categories WHERE categories_id = ?
			AND NOT EXISTS (SELECT 1 FROM help_requests WHERE category_id = ?)`, id, id)
		if err != nil {
			c.serverError(w, err, "deleting category")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			conflict(w, "Category is in use. Deactivate it instead.")
			return
		}
		c.record(ctx, db, actorOf(principal(r)), "category_delete", fmt.Sprintf("Deleted category %q", cat.Name))
		utils.ResponseJSON(w, map[string]string{"message": "Category deleted successfully"})
	}
}
