package controllers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"csr-volunteer/models"
	"csr-volunteer/utils"
)

var reportWindows = map[string]time.Duration{
	"daily":   24 * time.Hour,
	"weekly":  7 * 24 * time.Hour,
	"monthly": 30 * 24 * time.Hour,
}

func windowSummary(ctx context.Context, db *sql.DB, since, until time.Time) (models.WindowSummary, error) {
	var s models.WindowSummary
	var err error
	if s.Created, err = count(ctx, db, `SELECT COUNT(*) FROM help_requests WHERE created_at >= ? AND created_at <= ?`, since, until); err != nil {
		return s, err
	}
	s.Closed, err = count(ctx, db, `SELECT COUNT(*) FROM help_requests WHERE closed_at IS NOT NULL AND closed_at >= ? AND closed_at <= ?`, since, until)
	return s, err
}

func analytics(ctx context.Context, db *sql.DB, now time.Time) (models.Analytics, error) {
	a := models.Analytics{GeneratedAt: now}
	var err error
	if a.Daily, err = windowSummary(ctx, db, now.Add(-reportWindows["daily"]), now); err != nil {
		return a, err
	}
	if a.Weekly, err = windowSummary(ctx, db, now.Add(-reportWindows["weekly"]), now); err != nil {
		return a, err
	}
	a.Monthly, err = windowSummary(ctx, db, now.Add(-reportWindows["monthly"]), now)
	return a, err
}

func (c PMController) Analytics(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var summary models.Analytics
		hit, err := c.Cache.Get(ctx, analyticsCacheKey, &summary)
		if err != nil {
			c.Log.WithError(err).Warn("reading analytics cache")
		}
		if hit {
			utils.ResponseJSON(w, summary)
			return
		}

		summary, err = analytics(ctx, db, c.now())
		if err != nil {
			c.serverError(w, err, "computing analytics")
			return
		}
		if err := c.Cache.Set(ctx, analyticsCacheKey, summary); err != nil {
			c.Log.WithError(err).Warn("writing analytics cache")
		}
		utils.ResponseJSON(w, summary)
	}
}

const reportSelect = `SELECT reports_id, manager_id, report_type, content, object_url, generated_at FROM reports`

func scanReport(row scanner) (models.Report, error) {
	var rep models.Report
	var content string
	if err := row.Scan(&rep.ID, &rep.ManagerID, &rep.ReportType, &content, &rep.ObjectURL, &rep.GeneratedAt); err != nil {
		return rep, err
	}
	rep.Content = json.RawMessage(content)
	return rep, nil
}

func buildReport(ctx context.Context, db *sql.DB, reportType string, now time.Time) (models.ReportContent, error) {
	content := models.ReportContent{
		ReportType: reportType,
		From:       now.Add(-reportWindows[reportType]),
		To:         now,
		ByStatus:   map[string]int64{},
		ByCategory: map[string]int64{},
	}
	for _, s := range models.Statuses {
		content.ByStatus[string(s)] = 0
	}
	var err error
	if content.Summary, err = windowSummary(ctx, db, content.From, content.To); err != nil {
		return content, err
	}
	if err = groupCount(ctx, db, `SELECT status, COUNT(*) FROM help_requests WHERE created_at >= ? AND created_at <= ? GROUP BY status`,
		content.ByStatus, content.From, content.To); err != nil {
		return content, err
	}
	err = groupCount(ctx, db, `SELECT COALESCE(c.name, 'Uncategorized'), COUNT(*) FROM help_requests hr
		LEFT JOIN categories c ON c.categories_id = hr.category_id
		WHERE hr.created_at >= ? AND hr.created_at <= ? GROUP BY COALESCE(c.name, 'Uncategorized')`,
		content.ByCategory, content.From, content.To)
	return content, err
}

type generateReport struct {
	ReportType string `json:"report_type" validate:"required,oneof=daily weekly monthly"`
}

func (c PMController) GenerateReport(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateReport
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		req.ReportType = strings.ToLower(strings.TrimSpace(req.ReportType))
		if err := utils.Validate(req); err != nil {
			badRequest(w, err.Error())
			return
		}

		ctx := r.Context()
		p := principal(r)
		now := c.now()
		content, err := buildReport(ctx, db, req.ReportType, now)
		if err != nil {
			c.serverError(w, err, "building report")
			return
		}
		body, err := json.Marshal(content)
		if err != nil {
			c.serverError(w, err, "encoding report")
			return
		}

		res, err := db.ExecContext(ctx, `INSERT INTO reports (manager_id, report_type, content, object_url, generated_at) VALUES (?, ?, ?, ?, ?)`,
			p.UserID, req.ReportType, string(body), "", now)
		if err != nil {
			c.serverError(w, err, "inserting report")
			return
		}
		id, err := res.LastInsertId()
		if err != nil {
			c.serverError(w, err, "reading new report id")
			return
		}

		if url, err := c.archive(ctx, db, id, req.ReportType, body, now); err != nil {
			c.Log.WithError(err).WithField("report_id", id).Error("archiving report")
		} else if url != "" {
			c.Log.WithField("report_id", id).WithField("url", url).Info("report archived")
		}

		rep, err := scanReport(db.QueryRowContext(ctx, reportSelect+" WHERE reports_id = ?", id))
		if err != nil {
			c.serverError(w, err, "loading new report")
			return
		}
		c.record(ctx, db, actorOf(p), "report_generate", fmt.Sprintf("Generated %s report #%d", req.ReportType, id))
		utils.ResponseJSONStatus(w, http.StatusCreated, rep)
	}
}

// archive uploads the report body and stores its URL. Without an archiver it
// does nothing.
func (c PMController) archive(ctx context.Context, db *sql.DB, id int64, reportType string, body []byte, now time.Time) (string, error) {
	if c.Archiver == nil {
		return "", nil
	}
	key := fmt.Sprintf("%s%s/%d-%s.json", c.S3Prefix, reportType, id, now.Format("20060102T150405Z"))
	url, err := c.Archiver.Archive(ctx, key, body, "application/json")
	if err != nil {
		return "", err
	}
	if _, err := db.ExecContext(ctx, `UPDATE reports SET object_url = ? WHERE reports_id = ?`, url, id); err != nil {
		return "", errors.Wrap(err, "saving report url")
	}
	return url, nil
}

func (c PMController) ListReports(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := db.QueryContext(r.Context(), reportSelect+" ORDER BY generated_at DESC, reports_id DESC")
		if err != nil {
			c.serverError(w, err, "listing reports")
			return
		}
		defer rows.Close()

		reports := []models.Report{}
		for rows.Next() {
			rep, err := scanReport(rows)
			if err != nil {
				c.serverError(w, err, "scanning report")
				return
			}
			reports = append(reports, rep)
		}
		if err := rows.Err(); err != nil {
			c.serverError(w, err, "listing reports")
			return
		}
		utils.ResponseJSON(w, reports)
	}
}

func (c PMController) GetReport(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.IDParam(r, "id")
		if err != nil {
			badRequest(w, "Invalid report id.")
			return
		}
		rep, err := scanReport(db.QueryRowContext(r.Context(), reportSelect+" WHERE reports_id = ?", id))
		if err == sql.ErrNoRows {
			notFound(w, "Report not found.")
			return
		} else if err != nil {
			c.serverError(w, err, "loading report")
			return
		}
		utils.ResponseJSON(w, rep)
	}
}
