package utils

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"csr-volunteer/models"
)

var (
	logMu sync.RWMutex
	log   logrus.FieldLogger = logrus.StandardLogger()
)

// SetLogger routes response write failures to l.
func SetLogger(l logrus.FieldLogger) {
	logMu.Lock()
	defer logMu.Unlock()
	log = l
}

func logger() logrus.FieldLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return log
}

func RespondWithError(w http.ResponseWriter, status int, error models.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(error); err != nil {
		logger().WithError(err).WithField("status", status).Error("could not encode error response")
	}
}

func ResponseJSON(w http.ResponseWriter, data interface{}) {
	ResponseJSONStatus(w, http.StatusOK, data)
}

func ResponseJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger().WithError(err).WithField("status", status).Error("could not encode response")
	}
}

// ResponseCSV writes a CSV attachment with a header row.
func ResponseCSV(w http.ResponseWriter, filename string, header []string, rows [][]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		logger().WithError(err).WithField("file", filename).Error("could not write csv header")
		return
	}
	if err := cw.WriteAll(rows); err != nil {
		logger().WithError(err).WithField("file", filename).Error("could not write csv rows")
	}
}
