package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// IDParam reads a positive integer path variable.
func IDParam(r *http.Request, name string) (int64, error) {
	raw, ok := mux.Vars(r)[name]
	if !ok {
		return 0, errors.Errorf("missing %s", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid %s", name)
	}
	return id, nil
}

// StrToInt parses a query value, falling back to def when it is empty or bad.
func StrToInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ParseBool reads "true"/"false" style query flags. ok is false when the
// value is absent or unparsable.
func ParseBool(s string) (value, ok bool) {
	if s == "" {
		return false, false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}

// NowUTC returns the current time as stored in the database.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
