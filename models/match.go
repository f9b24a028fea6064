package models

import "time"

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchCompleted MatchStatus = "completed"
	MatchCancelled MatchStatus = "cancelled"
)

// MatchRecord is a CSR's view of a request they accepted.
type MatchRecord struct {
	HelpRequest
	MatchID     int64       `json:"match_id"`
	RequestID   int64       `json:"request_id"`
	CSRID       int64       `json:"csr_id"`
	MatchedAt   time.Time   `json:"matched_at"`
	MatchStatus MatchStatus `json:"match_status"`
}
