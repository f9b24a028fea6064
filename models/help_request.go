package models

import "time"

type RequestStatus string

const (
	StatusOpen       RequestStatus = "open"
	StatusInProgress RequestStatus = "in-progress"
	StatusOnHold     RequestStatus = "on-hold"
	StatusCompleted  RequestStatus = "completed"
	StatusCancelled  RequestStatus = "cancelled"
	StatusClosed     RequestStatus = "closed"
)

// Statuses lists every request status in lifecycle order.
var Statuses = []RequestStatus{StatusOpen, StatusInProgress, StatusOnHold, StatusCompleted, StatusCancelled, StatusClosed}

var transitions = map[RequestStatus][]RequestStatus{
	StatusOpen:       {StatusInProgress, StatusCancelled, StatusClosed, StatusCompleted},
	StatusInProgress: {StatusOnHold, StatusOpen, StatusCompleted, StatusCancelled, StatusClosed},
	StatusOnHold:     {StatusInProgress, StatusOpen, StatusCompleted, StatusCancelled, StatusClosed},
	StatusCompleted:  {StatusClosed},
	StatusCancelled:  {StatusOpen, StatusClosed},
	StatusClosed:     {StatusOpen},
}

// NormalizeStatus accepts "Open", "in_progress", "In Progress" and the like.
func NormalizeStatus(s string) (RequestStatus, bool) {
	switch squash(s) {
	case "open", "new":
		return StatusOpen, true
	case "inprogress", "accepted", "active":
		return StatusInProgress, true
	case "onhold", "paused":
		return StatusOnHold, true
	case "completed", "complete", "done":
		return StatusCompleted, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	case "closed":
		return StatusClosed, true
	}
	return "", false
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the request no longer accepts content edits.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusClosed
}

// Assigned reports whether a CSR is working on the request in this status.
func (s RequestStatus) Assigned() bool {
	return s == StatusInProgress || s == StatusOnHold
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// NormalizeUrgency maps the PIN form's "normal"/"urgent" onto medium/high.
// An empty value is medium.
func NormalizeUrgency(s string) (Urgency, bool) {
	switch squash(s) {
	case "low":
		return UrgencyLow, true
	case "", "medium", "normal":
		return UrgencyMedium, true
	case "high", "urgent":
		return UrgencyHigh, true
	}
	return "", false
}

// HelpRequest is a PIN's request for assistance. It carries both the
// snake_case and the legacy key for the id, as the dashboards read either.
type HelpRequest struct {
	ID                  int64         `json:"id"`
	PinRequestsID       int64         `json:"pin_requests_id"`
	UserID              int64         `json:"user_id"`
	PINName             string        `json:"pin_name,omitempty"`
	CategoryID          *int64        `json:"category_id"`
	Category            string        `json:"category"`
	Title               string        `json:"title"`
	Description         string        `json:"description"`
	Urgency             Urgency       `json:"urgency"`
	Location            string        `json:"location"`
	PreferredTime       string        `json:"preferred_time"`
	SpecialRequirements string        `json:"special_requirements"`
	ContactInfo         string        `json:"contact_info"`
	Status              RequestStatus `json:"status"`
	ViewCount           int64         `json:"view_count"`
	ShortlistCount      int64         `json:"shortlist_count"`
	AssignedTo          *int64        `json:"assigned_to"`
	AssignedName        string        `json:"assigned_name,omitempty"`
	CompletionNote      string        `json:"completion_note,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	CompletedAt         *time.Time    `json:"completed_at"`
	ClosedAt            *time.Time    `json:"closed_at"`
	FeedbackRating      *int          `json:"feedback_rating"`
	FeedbackComment     string        `json:"feedback_comment,omitempty"`
	FeedbackAnonymous   bool          `json:"feedback_anonymous"`
	FeedbackSubmittedAt *time.Time    `json:"feedback_submitted_at"`
	FeedbackSubmitted   bool          `json:"feedback_submitted"`
	Shortlisted         *bool         `json:"shortlisted,omitempty"`
}

// Feedback is the PIN's rating of a completed request.
type Feedback struct {
	Rating    int    `json:"rating" validate:"min=1,max=5"`
	Comment   string `json:"comment" validate:"max=2000"`
	Anonymous bool   `json:"anonymous"`
}
