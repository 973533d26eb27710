package entity

import (
	"time"
)

// BookingStatus is the provider-response state of a booking request.
type BookingStatus string

const (
	BookingPending  BookingStatus = "pending"
	BookingAccepted BookingStatus = "accepted"
	BookingRejected BookingStatus = "rejected"
	BookingExpired  BookingStatus = "expired"
)

// IsTerminal reports whether no further transition is permitted.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingAccepted, BookingRejected, BookingExpired:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	return s == BookingPending || s.IsTerminal()
}

// BookingRequest is a booking dispatched to a provider who must accept or
// reject it before ResponseDeadline.
type BookingRequest struct {
	ID               string        `bson:"_id" json:"id"`
	ProviderID       string        `bson:"providerId" json:"providerId"`
	CustomerID       string        `bson:"customerId,omitempty" json:"customerId,omitempty"`
	Status           BookingStatus `bson:"status" json:"status"`
	ResponseDeadline time.Time     `bson:"responseDeadline" json:"responseDeadline"`
	RespondedAt      *time.Time    `bson:"respondedAt,omitempty" json:"respondedAt,omitempty"`
}

// Validate checks the fields required to start a response countdown.
func (b *BookingRequest) Validate() error {
	if b.ID == "" {
		return &ValidationError{Field: "id", Message: "booking id is required"}
	}
	if b.ResponseDeadline.IsZero() {
		return &ValidationError{Field: "responseDeadline", Message: "response deadline is required"}
	}
	if b.Status == "" {
		b.Status = BookingPending
	}
	if !b.Status.Valid() {
		return &ValidationError{Field: "status", Message: "unknown booking status " + string(b.Status)}
	}
	return nil
}

// SecondsLeft returns the whole seconds remaining until the deadline,
// rounded up and clamped at zero.
func (b *BookingRequest) SecondsLeft(now time.Time) int {
	return SecondsUntil(b.ResponseDeadline, now)
}

// SecondsUntil returns ceil((deadline-now)/1s), clamped at zero.
func SecondsUntil(deadline, now time.Time) int {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

// CanTransition reports whether moving from s to next is allowed.
// Only pending bookings move, and only to a terminal status.
func CanTransition(from, to BookingStatus) bool {
	return from == BookingPending && to.IsTerminal()
}
