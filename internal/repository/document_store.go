package repository

import (
	"context"
)

// Collection names used by the core.
const (
	CollectionSessions = "chat_sessions"
	CollectionBookings = "bookings"
	CollectionDevices  = "provider_devices"
)

// FilterOp is a comparison supported by List.
type FilterOp string

const (
	FilterEqual    FilterOp = "eq"
	FilterLessThan FilterOp = "lt"
)

// Filter restricts List results to documents whose Field compares to Value.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Eq is shorthand for an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: FilterEqual, Value: value}
}

// Lt is shorthand for a less-than filter.
func Lt(field string, value any) Filter {
	return Filter{Field: field, Op: FilterLessThan, Value: value}
}

// Query describes a List call. An empty OrderBy keeps store order;
// Limit <= 0 means unlimited.
type Query struct {
	Filters   []Filter
	OrderBy   string
	OrderDesc bool
	Limit     int
}

// DocumentStore is the remote document database.
//
// Error contract: a missing document yields *entity.NotFoundError, a
// duplicate id yields *entity.ConflictError, connectivity failures yield
// *entity.ConnectionError, rejected credentials match entity.ErrUnauthorized,
// and a missing collection or malformed query matches entity.ErrBadQuery.
type DocumentStore interface {
	// Create inserts doc under id.
	Create(ctx context.Context, collection, id string, doc any) error
	// Get decodes the document stored under id into out.
	Get(ctx context.Context, collection, id string, out any) error
	// Update applies patch to the document and decodes the updated document
	// into out when out is non-nil. The store assigns updatedAt.
	Update(ctx context.Context, collection, id string, patch map[string]any, out any) error
	// Delete removes the document stored under id.
	Delete(ctx context.Context, collection, id string) error
	// List decodes the matching documents into out, a pointer to a slice.
	List(ctx context.Context, collection string, q Query, out any) error
	// Ping is a lightweight connectivity check.
	Ping(ctx context.Context) error
}
