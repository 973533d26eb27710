package entity

import (
	"fmt"
	"strings"
	"time"
)

// ProviderType distinguishes individual therapists from venues.
type ProviderType string

const (
	ProviderTherapist ProviderType = "therapist"
	ProviderPlace     ProviderType = "place"
)

// ProviderStatus is the provider's advertised availability.
type ProviderStatus string

const (
	ProviderAvailable ProviderStatus = "available"
	ProviderBusy      ProviderStatus = "busy"
	ProviderOffline   ProviderStatus = "offline"
)

// SessionMode is how the booking conversation was started.
type SessionMode string

const (
	ModeImmediate SessionMode = "immediate"
	ModeScheduled SessionMode = "scheduled"
)

// Pricing maps a duration label in minutes ("60", "90") to a price.
type Pricing map[string]int64

// ChatSession is the remote record backing a customer/provider conversation.
// At most one active session per (provider, customer) pair is canonical:
// lookups return the most recently updated one.
type ChatSession struct {
	SessionID          string         `bson:"_id" json:"sessionId"`
	ProviderID         string         `bson:"providerId" json:"providerId"`
	ProviderName       string         `bson:"providerName" json:"providerName"`
	ProviderType       ProviderType   `bson:"providerType" json:"providerType"`
	ProviderStatus     ProviderStatus `bson:"providerStatus,omitempty" json:"providerStatus,omitempty"`
	CustomerID         string         `bson:"customerId,omitempty" json:"customerId,omitempty"`
	CustomerName       string         `bson:"customerName,omitempty" json:"customerName,omitempty"`
	CustomerWhatsApp   string         `bson:"customerWhatsApp,omitempty" json:"customerWhatsApp,omitempty"`
	Mode               SessionMode    `bson:"mode,omitempty" json:"mode,omitempty"`
	Pricing            Pricing        `bson:"pricing,omitempty" json:"pricing,omitempty"`
	DiscountPercentage *int           `bson:"discountPercentage,omitempty" json:"discountPercentage,omitempty"`
	DiscountActive     *bool          `bson:"discountActive,omitempty" json:"discountActive,omitempty"`
	ProfilePicture     string         `bson:"profilePicture,omitempty" json:"profilePicture,omitempty"`
	ProviderRating     float64        `bson:"providerRating,omitempty" json:"providerRating,omitempty"`
	BookingID          string         `bson:"bookingId,omitempty" json:"bookingId,omitempty"`
	ChatRoomID         string         `bson:"chatRoomId,omitempty" json:"chatRoomId,omitempty"`
	IsActive           bool           `bson:"isActive" json:"isActive"`
	CreatedAt          time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time      `bson:"updatedAt" json:"updatedAt"`
	ExpiresAt          time.Time      `bson:"expiresAt" json:"expiresAt"`
}

// Expired reports whether the session's expiry has passed at now.
func (s *ChatSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now)
}

// NormalizeDiscount drops a discount percentage outside 1..100 together with
// its active flag, and drops an active flag that has no percentage.
func (s *ChatSession) NormalizeDiscount() {
	if s.DiscountPercentage != nil {
		if p := *s.DiscountPercentage; p < 1 || p > 100 {
			s.DiscountPercentage = nil
			s.DiscountActive = nil
		}
		return
	}
	s.DiscountActive = nil
}

// ValidateIdentity checks the identity fields every session must carry.
func (s *ChatSession) ValidateIdentity() error {
	if strings.TrimSpace(s.ProviderID) == "" {
		return &ValidationError{Field: "providerId", Message: "provider id is required"}
	}
	if strings.TrimSpace(s.ProviderName) == "" {
		return &ValidationError{Field: "providerName", Message: "provider name is required"}
	}
	switch s.ProviderType {
	case ProviderTherapist, ProviderPlace:
	case "":
		return &ValidationError{Field: "providerType", Message: "provider type is required"}
	default:
		return &ValidationError{Field: "providerType", Message: fmt.Sprintf("unknown provider type %q", s.ProviderType)}
	}
	return nil
}

// LocalSnapshot is the client-side cached view of a provider conversation,
// compared against the remote session during reconciliation.
type LocalSnapshot struct {
	ProviderID         string
	ProviderName       string
	ProviderType       ProviderType
	ProviderStatus     ProviderStatus
	CustomerID         string
	CustomerName       string
	CustomerWhatsApp   string
	Mode               SessionMode
	Pricing            Pricing
	DiscountPercentage *int
	DiscountActive     *bool
	ProfilePicture     string
	ProviderRating     float64
	BookingID          string
	ChatRoomID         string
}

// DefaultPricing is applied to sessions rebuilt from a snapshot without prices.
var DefaultPricing = Pricing{"60": 200000, "90": 300000, "120": 400000}

// Diverges reports whether the remote session disagrees with the snapshot on
// the negotiated attributes: provider name, provider status, pricing.
// Snapshot gaps are filled with the same defaults SessionFromSnapshot uses,
// so a session healed from this snapshot never diverges from it.
func (l *LocalSnapshot) Diverges(remote *ChatSession) bool {
	want := SessionFromSnapshot(*l)
	if remote.ProviderName != want.ProviderName || remote.ProviderStatus != want.ProviderStatus {
		return true
	}
	return !pricingEqual(remote.Pricing, want.Pricing)
}

func pricingEqual(a, b Pricing) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// SessionFromSnapshot builds a session payload for self-healing. Guest
// defaults fill in a missing customer, type, status, mode and pricing.
func SessionFromSnapshot(l LocalSnapshot) ChatSession {
	s := ChatSession{
		ProviderID:         l.ProviderID,
		ProviderName:       l.ProviderName,
		ProviderType:       l.ProviderType,
		ProviderStatus:     l.ProviderStatus,
		CustomerID:         l.CustomerID,
		CustomerName:       l.CustomerName,
		CustomerWhatsApp:   l.CustomerWhatsApp,
		Mode:               l.Mode,
		Pricing:            l.Pricing,
		DiscountPercentage: l.DiscountPercentage,
		DiscountActive:     l.DiscountActive,
		ProfilePicture:     l.ProfilePicture,
		ProviderRating:     l.ProviderRating,
		BookingID:          l.BookingID,
		ChatRoomID:         l.ChatRoomID,
		IsActive:           true,
	}
	if s.CustomerName == "" {
		s.CustomerName = "Guest"
	}
	if s.CustomerID == "" {
		s.CustomerID = s.CustomerName
	}
	if s.ProviderType == "" {
		s.ProviderType = ProviderTherapist
	}
	if s.ProviderStatus == "" {
		s.ProviderStatus = ProviderAvailable
	}
	if s.Mode == "" {
		s.Mode = ModeImmediate
	}
	if s.Pricing == nil {
		s.Pricing = DefaultPricing
	}
	return s
}

// SessionPatch is a partial update keyed by stored field name.
type SessionPatch map[string]any

// immutableSessionFields can never be changed after creation.
var immutableSessionFields = map[string]bool{
	"_id":        true,
	"sessionId":  true,
	"providerId": true,
	"customerId": true,
	"createdAt":  true,
	"expiresAt":  true,
}

// mutableSessionFields is the whitelist of updatable fields.
var mutableSessionFields = map[string]bool{
	"providerName":       true,
	"providerType":       true,
	"providerStatus":     true,
	"customerName":       true,
	"customerWhatsApp":   true,
	"mode":               true,
	"pricing":            true,
	"discountPercentage": true,
	"discountActive":     true,
	"profilePicture":     true,
	"providerRating":     true,
	"bookingId":          true,
	"chatRoomId":         true,
	"isActive":           true,
	"updatedAt":          true,
}

// Validate rejects empty patches, identity or creation fields, and unknown fields.
func (p SessionPatch) Validate() error {
	if len(p) == 0 {
		return &ValidationError{Field: "patch", Message: "update data is required"}
	}
	for field := range p {
		if immutableSessionFields[field] {
			return &ValidationError{Field: field, Message: "field cannot be modified"}
		}
		if !mutableSessionFields[field] {
			return &ValidationError{Field: field, Message: "unknown field"}
		}
	}
	return nil
}

// Normalize applies the discount rules to the patch in place.
func (p SessionPatch) Normalize() {
	raw, has := p["discountPercentage"]
	if !has {
		if active, ok := p["discountActive"].(bool); ok && active {
			delete(p, "discountActive")
		}
		return
	}
	pct, ok := toInt(raw)
	if !ok || pct < 1 || pct > 100 {
		delete(p, "discountPercentage")
		delete(p, "discountActive")
		return
	}
	p["discountPercentage"] = pct
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	default:
		return 0, false
	}
}
