package session

import "marketplace-core/internal/domain/entity"

type listResponse struct {
	Sessions []entity.ChatSession `json:"sessions"`
	Count    int                  `json:"count"`
}

// activeResponse carries a nil session when the provider has none.
type activeResponse struct {
	Session *entity.ChatSession `json:"session"`
}

type closeResponse struct {
	SessionID     string `json:"sessionId"`
	Closed        bool   `json:"closed"`
	AlreadyClosed bool   `json:"alreadyClosed"`
}

type reconcileResponse struct {
	Valid     bool                `json:"valid"`
	Corrected bool                `json:"corrected"`
	Session   *entity.ChatSession `json:"session,omitempty"`
}
