package booking

import (
	"time"

	bookingUC "marketplace-core/internal/usecase/booking"
)

type DTO struct {
	BookingID   string     `json:"bookingId"`
	Status      string     `json:"status"`
	SecondsLeft int        `json:"secondsLeft"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	// Synced is false when the response was recorded locally but the remote
	// write failed.
	Synced *bool `json:"synced,omitempty"`
}

func toDTO(st bookingUC.State) DTO {
	return DTO{
		BookingID:   st.BookingID,
		Status:      string(st.Status),
		SecondsLeft: st.SecondsLeft,
		RespondedAt: st.RespondedAt,
	}
}

// conflictBody is returned when a booking was already answered or expired.
type conflictBody struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}
