package domain

import "time"

// TicketStatus enumerates lifecycle states for verification tickets.
type TicketStatus string

const (
	TicketStatusCreated        TicketStatus = "created"
	TicketStatusPhotoSubmitted TicketStatus = "photo_submitted"
	TicketStatusApproved       TicketStatus = "approved"
	TicketStatusRejected       TicketStatus = "rejected"
	TicketStatusClosed         TicketStatus = "closed"
)

// TicketRecord is one outstanding identity verification request.
type TicketRecord struct {
	TicketID         string       `json:"ticket_id"`
	UserID           string       `json:"user_id"`
	Username         string       `json:"username,omitempty"`
	ChannelID        string       `json:"channel_id"`
	CreatedAt        time.Time    `json:"created_at"`
	Reason           string       `json:"reason"`
	DeclaredAge      *int         `json:"declared_age,omitempty"`
	Status           TicketStatus `json:"status"`
	WelcomeMessageID string       `json:"welcome_message_id"`
	Rejections       int          `json:"rejections,omitempty"`
}

// IsTerminal reports whether the verification outcome is final. An approved ticket only
// waits for its automatic closure.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusApproved || s == TicketStatusClosed
}
