package dto

import (
	"time"

	"github.com/spec-kit/verification-desk/internal/domain"
)

// OpenTicketRequest is the /ticket command payload.
type OpenTicketRequest struct {
	Reason string `json:"reason"`
	Age    *int   `json:"age"`
}

// ReviewRequest is the /verify-identity command payload.
type ReviewRequest struct {
	UserID   string `json:"user_id"`
	Approved *bool  `json:"approved"`
}

// CloseRequest is the /close command payload.
type CloseRequest struct {
	ChannelID string `json:"channel_id"`
	Reason    string `json:"reason"`
}

// ComponentRequest describes a press on one of the welcome message controls.
type ComponentRequest struct {
	CustomID  string `json:"custom_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// TicketSummary response.
type TicketSummary struct {
	TicketID    string              `json:"ticket_id"`
	UserID      string              `json:"user_id"`
	Username    string              `json:"username"`
	ChannelID   string              `json:"channel_id"`
	Reason      string              `json:"reason"`
	DeclaredAge *int                `json:"declared_age,omitempty"`
	Status      domain.TicketStatus `json:"status"`
	Rejections  int                 `json:"rejections"`
	CreatedAt   time.Time           `json:"created_at"`
}

// EmbedResponse renders canned guidance back to the caller.
type EmbedResponse struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Fields      []EmbedFieldPayload `json:"fields"`
}

// EmbedFieldPayload is one titled block of an EmbedResponse.
type EmbedFieldPayload struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// NewTicketSummary maps a record to its response shape.
func NewTicketSummary(r domain.TicketRecord) TicketSummary {
	return TicketSummary{
		TicketID:    r.TicketID,
		UserID:      r.UserID,
		Username:    r.Username,
		ChannelID:   r.ChannelID,
		Reason:      r.Reason,
		DeclaredAge: r.DeclaredAge,
		Status:      r.Status,
		Rejections:  r.Rejections,
		CreatedAt:   r.CreatedAt,
	}
}
