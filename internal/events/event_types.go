package events

import (
	"time"

	"github.com/spec-kit/verification-desk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated        EventType = "ticket_created"
	EventTicketPhotoSubmitted EventType = "ticket_photo_submitted"
	EventTicketReviewed       EventType = "ticket_reviewed"
	EventTicketClosed         EventType = "ticket_closed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Kind        domain.ActorKind `json:"kind"`
	ID          string           `json:"id,omitempty"`
	DisplayName string           `json:"display_name"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	UserID    string      `json:"user_id"`
	ChannelID string      `json:"channel_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Reason      string `json:"reason"`
	DeclaredAge *int   `json:"declared_age,omitempty"`
}

// TicketReviewedPayload payload.
type TicketReviewedPayload struct {
	Approved   bool                `json:"approved"`
	OldStatus  domain.TicketStatus `json:"old_status"`
	NewStatus  domain.TicketStatus `json:"new_status"`
	Rejections int                 `json:"rejections"`
}

// TicketClosedPayload payload. Transcript is empty when archival failed.
type TicketClosedPayload struct {
	Reason         string `json:"reason"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	Digest         string `json:"digest,omitempty"`
	Transcript     []byte `json:"-"`
}

// ActorFrom converts a domain actor.
func ActorFrom(a domain.Actor) Actor {
	return Actor{Kind: a.Kind, ID: a.ID, DisplayName: a.DisplayName}
}
