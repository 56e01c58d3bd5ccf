package domain

import "time"

// TicketHistory is one recorded workflow event of a ticket.
type TicketHistory struct {
	ID         int64     `json:"id"`
	TicketID   string    `json:"ticket_id"`
	UserID     string    `json:"user_id"`
	ActorKind  ActorKind `json:"actor_kind"`
	ActorID    *string   `json:"actor_id,omitempty"`
	ChangeType string    `json:"change_type"`
	OldValue   *string   `json:"old_value,omitempty"`
	NewValue   *string   `json:"new_value,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
