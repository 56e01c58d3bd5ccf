package worker

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-desk/internal/domain"
	"github.com/spec-kit/verification-desk/internal/events"
	"github.com/spec-kit/verification-desk/internal/repository"
)

// StartHistoryWorker records every ticket event in the history repository.
func StartHistoryWorker(dispatcher events.Dispatcher, repo repository.TicketHistoryRepository, logger *zap.Logger) {
	if dispatcher == nil || repo == nil {
		return
	}
	record := func(ctx context.Context, event events.Event) error {
		entry := HistoryFromEvent(event)
		if err := repo.Create(ctx, &entry); err != nil {
			return err
		}
		logger.Debug("ticket history recorded", zap.String("ticket_id", event.TicketID), zap.String("change_type", entry.ChangeType))
		return nil
	}
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketPhotoSubmitted,
		events.EventTicketReviewed,
		events.EventTicketClosed,
	} {
		dispatcher.Subscribe(eventType, record)
	}
}

// HistoryFromEvent maps an event to its history entry.
func HistoryFromEvent(event events.Event) domain.TicketHistory {
	entry := domain.TicketHistory{
		TicketID:   event.TicketID,
		UserID:     event.UserID,
		ActorKind:  event.Actor.Kind,
		ChangeType: string(event.Type),
		CreatedAt:  event.Timestamp,
	}
	if event.Actor.ID != "" {
		entry.ActorID = strPtr(event.Actor.ID)
	}

	switch payload := event.Payload.(type) {
	case events.TicketCreatedPayload:
		entry.NewValue = strPtr(string(domain.TicketStatusCreated))
	case events.TicketReviewedPayload:
		entry.OldValue = strPtr(string(payload.OldStatus))
		entry.NewValue = strPtr(string(payload.NewStatus))
		if payload.Rejections > 0 && !payload.Approved {
			entry.NewValue = strPtr(string(payload.NewStatus) + " #" + strconv.Itoa(payload.Rejections))
		}
	case events.TicketClosedPayload:
		entry.NewValue = strPtr(string(domain.TicketStatusClosed))
		if payload.Digest != "" {
			entry.OldValue = strPtr("transcript " + payload.Digest)
		}
	default:
		if event.Type == events.EventTicketPhotoSubmitted {
			entry.NewValue = strPtr(string(domain.TicketStatusPhotoSubmitted))
		}
	}
	return entry
}

func strPtr(s string) *string {
	return &s
}
