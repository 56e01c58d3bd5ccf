package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-desk/internal/domain"
	"github.com/spec-kit/verification-desk/internal/events"
)

type memoryHistory struct {
	entries []domain.TicketHistory
	err     error
}

func (m *memoryHistory) Create(_ context.Context, h *domain.TicketHistory) error {
	if m.err != nil {
		return m.err
	}
	h.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *h)
	return nil
}

func (m *memoryHistory) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	var out []domain.TicketHistory
	for _, e := range m.entries {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestHistoryFromEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		event    events.Event
		oldValue string
		newValue string
	}{
		{
			name:     "created",
			event:    events.Event{Type: events.EventTicketCreated, Payload: events.TicketCreatedPayload{Reason: "id"}},
			newValue: "created",
		},
		{
			name:     "photo",
			event:    events.Event{Type: events.EventTicketPhotoSubmitted},
			newValue: "photo_submitted",
		},
		{
			name: "second rejection",
			event: events.Event{Type: events.EventTicketReviewed, Payload: events.TicketReviewedPayload{
				OldStatus: domain.TicketStatusPhotoSubmitted, NewStatus: domain.TicketStatusRejected, Rejections: 2,
			}},
			oldValue: "photo_submitted",
			newValue: "rejected #2",
		},
		{
			name:     "closed",
			event:    events.Event{Type: events.EventTicketClosed, Payload: events.TicketClosedPayload{Digest: "ff"}},
			oldValue: "transcript ff",
			newValue: "closed",
		},
	}
	for _, tc := range cases {
		tc.event.TicketID = "abcd1234"
		tc.event.Timestamp = at
		entry := HistoryFromEvent(tc.event)
		if entry.ChangeType != string(tc.event.Type) || !entry.CreatedAt.Equal(at) {
			t.Errorf("%s: entry = %+v", tc.name, entry)
		}
		if got := deref(entry.OldValue); got != tc.oldValue {
			t.Errorf("%s: old = %q, want %q", tc.name, got, tc.oldValue)
		}
		if got := deref(entry.NewValue); got != tc.newValue {
			t.Errorf("%s: new = %q, want %q", tc.name, got, tc.newValue)
		}
	}
}

func TestStartHistoryWorkerRecordsEvents(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	repo := &memoryHistory{}
	StartHistoryWorker(dispatcher, repo, zap.NewNop())

	actor := events.ActorFrom(domain.SystemActor())
	_ = dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketCreated, TicketID: "t1", Actor: actor})
	_ = dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketClosed, TicketID: "t1", Actor: actor})

	entries, _ := repo.ListByTicket(context.Background(), "t1")
	if len(entries) != 2 || entries[1].ChangeType != string(events.EventTicketClosed) {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].ActorKind != domain.ActorKindSystem || entries[0].ActorID != nil {
		t.Fatalf("actor not mapped: %+v", entries[0])
	}

	repo.err = errors.New("db down")
	if err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketCreated, TicketID: "t2"}); err != nil {
		t.Fatalf("publish surfaced handler error: %v", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
