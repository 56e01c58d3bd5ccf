package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-desk/internal/domain"
)

var (
	// ErrTicketExists is returned when the user already owns an active or in-flight ticket.
	ErrTicketExists = errors.New("user already has an active ticket")
	// ErrTicketNotFound is returned when no active ticket matches.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketClosing is returned when another caller already started closing the ticket.
	ErrTicketClosing = errors.New("ticket is being closed")
)

// TicketStore holds the active tickets keyed by user id. The in-memory map is authoritative;
// every mutation rewrites the backend snapshot and a failed save is logged, not returned.
type TicketStore struct {
	backend TicketBackend
	logger  *zap.Logger

	mu       sync.RWMutex
	active   map[string]domain.TicketRecord
	reserved map[string]struct{}
	closing  map[string]struct{}

	saveMu sync.Mutex
}

// NewTicketStore builds an empty store over backend. Call Load before use.
func NewTicketStore(backend TicketBackend, logger *zap.Logger) *TicketStore {
	return &TicketStore{
		backend:  backend,
		logger:   logger,
		active:   make(map[string]domain.TicketRecord),
		reserved: make(map[string]struct{}),
		closing:  make(map[string]struct{}),
	}
}

// Load reads the persisted snapshot. A missing or unreadable snapshot yields an empty store
// that is persisted immediately.
func (s *TicketStore) Load(ctx context.Context) {
	tickets, err := s.backend.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			s.logger.Info("no ticket snapshot found; starting empty")
		} else {
			s.logger.Warn("ticket snapshot unreadable; starting empty", zap.Error(err))
		}
		tickets = map[string]domain.TicketRecord{}
		s.mu.Lock()
		s.active = tickets
		s.mu.Unlock()
		s.save(ctx)
		return
	}

	s.mu.Lock()
	s.active = tickets
	s.mu.Unlock()
	s.logger.Info("ticket snapshot loaded", zap.Int("active", len(tickets)))
}

// HasActiveTicket reports whether userID owns a committed or in-flight ticket.
func (s *TicketStore) HasActiveTicket(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, active := s.active[userID]
	_, reserved := s.reserved[userID]
	return active || reserved
}

// Reserve claims userID for a ticket being provisioned. It is the atomic insert-if-absent
// guarding the one-ticket-per-user invariant; the claim is not persisted.
func (s *TicketStore) Reserve(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[userID]; ok {
		return ErrTicketExists
	}
	if _, ok := s.reserved[userID]; ok {
		return ErrTicketExists
	}
	s.reserved[userID] = struct{}{}
	return nil
}

// Release drops a reservation that never became a ticket.
func (s *TicketStore) Release(userID string) {
	s.mu.Lock()
	delete(s.reserved, userID)
	s.mu.Unlock()
}

// Commit turns a reservation into a persisted record.
func (s *TicketStore) Commit(ctx context.Context, record domain.TicketRecord) error {
	s.mu.Lock()
	if _, ok := s.reserved[record.UserID]; !ok {
		s.mu.Unlock()
		return ErrTicketNotFound
	}
	delete(s.reserved, record.UserID)
	s.active[record.UserID] = record
	s.mu.Unlock()

	s.save(ctx)
	return nil
}

// Get returns the record owned by userID.
func (s *TicketStore) Get(userID string) (domain.TicketRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.active[userID]
	return record, ok
}

// FindByChannel returns the record owning channelID.
func (s *TicketStore) FindByChannel(channelID string) (domain.TicketRecord, bool) {
	return s.find(func(r domain.TicketRecord) bool { return r.ChannelID == channelID })
}

// FindByWelcomeMessage returns the record whose controls live on messageID.
func (s *TicketStore) FindByWelcomeMessage(messageID string) (domain.TicketRecord, bool) {
	if messageID == "" {
		return domain.TicketRecord{}, false
	}
	return s.find(func(r domain.TicketRecord) bool { return r.WelcomeMessageID == messageID })
}

// Update applies fn to the record of userID under the store lock and persists the result.
// fn returning an error leaves the record untouched.
func (s *TicketStore) Update(ctx context.Context, userID string, fn func(*domain.TicketRecord) error) (domain.TicketRecord, error) {
	s.mu.Lock()
	record, ok := s.active[userID]
	if !ok {
		s.mu.Unlock()
		return domain.TicketRecord{}, ErrTicketNotFound
	}
	if _, closing := s.closing[userID]; closing {
		s.mu.Unlock()
		return domain.TicketRecord{}, ErrTicketClosing
	}
	if err := fn(&record); err != nil {
		s.mu.Unlock()
		return domain.TicketRecord{}, err
	}
	s.active[userID] = record
	s.mu.Unlock()

	s.save(ctx)
	return record, nil
}

// BeginClose hands the record of userID to exactly one closer. The record stays in the
// store until Remove.
func (s *TicketStore) BeginClose(userID string) (domain.TicketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.active[userID]
	if !ok {
		return domain.TicketRecord{}, ErrTicketNotFound
	}
	if _, closing := s.closing[userID]; closing {
		return domain.TicketRecord{}, ErrTicketClosing
	}
	s.closing[userID] = struct{}{}
	return record, nil
}

// Remove deletes the record of userID. Removing an absent record is a no-op.
func (s *TicketStore) Remove(ctx context.Context, userID string) {
	s.mu.Lock()
	_, ok := s.active[userID]
	delete(s.active, userID)
	delete(s.closing, userID)
	s.mu.Unlock()

	if ok {
		s.save(ctx)
	}
}

// List returns the active records, oldest first.
func (s *TicketStore) List() []domain.TicketRecord {
	s.mu.RLock()
	out := make([]domain.TicketRecord, 0, len(s.active))
	for _, record := range s.active {
		out = append(out, record)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *TicketStore) find(match func(domain.TicketRecord) bool) (domain.TicketRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.active {
		if match(record) {
			return record, true
		}
	}
	return domain.TicketRecord{}, false
}

// save writes the current snapshot. saveMu orders writers so the last write always carries
// the latest state.
func (s *TicketStore) save(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[string]domain.TicketRecord, len(s.active))
	for k, v := range s.active {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if err := s.backend.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		s.logger.Warn("persist tickets failed; in-memory state kept", zap.Error(err), zap.Int("active", len(snapshot)))
	}
}
