package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-desk/internal/domain"
	"github.com/spec-kit/verification-desk/internal/events"
	"github.com/spec-kit/verification-desk/internal/platform"
	"github.com/spec-kit/verification-desk/internal/ratelimit"
	"github.com/spec-kit/verification-desk/internal/repository"
	apperrors "github.com/spec-kit/verification-desk/pkg/util"
)

const (
	defaultReason     = "Identity verification"
	maxReasonLength   = 500
	autoCloseReason   = "verification succeeded - automatic closure"
	autoCloseTimeout  = 2 * time.Minute
	setupFailedReason = "ticket setup failed"
)

// VerificationPolicy holds the workflow knobs.
type VerificationPolicy struct {
	MinAge         int
	ModeratorRoles []string
	VerifiedRole   string
	PendingRole    string
	ApprovalGrace  time.Duration
}

// VerificationDependencies bundles collaborators for the verification service.
type VerificationDependencies struct {
	Store       *repository.TicketStore
	Platform    platform.Client
	Provisioner *ChannelProvisioner
	Archiver    *TranscriptArchiver
	Dispatcher  events.Dispatcher
	Limiter     ratelimit.Limiter
	// History is optional; without it the ticket history is not queryable.
	History TicketHistoryReader
	Logger  *zap.Logger
	Policy  VerificationPolicy
}

// TicketHistoryReader lists the recorded events of a ticket.
type TicketHistoryReader interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
}

// OpenTicketInput is the requester-supplied metadata.
type OpenTicketInput struct {
	Reason      string
	DeclaredAge *int
}

// TicketRef locates a ticket from a control event: by the message carrying the controls,
// falling back to the channel.
type TicketRef struct {
	ChannelID string
	MessageID string
}

// VerificationService runs the ticket state machine. It is the only mutator of the store.
type VerificationService struct {
	store       *repository.TicketStore
	platform    platform.Client
	provisioner *ChannelProvisioner
	archiver    *TranscriptArchiver
	dispatcher  events.Dispatcher
	limiter     ratelimit.Limiter
	history     TicketHistoryReader
	logger      *zap.Logger
	policy      VerificationPolicy
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewVerificationService constructs the service.
func NewVerificationService(deps VerificationDependencies) *VerificationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &VerificationService{
		store:       deps.Store,
		platform:    deps.Platform,
		provisioner: deps.Provisioner,
		archiver:    deps.Archiver,
		dispatcher:  deps.Dispatcher,
		limiter:     deps.Limiter,
		history:     deps.History,
		logger:      deps.Logger,
		policy:      deps.Policy,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// OpenTicket validates the request, provisions the private channel, posts the welcome controls
// and persists the record. Nothing is persisted unless the channel and welcome message exist.
func (s *VerificationService) OpenTicket(ctx context.Context, requester domain.Actor, input OpenTicketInput) (*domain.TicketRecord, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = defaultReason
	}
	if len(reason) > maxReasonLength {
		return nil, apperrors.NewValidationError("reason too long", map[string]any{"max_length": maxReasonLength})
	}
	if input.DeclaredAge != nil && *input.DeclaredAge < s.policy.MinAge {
		return nil, apperrors.NewValidationError("below minimum age", map[string]any{"min_age": s.policy.MinAge})
	}
	if s.store.HasActiveTicket(requester.ID) {
		return nil, apperrors.NewConflict("an active ticket already exists; close it before opening a new one", nil)
	}

	member, err := s.platform.Member(ctx, requester.ID)
	if err != nil {
		return nil, apperrors.NewProvisioningError("lookup_member", err)
	}
	verified, err := s.memberHoldsRole(ctx, member, s.policy.VerifiedRole)
	if err != nil {
		return nil, err
	}
	if verified {
		return nil, apperrors.NewConflict("already verified", nil)
	}

	cooldownTaken := false
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, requester.ID)
		if err != nil {
			s.logger.Warn("ticket cooldown unavailable; allowing", zap.String("user_id", requester.ID), zap.Error(err))
		} else if !allowed {
			return nil, apperrors.NewRateLimited("please wait before opening another ticket", nil)
		}
		cooldownTaken = err == nil
	}

	committed := false
	defer func() {
		if !committed && cooldownTaken {
			if err := s.limiter.Release(context.WithoutCancel(ctx), requester.ID); err != nil {
				s.logger.Warn("ticket cooldown not released", zap.String("user_id", requester.ID), zap.Error(err))
			}
		}
	}()

	if err := s.store.Reserve(requester.ID); err != nil {
		return nil, apperrors.NewConflict("an active ticket already exists; close it before opening a new one", nil)
	}
	defer func() {
		if !committed {
			s.store.Release(requester.ID)
		}
	}()

	ticketID := generateTicketID()
	channel, err := s.provisioner.CreateTicketChannel(ctx, member, ticketID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := domain.TicketRecord{
		TicketID:    ticketID,
		UserID:      member.ID,
		Username:    member.Username,
		ChannelID:   channel.ID,
		CreatedAt:   now,
		Reason:      reason,
		DeclaredAge: input.DeclaredAge,
		Status:      domain.TicketStatusCreated,
	}

	messageID, err := s.platform.SendMessage(ctx, channel.ID, welcomeMessage(record, now))
	if err != nil {
		s.provisioner.DeleteChannel(context.WithoutCancel(ctx), channel.ID, setupFailedReason)
		return nil, apperrors.NewProvisioningError("send_welcome", err)
	}
	record.WelcomeMessageID = messageID

	if err := s.store.Commit(ctx, record); err != nil {
		s.provisioner.DeleteChannel(context.WithoutCancel(ctx), channel.ID, setupFailedReason)
		return nil, apperrors.NewInternalError(err)
	}
	committed = true

	s.logger.Info("ticket opened",
		zap.String("ticket_id", record.TicketID),
		zap.String("user_id", record.UserID),
		zap.String("channel_id", record.ChannelID))
	s.publishEvent(ctx, events.EventTicketCreated, record, requester, events.TicketCreatedPayload{
		Reason:      record.Reason,
		DeclaredAge: record.DeclaredAge,
	})
	return &record, nil
}

// AcknowledgePhoto moves the ticket to PhotoSubmitted and pings the first configured moderator
// role present in the guild. Only the ticket owner may press it.
func (s *VerificationService) AcknowledgePhoto(ctx context.Context, ref TicketRef, actor domain.Actor) (*domain.TicketRecord, error) {
	record, ok := s.resolve(ref)
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"channel_id": ref.ChannelID})
	}
	if actor.ID != record.UserID {
		return nil, apperrors.NewForbidden("only the ticket owner can confirm the photo")
	}

	updated, err := s.store.Update(ctx, record.UserID, func(r *domain.TicketRecord) error {
		if !isValidTransition(r.Status, domain.TicketStatusPhotoSubmitted) {
			return transitionConflict(r.Status, domain.TicketStatusPhotoSubmitted)
		}
		r.Status = domain.TicketStatusPhotoSubmitted
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.notify(ctx, updated.ChannelID, photoReceivedMessage())
	s.pingModerators(ctx, updated.ChannelID)
	s.publishEvent(ctx, events.EventTicketPhotoSubmitted, updated, actor, nil)
	return &updated, nil
}

// Review records a moderator decision on userID's ticket. Approval grants the verified role,
// revokes the pending role and schedules the automatic closure; rejection keeps the channel
// open for a resubmission.
func (s *VerificationService) Review(ctx context.Context, userID string, approved bool, reviewer domain.Actor) (*domain.TicketRecord, error) {
	if err := s.requireModerator(ctx, reviewer); err != nil {
		return nil, err
	}
	record, ok := s.store.Get(userID)
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"user_id": userID})
	}
	next := domain.TicketStatusRejected
	if approved {
		next = domain.TicketStatusApproved
	}
	if !isValidTransition(record.Status, next) {
		return nil, transitionConflict(record.Status, next)
	}

	if approved {
		if err := s.grantVerified(ctx, userID, reviewer); err != nil {
			return nil, err
		}
	}

	oldStatus := record.Status
	updated, err := s.store.Update(ctx, userID, func(r *domain.TicketRecord) error {
		if !isValidTransition(r.Status, next) {
			return transitionConflict(r.Status, next)
		}
		oldStatus = r.Status
		r.Status = next
		if !approved {
			r.Rejections++
		}
		return nil
	})
	if err != nil {
		if approved && (errors.Is(err, repository.ErrTicketClosing) || errors.Is(err, repository.ErrTicketNotFound)) {
			s.logger.Info("verified role granted while ticket closed", zap.String("user_id", userID), zap.String("reviewer_id", reviewer.ID))
			return nil, apperrors.NewConflict("verified role granted; ticket is being closed", map[string]any{"user_id": userID})
		}
		return nil, storeError(err)
	}

	now := s.now().UTC()
	if approved {
		s.notify(ctx, updated.ChannelID, approvedMessage(userID, reviewer, s.policy.ApprovalGrace, now))
	} else {
		s.notify(ctx, updated.ChannelID, rejectedMessage(userID, reviewer, now))
	}
	s.logger.Info("ticket reviewed",
		zap.String("ticket_id", updated.TicketID),
		zap.String("user_id", userID),
		zap.String("reviewer_id", reviewer.ID),
		zap.Bool("approved", approved))
	s.publishEvent(ctx, events.EventTicketReviewed, updated, reviewer, events.TicketReviewedPayload{
		Approved:   approved,
		OldStatus:  oldStatus,
		NewStatus:  updated.Status,
		Rejections: updated.Rejections,
	})

	if approved {
		s.scheduleClose(updated)
	}
	return &updated, nil
}

// CloseTicket closes the ticket owning channelID. The owner or a moderator may close; the
// system actor always may. A channel with no owning record is deleted when a moderator asks
// and it sits under the ticket category. Calling it again after a closure is a no-op. The
// returned flag reports whether this call closed a ticket or deleted its channel.
func (s *VerificationService) CloseTicket(ctx context.Context, channelID string, closer domain.Actor, reason string) (bool, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "closed by " + closer.DisplayName
	}

	record, ok := s.store.FindByChannel(channelID)
	if ok {
		if !closer.IsSystem() && closer.ID != record.UserID {
			if err := s.requireModerator(ctx, closer); err != nil {
				return false, err
			}
		}
		return s.closeRecord(ctx, record, closer, reason), nil
	}

	if !closer.IsSystem() {
		isMod, err := s.isModerator(ctx, closer.ID)
		if err != nil {
			return false, err
		}
		if !isMod {
			s.logger.Info("close ignored; no active ticket for channel", zap.String("channel_id", channelID))
			return false, nil
		}
	}
	if !s.provisioner.IsTicketChannel(ctx, channelID) {
		return false, nil
	}
	s.provisioner.DeleteChannel(context.WithoutCancel(ctx), channelID, reason)
	return true, nil
}

// CloseByRef resolves a control event to its ticket channel and closes it.
func (s *VerificationService) CloseByRef(ctx context.Context, ref TicketRef, closer domain.Actor, reason string) (bool, error) {
	channelID := ref.ChannelID
	if record, ok := s.resolve(ref); ok {
		channelID = record.ChannelID
	}
	return s.CloseTicket(ctx, channelID, closer, reason)
}

// ListActive returns the active tickets to a moderator.
func (s *VerificationService) ListActive(ctx context.Context, actor domain.Actor) ([]domain.TicketRecord, error) {
	if err := s.requireModerator(ctx, actor); err != nil {
		return nil, err
	}
	return s.store.List(), nil
}

// History returns the recorded events of ticketID to a moderator, oldest first.
func (s *VerificationService) History(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.TicketHistory, error) {
	if err := s.requireModerator(ctx, actor); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, apperrors.NewNotFound("ticket history", map[string]any{"ticket_id": ticketID})
	}
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if len(entries) == 0 {
		return nil, apperrors.NewNotFound("ticket history", map[string]any{"ticket_id": ticketID})
	}
	return entries, nil
}

// RecoverPending schedules the closure of tickets approved before the last shutdown.
func (s *VerificationService) RecoverPending() int {
	recovered := 0
	for _, record := range s.store.List() {
		if record.Status != domain.TicketStatusApproved {
			continue
		}
		s.scheduleClose(record)
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("rescheduled automatic closures", zap.Int("count", recovered))
	}
	return recovered
}

// Wait blocks until every scheduled automatic closure has finished.
func (s *VerificationService) Wait() {
	s.wg.Wait()
}

// Close cancels pending automatic closures and waits for running ones. Cancelled tickets stay
// Approved and are picked up by RecoverPending on the next start.
func (s *VerificationService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *VerificationService) scheduleClose(record domain.TicketRecord) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.policy.ApprovalGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			s.logger.Info("automatic closure deferred to next start", zap.String("ticket_id", record.TicketID))
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), autoCloseTimeout)
		defer cancel()
		if _, err := s.CloseTicket(ctx, record.ChannelID, domain.SystemActor(), autoCloseReason); err != nil {
			s.logger.Warn("automatic closure failed", zap.String("ticket_id", record.TicketID), zap.Error(err))
		}
	}()
}

// closeRecord archives, forwards and removes the ticket, then deletes its channel. Only the
// first closer of a record gets past BeginClose; removal and deletion run even when archival
// fails.
func (s *VerificationService) closeRecord(ctx context.Context, record domain.TicketRecord, closer domain.Actor, reason string) bool {
	ctx = context.WithoutCancel(ctx)
	claimed, err := s.store.BeginClose(record.UserID)
	if err != nil {
		s.logger.Info("ticket already closing", zap.String("ticket_id", record.TicketID), zap.Error(err))
		return false
	}
	defer func() {
		s.store.Remove(ctx, claimed.UserID)
		s.provisioner.DeleteChannel(ctx, claimed.ChannelID, reason)
		s.logger.Info("ticket closed",
			zap.String("ticket_id", claimed.TicketID),
			zap.String("user_id", claimed.UserID),
			zap.String("closer", closer.DisplayName))
	}()

	closedAt := s.now().UTC()
	channel := platform.Channel{ID: claimed.ChannelID}
	if ch, err := s.platform.Channel(ctx, claimed.ChannelID); err == nil {
		channel = *ch
	}

	transcript := s.archiver.Build(ctx, channel)
	if transcript.Err != nil {
		s.logger.Warn("transcript truncated",
			zap.String("ticket_id", claimed.TicketID),
			zap.Int("messages", transcript.Messages),
			zap.Error(apperrors.NewArchivalError("build", transcript.Err)))
	}
	payload := events.TicketClosedPayload{Reason: reason, Transcript: []byte(transcript.Text)}
	file, err := s.archiver.Persist(transcript.Text, claimed.UserID, claimed.TicketID, closedAt)
	if err != nil {
		s.logger.Warn("transcript not persisted", zap.String("ticket_id", claimed.TicketID), zap.Error(err))
	} else {
		payload.TranscriptPath = file.Path
		payload.Digest = file.Digest
	}

	claimed.Status = domain.TicketStatusClosed
	s.publishEvent(ctx, events.EventTicketClosed, claimed, closer, payload)
	return true
}

func (s *VerificationService) grantVerified(ctx context.Context, userID string, reviewer domain.Actor) error {
	roles, err := s.platform.Roles(ctx)
	if err != nil {
		return apperrors.NewProvisioningError("list_roles", err)
	}
	verified, ok := platform.FindRole(roles, s.policy.VerifiedRole)
	if !ok {
		return apperrors.NewProvisioningError("grant_verified_role", errors.New("verified role missing from guild"))
	}
	if err := s.platform.AddRole(ctx, userID, verified.ID, "verification approved by "+reviewer.DisplayName); err != nil {
		return apperrors.NewProvisioningError("grant_verified_role", err)
	}

	if s.policy.PendingRole == "" {
		return nil
	}
	pending, ok := platform.FindRole(roles, s.policy.PendingRole)
	if !ok {
		return nil
	}
	member, err := s.platform.Member(ctx, userID)
	if err != nil {
		s.logger.Warn("pending role not checked", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if !member.HasRole(pending.ID) {
		return nil
	}
	if err := s.platform.RemoveRole(ctx, userID, pending.ID, "verification succeeded"); err != nil {
		s.logger.Warn("pending role not revoked", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

func (s *VerificationService) pingModerators(ctx context.Context, channelID string) {
	roles, err := s.platform.Roles(ctx)
	if err != nil {
		s.logger.Warn("moderators not notified", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	for _, name := range s.policy.ModeratorRoles {
		if role, ok := platform.FindRole(roles, name); ok {
			s.notify(ctx, channelID, moderatorPingMessage(role.ID))
			return
		}
	}
}

func (s *VerificationService) requireModerator(ctx context.Context, actor domain.Actor) error {
	if actor.IsSystem() {
		return nil
	}
	ok, err := s.isModerator(ctx, actor.ID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewForbidden("moderator role required")
	}
	return nil
}

func (s *VerificationService) isModerator(ctx context.Context, userID string) (bool, error) {
	member, err := s.platform.Member(ctx, userID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return false, nil
		}
		return false, apperrors.NewProvisioningError("lookup_member", err)
	}
	for _, name := range s.policy.ModeratorRoles {
		held, err := s.memberHoldsRole(ctx, member, name)
		if err != nil {
			return false, err
		}
		if held {
			return true, nil
		}
	}
	return false, nil
}

func (s *VerificationService) memberHoldsRole(ctx context.Context, member *platform.Member, roleName string) (bool, error) {
	if roleName == "" {
		return false, nil
	}
	roles, err := s.platform.Roles(ctx)
	if err != nil {
		return false, apperrors.NewProvisioningError("list_roles", err)
	}
	role, ok := platform.FindRole(roles, roleName)
	return ok && member.HasRole(role.ID), nil
}

func (s *VerificationService) resolve(ref TicketRef) (domain.TicketRecord, bool) {
	if record, ok := s.store.FindByWelcomeMessage(ref.MessageID); ok {
		return record, true
	}
	return s.store.FindByChannel(ref.ChannelID)
}

// notify posts a best-effort notice; failures are logged.
func (s *VerificationService) notify(ctx context.Context, channelID string, msg platform.OutgoingMessage) {
	if _, err := s.platform.SendMessage(ctx, channelID, msg); err != nil {
		s.logger.Warn("ticket notice not delivered", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (s *VerificationService) publishEvent(ctx context.Context, eventType events.EventType, record domain.TicketRecord, actor domain.Actor, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  record.TicketID,
		UserID:    record.UserID,
		ChannelID: record.ChannelID,
		Actor:     events.ActorFrom(actor),
		Timestamp: s.now().UTC(),
		Payload:   payload,
	})
}

func generateTicketID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func storeError(err error) error {
	switch {
	case errors.Is(err, repository.ErrTicketNotFound):
		return apperrors.NewNotFound("ticket", nil)
	case errors.Is(err, repository.ErrTicketClosing):
		return apperrors.NewConflict("ticket is being closed", nil)
	default:
		return err
	}
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusCreated:        {domain.TicketStatusPhotoSubmitted, domain.TicketStatusApproved, domain.TicketStatusRejected, domain.TicketStatusClosed},
	domain.TicketStatusPhotoSubmitted: {domain.TicketStatusApproved, domain.TicketStatusRejected, domain.TicketStatusClosed},
	domain.TicketStatusRejected:       {domain.TicketStatusPhotoSubmitted, domain.TicketStatusApproved, domain.TicketStatusRejected, domain.TicketStatusClosed},
	domain.TicketStatusApproved:       {domain.TicketStatusClosed},
	domain.TicketStatusClosed:         {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

func transitionConflict(current, next domain.TicketStatus) error {
	return apperrors.NewConflict("invalid status transition", map[string]any{
		"from": current,
		"to":   next,
	})
}
