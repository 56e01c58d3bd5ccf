package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-desk/internal/domain"
	"github.com/spec-kit/verification-desk/internal/events"
	"github.com/spec-kit/verification-desk/internal/platform"
	"github.com/spec-kit/verification-desk/internal/ratelimit"
	"github.com/spec-kit/verification-desk/internal/repository"
	apperrors "github.com/spec-kit/verification-desk/pkg/util"
)

type harness struct {
	svc           *VerificationService
	fake          *fakePlatform
	store         *repository.TicketStore
	transcriptDir string
	events        *eventRecorder
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newHarness(t *testing.T, limiter ratelimit.Limiter) *harness {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()
	fake := newFakePlatform()
	fake.addMember("user-a", "alice")
	fake.addMember("user-b", "bob")
	fake.addMember("user-c", "carol")
	fake.addMember("mod-m", "mallory", "role-mod")

	store := repository.NewTicketStore(repository.NewFileBackend(filepath.Join(dir, "tickets_data.json")), logger)
	store.Load(context.Background())

	dispatcher := events.NewInMemoryDispatcher(logger)
	recorder := &eventRecorder{}
	for _, et := range []events.EventType{events.EventTicketCreated, events.EventTicketPhotoSubmitted, events.EventTicketReviewed, events.EventTicketClosed} {
		dispatcher.Subscribe(et, recorder.handle)
	}

	transcripts := filepath.Join(dir, "transcripts")
	svc := NewVerificationService(VerificationDependencies{
		Store:    store,
		Platform: fake,
		Provisioner: NewChannelProvisioner(fake, logger, ProvisionerConfig{
			CategoryName:         "TICKETS",
			ModeratorRoles:       []string{"Moderator"},
			ModeratorPermissions: platform.PermViewChannel | platform.PermSendMessages | platform.PermManageMessages,
		}),
		Archiver:   NewTranscriptArchiver(fake, logger, transcripts),
		Dispatcher: dispatcher,
		Limiter:    limiter,
		Logger:     logger,
		Policy: VerificationPolicy{
			MinAge:         13,
			ModeratorRoles: []string{"Moderator"},
			VerifiedRole:   "Verified",
			PendingRole:    "Pending",
			ApprovalGrace:  5 * time.Millisecond,
		},
	})
	t.Cleanup(svc.Close)
	return &harness{svc: svc, fake: fake, store: store, transcriptDir: transcripts, events: recorder}
}

func age(v int) *int { return &v }

func member(id, name string) domain.Actor { return domain.MemberActor(id, name) }

func TestScenarioOpenConflictApprove(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := member("user-a", "alice")

	record, err := h.svc.OpenTicket(ctx, alice, OpenTicketInput{Reason: "id check", DeclaredAge: age(16)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if record.Status != domain.TicketStatusCreated {
		t.Fatalf("status = %s", record.Status)
	}
	if !h.fake.hasChannel(record.ChannelID) {
		t.Fatal("ticket channel not provisioned")
	}
	if record.WelcomeMessageID == "" {
		t.Fatal("welcome message id not recorded")
	}

	channelsBefore, _ := h.fake.Channels(ctx)
	_, err = h.svc.OpenTicket(ctx, alice, OpenTicketInput{Reason: "again"})
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("second open: want conflict, got %v", err)
	}
	channelsAfter, _ := h.fake.Channels(ctx)
	if len(channelsAfter) != len(channelsBefore) {
		t.Fatalf("second open created a channel")
	}
	if len(h.store.List()) != 1 {
		t.Fatalf("store size = %d", len(h.store.List()))
	}

	reviewed, err := h.svc.Review(ctx, "user-a", true, member("mod-m", "mallory"))
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if !reviewed.Status.IsTerminal() {
		t.Fatalf("status %s not terminal", reviewed.Status)
	}
	if !containsString(h.fake.memberRoles("user-a"), "role-verified") {
		t.Fatal("verified role not granted")
	}

	h.svc.Wait()
	if _, ok := h.store.Get("user-a"); ok {
		t.Fatal("ticket still stored after automatic closure")
	}
	if h.fake.hasChannel(record.ChannelID) {
		t.Fatal("ticket channel not deleted")
	}
	closed := h.events.ofType(events.EventTicketClosed)
	if len(closed) != 1 {
		t.Fatalf("closed events = %d", len(closed))
	}
	payload := closed[0].Payload.(events.TicketClosedPayload)
	if payload.Reason != autoCloseReason || closed[0].Actor.Kind != domain.ActorKindSystem {
		t.Fatalf("unexpected closure %+v by %+v", payload, closed[0].Actor)
	}
	content, err := os.ReadFile(payload.TranscriptPath)
	if err != nil {
		t.Fatalf("transcript not persisted: %v", err)
	}
	if !strings.Contains(string(content), "New Verification Ticket") {
		t.Fatalf("transcript missing welcome embed:\n%s", content)
	}
}

func TestOpenBelowMinimumAgeHasNoSideEffect(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.OpenTicket(context.Background(), member("user-b", "bob"), OpenTicketInput{DeclaredAge: age(10)})
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	channels, _ := h.fake.Channels(context.Background())
	if len(channels) != 0 {
		t.Fatalf("channels created: %d", len(channels))
	}
	if len(h.store.List()) != 0 || h.store.HasActiveTicket("user-b") {
		t.Fatal("store changed")
	}
}

func TestOpenRejectsOverlongReason(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.OpenTicket(context.Background(), member("user-b", "bob"), OpenTicketInput{Reason: strings.Repeat("x", maxReasonLength+1)})
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestOpenDefaultsReason(t *testing.T) {
	h := newHarness(t, nil)
	record, err := h.svc.OpenTicket(context.Background(), member("user-b", "bob"), OpenTicketInput{Reason: "   "})
	if err != nil {
		t.Fatal(err)
	}
	if record.Reason != defaultReason {
		t.Fatalf("reason = %q", record.Reason)
	}
}

func TestOpenAlreadyVerifiedConflicts(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.addMember("user-v", "vera", "role-verified")
	_, err := h.svc.OpenTicket(context.Background(), member("user-v", "vera"), OpenTicketInput{})
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
}

func TestConcurrentOpenAdmitsOne(t *testing.T) {
	h := newHarness(t, nil)
	alice := member("user-a", "alice")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.OpenTicket(context.Background(), alice, OpenTicketInput{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !apperrors.HasCode(err, apperrors.CodeConflict):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", succeeded)
	}
	channels, _ := h.fake.Channels(context.Background())
	ticketChannels := 0
	for _, ch := range channels {
		if ch.Kind == platform.ChannelText {
			ticketChannels++
		}
	}
	if ticketChannels != 1 {
		t.Fatalf("ticket channels = %d", ticketChannels)
	}
}

func TestOpenCooldown(t *testing.T) {
	h := newHarness(t, ratelimit.NewMemoryLimiter(time.Hour))
	ctx := context.Background()
	alice := member("user-a", "alice")

	record, err := h.svc.OpenTicket(ctx, alice, OpenTicketInput{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.CloseTicket(ctx, record.ChannelID, alice, "done"); err != nil {
		t.Fatal(err)
	}
	_, err = h.svc.OpenTicket(ctx, alice, OpenTicketInput{})
	if !apperrors.HasCode(err, apperrors.CodeRateLimited) {
		t.Fatalf("want rate limited, got %v", err)
	}
}

func TestOpenWelcomeFailureRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.fail("send_message", errors.New("missing access"))

	_, err := h.svc.OpenTicket(context.Background(), member("user-a", "alice"), OpenTicketInput{})
	if !apperrors.HasCode(err, apperrors.CodeProvisioning) {
		t.Fatalf("want provisioning error, got %v", err)
	}
	if h.store.HasActiveTicket("user-a") {
		t.Fatal("reservation leaked")
	}
	if len(h.fake.deletedChannels()) != 1 {
		t.Fatalf("orphan channel not removed: %v", h.fake.deletedChannels())
	}
}

func TestOpenFailureDoesNotConsumeCooldown(t *testing.T) {
	h := newHarness(t, ratelimit.NewMemoryLimiter(time.Hour))
	ctx := context.Background()
	alice := member("user-a", "alice")
	h.fake.fail("send_message", errors.New("missing access"))

	_, err := h.svc.OpenTicket(ctx, alice, OpenTicketInput{})
	if !apperrors.HasCode(err, apperrors.CodeProvisioning) {
		t.Fatalf("want provisioning error, got %v", err)
	}
	h.fake.recover("send_message")

	record, err := h.svc.OpenTicket(ctx, alice, OpenTicketInput{})
	if err != nil {
		t.Fatalf("retry after failed open: %v", err)
	}
	if record.UserID != "user-a" || !h.store.HasActiveTicket("user-a") {
		t.Fatalf("record = %+v", record)
	}
}

func TestOpenChannelFailureLeavesNoRecord(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.provisioner.EnsureContainer(ctx); err != nil {
		t.Fatal(err)
	}
	h.fake.fail("create_channel", errors.New("rate limited"))

	_, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{})
	if !apperrors.HasCode(err, apperrors.CodeProvisioning) {
		t.Fatalf("want provisioning error, got %v", err)
	}
	if h.store.HasActiveTicket("user-a") {
		t.Fatal("record persisted without a channel")
	}
}

func TestAcknowledgePhotoOwnerOnly(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	record, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{})
	if err != nil {
		t.Fatal(err)
	}
	ref := TicketRef{ChannelID: record.ChannelID, MessageID: record.WelcomeMessageID}

	_, err = h.svc.AcknowledgePhoto(ctx, ref, member("mod-m", "mallory"))
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("moderator ack: want forbidden, got %v", err)
	}

	updated, err := h.svc.AcknowledgePhoto(ctx, ref, member("user-a", "alice"))
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != domain.TicketStatusPhotoSubmitted {
		t.Fatalf("status = %s", updated.Status)
	}

	pings := 0
	for _, msg := range h.fake.sentTo(record.ChannelID) {
		if strings.Contains(msg.Content, "<@&role-mod>") {
			pings++
		}
	}
	if pings != 1 {
		t.Fatalf("moderator pings = %d", pings)
	}

	_, err = h.svc.AcknowledgePhoto(ctx, ref, member("user-a", "alice"))
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("second ack: want conflict, got %v", err)
	}
}

func TestReviewByNonModeratorForbidden(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{}); err != nil {
		t.Fatal(err)
	}
	_, err := h.svc.Review(ctx, "user-a", true, member("user-c", "carol"))
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("want forbidden, got %v", err)
	}
	record, _ := h.store.Get("user-a")
	if record.Status != domain.TicketStatusCreated {
		t.Fatalf("status changed to %s", record.Status)
	}
	if containsString(h.fake.memberRoles("user-a"), "role-verified") {
		t.Fatal("role granted by non-moderator")
	}
}

func TestReviewUnknownTicket(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Review(context.Background(), "user-z", false, member("mod-m", "mallory"))
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestRejectionKeepsTicketAndAllowsResubmission(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := member("user-a", "alice")
	mod := member("mod-m", "mallory")
	record, err := h.svc.OpenTicket(ctx, alice, OpenTicketInput{})
	if err != nil {
		t.Fatal(err)
	}
	ref := TicketRef{ChannelID: record.ChannelID}

	for round := 1; round <= 2; round++ {
		if _, err := h.svc.AcknowledgePhoto(ctx, ref, alice); err != nil {
			t.Fatalf("round %d ack: %v", round, err)
		}
		rejected, err := h.svc.Review(ctx, "user-a", false, mod)
		if err != nil {
			t.Fatalf("round %d review: %v", round, err)
		}
		if rejected.Status != domain.TicketStatusRejected || rejected.Rejections != round {
			t.Fatalf("round %d: %+v", round, rejected)
		}
	}
	h.svc.Wait()
	if !h.store.HasActiveTicket("user-a") || !h.fake.hasChannel(record.ChannelID) {
		t.Fatal("rejection removed the ticket")
	}

	if _, err := h.svc.Review(ctx, "user-a", true, mod); err != nil {
		t.Fatalf("approve after rejection: %v", err)
	}
	h.svc.Wait()
	if h.store.HasActiveTicket("user-a") {
		t.Fatal("approved ticket not closed")
	}
}

func TestApprovalRevokesPendingRole(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.fake.addMember("user-p", "pat", "role-pending")
	if _, err := h.svc.OpenTicket(ctx, member("user-p", "pat"), OpenTicketInput{}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Review(ctx, "user-p", true, member("mod-m", "mallory")); err != nil {
		t.Fatal(err)
	}
	roles := h.fake.memberRoles("user-p")
	if containsString(roles, "role-pending") || !containsString(roles, "role-verified") {
		t.Fatalf("roles = %v", roles)
	}
}

func TestApprovalRoleFailureKeepsTicket(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{}); err != nil {
		t.Fatal(err)
	}
	h.fake.fail("add_role", errors.New("missing permissions"))

	_, err := h.svc.Review(ctx, "user-a", true, member("mod-m", "mallory"))
	if !apperrors.HasCode(err, apperrors.CodeProvisioning) {
		t.Fatalf("want provisioning error, got %v", err)
	}
	h.svc.Wait()
	record, ok := h.store.Get("user-a")
	if !ok || record.Status != domain.TicketStatusCreated {
		t.Fatalf("ticket = %+v, %v", record, ok)
	}
}

func TestApprovalSurvivesChannelDeletedDuringGrace(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.policy.ApprovalGrace = 50 * time.Millisecond
	ctx := context.Background()
	record, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Review(ctx, "user-a", true, member("mod-m", "mallory")); err != nil {
		t.Fatal(err)
	}
	if err := h.fake.DeleteChannel(ctx, record.ChannelID, "removed by hand"); err != nil {
		t.Fatal(err)
	}

	h.svc.Wait()
	if len(h.store.List()) != 0 {
		t.Fatalf("store = %+v", h.store.List())
	}
	if n := len(h.events.ofType(events.EventTicketClosed)); n != 1 {
		t.Fatalf("closed events = %d", n)
	}
}

func TestApprovalWhileClosingReportsGrantedRole(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.BeginClose("user-a"); err != nil {
		t.Fatal(err)
	}

	_, err := h.svc.Review(ctx, "user-a", true, member("mod-m", "mallory"))
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "verified role granted") {
		t.Fatalf("error does not report the grant: %v", err)
	}
	if !containsString(h.fake.memberRoles("user-a"), "role-verified") {
		t.Fatal("verified role missing")
	}
	h.svc.Wait()
	if n := len(h.events.ofType(events.EventTicketReviewed)); n != 0 {
		t.Fatalf("reviewed events = %d", n)
	}
}

func TestCloseAuthorization(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	record, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.svc.CloseTicket(ctx, record.ChannelID, member("user-c", "carol"), "")
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("want forbidden, got %v", err)
	}
	if !h.store.HasActiveTicket("user-a") {
		t.Fatal("unauthorized close changed state")
	}

	if _, err := h.svc.CloseTicket(ctx, record.ChannelID, member("mod-m", "mallory"), "duplicate"); err != nil {
		t.Fatalf("moderator close: %v", err)
	}
	if h.store.HasActiveTicket("user-a") {
		t.Fatal("ticket still stored")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := member("user-a", "alice")
	record, err := h.svc.OpenTicket(ctx, alice, OpenTicketInput{})
	if err != nil {
		t.Fatal(err)
	}

	if closed, err := h.svc.CloseTicket(ctx, record.ChannelID, alice, "done"); err != nil || !closed {
		t.Fatalf("first close: closed = %v, err = %v", closed, err)
	}
	if closed, err := h.svc.CloseTicket(ctx, record.ChannelID, alice, "done"); err != nil || closed {
		t.Fatalf("second close: closed = %v, err = %v", closed, err)
	}
	if closed, err := h.svc.CloseTicket(ctx, record.ChannelID, member("mod-m", "mallory"), "done"); err != nil || closed {
		t.Fatalf("moderator close of gone channel: closed = %v, err = %v", closed, err)
	}
	if n := len(h.events.ofType(events.EventTicketClosed)); n != 1 {
		t.Fatalf("closed events = %d", n)
	}
	if len(h.store.List()) != 0 {
		t.Fatal("store not empty")
	}
}

func TestCloseOrphanChannelByModerator(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	containerID, err := h.svc.provisioner.EnsureContainer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	h.fake.addChannel(platform.Channel{ID: "orphan", Name: "ticket-old", ParentID: containerID})
	h.fake.addChannel(platform.Channel{ID: "general", Name: "general"})

	closed, err := h.svc.CloseTicket(ctx, "orphan", member("user-c", "carol"), "")
	if err != nil {
		t.Fatal(err)
	}
	if closed || !h.fake.hasChannel("orphan") {
		t.Fatalf("non-moderator deleted an orphan channel: closed = %v", closed)
	}
	closed, err = h.svc.CloseTicket(ctx, "orphan", member("mod-m", "mallory"), "")
	if err != nil {
		t.Fatal(err)
	}
	if !closed || h.fake.hasChannel("orphan") {
		t.Fatalf("orphan channel not deleted: closed = %v", closed)
	}
	closed, err = h.svc.CloseTicket(ctx, "general", member("mod-m", "mallory"), "")
	if err != nil {
		t.Fatal(err)
	}
	if closed {
		t.Fatal("channel outside the ticket category reported closed")
	}
	if !h.fake.hasChannel("general") {
		t.Fatal("channel outside the ticket category deleted")
	}
}

func TestCloseSurvivesArchivalFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := member("user-a", "alice")
	record, err := h.svc.OpenTicket(ctx, alice, OpenTicketInput{})
	if err != nil {
		t.Fatal(err)
	}
	h.fake.fail("messages", errors.New("history unavailable"))
	if err := os.WriteFile(h.transcriptDir, []byte("not a directory"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := h.svc.CloseTicket(ctx, record.ChannelID, alice, "done"); err != nil {
		t.Fatal(err)
	}
	if h.store.HasActiveTicket("user-a") || h.fake.hasChannel(record.ChannelID) {
		t.Fatal("archival failure blocked teardown")
	}
	closed := h.events.ofType(events.EventTicketClosed)
	if len(closed) != 1 {
		t.Fatalf("closed events = %d", len(closed))
	}
	if payload := closed[0].Payload.(events.TicketClosedPayload); payload.TranscriptPath != "" {
		t.Fatalf("unexpected transcript path %q", payload.TranscriptPath)
	}
}

func TestCloseByWelcomeMessage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := member("user-a", "alice")
	record, err := h.svc.OpenTicket(ctx, alice, OpenTicketInput{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.CloseByRef(ctx, TicketRef{MessageID: record.WelcomeMessageID}, alice, ""); err != nil {
		t.Fatal(err)
	}
	if h.store.HasActiveTicket("user-a") {
		t.Fatal("ticket not closed")
	}
}

func TestRecoverPendingClosesApprovedTickets(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	record, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.Update(ctx, "user-a", func(r *domain.TicketRecord) error {
		r.Status = domain.TicketStatusApproved
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if n := h.svc.RecoverPending(); n != 1 {
		t.Fatalf("recovered = %d", n)
	}
	h.svc.Wait()
	if h.store.HasActiveTicket("user-a") || h.fake.hasChannel(record.ChannelID) {
		t.Fatal("approved ticket not closed after recovery")
	}
}

func TestShutdownDefersAutomaticClosure(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.policy.ApprovalGrace = time.Hour
	ctx := context.Background()
	if _, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Review(ctx, "user-a", true, member("mod-m", "mallory")); err != nil {
		t.Fatal(err)
	}

	h.svc.Close()
	record, ok := h.store.Get("user-a")
	if !ok || record.Status != domain.TicketStatusApproved {
		t.Fatalf("ticket = %+v, %v", record, ok)
	}
}

func TestListActiveRequiresModerator(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.OpenTicket(ctx, member("user-a", "alice"), OpenTicketInput{}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.ListActive(ctx, member("user-a", "alice")); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("want forbidden, got %v", err)
	}
	list, err := h.svc.ListActive(ctx, member("mod-m", "mallory"))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].UserID != "user-a" {
		t.Fatalf("list = %+v", list)
	}
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.TicketStatus
		want     bool
	}{
		{domain.TicketStatusCreated, domain.TicketStatusPhotoSubmitted, true},
		{domain.TicketStatusPhotoSubmitted, domain.TicketStatusPhotoSubmitted, false},
		{domain.TicketStatusRejected, domain.TicketStatusPhotoSubmitted, true},
		{domain.TicketStatusApproved, domain.TicketStatusRejected, false},
		{domain.TicketStatusApproved, domain.TicketStatusClosed, true},
		{domain.TicketStatusClosed, domain.TicketStatusCreated, false},
	}
	for _, tc := range cases {
		if got := isValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

type historyStub map[string][]domain.TicketHistory

func (h historyStub) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	return h[ticketID], nil
}

func TestHistoryForModerators(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mod := member("mod-m", "mallory")

	if _, err := h.svc.History(ctx, mod, "abcd1234"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("without history: want not found, got %v", err)
	}

	h.svc.history = historyStub{"abcd1234": {{ID: 1, TicketID: "abcd1234", ChangeType: "ticket_created"}}}
	if _, err := h.svc.History(ctx, member("user-a", "alice"), "abcd1234"); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("member: want forbidden, got %v", err)
	}
	entries, err := h.svc.History(ctx, mod, "abcd1234")
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %+v, err = %v", entries, err)
	}
	if _, err := h.svc.History(ctx, mod, "missing"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("unknown ticket: want not found, got %v", err)
	}
}
