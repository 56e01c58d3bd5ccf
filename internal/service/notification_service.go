package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-desk/internal/events"
	"github.com/spec-kit/verification-desk/internal/observability"
	"github.com/spec-kit/verification-desk/internal/platform"
)

// NotificationService mirrors ticket lifecycle events to the audit channel.
type NotificationService struct {
	dispatcher   events.Dispatcher
	client       platform.Client
	logger       *zap.Logger
	metrics      *observability.Metrics
	auditChannel string
}

// NewNotificationService creates the service. An empty auditChannel disables the audit notices;
// events are still logged and counted.
func NewNotificationService(dispatcher events.Dispatcher, client platform.Client, logger *zap.Logger, metrics *observability.Metrics, auditChannel string) *NotificationService {
	return &NotificationService{
		dispatcher:   dispatcher,
		client:       client,
		logger:       logger,
		metrics:      metrics,
		auditChannel: strings.TrimSpace(auditChannel),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketPhotoSubmitted, n.handlePhotoSubmitted)
	n.dispatcher.Subscribe(events.EventTicketReviewed, n.handleTicketReviewed)
	n.dispatcher.Subscribe(events.EventTicketClosed, n.handleTicketClosed)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.String("user_id", event.UserID))
	n.metrics.RecordTicketEvent(string(event.Type))

	reason := ""
	if payload, ok := event.Payload.(events.TicketCreatedPayload); ok {
		reason = payload.Reason
	}
	return n.audit(ctx, platform.OutgoingMessage{Embeds: []platform.Embed{{
		Title:     "📝 New ticket opened",
		Color:     colorSuccess,
		Timestamp: event.Timestamp,
		Fields: []platform.EmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%s> (%s)", event.UserID, event.UserID), Inline: true},
			{Name: "Channel", Value: fmt.Sprintf("<#%s>", event.ChannelID), Inline: true},
			{Name: "Ticket ID", Value: "`" + event.TicketID + "`", Inline: true},
			{Name: "Reason", Value: reason},
		},
	}}})
}

func (n *NotificationService) handlePhotoSubmitted(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketPhotoSubmitted", zap.String("ticket_id", event.TicketID), zap.String("user_id", event.UserID))
	n.metrics.RecordTicketEvent(string(event.Type))

	return n.audit(ctx, platform.OutgoingMessage{Embeds: []platform.Embed{{
		Title:     "📸 Photo submitted",
		Color:     colorWarning,
		Timestamp: event.Timestamp,
		Fields: []platform.EmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%s> (%s)", event.UserID, event.UserID), Inline: true},
			{Name: "Channel", Value: fmt.Sprintf("<#%s>", event.ChannelID), Inline: true},
			{Name: "Ticket ID", Value: "`" + event.TicketID + "`", Inline: true},
		},
	}}})
}

func (n *NotificationService) handleTicketReviewed(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketReviewedPayload)
	n.logger.Info("TicketReviewed",
		zap.String("ticket_id", event.TicketID),
		zap.Bool("approved", payload.Approved),
		zap.Int("rejections", payload.Rejections))
	n.metrics.RecordTicketEvent(string(event.Type))

	result := "❌ Rejected"
	color := colorDanger
	if payload.Approved {
		result = "✅ Approved"
		color = colorSuccess
	}
	fields := []platform.EmbedField{
		{Name: "User", Value: fmt.Sprintf("<@%s> (%s)", event.UserID, event.UserID), Inline: true},
		{Name: "Moderator", Value: actorMention(event.Actor), Inline: true},
		{Name: "Result", Value: result, Inline: true},
		{Name: "Ticket ID", Value: "`" + event.TicketID + "`"},
	}
	if payload.Rejections > 1 {
		fields = append(fields, platform.EmbedField{Name: "Rejections", Value: fmt.Sprintf("%d", payload.Rejections), Inline: true})
	}
	return n.audit(ctx, platform.OutgoingMessage{Embeds: []platform.Embed{{
		Title:     "🔍 Verification reviewed",
		Color:     color,
		Timestamp: event.Timestamp,
		Fields:    fields,
	}}})
}

func (n *NotificationService) handleTicketClosed(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketClosedPayload)
	n.logger.Info("TicketClosed",
		zap.String("ticket_id", event.TicketID),
		zap.String("transcript", payload.TranscriptPath),
		zap.String("digest", payload.Digest))
	n.metrics.RecordTicketEvent(string(event.Type))

	embed := platform.Embed{
		Title:     "🔒 Ticket closed",
		Color:     colorClosed,
		Timestamp: event.Timestamp,
		Fields: []platform.EmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%s>", event.UserID), Inline: true},
			{Name: "Closed by", Value: actorMention(event.Actor), Inline: true},
			{Name: "Reason", Value: payload.Reason},
		},
	}
	if payload.Digest != "" {
		embed.Footer = "blake2b-256 " + payload.Digest
	}
	msg := platform.OutgoingMessage{Embeds: []platform.Embed{embed}}
	if len(payload.Transcript) > 0 {
		name := filepath.Base(payload.TranscriptPath)
		if payload.TranscriptPath == "" {
			name = fmt.Sprintf("transcript_%s_%s.txt", event.UserID, event.TicketID)
		}
		msg.Files = []platform.File{{Name: name, ContentType: "text/plain", Data: payload.Transcript}}
	}
	return n.audit(ctx, msg)
}

// audit posts msg to the audit channel when it exists in the guild.
func (n *NotificationService) audit(ctx context.Context, msg platform.OutgoingMessage) error {
	if n.auditChannel == "" || n.client == nil {
		return nil
	}
	channels, err := n.client.Channels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	channel, ok := platform.FindChannel(channels, platform.ChannelText, n.auditChannel)
	if !ok {
		n.logger.Debug("audit channel missing", zap.String("name", n.auditChannel))
		return nil
	}
	if _, err := n.client.SendMessage(ctx, channel.ID, msg); err != nil {
		return fmt.Errorf("send audit notice: %w", err)
	}
	return nil
}

func actorMention(a events.Actor) string {
	if a.ID == "" {
		return a.DisplayName
	}
	return "<@" + a.ID + ">"
}
