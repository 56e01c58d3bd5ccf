package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-desk/internal/platform"
	apperrors "github.com/spec-kit/verification-desk/pkg/util"
)

const maxChannelNameLength = 90

// ProvisionerConfig names the shared container and the roles allowed into ticket channels.
type ProvisionerConfig struct {
	CategoryName         string
	ModeratorRoles       []string
	ModeratorPermissions platform.Permission
}

// ChannelProvisioner creates and removes the private per-ticket channels.
type ChannelProvisioner struct {
	client platform.Client
	logger *zap.Logger
	cfg    ProvisionerConfig

	mu          sync.Mutex
	containerID string
}

// NewChannelProvisioner constructs the provisioner.
func NewChannelProvisioner(client platform.Client, logger *zap.Logger, cfg ProvisionerConfig) *ChannelProvisioner {
	return &ChannelProvisioner{client: client, logger: logger, cfg: cfg}
}

// EnsureContainer returns the ticket category, creating it with default-deny visibility on
// first use.
func (p *ChannelProvisioner) EnsureContainer(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.containerID != "" {
		return p.containerID, nil
	}
	id, found, err := p.lookupContainer(ctx)
	if err != nil {
		return "", apperrors.NewProvisioningError("list_channels", err)
	}
	if found {
		p.containerID = id
		return id, nil
	}

	overwrites := platform.NewOverwriteBuilder().
		Deny(platform.OverwriteRole, p.client.EveryoneRoleID(), platform.PermViewChannel).
		Build()
	category, err := p.client.CreateChannel(ctx, platform.ChannelSpec{
		Name:       p.cfg.CategoryName,
		Kind:       platform.ChannelCategory,
		Overwrites: overwrites,
	})
	if err != nil {
		return "", apperrors.NewProvisioningError("create_category", err)
	}
	p.logger.Info("ticket category created", zap.String("category_id", category.ID), zap.String("name", category.Name))
	p.containerID = category.ID
	return category.ID, nil
}

// CreateTicketChannel creates the private channel for member's ticket. Only the member, the
// service itself and the moderator roles can see it.
func (p *ChannelProvisioner) CreateTicketChannel(ctx context.Context, member *platform.Member, ticketID string) (*platform.Channel, error) {
	containerID, err := p.EnsureContainer(ctx)
	if err != nil {
		return nil, err
	}
	overwrites, err := p.ticketOverwrites(ctx, member.ID)
	if err != nil {
		return nil, err
	}

	channel, err := p.client.CreateChannel(ctx, platform.ChannelSpec{
		Name:       TicketChannelName(member.Username, member.ID, ticketID),
		Topic:      fmt.Sprintf("Verification ticket for %s", member.DisplayName),
		ParentID:   containerID,
		Kind:       platform.ChannelText,
		Overwrites: overwrites,
	})
	if err != nil {
		return nil, apperrors.NewProvisioningError("create_channel", err)
	}
	p.logger.Info("ticket channel created",
		zap.String("channel_id", channel.ID),
		zap.String("ticket_id", ticketID),
		zap.String("user_id", member.ID))
	return channel, nil
}

// DeleteChannel removes a ticket channel. Failures are logged only.
func (p *ChannelProvisioner) DeleteChannel(ctx context.Context, channelID, reason string) {
	if err := p.client.DeleteChannel(ctx, channelID, reason); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			p.logger.Info("ticket channel already gone", zap.String("channel_id", channelID))
			return
		}
		p.logger.Warn("delete ticket channel failed", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	p.logger.Info("ticket channel deleted", zap.String("channel_id", channelID), zap.String("reason", reason))
}

// IsTicketChannel reports whether channelID lives under the ticket category.
func (p *ChannelProvisioner) IsTicketChannel(ctx context.Context, channelID string) bool {
	channel, err := p.client.Channel(ctx, channelID)
	if err != nil {
		return false
	}
	p.mu.Lock()
	containerID := p.containerID
	p.mu.Unlock()
	if containerID == "" {
		id, found, err := p.lookupContainer(ctx)
		if err != nil || !found {
			return false
		}
		containerID = id
	}
	return channel.ParentID == containerID
}

func (p *ChannelProvisioner) lookupContainer(ctx context.Context) (string, bool, error) {
	channels, err := p.client.Channels(ctx)
	if err != nil {
		return "", false, err
	}
	category, ok := platform.FindChannel(channels, platform.ChannelCategory, p.cfg.CategoryName)
	return category.ID, ok, nil
}

func (p *ChannelProvisioner) ticketOverwrites(ctx context.Context, userID string) ([]platform.Overwrite, error) {
	roles, err := p.client.Roles(ctx)
	if err != nil {
		return nil, apperrors.NewProvisioningError("list_roles", err)
	}

	builder := platform.NewOverwriteBuilder().
		Deny(platform.OverwriteRole, p.client.EveryoneRoleID(), platform.PermViewChannel).
		Allow(platform.OverwriteMember, userID,
			platform.PermViewChannel|platform.PermSendMessages|platform.PermAttachFiles|platform.PermReadMessageHistory).
		Allow(platform.OverwriteMember, p.client.SelfID(),
			platform.PermViewChannel|platform.PermSendMessages|platform.PermManageMessages)

	for _, name := range p.cfg.ModeratorRoles {
		role, ok := platform.FindRole(roles, name)
		if !ok {
			p.logger.Debug("moderator role not present in guild", zap.String("role", name))
			continue
		}
		builder.Allow(platform.OverwriteRole, role.ID, p.cfg.ModeratorPermissions)
	}
	return builder.Build(), nil
}

// TicketChannelName derives the channel name from the requester and the ticket id.
func TicketChannelName(username, userID, ticketID string) string {
	slug := slugify(username)
	if slug == "" {
		slug = userID
	}
	name := "ticket-" + slug + "-" + ticketID
	if len(name) > maxChannelNameLength {
		keep := maxChannelNameLength - len("ticket--") - len(ticketID)
		name = "ticket-" + strings.TrimRight(slug[:keep], "-") + "-" + ticketID
	}
	return name
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
