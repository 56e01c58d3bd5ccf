// Package discord implements platform.Client over the Discord REST API.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-desk/internal/platform"
)

// Client talks to a single guild.
type Client struct {
	session *discordgo.Session
	guildID string
	selfID  string
	logger  *zap.Logger
}

// New opens a REST session for the bot token and resolves the bot's own user id.
func New(ctx context.Context, token, guildID string, logger *zap.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	self, err := session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord identify: %w", err)
	}
	logger.Info("discord client ready", zap.String("bot_id", self.ID), zap.String("guild_id", guildID))
	return &Client{session: session, guildID: guildID, selfID: self.ID, logger: logger}, nil
}

// EveryoneRoleID is the guild id on Discord.
func (c *Client) EveryoneRoleID() string { return c.guildID }

func (c *Client) SelfID() string { return c.selfID }

func (c *Client) Roles(ctx context.Context) ([]platform.Role, error) {
	roles, err := c.session.GuildRoles(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]platform.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, platform.Role{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

func (c *Client) Member(ctx context.Context, userID string) (*platform.Member, error) {
	m, err := c.session.GuildMember(c.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	return toMember(m), nil
}

func (c *Client) AddRole(ctx context.Context, userID, roleID, reason string) error {
	return wrap(c.session.GuildMemberRoleAdd(c.guildID, userID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Client) RemoveRole(ctx context.Context, userID, roleID, reason string) error {
	return wrap(c.session.GuildMemberRoleRemove(c.guildID, userID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Client) Channels(ctx context.Context) ([]platform.Channel, error) {
	channels, err := c.session.GuildChannels(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]platform.Channel, 0, len(channels))
	for _, ch := range channels {
		out = append(out, toChannel(ch))
	}
	return out, nil
}

func (c *Client) Channel(ctx context.Context, channelID string) (*platform.Channel, error) {
	ch, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	out := toChannel(ch)
	return &out, nil
}

func (c *Client) CreateChannel(ctx context.Context, spec platform.ChannelSpec) (*platform.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             spec.ParentID,
		PermissionOverwrites: toOverwrites(spec.Overwrites),
	}
	if spec.Kind == platform.ChannelCategory {
		data.Type = discordgo.ChannelTypeGuildCategory
		data.Topic = ""
	}
	ch, err := c.session.GuildChannelCreateComplex(c.guildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	out := toChannel(ch)
	return &out, nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := c.session.ChannelDelete(channelID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return wrap(err)
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) (string, error) {
	sent, err := c.session.ChannelMessageSendComplex(channelID, toMessageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", wrap(err)
	}
	return sent.ID, nil
}

// Messages pages forward from afterID. Discord returns pages newest first; they are re-sorted
// by snowflake.
func (c *Client) Messages(ctx context.Context, channelID, afterID string, limit int) ([]platform.Message, error) {
	if afterID == "" {
		afterID = "0"
	}
	msgs, err := c.session.ChannelMessages(channelID, limit, "", afterID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	sort.Slice(msgs, func(i, j int) bool { return snowflakeLess(msgs[i].ID, msgs[j].ID) })

	out := make([]platform.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out, nil
}

func toMember(m *discordgo.Member) *platform.Member {
	out := &platform.Member{RoleIDs: append([]string(nil), m.Roles...)}
	if m.User != nil {
		out.ID = m.User.ID
		out.Username = m.User.Username
		out.DisplayName = m.User.GlobalName
	}
	if m.Nick != "" {
		out.DisplayName = m.Nick
	}
	if out.DisplayName == "" {
		out.DisplayName = out.Username
	}
	return out
}

func toChannel(ch *discordgo.Channel) platform.Channel {
	kind := platform.ChannelText
	if ch.Type == discordgo.ChannelTypeGuildCategory {
		kind = platform.ChannelCategory
	}
	return platform.Channel{ID: ch.ID, Name: ch.Name, ParentID: ch.ParentID, Kind: kind}
}

func toMessage(m *discordgo.Message) platform.Message {
	out := platform.Message{ID: m.ID, Content: m.Content, CreatedAt: m.Timestamp}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorName = m.Author.GlobalName
		if out.AuthorName == "" {
			out.AuthorName = m.Author.Username
		}
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, platform.Attachment{Filename: a.Filename, URL: a.URL})
	}
	for _, e := range m.Embeds {
		out.EmbedTitles = append(out.EmbedTitles, e.Title)
	}
	return out
}

func toOverwrites(overwrites []platform.Overwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(overwrites))
	for _, ow := range overwrites {
		kind := discordgo.PermissionOverwriteTypeRole
		if ow.Target == platform.OverwriteMember {
			kind = discordgo.PermissionOverwriteTypeMember
		}
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    ow.TargetID,
			Type:  kind,
			Allow: permissionBits(ow.Allow),
			Deny:  permissionBits(ow.Deny),
		})
	}
	return out
}

var permissionMapping = []struct {
	flag platform.Permission
	bits int64
}{
	{platform.PermViewChannel, discordgo.PermissionViewChannel},
	{platform.PermSendMessages, discordgo.PermissionSendMessages},
	{platform.PermAttachFiles, discordgo.PermissionAttachFiles},
	{platform.PermReadMessageHistory, discordgo.PermissionReadMessageHistory},
	{platform.PermManageMessages, discordgo.PermissionManageMessages},
}

func permissionBits(p platform.Permission) int64 {
	var bits int64
	for _, m := range permissionMapping {
		if p.Has(m.flag) {
			bits |= m.bits
		}
	}
	return bits
}

var buttonStyles = map[platform.ButtonStyle]discordgo.ButtonStyle{
	platform.ButtonPrimary:   discordgo.PrimaryButton,
	platform.ButtonSecondary: discordgo.SecondaryButton,
	platform.ButtonSuccess:   discordgo.SuccessButton,
	platform.ButtonDanger:    discordgo.DangerButton,
}

func toMessageSend(msg platform.OutgoingMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: msg.Content}
	for _, e := range msg.Embeds {
		send.Embeds = append(send.Embeds, toEmbed(e))
	}
	if len(msg.Buttons) > 0 {
		row := discordgo.ActionsRow{}
		for _, b := range msg.Buttons {
			button := discordgo.Button{Label: b.Label, Style: buttonStyles[b.Style], CustomID: b.CustomID}
			if b.Emoji != "" {
				button.Emoji = &discordgo.ComponentEmoji{Name: b.Emoji}
			}
			row.Components = append(row.Components, button)
		}
		send.Components = []discordgo.MessageComponent{row}
	}
	for _, f := range msg.Files {
		send.Files = append(send.Files, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: bytes.NewReader(f.Data)})
	}
	return send
}

func toEmbed(e platform.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{Title: e.Title, Description: e.Description, Color: e.Color}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}

// wrap maps a 404 from the API to platform.ErrNotFound.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
	}
	return err
}

func snowflakeLess(a, b string) bool {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return x < y
}

var _ platform.Client = (*Client)(nil)
