// Package platform describes the narrow slice of the messaging platform the verification
// workflow consumes.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a channel, member or role does not exist.
var ErrNotFound = errors.New("platform: not found")

// Role is a named guild role.
type Role struct {
	ID   string
	Name string
}

// Member is a guild member together with the role ids it holds.
type Member struct {
	ID          string
	Username    string
	DisplayName string
	RoleIDs     []string
}

// HasRole reports whether the member holds roleID.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// ChannelKind differentiates text channels from containers.
type ChannelKind int

const (
	ChannelText ChannelKind = iota
	ChannelCategory
)

// Channel is a text channel or a category.
type Channel struct {
	ID       string
	Name     string
	ParentID string
	Kind     ChannelKind
}

// ChannelSpec describes a channel to create.
type ChannelSpec struct {
	Name       string
	Topic      string
	ParentID   string
	Kind       ChannelKind
	Overwrites []Overwrite
}

// Attachment references a file uploaded with a message.
type Attachment struct {
	Filename string
	URL      string
}

// Message is a single historical channel message.
type Message struct {
	ID          string
	AuthorID    string
	AuthorName  string
	Content     string
	CreatedAt   time.Time
	Attachments []Attachment
	EmbedTitles []string
}

// EmbedField is a titled block inside an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is rich message content.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

// ButtonStyle selects the visual style of an interactive control.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

// Button is an interactive control attached to a message.
type Button struct {
	CustomID string
	Label    string
	Emoji    string
	Style    ButtonStyle
}

// File is an in-memory attachment to upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// OutgoingMessage is content to post in a channel.
type OutgoingMessage struct {
	Content string
	Embeds  []Embed
	Buttons []Button
	Files   []File
}

// Client is the set of platform capabilities the workflow relies on.
type Client interface {
	// EveryoneRoleID is the default role every member holds.
	EveryoneRoleID() string
	SelfID() string
	Roles(ctx context.Context) ([]Role, error)
	Member(ctx context.Context, userID string) (*Member, error)
	AddRole(ctx context.Context, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, userID, roleID, reason string) error
	Channels(ctx context.Context) ([]Channel, error)
	Channel(ctx context.Context, channelID string) (*Channel, error)
	CreateChannel(ctx context.Context, spec ChannelSpec) (*Channel, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (string, error)
	// Messages returns up to limit messages posted after afterID, oldest first. An empty
	// afterID starts from the beginning of the channel.
	Messages(ctx context.Context, channelID, afterID string, limit int) ([]Message, error)
}

// FindRole returns the role with the given name.
func FindRole(roles []Role, name string) (Role, bool) {
	for _, role := range roles {
		if role.Name == name {
			return role, true
		}
	}
	return Role{}, false
}

// FindChannel returns the channel of the given kind and name.
func FindChannel(channels []Channel, kind ChannelKind, name string) (Channel, bool) {
	for _, ch := range channels {
		if ch.Kind == kind && ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// Probe checks platform reachability with a cheap read.
type Probe struct {
	Client Client
}

// Ping lists the guild roles.
func (p Probe) Ping(ctx context.Context) error {
	_, err := p.Client.Roles(ctx)
	return err
}
