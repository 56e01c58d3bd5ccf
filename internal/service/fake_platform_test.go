package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spec-kit/verification-desk/internal/platform"
)

const (
	testEveryoneRole = "role-everyone"
	testBotID        = "bot-1"
)

type sentMessage struct {
	ChannelID string
	Message   platform.OutgoingMessage
}

// fakePlatform is an in-memory guild. Operations named in failures return the injected error.
type fakePlatform struct {
	mu       sync.Mutex
	seq      int
	roles    []platform.Role
	members  map[string]*platform.Member
	channels map[string]platform.Channel
	specs    map[string]platform.ChannelSpec
	history  map[string][]platform.Message
	sent     []sentMessage
	deleted  []string
	failures map[string]error
	// messagePagesBeforeFailure, when positive, makes Messages fail after that many pages.
	messagePagesBeforeFailure int
	messagePages              int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		roles: []platform.Role{
			{ID: testEveryoneRole, Name: "@everyone"},
			{ID: "role-mod", Name: "Moderator"},
			{ID: "role-verified", Name: "Verified"},
			{ID: "role-pending", Name: "Pending"},
		},
		members:  make(map[string]*platform.Member),
		channels: make(map[string]platform.Channel),
		specs:    make(map[string]platform.ChannelSpec),
		history:  make(map[string][]platform.Message),
		failures: make(map[string]error),
	}
}

func (f *fakePlatform) addMember(id, username string, roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = &platform.Member{ID: id, Username: username, DisplayName: username, RoleIDs: roleIDs}
}

func (f *fakePlatform) addChannel(ch platform.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.ID] = ch
}

func (f *fakePlatform) addHistory(channelID string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		f.seq++
		f.history[channelID] = append(f.history[channelID], platform.Message{
			ID:         fmt.Sprintf("m%06d", f.seq),
			AuthorID:   "user-1",
			AuthorName: "alice",
			Content:    fmt.Sprintf("message %d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
	}
}

func (f *fakePlatform) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *fakePlatform) recover(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, op)
}

func (f *fakePlatform) failure(op string) error {
	return f.failures[op]
}

func (f *fakePlatform) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%06d", prefix, f.seq)
}

func (f *fakePlatform) sentTo(channelID string) []platform.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.OutgoingMessage
	for _, s := range f.sent {
		if s.ChannelID == channelID {
			out = append(out, s.Message)
		}
	}
	return out
}

func (f *fakePlatform) deletedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakePlatform) hasChannel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[id]
	return ok
}

func (f *fakePlatform) memberRoles(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[id]; ok {
		return append([]string(nil), m.RoleIDs...)
	}
	return nil
}

func (f *fakePlatform) EveryoneRoleID() string { return testEveryoneRole }

func (f *fakePlatform) SelfID() string { return testBotID }

func (f *fakePlatform) Roles(context.Context) ([]platform.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("roles"); err != nil {
		return nil, err
	}
	return append([]platform.Role(nil), f.roles...), nil
}

func (f *fakePlatform) Member(_ context.Context, userID string) (*platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("member"); err != nil {
		return nil, err
	}
	m, ok := f.members[userID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	clone := *m
	clone.RoleIDs = append([]string(nil), m.RoleIDs...)
	return &clone, nil
}

func (f *fakePlatform) AddRole(_ context.Context, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("add_role"); err != nil {
		return err
	}
	m, ok := f.members[userID]
	if !ok {
		return platform.ErrNotFound
	}
	if !m.HasRole(roleID) {
		m.RoleIDs = append(m.RoleIDs, roleID)
	}
	return nil
}

func (f *fakePlatform) RemoveRole(_ context.Context, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("remove_role"); err != nil {
		return err
	}
	m, ok := f.members[userID]
	if !ok {
		return platform.ErrNotFound
	}
	kept := m.RoleIDs[:0]
	for _, id := range m.RoleIDs {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	m.RoleIDs = kept
	return nil
}

func (f *fakePlatform) Channels(context.Context) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("channels"); err != nil {
		return nil, err
	}
	out := make([]platform.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (f *fakePlatform) Channel(_ context.Context, channelID string) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return &ch, nil
}

func (f *fakePlatform) CreateChannel(_ context.Context, spec platform.ChannelSpec) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("create_channel"); err != nil {
		return nil, err
	}
	ch := platform.Channel{ID: f.nextID("c"), Name: spec.Name, ParentID: spec.ParentID, Kind: spec.Kind}
	f.channels[ch.ID] = ch
	f.specs[ch.ID] = spec
	return &ch, nil
}

func (f *fakePlatform) DeleteChannel(_ context.Context, channelID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("delete_channel"); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	delete(f.channels, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakePlatform) SendMessage(_ context.Context, channelID string, msg platform.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("send_message"); err != nil {
		return "", err
	}
	id := f.nextID("m")
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Message: msg})
	titles := make([]string, 0, len(msg.Embeds))
	for _, e := range msg.Embeds {
		titles = append(titles, e.Title)
	}
	f.history[channelID] = append(f.history[channelID], platform.Message{
		ID:          id,
		AuthorID:    testBotID,
		AuthorName:  "verification-bot",
		Content:     msg.Content,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EmbedTitles: titles,
	})
	return id, nil
}

func (f *fakePlatform) Messages(_ context.Context, channelID, afterID string, limit int) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("messages"); err != nil {
		return nil, err
	}
	if f.messagePagesBeforeFailure > 0 && f.messagePages >= f.messagePagesBeforeFailure {
		return nil, fmt.Errorf("history unavailable")
	}
	f.messagePages++

	all := f.history[channelID]
	start := 0
	if afterID != "" {
		for i, m := range all {
			if m.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]platform.Message(nil), all[start:end]...), nil
}

var _ platform.Client = (*fakePlatform)(nil)
