package platform

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a single channel access flag.
type Permission uint32

const (
	PermViewChannel Permission = 1 << iota
	PermSendMessages
	PermAttachFiles
	PermReadMessageHistory
	PermManageMessages
)

var permissionNames = map[string]Permission{
	"view_channel":         PermViewChannel,
	"send_messages":        PermSendMessages,
	"attach_files":         PermAttachFiles,
	"read_message_history": PermReadMessageHistory,
	"manage_messages":      PermManageMessages,
}

// ParsePermission resolves a flag name. Unknown names are an error.
func ParsePermission(name string) (Permission, error) {
	perm, ok := permissionNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown permission %q", name)
	}
	return perm, nil
}

// ParsePermissions resolves a list of flag names into a set.
func ParsePermissions(names []string) (Permission, error) {
	var set Permission
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		perm, err := ParsePermission(name)
		if err != nil {
			return 0, err
		}
		set |= perm
	}
	return set, nil
}

// Has reports whether every flag of other is present.
func (p Permission) Has(other Permission) bool {
	return p&other == other
}

// Names lists the flag names in the set, sorted.
func (p Permission) Names() []string {
	names := make([]string, 0, len(permissionNames))
	for name, perm := range permissionNames {
		if p.Has(perm) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (p Permission) String() string {
	return strings.Join(p.Names(), ",")
}

// OverwriteTarget says whether an overwrite applies to a role or to a single member.
type OverwriteTarget int

const (
	OverwriteRole OverwriteTarget = iota
	OverwriteMember
)

// Overwrite grants or denies permissions on a channel for one role or member.
type Overwrite struct {
	TargetID string
	Target   OverwriteTarget
	Allow    Permission
	Deny     Permission
}

// OverwriteBuilder accumulates channel overwrites keyed by target.
type OverwriteBuilder struct {
	order []string
	byKey map[string]*Overwrite
}

// NewOverwriteBuilder returns an empty builder.
func NewOverwriteBuilder() *OverwriteBuilder {
	return &OverwriteBuilder{byKey: make(map[string]*Overwrite)}
}

// Allow grants perms to the target, merging with earlier calls.
func (b *OverwriteBuilder) Allow(target OverwriteTarget, id string, perms Permission) *OverwriteBuilder {
	b.entry(target, id).Allow |= perms
	return b
}

// Deny denies perms to the target, merging with earlier calls.
func (b *OverwriteBuilder) Deny(target OverwriteTarget, id string, perms Permission) *OverwriteBuilder {
	b.entry(target, id).Deny |= perms
	return b
}

// Build returns the overwrites in insertion order.
func (b *OverwriteBuilder) Build() []Overwrite {
	out := make([]Overwrite, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, *b.byKey[key])
	}
	return out
}

func (b *OverwriteBuilder) entry(target OverwriteTarget, id string) *Overwrite {
	key := fmt.Sprintf("%d:%s", target, id)
	if ow, ok := b.byKey[key]; ok {
		return ow
	}
	ow := &Overwrite{TargetID: id, Target: target}
	b.byKey[key] = ow
	b.order = append(b.order, key)
	return ow
}
