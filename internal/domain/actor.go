package domain

// ActorKind differentiates members acting through the interaction surface from the system itself.
type ActorKind string

const (
	ActorKindMember ActorKind = "MEMBER"
	ActorKindSystem ActorKind = "SYSTEM"
)

// Actor identifies who triggered an operation.
type Actor struct {
	Kind        ActorKind
	ID          string
	DisplayName string
}

// MemberActor builds an actor for a platform member.
func MemberActor(id, displayName string) Actor {
	return Actor{Kind: ActorKindMember, ID: id, DisplayName: displayName}
}

// SystemActor is used by automatic transitions such as the post-approval closure.
func SystemActor() Actor {
	return Actor{Kind: ActorKindSystem, DisplayName: "system"}
}

// IsSystem reports whether the actor is the service itself.
func (a Actor) IsSystem() bool {
	return a.Kind == ActorKindSystem
}

// Mention renders the actor for notices.
func (a Actor) Mention() string {
	if a.IsSystem() || a.ID == "" {
		return a.DisplayName
	}
	return "<@" + a.ID + ">"
}
