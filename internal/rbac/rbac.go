// Package rbac decides what a caller may do with a profile's content. The
// owner can mutate; everyone else can read public content.
package rbac

type Role string
type Action string

const (
	RoleVisitor Role = "visitor"
	RoleOwner   Role = "owner"
)

const (
	ActionRead        Action = "read"
	ActionReadPrivate Action = "read_private"
	ActionWrite       Action = "write"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleVisitor:
		return action == ActionRead
	default:
		return false
	}
}

// RoleFor returns RoleOwner only when the actor's profile is the owner.
// An empty actor (anonymous or not yet onboarded) is always a visitor.
func RoleFor(actorProfileID, ownerProfileID string) Role {
	if actorProfileID != "" && actorProfileID == ownerProfileID {
		return RoleOwner
	}
	return RoleVisitor
}

// CanView reports whether role may see an item with the given visibility.
func CanView(role Role, public bool) bool {
	if public {
		return Can(role, ActionRead)
	}
	return Can(role, ActionReadPrivate)
}
