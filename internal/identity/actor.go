package identity

import (
	"context"
	"fmt"
)

// Role is the coarse permission level attached to every request actor.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleClinician Role = "clinician"
	RoleOrgStaff  Role = "org_staff"
)

// ParseRole validates a role string from a token claim.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleClinician, RoleOrgStaff:
		return Role(s), nil
	}
	return "", fmt.Errorf("identity: unknown role %q", s)
}

// Actor is the authenticated principal driving a state transition.
type Actor struct {
	ID    string
	Name  string
	Role  Role
	OrgID string
}

// CanTransition reports whether the actor may drive booking/case transitions
// at all. Org staff get read access only.
func (a Actor) CanTransition() bool {
	return a.Role == RoleAdmin || a.Role == RoleClinician
}

// CanReverse reports whether the actor may perform backward transitions
// (Completed→Accepted, Accepted→Pending, Completed→Scheduled).
func (a Actor) CanReverse() bool {
	return a.Role == RoleAdmin
}

// PermissionError signals the actor's role is insufficient for the
// requested transition.
type PermissionError struct {
	Role   Role
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("identity: role %q may not %s", e.Role, e.Action)
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor stores the actor in the request context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor placed in the context by the auth
// middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}
