package domain

import (
	"context"
	"strings"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Subject is the casbin subject for the actor's role.
func (a Actor) Subject() string {
	return "role:" + strings.ToLower(string(a.Role))
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.Email == "" {
		return Actor{}, false
	}
	return actor, true
}
