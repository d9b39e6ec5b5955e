// Package actorcontext carries the acting user and session on a request
// context.
package actorcontext

import (
	"context"
	"strings"
)

type actorKey struct{}

// Actor identifies who performs an operation.
type Actor struct {
	ID        string
	SessionID string
	Role      string
}

// System is used when no caller is resolved, e.g. background consumers.
var System = Actor{ID: "system", Role: "system"}

func WithActor(ctx context.Context, actor Actor) context.Context {
	actor.ID = strings.TrimSpace(actor.ID)
	actor.SessionID = strings.TrimSpace(actor.SessionID)
	actor.Role = strings.TrimSpace(actor.Role)
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor, if one with an ID was set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}

// ActorOrSystem falls back to System when the context carries no actor.
func ActorOrSystem(ctx context.Context) Actor {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	return System
}
