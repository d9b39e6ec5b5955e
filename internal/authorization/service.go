package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/claimwise/internal/actorcontext"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrUnknownRole   = errors.New("unknown_role")
	ErrForbidden     = errors.New("forbidden")
)

// Service decides whether an actor's role allows an action on an object.
type Service interface {
	Authorize(ctx context.Context, actor actorcontext.Actor, object string, action string) error
}
