package types

import (
	"context"
)

// The key type is unexported to prevent collisions
type key int

const (
	// actorKey is the context key for the authenticated actor
	actorKey key = iota
)

func ActorFrom(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(actorKey).(Actor)
	return v, ok && v != nil
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}
