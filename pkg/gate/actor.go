package gate

import "context"

// Actor is the authenticated identity a request acts as.
type Actor struct {
	UserID string
}

func (a Actor) Authenticated() bool {
	return a.UserID != ""
}

type actorKey struct{}

func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext reports false when no actor, or an actor without a user
// id, is attached.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || !actor.Authenticated() {
		return Actor{}, false
	}
	return actor, true
}
