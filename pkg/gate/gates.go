package gate

import (
	"context"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
)

// Gate guards an operation taking input In. It returns nil to let the
// operation run.
type Gate[In any] func(ctx context.Context, in In) error

// Operation is a protected unit of work.
type Operation[In any, Out any] func(ctx context.Context, in In) (Out, error)

// IDFunc extracts an organization or group id from the operation input.
type IDFunc[In any] func(in In) (int64, error)

// ResourceFunc produces the resource string a permission is checked on.
type ResourceFunc[In any] func(in In) (string, error)

// Resource returns a ResourceFunc that ignores the input.
func Resource[In any](value string) ResourceFunc[In] {
	return func(In) (string, error) {
		return value, nil
	}
}

func RequireAppAdmin[In any](az *Authorizer) Gate[In] {
	return func(ctx context.Context, _ In) error {
		return az.CheckAppAdmin(ctx)
	}
}

func RequireOrganizationMember[In any](az *Authorizer, organizationID IDFunc[In]) Gate[In] {
	return func(ctx context.Context, in In) error {
		if _, ok := ActorFromContext(ctx); !ok {
			return oerrors.Unauthenticated()
		}
		id, err := organizationID(in)
		if err != nil {
			return oerrors.Wrap(oerrors.CodeInvalidInput, "invalid organization id", err)
		}
		return az.CheckOrganizationMember(ctx, id)
	}
}

func RequireGroupMember[In any](az *Authorizer, groupID IDFunc[In]) Gate[In] {
	return func(ctx context.Context, in In) error {
		if _, ok := ActorFromContext(ctx); !ok {
			return oerrors.Unauthenticated()
		}
		id, err := groupID(in)
		if err != nil {
			return oerrors.Wrap(oerrors.CodeInvalidInput, "invalid group id", err)
		}
		return az.CheckGroupMember(ctx, id)
	}
}

// RequirePermission checks action on the resource built from the input. The
// actor is checked before the resource is computed.
func RequirePermission[In any](az *Authorizer, res ResourceFunc[In], action string) Gate[In] {
	return func(ctx context.Context, in In) error {
		if _, ok := ActorFromContext(ctx); !ok {
			return oerrors.Unauthenticated()
		}
		value, err := res(in)
		if err != nil {
			return oerrors.Wrap(oerrors.CodeInvalidInput, "invalid resource", err)
		}
		return az.Check(ctx, value, action)
	}
}

// Protect wraps op so it only runs for an authenticated actor that passes
// every gate, in order. The first rejection is returned unchanged.
func Protect[In any, Out any](op Operation[In, Out], gates ...Gate[In]) Operation[In, Out] {
	return func(ctx context.Context, in In) (Out, error) {
		var zero Out
		actor, ok := ActorFromContext(ctx)
		if !ok {
			return zero, oerrors.Unauthenticated()
		}
		ctx = ContextWithActor(ctx, actor)

		for _, gate := range gates {
			if err := gate(ctx, in); err != nil {
				return zero, err
			}
		}
		return op(ctx, in)
	}
}
