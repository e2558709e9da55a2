// Package grpctransport adapts the authorization gates to gRPC servers.
package grpctransport

import (
	"context"
	"errors"
	"strings"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
	"github.com/porthorian/orgauthz/pkg/gate"
)

const (
	authorizationKey = "authorization"
	UserIDKey        = "x-user-id"
	bearerPrefix     = "bearer "
)

var (
	ErrNoCredentials = errors.New("grpctransport: no credentials")
	ErrInvalidToken  = errors.New("grpctransport: invalid token")
)

// TokenVerifier validates a bearer token. httptransport.JWTResolver
// implements it.
type TokenVerifier interface {
	Verify(token string) (gate.Actor, error)
}

// IdentityFunc resolves the caller from incoming metadata. It returns
// ErrNoCredentials for anonymous calls.
type IdentityFunc func(ctx context.Context) (gate.Actor, error)

// Guards maps full method names to the gates protecting them. Methods
// without an entry only get identity resolution.
type Guards map[string][]gate.Gate[any]

// MetadataIdentity reads a bearer token when verifier is set. With a nil
// verifier the x-user-id key is trusted as set by an authenticating proxy.
func MetadataIdentity(verifier TokenVerifier) IdentityFunc {
	return func(ctx context.Context) (gate.Actor, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return gate.Actor{}, ErrNoCredentials
		}

		if verifier == nil {
			userID := strings.TrimSpace(first(md, UserIDKey))
			if userID == "" {
				return gate.Actor{}, ErrNoCredentials
			}
			return gate.Actor{UserID: userID}, nil
		}

		raw := strings.TrimSpace(first(md, authorizationKey))
		if raw == "" {
			return gate.Actor{}, ErrNoCredentials
		}
		if len(raw) < len(bearerPrefix) || !strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
			return gate.Actor{}, ErrInvalidToken
		}
		actor, err := verifier.Verify(strings.TrimSpace(raw[len(bearerPrefix):]))
		if err != nil {
			return gate.Actor{}, errors.Join(ErrInvalidToken, err)
		}
		return actor, nil
	}
}

func UnaryServerInterceptor(identity IdentityFunc, guards Guards, logger logr.Logger) grpc.UnaryServerInterceptor {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authorize(ctx, identity, guards[info.FullMethod], req, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func StreamServerInterceptor(identity IdentityFunc, guards Guards, logger logr.Logger) grpc.StreamServerInterceptor {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authorize(stream.Context(), identity, guards[info.FullMethod], nil, logger, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &actorStream{ServerStream: stream, ctx: ctx})
	}
}

func authorize(ctx context.Context, identity IdentityFunc, gates []gate.Gate[any], req any, logger logr.Logger, method string) (context.Context, error) {
	actor, err := identity(ctx)
	switch {
	case errors.Is(err, ErrNoCredentials):
	case err != nil:
		logger.V(1).Info("rejected credentials", "method", method, "error", err.Error())
		return ctx, Status(oerrors.Wrap(oerrors.CodeUnauthenticated, "invalid credentials", err))
	default:
		ctx = gate.ContextWithActor(ctx, actor)
	}

	if len(gates) == 0 {
		return ctx, nil
	}
	if _, ok := gate.ActorFromContext(ctx); !ok {
		return ctx, Status(oerrors.Unauthenticated())
	}
	for _, g := range gates {
		if err := g(ctx, req); err != nil {
			return ctx, Status(err)
		}
	}
	return ctx, nil
}

// Typed adapts a gate over a concrete request type. A request of another
// type is rejected as invalid input.
func Typed[In any](g gate.Gate[In]) gate.Gate[any] {
	return func(ctx context.Context, req any) error {
		in, ok := req.(In)
		if !ok {
			return oerrors.InvalidInput("unexpected request type")
		}
		return g(ctx, in)
	}
}

// Status converts an orgauthz error into a gRPC status. Internal failures
// carry no detail.
func Status(err error) error {
	if err == nil {
		return nil
	}

	switch oerrors.CodeOf(err) {
	case oerrors.CodeUnauthenticated:
		return status.Error(codes.Unauthenticated, "authentication required")
	case oerrors.CodePermissionDenied:
		return status.Error(codes.PermissionDenied, oerrors.MessageAccessDenied)
	case oerrors.CodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case oerrors.CodeInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case oerrors.CodeConflict:
		return status.Error(codes.AlreadyExists, err.Error())
	case oerrors.CodeStorageUnavailable:
		return status.Error(codes.Unavailable, "authorization store unavailable")
	case oerrors.CodeNotImplemented:
		return status.Error(codes.Unimplemented, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

type actorStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *actorStream) Context() context.Context {
	return s.ctx
}

func first(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
