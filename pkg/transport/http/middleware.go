// Package httptransport adapts the authorization gates to net/http handlers.
package httptransport

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
	"github.com/porthorian/orgauthz/pkg/gate"
	"github.com/porthorian/orgauthz/pkg/resource"
)

// Authenticate attaches the resolved actor to the request context. Requests
// without credentials continue anonymously; invalid credentials get a 401.
func Authenticate(identity IdentityResolver, logger logr.Logger) func(http.Handler) http.Handler {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := identity.Resolve(r)
			switch {
			case errors.Is(err, ErrNoCredentials):
				next.ServeHTTP(w, r)
			case err != nil:
				logger.V(1).Info("rejected credentials", "path", r.URL.Path, "error", err.Error())
				WriteError(w, oerrors.Wrap(oerrors.CodeUnauthenticated, "invalid credentials", err))
			default:
				next.ServeHTTP(w, r.WithContext(gate.ContextWithActor(r.Context(), actor)))
			}
		})
	}
}

// Guard runs gates against the request before next. The first rejection is
// written and next is skipped.
func Guard(gates ...gate.Gate[*http.Request]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := gate.ActorFromContext(r.Context()); !ok {
				WriteError(w, oerrors.Unauthenticated())
				return
			}
			for _, g := range gates {
				if err := g(r.Context(), r); err != nil {
					WriteError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequirePermission(az *gate.Authorizer, res gate.ResourceFunc[*http.Request], action string) func(http.Handler) http.Handler {
	return Guard(gate.RequirePermission(az, res, action))
}

func RequireOrganizationMember(az *gate.Authorizer, organizationID gate.IDFunc[*http.Request]) func(http.Handler) http.Handler {
	return Guard(gate.RequireOrganizationMember(az, organizationID))
}

func RequireGroupMember(az *gate.Authorizer, groupID gate.IDFunc[*http.Request]) func(http.Handler) http.Handler {
	return Guard(gate.RequireGroupMember(az, groupID))
}

func RequireAppAdmin(az *gate.Authorizer) func(http.Handler) http.Handler {
	return Guard(gate.RequireAppAdmin[*http.Request](az))
}

// Var reads a numeric gorilla/mux route variable.
func Var(name string) gate.IDFunc[*http.Request] {
	return func(r *http.Request) (int64, error) {
		raw, ok := mux.Vars(r)[name]
		if !ok {
			return 0, fmt.Errorf("route variable %q is missing", name)
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return 0, fmt.Errorf("route variable %q is not an id", name)
		}
		return id, nil
	}
}

// ResourceFromVar builds a resource of kind from the route variable name,
// e.g. ResourceFromVar(resource.KindGroup, "groupID", "members").
func ResourceFromVar(kind resource.Kind, name string, subpath ...string) gate.ResourceFunc[*http.Request] {
	id := Var(name)
	return func(r *http.Request) (string, error) {
		value, err := id(r)
		if err != nil {
			return "", err
		}
		return resource.Encode(kind, value, subpath...), nil
	}
}
