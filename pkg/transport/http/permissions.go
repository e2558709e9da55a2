package httptransport

import (
	"net/http"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
	"github.com/porthorian/orgauthz/pkg/gate"
	"github.com/porthorian/orgauthz/pkg/permissions"
)

// PermissionsHandler serves the acting user's permission descriptor. The
// response must not be cached past the current view.
func PermissionsHandler(describer *permissions.Describer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: string(oerrors.CodeInvalidInput), Message: "method not allowed"})
			return
		}

		actor, ok := gate.ActorFromContext(r.Context())
		if !ok {
			WriteError(w, oerrors.Unauthenticated())
			return
		}

		descriptor, err := describer.Describe(r.Context(), actor.UserID)
		if err != nil {
			WriteError(w, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, descriptor)
	})
}
