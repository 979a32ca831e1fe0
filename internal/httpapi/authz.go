package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"tourneyhub.io/internal/auth"
	"tourneyhub.io/internal/obs"
	"tourneyhub.io/internal/tournament"
)

type decideFunc func(r *http.Request, id auth.Identity) (*http.Request, error)

// gate runs decide against the identity set by Authenticate.
func (a *API) gate(check string, decide decideFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				obs.ObserveDecision(check, false)
				a.fail(w, r, auth.NotAuthenticated(), auth.CodePermissionCheckError)
				return
			}
			nr, err := decide(r, id)
			obs.ObserveDecision(check, err == nil)
			if err != nil {
				a.fail(w, r, err, auth.CodePermissionCheckError)
				return
			}
			next.ServeHTTP(w, nr)
		})
	}
}

// RequirePermission admits holders of name.
func (a *API) RequirePermission(name string) func(http.Handler) http.Handler {
	return a.gate("permission", func(r *http.Request, id auth.Identity) (*http.Request, error) {
		return r, a.engine.RequirePermission(id, name)
	})
}

// RequireAnyPermission admits holders of at least one of names.
func (a *API) RequireAnyPermission(names ...string) func(http.Handler) http.Handler {
	return a.gate("any_permission", func(r *http.Request, id auth.Identity) (*http.Request, error) {
		return r, a.engine.RequireAnyPermission(id, names...)
	})
}

// RequireRole admits holders of one of the named roles or their legacy
// permission bundle.
func (a *API) RequireRole(names ...string) func(http.Handler) http.Handler {
	return a.gate("role", func(r *http.Request, id auth.Identity) (*http.Request, error) {
		return r, a.engine.RequireRole(id, names...)
	})
}

// RequireSuperAdmin admits super-role holders.
func (a *API) RequireSuperAdmin() func(http.Handler) http.Handler {
	return a.gate("super_admin", func(r *http.Request, id auth.Identity) (*http.Request, error) {
		return r, a.engine.RequireSuperAdmin(id)
	})
}

// RequireClientAccess locates the client id on the request and admits users
// scoped to it. The accepted id is stored on the context for handlers.
func (a *API) RequireClientAccess(param string) func(http.Handler) http.Handler {
	return a.gate("client", func(r *http.Request, id auth.Identity) (*http.Request, error) {
		clientID, err := clientIDFromRequest(r, param)
		if err != nil {
			return r, err
		}
		if err := a.engine.RequireClientAccess(id, clientID); err != nil {
			return r, err
		}
		return r.WithContext(auth.ContextWithClientID(r.Context(), clientID)), nil
	})
}

// RequireTournamentAccess admits users whose effective level on the
// tournament in the path is at least required.
func (a *API) RequireTournamentAccess(required tournament.Level) func(http.Handler) http.Handler {
	return a.gate("tournament", func(r *http.Request, id auth.Identity) (*http.Request, error) {
		tournamentID, err := pathID(r, "tournamentId")
		if err != nil {
			return r, err
		}
		d, err := a.tournaments.CheckAccess(r.Context(), tournamentID, id.User.ID, required)
		if err != nil {
			return r, err
		}
		if !d.Allowed {
			return r, tournament.AccessDenied(required, d)
		}
		return r, nil
	})
}

// clientIDFromRequest looks for the client id in the named path parameter,
// then the id path parameter, then a clientId field of a JSON body, then the
// clientId query parameter.
func clientIDFromRequest(r *http.Request, param string) (int64, error) {
	vars := mux.Vars(r)
	candidates := []string{vars[param]}
	if param != "id" {
		candidates = append(candidates, vars["id"])
	}
	for _, raw := range candidates {
		if raw != "" {
			return parseClientID(raw)
		}
	}
	if raw, err := clientIDFromBody(r); err != nil {
		return 0, err
	} else if raw != "" {
		return parseClientID(raw)
	}
	if raw := r.URL.Query().Get("clientId"); raw != "" {
		return parseClientID(raw)
	}
	return 0, auth.MissingClientID()
}

// clientIDFromBody peeks at a JSON body and restores it for the handler.
func clientIDFromBody(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return "", nil
		}
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", auth.ErrInvalidInput, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	if len(bytes.TrimSpace(data)) == 0 {
		return "", nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil
	}
	raw, ok := fields["clientId"]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", nil
}

func parseClientID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, auth.NewError(auth.KindBadRequest, "INVALID_CLIENT_ID", "client id must be a positive integer").
			With("clientId", raw)
	}
	return id, nil
}
