package httpapi

import (
	"net/http"
	"strconv"

	"tourneyhub.io/internal/audit"
	"tourneyhub.io/internal/auth"
	"tourneyhub.io/internal/tournament"
)

type grantAccessRequest struct {
	UserID          int64  `json:"userId"`
	PermissionLevel string `json:"permissionLevel"`
}

type ownerRequest struct {
	UserID int64 `json:"userId"`
}

func (a *API) handleListTournaments(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	clientID, _ := auth.ClientIDFromContext(r.Context())
	list, err := a.tournaments.ListEffective(r.Context(), id.User.ID, clientID)
	if err != nil {
		a.fail(w, r, err, "TOURNAMENTS_FETCH_ERROR")
		return
	}
	if list == nil {
		list = []tournament.Summary{}
	}
	writeData(w, http.StatusOK, list)
}

func (a *API) handleTournamentPermissions(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := pathID(r, "tournamentId")
	if err != nil {
		a.fail(w, r, err, "PERMISSIONS_FETCH_ERROR")
		return
	}
	grants, err := a.tournaments.Permissions(r.Context(), tournamentID)
	if err != nil {
		a.fail(w, r, err, "PERMISSIONS_FETCH_ERROR")
		return
	}
	if grants == nil {
		grants = []tournament.Grant{}
	}
	writeData(w, http.StatusOK, grants)
}

func (a *API) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.IdentityFromContext(r.Context())
	tournamentID, err := pathID(r, "tournamentId")
	if err != nil {
		a.fail(w, r, err, "PERMISSION_GRANT_ERROR")
		return
	}
	var req grantAccessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	level, err := tournament.ParseLevel(req.PermissionLevel)
	if err != nil {
		a.fail(w, r, tournament.InvalidLevel(req.PermissionLevel), "PERMISSION_GRANT_ERROR")
		return
	}
	t, err := a.tournaments.Tournament(r.Context(), tournamentID)
	if err != nil {
		a.fail(w, r, err, "PERMISSION_GRANT_ERROR")
		return
	}
	g, err := a.tournaments.GrantAccess(r.Context(), tournamentID, req.UserID, level, actor.User.ID)
	if err != nil {
		a.fail(w, r, err, "PERMISSION_GRANT_ERROR")
		return
	}
	clientID := t.ClientID
	a.audit(r, actor, audit.Entry{
		ClientID:     &clientID,
		Action:       "tournament.access.granted",
		ResourceType: "tournament",
		ResourceID:   strconv.FormatInt(tournamentID, 10),
		NewValues: map[string]any{
			"userId":          g.UserID,
			"permissionLevel": g.Level,
		},
	})
	writeData(w, http.StatusOK, g)
}

func (a *API) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.IdentityFromContext(r.Context())
	tournamentID, err := pathID(r, "tournamentId")
	if err != nil {
		a.fail(w, r, err, "PERMISSION_REVOKE_ERROR")
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		a.fail(w, r, err, "PERMISSION_REVOKE_ERROR")
		return
	}
	t, err := a.tournaments.Tournament(r.Context(), tournamentID)
	if err != nil {
		a.fail(w, r, err, "PERMISSION_REVOKE_ERROR")
		return
	}
	g, err := a.tournaments.RevokeAccess(r.Context(), tournamentID, userID, actor.User.ID)
	if err != nil {
		a.fail(w, r, err, "PERMISSION_REVOKE_ERROR")
		return
	}
	clientID := t.ClientID
	a.audit(r, actor, audit.Entry{
		ClientID:     &clientID,
		Action:       "tournament.access.revoked",
		ResourceType: "tournament",
		ResourceID:   strconv.FormatInt(tournamentID, 10),
		OldValues: map[string]any{
			"userId":          g.UserID,
			"permissionLevel": g.Level,
		},
	})
	writeData(w, http.StatusOK, map[string]any{"revoked": true})
}

// handleCheckAccess answers whether the caller reaches ?level= (viewer by
// default) on the tournament.
func (a *API) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	tournamentID, err := pathID(r, "tournamentId")
	if err != nil {
		a.fail(w, r, err, auth.CodePermissionCheckError)
		return
	}
	required := tournament.LevelViewer
	if raw := r.URL.Query().Get("level"); raw != "" {
		required, err = tournament.ParseLevel(raw)
		if err != nil {
			a.fail(w, r, tournament.InvalidLevel(raw), auth.CodePermissionCheckError)
			return
		}
	}
	d, err := a.tournaments.CheckAccess(r.Context(), tournamentID, id.User.ID, required)
	if err != nil {
		a.fail(w, r, err, auth.CodePermissionCheckError)
		return
	}
	writeData(w, http.StatusOK, d)
}

// handleVisibility serves anonymous callers the tournament's visibility and
// adds the caller's decision when a credential was presented.
func (a *API) handleVisibility(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := pathID(r, "tournamentId")
	if err != nil {
		a.fail(w, r, err, auth.CodePermissionCheckError)
		return
	}
	t, err := a.tournaments.Tournament(r.Context(), tournamentID)
	if err != nil {
		a.fail(w, r, err, auth.CodePermissionCheckError)
		return
	}
	out := map[string]any{
		"tournamentId":  t.ID,
		"accessControl": t.AccessControl,
		"authenticated": false,
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		d, err := a.tournaments.CheckAccess(r.Context(), tournamentID, id.User.ID, tournament.LevelViewer)
		if err != nil {
			a.fail(w, r, err, auth.CodePermissionCheckError)
			return
		}
		out["authenticated"] = true
		out["access"] = d
	}
	writeData(w, http.StatusOK, out)
}

// handleAssignOwner records the creator of a tournament as its owner.
func (a *API) handleAssignOwner(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.IdentityFromContext(r.Context())
	tournamentID, err := pathID(r, "tournamentId")
	if err != nil {
		a.fail(w, r, err, "PERMISSION_GRANT_ERROR")
		return
	}
	var req ownerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	t, err := a.tournaments.Tournament(r.Context(), tournamentID)
	if err != nil {
		a.fail(w, r, err, "PERMISSION_GRANT_ERROR")
		return
	}
	g, err := a.tournaments.CreateOwnerPermission(r.Context(), tournamentID, req.UserID)
	if err != nil {
		a.fail(w, r, err, "PERMISSION_GRANT_ERROR")
		return
	}
	clientID := t.ClientID
	a.audit(r, actor, audit.Entry{
		ClientID:     &clientID,
		Action:       "tournament.owner.assigned",
		ResourceType: "tournament",
		ResourceID:   strconv.FormatInt(tournamentID, 10),
		NewValues:    map[string]any{"userId": g.UserID, "permissionLevel": g.Level},
	})
	writeData(w, http.StatusCreated, g)
}
