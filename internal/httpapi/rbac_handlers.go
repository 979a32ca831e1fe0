package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"tourneyhub.io/internal/audit"
	"tourneyhub.io/internal/auth"
)

type assignRoleRequest struct {
	RoleID    int64      `json:"roleId"`
	ClientID  *int64     `json:"clientId"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.roles.ListRoles(r.Context())
	if err != nil {
		a.fail(w, r, err, "ROLES_FETCH_ERROR")
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeData(w, http.StatusOK, roles)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err, "ROLE_FETCH_ERROR")
		return
	}
	role, err := a.roles.GetRole(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "ROLE_FETCH_ERROR")
		return
	}
	writeData(w, http.StatusOK, role)
}

// handleUserRoles lists every grant of the user together with the roles that
// are effective in the optional clientId scope.
func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		a.fail(w, r, err, "USER_ROLES_FETCH_ERROR")
		return
	}
	clientID, err := queryID(r, "clientId")
	if err != nil {
		a.fail(w, r, err, "USER_ROLES_FETCH_ERROR")
		return
	}
	grants, err := a.roles.UserGrants(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, "USER_ROLES_FETCH_ERROR")
		return
	}
	effective, err := a.roles.EffectiveRoles(r.Context(), userID, clientID)
	if err != nil {
		a.fail(w, r, err, "USER_ROLES_FETCH_ERROR")
		return
	}
	if grants == nil {
		grants = []auth.Grant{}
	}
	if effective == nil {
		effective = []auth.Role{}
	}
	writeData(w, http.StatusOK, map[string]any{
		"userId":         userID,
		"grants":         grants,
		"effectiveRoles": effective,
	})
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		a.fail(w, r, err, "USER_PERMISSIONS_FETCH_ERROR")
		return
	}
	clientID, err := queryID(r, "clientId")
	if err != nil {
		a.fail(w, r, err, "USER_PERMISSIONS_FETCH_ERROR")
		return
	}
	perms, err := a.roles.EffectivePermissions(r.Context(), userID, clientID)
	if err != nil {
		a.fail(w, r, err, "USER_PERMISSIONS_FETCH_ERROR")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"userId":      userID,
		"clientId":    clientID,
		"permissions": perms.Names(),
	})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.IdentityFromContext(r.Context())
	userID, err := pathID(r, "userId")
	if err != nil {
		a.fail(w, r, err, "ROLE_ASSIGN_ERROR")
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err := a.engine.RequireRoleChange(actor, req.ClientID); err != nil {
		a.fail(w, r, err, "ROLE_ASSIGN_ERROR")
		return
	}
	by := actor.User.ID
	g, err := a.roles.AssignRole(r.Context(), actor, auth.GrantRequest{
		UserID:     userID,
		RoleID:     req.RoleID,
		ClientID:   req.ClientID,
		ExpiresAt:  req.ExpiresAt,
		AssignedBy: &by,
	})
	if err != nil {
		a.fail(w, r, err, "ROLE_ASSIGN_ERROR")
		return
	}
	a.audit(r, actor, audit.Entry{
		ClientID:     g.ClientID,
		Action:       "role.assigned",
		ResourceType: "user_role",
		ResourceID:   strconv.FormatInt(g.ID, 10),
		NewValues: map[string]any{
			"userId":    g.UserID,
			"role":      g.RoleName,
			"clientId":  g.ClientID,
			"expiresAt": g.ExpiresAt,
		},
	})
	writeData(w, http.StatusOK, g)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.IdentityFromContext(r.Context())
	userID, err := pathID(r, "userId")
	if err != nil {
		a.fail(w, r, err, "ROLE_REMOVE_ERROR")
		return
	}
	roleID, err := pathID(r, "roleId")
	if err != nil {
		a.fail(w, r, err, "ROLE_REMOVE_ERROR")
		return
	}
	clientID, err := queryID(r, "clientId")
	if err != nil {
		a.fail(w, r, err, "ROLE_REMOVE_ERROR")
		return
	}
	if err := a.engine.RequireRoleChange(actor, clientID); err != nil {
		a.fail(w, r, err, "ROLE_REMOVE_ERROR")
		return
	}
	if err := a.roles.RemoveRole(r.Context(), actor, userID, roleID, clientID); err != nil {
		a.fail(w, r, err, "ROLE_REMOVE_ERROR")
		return
	}
	a.audit(r, actor, audit.Entry{
		ClientID:     clientID,
		Action:       "role.removed",
		ResourceType: "user_role",
		ResourceID:   strconv.FormatInt(userID, 10),
		OldValues:    map[string]any{"roleId": roleID, "clientId": clientID},
	})
	writeData(w, http.StatusOK, map[string]any{"removed": true})
}

// handleClientAccess reports the caller's roles and permissions inside the
// client admitted by RequireClientAccess.
func (a *API) handleClientAccess(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	clientID, _ := auth.ClientIDFromContext(r.Context())
	roles, err := a.roles.EffectiveRoles(r.Context(), id.User.ID, &clientID)
	if err != nil {
		a.fail(w, r, err, auth.CodePermissionCheckError)
		return
	}
	perms, err := a.roles.EffectivePermissions(r.Context(), id.User.ID, &clientID)
	if err != nil {
		a.fail(w, r, err, auth.CodePermissionCheckError)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeData(w, http.StatusOK, map[string]any{
		"clientId":      clientID,
		"hasAccess":     true,
		"isMasterAdmin": id.SuperAdmin,
		"roles":         roles,
		"permissions":   perms.Names(),
	})
}

func (a *API) handleLegacyRoles(w http.ResponseWriter, r *http.Request) {
	legacy := a.engine.Legacy()
	writeData(w, http.StatusOK, map[string]any{
		"version": legacy.Version,
		"roles":   legacy.Roles,
	})
}
