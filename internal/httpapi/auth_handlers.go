package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tourneyhub.io/internal/audit"
	"tourneyhub.io/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type providerLoginRequest struct {
	IDToken string `json:"idToken"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type identityView struct {
	User        auth.User   `json:"user"`
	Roles       []auth.Role `json:"roles"`
	Permissions []string    `json:"permissions"`
	ClientIDs   []int64     `json:"clientIds"`
	SuperAdmin  bool        `json:"isMasterAdmin"`
	Source      auth.Source `json:"source"`
}

type sessionView struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Identity  identityView `json:"identity"`
}

func viewIdentity(id auth.Identity) identityView {
	roles := id.Roles
	if roles == nil {
		roles = []auth.Role{}
	}
	clients := id.ClientIDs()
	if clients == nil {
		clients = []int64{}
	}
	return identityView{
		User:        id.User,
		Roles:       roles,
		Permissions: id.Permissions.Names(),
		ClientIDs:   clients,
		SuperAdmin:  id.SuperAdmin,
		Source:      id.Source,
	}
}

func viewSession(s auth.Session) sessionView {
	return sessionView{Token: s.Token, ExpiresAt: s.ExpiresAt, Identity: viewIdentity(s.Identity)}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required", nil)
		return
	}
	s, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err, auth.CodeAuthError)
		return
	}
	a.audit(r, s.Identity, audit.Entry{
		Action:       "auth.login",
		ResourceType: "user",
		ResourceID:   strconv.FormatInt(s.Identity.User.ID, 10),
		NewValues:    map[string]any{"source": s.Identity.Source},
	})
	writeData(w, http.StatusOK, viewSession(s))
}

func (a *API) handleProviderLogin(w http.ResponseWriter, r *http.Request) {
	var req providerLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "idToken is required", nil)
		return
	}
	s, err := a.accounts.ProviderLogin(r.Context(), req.IDToken)
	if err != nil {
		a.fail(w, r, err, auth.CodeAuthError)
		return
	}
	a.audit(r, s.Identity, audit.Entry{
		Action:       "auth.login",
		ResourceType: "user",
		ResourceID:   strconv.FormatInt(s.Identity.User.ID, 10),
		NewValues:    map[string]any{"source": s.Identity.Source},
	})
	writeData(w, http.StatusOK, viewSession(s))
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	s, err := a.accounts.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		a.fail(w, r, err, auth.CodeAuthError)
		return
	}
	a.audit(r, s.Identity, audit.Entry{
		Action:       "user.registered",
		ResourceType: "user",
		ResourceID:   strconv.FormatInt(s.Identity.User.ID, 10),
		NewValues: map[string]any{
			"email": s.Identity.User.Email,
			"roles": s.Identity.RoleNames(),
		},
	})
	writeData(w, http.StatusCreated, viewSession(s))
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	writeData(w, http.StatusOK, viewIdentity(id))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	s, err := a.accounts.Refresh(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, auth.CodeAuthError)
		return
	}
	writeData(w, http.StatusOK, viewSession(s))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	if err := a.accounts.Logout(r.Context(), id); err != nil {
		a.fail(w, r, err, auth.CodeAuthError)
		return
	}
	a.audit(r, id, audit.Entry{
		Action:       "auth.logout",
		ResourceType: "user",
		ResourceID:   strconv.FormatInt(id.User.ID, 10),
	})
	writeData(w, http.StatusOK, map[string]any{"loggedOut": true})
}

// audit records e on behalf of actor with request metadata attached.
func (a *API) audit(r *http.Request, actor auth.Identity, e audit.Entry) {
	if e.UserID == nil && actor.User.ID > 0 {
		uid := actor.User.ID
		e.UserID = &uid
	}
	if e.UserName == "" {
		e.UserName = actor.User.Name
	}
	if e.ClientID == nil {
		if cid, ok := auth.ClientIDFromContext(r.Context()); ok {
			e.ClientID = &cid
		}
	}
	e.IP = clientIP(r)
	e.UserAgent = r.UserAgent()
	a.recorder.Record(r.Context(), e)
}
