package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tourneyhub.io/internal/audit"
	"tourneyhub.io/internal/auth"
	"tourneyhub.io/internal/obs"
	"tourneyhub.io/internal/tournament"
)

// IdentityResolver turns a bearer credential into an identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, raw string) (auth.Identity, error)
}

// AccountService covers registration, login and session flows.
type AccountService interface {
	Register(ctx context.Context, in auth.RegisterInput) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	ProviderLogin(ctx context.Context, providerToken string) (auth.Session, error)
	Refresh(ctx context.Context, id auth.Identity) (auth.Session, error)
	Logout(ctx context.Context, id auth.Identity) error
}

// RoleService reads and mutates role grants.
type RoleService interface {
	ListRoles(ctx context.Context) ([]auth.Role, error)
	GetRole(ctx context.Context, id int64) (auth.Role, error)
	UserGrants(ctx context.Context, userID int64) ([]auth.Grant, error)
	EffectiveRoles(ctx context.Context, userID int64, clientID *int64) ([]auth.Role, error)
	EffectivePermissions(ctx context.Context, userID int64, clientID *int64) (auth.PermissionSet, error)
	AssignRole(ctx context.Context, actor auth.Identity, req auth.GrantRequest) (auth.Grant, error)
	RemoveRole(ctx context.Context, actor auth.Identity, userID, roleID int64, clientID *int64) error
}

// TournamentService is the per-tournament sharing layer.
type TournamentService interface {
	Tournament(ctx context.Context, id int64) (tournament.Tournament, error)
	GrantAccess(ctx context.Context, tournamentID, targetUserID int64, level tournament.Level, grantedBy int64) (tournament.Grant, error)
	RevokeAccess(ctx context.Context, tournamentID, targetUserID, revokedBy int64) (tournament.Grant, error)
	CheckAccess(ctx context.Context, tournamentID, userID int64, required tournament.Level) (tournament.Decision, error)
	ListEffective(ctx context.Context, userID, clientID int64) ([]tournament.Summary, error)
	Permissions(ctx context.Context, tournamentID int64) ([]tournament.Grant, error)
	CreateOwnerPermission(ctx context.Context, tournamentID, ownerID int64) (tournament.Grant, error)
}

// AuditReader queries the audit log.
type AuditReader interface {
	ClientLogs(ctx context.Context, clientID int64, limit, offset int) ([]audit.Entry, error)
	TournamentLogs(ctx context.Context, tournamentID int64, limit int) ([]audit.Entry, error)
}

// ReadyProbe reports whether dependencies are reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// RateLimitConfig sizes the per-IP token bucket on auth endpoints.
type RateLimitConfig struct {
	Burst     int
	PerSecond int
}

// Deps wires the API to its collaborators.
type Deps struct {
	Resolver     IdentityResolver
	Engine       *auth.Engine
	Accounts     AccountService
	Roles        RoleService
	Tournaments  TournamentService
	AuditLog     AuditReader
	Recorder     *audit.Recorder
	Ready        ReadyProbe
	Logger       *zap.Logger
	Version      string
	RateLimit    RateLimitConfig
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	router      *mux.Router
	resolver    IdentityResolver
	engine      *auth.Engine
	accounts    AccountService
	roles       RoleService
	tournaments TournamentService
	auditLog    AuditReader
	recorder    *audit.Recorder
	ready       ReadyProbe
	log         *zap.Logger
	version     string
	rateLimit   RateLimitConfig
	maxBody     int64
}

// New builds the API and registers its routes.
func New(d Deps) *API {
	a := &API{
		router:      mux.NewRouter(),
		resolver:    d.Resolver,
		engine:      d.Engine,
		accounts:    d.Accounts,
		roles:       d.Roles,
		tournaments: d.Tournaments,
		auditLog:    d.AuditLog,
		recorder:    d.Recorder,
		ready:       d.Ready,
		log:         d.Logger,
		version:     d.Version,
		rateLimit:   d.RateLimit,
		maxBody:     d.MaxBodyBytes,
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.engine == nil {
		legacy, _ := auth.DefaultLegacyRoles()
		a.engine = auth.NewEngine(legacy, a.log)
	}
	if a.rateLimit.Burst <= 0 || a.rateLimit.PerSecond <= 0 {
		a.rateLimit = RateLimitConfig{Burst: 10, PerSecond: 5}
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.Use(obs.Instrument)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	authRoutes := api.PathPrefix("/auth").Subrouter()
	authRoutes.Use(RateLimit(a.rateLimit.Burst, a.rateLimit.PerSecond))
	authRoutes.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	authRoutes.HandleFunc("/firebase", a.handleProviderLogin).Methods(http.MethodPost)
	authRoutes.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	authRoutes.Handle("/me", a.protect(a.handleMe)).Methods(http.MethodGet)
	authRoutes.Handle("/refresh", a.protect(a.handleRefresh)).Methods(http.MethodPost)
	authRoutes.Handle("/logout", a.protect(a.handleLogout)).Methods(http.MethodPost)

	api.Handle("/roles", a.protect(a.handleListRoles,
		a.RequireAnyPermission(auth.PermUsersManage, auth.PermRolesRead))).Methods(http.MethodGet)
	api.Handle("/roles/{id:[0-9]+}", a.protect(a.handleGetRole,
		a.RequireAnyPermission(auth.PermUsersManage, auth.PermRolesRead))).Methods(http.MethodGet)

	api.Handle("/users/{userId:[0-9]+}/roles", a.protect(a.handleUserRoles,
		a.RequireAnyPermission(auth.PermUsersRead, auth.PermUsersManage))).Methods(http.MethodGet)
	api.Handle("/users/{userId:[0-9]+}/roles", a.protect(a.handleAssignRole,
		a.RequirePermission(auth.PermUsersManage))).Methods(http.MethodPost)
	api.Handle("/users/{userId:[0-9]+}/roles/{roleId:[0-9]+}", a.protect(a.handleRemoveRole,
		a.RequirePermission(auth.PermUsersManage))).Methods(http.MethodDelete)
	api.Handle("/users/{userId:[0-9]+}/permissions", a.protect(a.handleUserPermissions,
		a.RequireAnyPermission(auth.PermUsersRead, auth.PermUsersManage))).Methods(http.MethodGet)

	api.Handle("/clients/{clientId:[0-9]+}/access", a.protect(a.handleClientAccess,
		a.RequireClientAccess("clientId"))).Methods(http.MethodGet)
	api.Handle("/clients/{clientId:[0-9]+}/audit", a.protect(a.handleClientAudit,
		a.RequireClientAccess("clientId"), a.RequirePermission(auth.PermAuditRead))).Methods(http.MethodGet)

	api.Handle("/tournaments", a.protect(a.handleListTournaments,
		a.RequireClientAccess("clientId"))).Methods(http.MethodGet)
	api.Handle("/tournaments/{tournamentId:[0-9]+}/permissions", a.protect(a.handleTournamentPermissions,
		a.RequireTournamentAccess(tournament.LevelViewer))).Methods(http.MethodGet)
	api.Handle("/tournaments/{tournamentId:[0-9]+}/permissions", a.protect(a.handleGrantAccess)).Methods(http.MethodPost)
	api.Handle("/tournaments/{tournamentId:[0-9]+}/permissions/{userId:[0-9]+}", a.protect(a.handleRevokeAccess)).Methods(http.MethodDelete)
	api.Handle("/tournaments/{tournamentId:[0-9]+}/owner", a.protect(a.handleAssignOwner,
		a.RequireSuperAdmin())).Methods(http.MethodPost)
	api.Handle("/tournaments/{tournamentId:[0-9]+}/access", a.protect(a.handleCheckAccess)).Methods(http.MethodGet)
	api.Handle("/tournaments/{tournamentId:[0-9]+}/audit", a.protect(a.handleTournamentAudit,
		a.RequireTournamentAccess(tournament.LevelEditor))).Methods(http.MethodGet)
	api.Handle("/tournaments/{tournamentId:[0-9]+}/visibility",
		a.OptionalAuth(http.HandlerFunc(a.handleVisibility))).Methods(http.MethodGet)

	api.Handle("/admin/legacy-roles", a.protect(a.handleLegacyRoles,
		a.RequireRole("master", "admin"))).Methods(http.MethodGet)
}

// protect authenticates the request and then applies gates in order.
func (a *API) protect(h http.HandlerFunc, gates ...func(http.Handler) http.Handler) http.Handler {
	var next http.Handler = h
	for i := len(gates) - 1; i >= 0; i-- {
		next = gates[i](next)
	}
	return a.Authenticate(next)
}

// Handler returns the fully wrapped root handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(a.log)(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tourneyhub-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, map[string]any{"success": true, "data": data})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", auth.ErrInvalidInput, name)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive integer", auth.ErrInvalidInput, name)
	}
	return &id, nil
}

func queryInt(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
