package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"tourneyhub.io/internal/audit"
	"tourneyhub.io/internal/auth"
	"tourneyhub.io/internal/tournament"
)

func statusForKind(k auth.Kind) int {
	switch k {
	case auth.KindUnauthenticated:
		return http.StatusUnauthorized
	case auth.KindForbidden:
		return http.StatusForbidden
	case auth.KindBadRequest:
		return http.StatusBadRequest
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the failure envelope. Details never override the
// envelope's own keys.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	}
	for k, v := range details {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		body["requestId"] = rid
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tourneyhub"`)
	}
	writeJSON(w, status, body)
}

// fail maps err onto a status and code. Internal causes are logged and never
// echoed to the client.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, fallbackCode string) {
	if ae, ok := auth.AsError(err); ok {
		status := statusForKind(ae.Kind)
		msg := ae.Message
		if status == http.StatusInternalServerError {
			a.log.Error("request failed",
				zap.String("code", ae.Code),
				zap.String("path", r.URL.Path),
				zap.Error(err))
		}
		writeError(w, r, status, ae.Code, msg, ae.Details)
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, auth.CodeInvalidCredentials, "invalid email or password", nil)
	case errors.Is(err, auth.ErrLastSuperAdmin):
		writeError(w, r, http.StatusConflict, "LAST_SUPER_ADMIN", err.Error(), nil)
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "CONFLICT", "resource already exists", nil)
	case errors.Is(err, tournament.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "TOURNAMENT_NOT_FOUND", "tournament not found", nil)
	case errors.Is(err, tournament.ErrGrantNotFound):
		writeError(w, r, http.StatusNotFound, "PERMISSION_NOT_FOUND", "permission not found", nil)
	case errors.Is(err, tournament.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, "TARGET_USER_NOT_FOUND", "user not found", nil)
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	default:
		a.log.Error("request failed",
			zap.String("code", fallbackCode),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, fallbackCode, "internal error", nil)
	}
}
