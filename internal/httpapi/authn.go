package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tourneyhub.io/internal/auth"
)

const authHeader = "Authorization"

// Authenticate resolves the bearer credential and stores the identity on
// the request context. Requests without a usable credential are rejected.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.fail(w, r, err, auth.CodeAuthError)
			return
		}
		id, err := a.resolver.Resolve(r.Context(), token)
		if err != nil {
			a.fail(w, r, err, auth.CodeAuthError)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches an identity when a valid credential is present and
// otherwise continues anonymously.
func (a *API) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		id, err := a.resolver.Resolve(r.Context(), token)
		if err != nil {
			a.log.Debug("optional auth ignored credential",
				zap.String("code", auth.CodeOf(err)),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.NoCredential()
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", auth.MalformedCredential()
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", auth.NoCredential()
	}
	return token, nil
}
