package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware rejects requests without a valid bearer token and stores the
// verified claims on the request context.
type Middleware struct {
	Config Config
	// Public reports requests that skip authentication.
	Public func(r *http.Request) bool
}

// NewMiddleware leaves /healthz and /metrics open.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{Config: cfg, Public: func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}}
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Public != nil && m.Public(r) {
			next.ServeHTTP(w, r)
			return
		}
		raw, err := bearerToken(r)
		if err == nil {
			var claims *Claims
			if claims, err = Parse(raw, m.Config); err == nil {
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
				return
			}
		}
		unauthorized(w, err)
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalidToken
	}
	return token, nil
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="emissions"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthenticated", "detail": err.Error()})
}
