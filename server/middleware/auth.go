package middleware

import (
	"context"
	"net/http"
	"strings"
)

// AuthPayload decouples the strategy from the HTTP transport.
type AuthPayload struct {
	Headers    map[string]string
	RemoteAddr string
	Method     string
	Path       string
}

// AuthStrategy verifies the request's credentials and returns a context
// enriched with the authenticated principal.
type AuthStrategy interface {
	Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error)
}

type AuthMiddleware struct {
	strategy AuthStrategy
}

func NewAuthMiddleware(strategy AuthStrategy) *AuthMiddleware {
	return &AuthMiddleware{
		strategy: strategy,
	}
}

// HTTPMiddleware adapts the HTTP request to an AuthPayload.
func (m *AuthMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := make(map[string]string)
		for k, v := range r.Header {
			if len(v) > 0 {
				headers[http.CanonicalHeaderKey(k)] = v[0]
			}
		}

		payload := AuthPayload{
			Headers:    headers,
			RemoteAddr: r.RemoteAddr,
			Method:     r.Method,
			Path:       r.URL.Path,
		}

		ctx, err := m.strategy.Authenticate(r.Context(), payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetHeader looks the key up case-insensitively.
func (p *AuthPayload) GetHeader(key string) string {
	if v, ok := p.Headers[key]; ok {
		return v
	}
	if v, ok := p.Headers[http.CanonicalHeaderKey(key)]; ok {
		return v
	}
	key = strings.ToLower(key)
	for k, v := range p.Headers {
		if strings.ToLower(k) == key {
			return v
		}
	}
	return ""
}
