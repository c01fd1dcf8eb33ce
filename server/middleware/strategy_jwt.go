package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/provesi/orderflow/contextx"
	"github.com/provesi/orderflow/crypto"
)

// JWTStrategy authenticates Bearer tokens against the identity service's
// JWKS and stamps the principal id, role and source IP onto the context.
type JWTStrategy struct {
	verifier crypto.JWKSVerifier
	logger   *slog.Logger
}

func NewJWTStrategy(verifier crypto.JWKSVerifier, logger *slog.Logger) *JWTStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTStrategy{
		verifier: verifier,
		logger:   logger,
	}
}

func (s *JWTStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	authHeader := payload.GetHeader("Authorization")
	if authHeader == "" {
		return nil, errors.New("missing authorization header")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errors.New("invalid authorization header format")
	}

	claims, err := s.verifier.VerifyToken(parts[1])
	if err != nil {
		s.logger.WarnContext(ctx, "JWT verification failed", "error", err, "ip", payload.RemoteAddr)
		return nil, errors.New("invalid token")
	}

	if claims.Subject != "" {
		ctx = contextx.WithAuthPrincipalID(ctx, claims.Subject)
	}
	if claims.Role != "" {
		ctx = contextx.WithActorRole(ctx, claims.Role)
	}

	if host, _, splitErr := net.SplitHostPort(payload.RemoteAddr); splitErr == nil {
		ctx = contextx.WithSourceIP(ctx, host)
	} else if payload.RemoteAddr != "" {
		ctx = contextx.WithSourceIP(ctx, payload.RemoteAddr)
	}

	return ctx, nil
}
