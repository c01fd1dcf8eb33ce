package crypto

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("crypto: invalid token")
	ErrExpiredToken = errors.New("crypto: token expired")
)

// JWKSVerifier checks a bearer token against the identity service's
// published signing keys.
type JWKSVerifier interface {
	VerifyToken(tokenString string) (*Claims, error)
}

type jwks struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// CachingClient keeps the key set in memory and refreshes it on a timer.
// A failed refresh keeps serving the previous keys.
type CachingClient struct {
	jwksURL string
	issuer  string

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey

	log    *slog.Logger
	client *http.Client
}

// NewJWKSCachingClient fetches the key set once, fatally if that fails, and
// then refreshes it in the background every interval.
func NewJWKSCachingClient(jwksURL, issuer string, refreshInterval time.Duration, logger *slog.Logger) (JWKSVerifier, error) {
	if jwksURL == "" || issuer == "" {
		return nil, errors.New("crypto: jwks url and issuer are required")
	}

	c := &CachingClient{
		jwksURL: jwksURL,
		issuer:  issuer,
		keys:    make(map[string]*rsa.PublicKey),
		log:     logger.With("component", "jwks"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}

	if err := c.refresh(context.Background()); err != nil {
		return nil, fmt.Errorf("crypto: initial jwks fetch failed: %w", err)
	}

	go c.refreshLoop(context.Background(), refreshInterval)

	return c, nil
}

func (c *CachingClient) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.refresh(refreshCtx); err != nil {
				c.log.Warn("jwks refresh failed, keeping previous keys", "error", err)
			}
			cancel()
		}
	}
}

func (c *CachingClient) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	fresh := make(map[string]*rsa.PublicKey)
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Use != "sig" || k.Kid == "" {
			continue
		}
		pub, err := k.toRSAPublicKey()
		if err != nil {
			c.log.Warn("skipping unusable jwk", "kid", k.Kid, "error", err)
			continue
		}
		fresh[k.Kid] = pub
	}
	if len(fresh) == 0 {
		return errors.New("jwks contains no usable RSA signature keys")
	}

	c.mu.Lock()
	c.keys = fresh
	c.mu.Unlock()

	return nil
}

func (j *jsonWebKey) toRSAPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	if len(eBytes) == 0 {
		return nil, errors.New("empty exponent")
	}

	e := 0
	for _, b := range eBytes {
		e = (e << 8) | int(b)
	}
	if e == 0 {
		return nil, errors.New("zero exponent")
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

func (c *CachingClient) lookup(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok
}

// VerifyToken resolves the token's kid against the cached key set, refreshing
// once on a miss to pick up freshly rotated keys, then verifies signature,
// issuer and expiry.
func (c *CachingClient) VerifyToken(tokenString string) (*Claims, error) {
	unverified, _ := jwt.Parse(tokenString, nil)
	if unverified == nil {
		return nil, ErrInvalidToken
	}
	kid, ok := unverified.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrInvalidToken)
	}

	key, found := c.lookup(kid)
	if !found {
		if err := c.refresh(context.Background()); err != nil {
			c.log.Warn("jwks refresh on unknown kid failed", "kid", kid, "error", err)
			return nil, ErrInvalidToken
		}
		if key, found = c.lookup(kid); !found {
			return nil, ErrInvalidToken
		}
	}

	return c.verifyWithKey(tokenString, key)
}

func (c *CachingClient) verifyWithKey(tokenString string, key *rsa.PublicKey) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return key, nil
		},
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
