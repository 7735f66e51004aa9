package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// refreshMargin is how long before expiry a cached backend token is replaced
const refreshMargin = time.Minute

// ErrDisabled is returned when no application credentials are configured.
var ErrDisabled = errors.New("token generation disabled: application credentials missing")

// defaultACL grants access to every client SDK path.
var defaultACL = map[string]interface{}{
	"paths": map[string]interface{}{
		"/*/users/**":         map[string]interface{}{},
		"/*/conversations/**": map[string]interface{}{},
		"/*/sessions/**":      map[string]interface{}{},
		"/*/devices/**":       map[string]interface{}{},
		"/*/image/**":         map[string]interface{}{},
		"/*/media/**":         map[string]interface{}{},
		"/*/applications/**":  map[string]interface{}{},
		"/*/push/**":          map[string]interface{}{},
		"/*/knocking/**":      map[string]interface{}{},
		"/*/legs/**":          map[string]interface{}{},
	},
}

// Generator mints application JWTs signed with the application's RSA key.
type Generator struct {
	applicationID string
	key           *rsa.PrivateKey
	ttl           time.Duration
	now           func() time.Time

	mu          sync.Mutex
	cached      string
	cachedUntil time.Time
}

// NewGenerator parses privateKeyPEM and returns a Generator for applicationID.
func NewGenerator(applicationID string, privateKeyPEM []byte, ttl time.Duration) (*Generator, error) {
	if strings.TrimSpace(applicationID) == "" || len(privateKeyPEM) == 0 {
		return nil, ErrDisabled
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Generator{
		applicationID: applicationID,
		key:           key,
		ttl:           ttl,
		now:           time.Now,
	}, nil
}

// BackendToken returns a token without a subject, used by this service against the
// control plane. It is cached until shortly before it expires.
func (g *Generator) BackendToken() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.cached != "" && now.Before(g.cachedUntil) {
		return g.cached, nil
	}

	signed, err := g.sign("", now)
	if err != nil {
		return "", err
	}
	g.cached = signed
	g.cachedUntil = now.Add(g.ttl - refreshMargin)
	return signed, nil
}

// UserToken returns a token for a client SDK user.
func (g *Generator) UserToken(username string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", fmt.Errorf("username is required")
	}
	return g.sign(username, g.now())
}

func (g *Generator) sign(subject string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"application_id": g.applicationID,
		"iat":            now.Unix(),
		"nbf":            now.Unix(),
		"exp":            now.Add(g.ttl).Unix(),
		"jti":            uuid.New().String(),
		"acl":            defaultACL,
	}
	if subject != "" {
		claims["sub"] = subject
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
