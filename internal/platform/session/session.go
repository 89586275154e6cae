// Package session issues the short-lived access tokens browsers use to
// call the UI API. Tokens are bound to the context user they were issued
// for and are invalidated at logoff.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

var (
	ErrInvalidToken = errors.New("session: invalid token")
	ErrRevoked      = errors.New("session: token revoked")
)

const (
	DefaultTTL      = 8 * time.Hour
	defaultIssuer   = "context-app"
	cleanupInterval = 10 * time.Minute
)

// Claims are the access token claims. Generation ties a token to the
// logoff epoch it was issued in.
type Claims struct {
	jwt.RegisteredClaims
	User       string `json:"ctx_user"`
	Generation uint64 `json:"gen"`
}

// Manager signs and validates access tokens with an HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time

	// revoked holds individually revoked token ids until they expire.
	revoked *cache.Cache

	mu         sync.RWMutex
	generation uint64
}

// NewManager creates a Manager. A non-positive ttl selects DefaultTTL.
func NewManager(secret []byte, ttl time.Duration) (*Manager, error) {
	if len(secret) < 16 {
		return nil, errors.New("session: secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		secret:  secret,
		ttl:     ttl,
		issuer:  defaultIssuer,
		now:     time.Now,
		revoked: cache.New(ttl, cleanupInterval),
	}, nil
}

// Issue signs a token for user.
func (m *Manager) Issue(user string) (string, *Claims, error) {
	m.mu.RLock()
	gen := m.generation
	m.mu.RUnlock()

	now := m.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    m.issuer,
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		User:       user,
		Generation: gen,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	return token, claims, nil
}

// Validate parses token and checks signature, expiry and revocation.
func (m *Manager) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	m.mu.RLock()
	gen := m.generation
	m.mu.RUnlock()
	if claims.Generation != gen {
		return nil, ErrRevoked
	}
	if _, ok := m.revoked.Get(claims.ID); ok {
		return nil, ErrRevoked
	}
	return claims, nil
}

// Revoke invalidates a single token until it would have expired.
func (m *Manager) Revoke(claims *Claims) {
	ttl := m.ttl
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(m.now())
	}
	if ttl <= 0 {
		return
	}
	m.revoked.Set(claims.ID, struct{}{}, ttl)
}

// RevokeAll invalidates every token issued so far.
func (m *Manager) RevokeAll() {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()
	m.revoked.Flush()
}
