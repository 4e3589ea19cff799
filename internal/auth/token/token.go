// Package token mints and verifies the signed session tokens carried in the
// admin cookie.
package token

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = 10 * time.Minute

// Precision of iat/exp. Sub-second so a refresh within the same second
// still moves the expiry forward.
const Precision = time.Millisecond

func init() {
	// encode with headroom below Precision; decoded values are rounded back
	jwt.TimePrecision = time.Microsecond
}

var (
	// ErrConfig means no signing secret is available.
	ErrConfig           = errors.New("token: signing secret not configured")
	ErrMalformed        = errors.New("token: malformed")
	ErrInvalidSignature = errors.New("token: invalid signature")
)

// IsTokenError reports whether err describes a bad token rather than a
// server-side problem.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrInvalidSignature)
}

// SecretSource yields the signing key. It is consulted on every Issue and
// Validate so a rotated secret applies immediately.
type SecretSource interface {
	Secret() ([]byte, error)
}

// EnvSecret reads the named environment variable.
type EnvSecret string

func (e EnvSecret) Secret() ([]byte, error) {
	v := os.Getenv(string(e))
	if v == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrConfig, string(e))
	}
	return []byte(v), nil
}

type StaticSecret []byte

func (s StaticSecret) Secret() ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrConfig
	}
	return s, nil
}

type SessionClaims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// Expired reports whether the session ended strictly before now.
func (c SessionClaims) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

type Manager struct {
	Secret SecretSource
	TTL    time.Duration
	Now    func() time.Time
}

func NewManager(secret SecretSource, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{Secret: secret, TTL: ttl, Now: time.Now}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) ttl() time.Duration {
	if m.TTL <= 0 {
		return DefaultTTL
	}
	return m.TTL
}

// Issue signs a fresh token for subject valid from now for the TTL.
func (m *Manager) Issue(subject string) (string, error) {
	key, err := m.Secret.Secret()
	if err != nil {
		return "", err
	}
	now := m.now().Truncate(Precision)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl())),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate checks structure and signature. Expiry is left to the caller; see
// SessionClaims.Expired.
func (m *Manager) Validate(tok string) (SessionClaims, error) {
	key, err := m.Secret.Secret()
	if err != nil {
		return SessionClaims{}, err
	}
	p := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	var rc jwt.RegisteredClaims
	_, err = p.ParseWithClaims(tok, &rc, func(*jwt.Token) (interface{}, error) { return key, nil })
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rc.Subject == "" || rc.ExpiresAt == nil || rc.IssuedAt == nil {
		return SessionClaims{}, fmt.Errorf("%w: missing claims", ErrMalformed)
	}
	return SessionClaims{
		Subject:   rc.Subject,
		IssuedAt:  rc.IssuedAt.Time.Round(Precision),
		ExpiresAt: rc.ExpiresAt.Time.Round(Precision),
		ID:        rc.ID,
	}, nil
}
