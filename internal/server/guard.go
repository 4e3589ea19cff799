package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pavelaron/pi-extender/internal/auth/token"
	"github.com/pavelaron/pi-extender/internal/metrics"
)

// ErrUnauthorized is the only error the guard reports, whatever the cause.
var ErrUnauthorized = errors.New("unauthorized")

type Identity struct {
	UserID string
}

type ctxKey string

const ctxIdentity ctxKey = "identity"

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

// IdentityFrom returns the identity the guard attached to ctx.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxIdentity).(Identity)
	return id, ok
}

// Guard authenticates requests by their session cookie and slides the
// session forward on every success.
type Guard struct {
	tokens  *token.Manager
	cookies cookieSettings
	log     zerolog.Logger
	metrics *metrics.Metrics

	// OnUnauthorized renders the rejection. Defaults to a bare 401.
	OnUnauthorized http.HandlerFunc
	// Now defaults to the token manager's clock.
	Now func() time.Time
}

func NewGuard(tokens *token.Manager, secure bool, m *metrics.Metrics, log zerolog.Logger) *Guard {
	return &Guard{
		tokens:  tokens,
		cookies: cookieSettings{secure: secure, ttl: sessionTTL(tokens)},
		log:     log.With().Str("component", "auth-guard").Logger(),
		metrics: m,
		Now:     tokens.Now,
	}
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Authenticate validates the session cookie, rejects expired sessions,
// and on success writes a freshly issued token to w.
func (g *Guard) Authenticate(w http.ResponseWriter, r *http.Request) (Identity, error) {
	ck, err := r.Cookie(CookieName)
	if err != nil || ck.Value == "" {
		return Identity{}, g.reject(r, "no_cookie", nil)
	}
	claims, err := g.tokens.Validate(ck.Value)
	if err != nil {
		return Identity{}, g.reject(r, rejectReason(err), err)
	}
	if claims.Expired(g.now()) {
		return Identity{}, g.reject(r, "expired", nil)
	}
	fresh, err := g.tokens.Issue(claims.Subject)
	if err != nil {
		return Identity{}, g.reject(r, "refresh_failed", err)
	}
	g.cookies.setSession(w, fresh)
	return Identity{UserID: claims.Subject}, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, token.ErrConfig):
		return "config"
	case errors.Is(err, token.ErrInvalidSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}

func (g *Guard) reject(r *http.Request, reason string, err error) error {
	g.metrics.AuthRejected(reason)
	ev := g.log.Debug()
	if reason == "config" || reason == "refresh_failed" {
		ev = g.log.Warn()
	}
	ev.Err(err).Str("reason", reason).Str("path", r.URL.Path).Msg("request rejected")
	return ErrUnauthorized
}

// Middleware runs next with the caller's identity in the request context
// or answers through OnUnauthorized.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.Authenticate(w, r)
		if err != nil {
			if g.OnUnauthorized != nil {
				g.OnUnauthorized(w, r)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func sessionTTL(m *token.Manager) time.Duration {
	if m.TTL <= 0 {
		return token.DefaultTTL
	}
	return m.TTL
}
