// Package server is the admin web interface: routing, the session guard
// and the page handlers.
package server

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pavelaron/pi-extender/internal/auth/token"
	"github.com/pavelaron/pi-extender/internal/config"
	"github.com/pavelaron/pi-extender/internal/httpx"
	"github.com/pavelaron/pi-extender/internal/metrics"
	"github.com/pavelaron/pi-extender/internal/ratelimit"
	"github.com/pavelaron/pi-extender/internal/store"
	"github.com/pavelaron/pi-extender/internal/wireless"
)

type Credentials interface {
	Authenticate(username, password string) (bool, error)
	SetCredential(current, username, password string) error
}

type Wireless interface {
	ListInterfaces(ctx context.Context) ([]string, error)
	ApplySettingsChange(ctx context.Context, c wireless.Change) (wireless.Report, error)
	ScheduleReboot() error
}

type Options struct {
	Config      config.Config
	Store       store.Store
	Tokens      *token.Manager
	Credentials Credentials
	Wireless    Wireless
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	Status      StatusFunc
	Logger      zerolog.Logger
}

type server struct {
	cfg      config.Config
	store    store.Store
	tokens   *token.Manager
	creds    Credentials
	wireless Wireless
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	status   StatusFunc
	guard    *Guard
	cookies  cookieSettings
	views    *views
	validate *validator.Validate
	log      zerolog.Logger
}

const loginWindow = 15 * time.Minute

func NewRouter(o Options) (http.Handler, error) {
	log := o.Logger.With().Str("component", "http").Logger()
	v, err := loadViews(log)
	if err != nil {
		return nil, err
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.New()
	}
	if o.Status == nil {
		o.Status = HostStatus
	}
	s := &server{
		cfg:      o.Config,
		store:    o.Store,
		tokens:   o.Tokens,
		creds:    o.Credentials,
		wireless: o.Wireless,
		limiter:  o.Limiter,
		metrics:  o.Metrics,
		status:   o.Status,
		guard:    NewGuard(o.Tokens, o.Config.SessionSecure, o.Metrics, o.Logger),
		cookies:  cookieSettings{secure: o.Config.SessionSecure, ttl: sessionTTL(o.Tokens)},
		views:    v,
		validate: validator.New(),
		log:      log,
	}
	s.guard.OnUnauthorized = s.unauthorized

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware(log, o.Metrics))
	r.Use(securityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.views.renderError(w, http.StatusNotFound, "Page not found")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if o.Config.MetricsEnabled && o.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.Metrics.Handler())
	}
	if fi, err := os.Stat(o.Config.StaticDir); err == nil && fi.IsDir() {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(o.Config.StaticDir))))
	}

	r.Post("/", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.guard.Middleware)
		r.Get("/", s.handleIndex)
		r.Get("/status", s.handleStatus)
		r.Get("/wireless-settings", s.handleWirelessForm)
		r.Get("/credential-settings", s.handleCredentialForm)
		r.Get("/logout", s.handleLogout)
		r.With(requireCSRF).Get("/restart", s.handleRestart)
		r.With(requireCSRF).Post("/save-wireless", s.handleSaveWireless)
		r.With(requireCSRF).Post("/save-credential", s.handleSaveCredential)

		r.Route("/api", func(r chi.Router) {
			r.Use(httprate.LimitByIP(60, time.Minute))
			r.Get("/interfaces", s.handleInterfaces)
		})
	})
	return r, nil
}

// unauthorized maps the guard's rejection to the login view, or to a JSON
// error for API callers.
func (s *server) unauthorized(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.views.render(w, http.StatusUnauthorized, "login", page{Title: "Sign in"})
}

// securityHeaders adds common security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; img-src 'self' data:; object-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
