package server

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pavelaron/pi-extender/internal/auth/credentials"
	"github.com/pavelaron/pi-extender/internal/httpx"
	"github.com/pavelaron/pi-extender/internal/wireless"
)

type loginForm struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required,max=256"`
}

type credentialForm struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required,min=8,max=256"`
	Confirm  string `validate:"eqfield=Password"`
}

type wirelessView struct {
	wireless.Change
	Interfaces []string
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func identity(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

func (s *server) page(w http.ResponseWriter, r *http.Request, title string, data any) page {
	return page{
		Title: title,
		User:  identity(r).UserID,
		CSRF:  s.cookies.ensureCSRF(w, r),
		Data:  data,
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	limitKey := "login:" + clientKey(r)
	if limit := s.cfg.RateLoginPer15m; limit > 0 {
		ok, _, reset := s.limiter.Allow(limitKey, limit, loginWindow)
		if !ok {
			retry := int(math.Ceil(time.Until(reset).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			s.views.render(w, http.StatusTooManyRequests, "login", page{Title: "Sign in", Error: "Too many attempts, try again later."})
			return
		}
	}
	f := loginForm{Username: r.PostFormValue("username"), Password: r.PostFormValue("password")}
	if err := s.validate.Struct(f); err != nil {
		s.metrics.Login(false)
		redirectHome(w, r)
		return
	}
	ok, err := s.creds.Authenticate(f.Username, f.Password)
	if err != nil {
		s.log.Error().Err(err).Msg("authenticate")
		s.views.renderError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.metrics.Login(ok)
	if !ok {
		s.log.Info().Str("user", f.Username).Str("ip", clientKey(r)).Msg("login failed")
		redirectHome(w, r)
		return
	}
	tok, err := s.tokens.Issue(f.Username)
	if err != nil {
		s.log.Error().Err(err).Msg("issue session token")
		s.views.renderError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.cookies.setSession(w, tok)
	s.limiter.Reset(limitKey)
	s.log.Info().Str("user", f.Username).Msg("login")
	redirectHome(w, r)
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.views.render(w, http.StatusOK, "index", s.page(w, r, "Home", nil))
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("collect system status")
	}
	s.views.render(w, http.StatusOK, "status", s.page(w, r, "Status", st))
}

func (s *server) handleWirelessForm(w http.ResponseWriter, r *http.Request) {
	cur, err := wireless.LoadSettings(s.store)
	if err != nil {
		s.log.Error().Err(err).Msg("load wireless settings")
		s.views.renderError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	view := wirelessView{Change: wireless.Change{
		SourceSSID:     cur.SourceSSID,
		SourcePassword: cur.SourcePassword,
		APSSID:         cur.APSSID,
		APPassword:     cur.APPassword,
		APInterface:    cur.APInterface,
	}}
	s.renderWireless(w, r, http.StatusOK, view, "")
}

func (s *server) renderWireless(w http.ResponseWriter, r *http.Request, status int, view wirelessView, msg string) {
	ifs, err := s.wireless.ListInterfaces(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("list wireless interfaces")
	}
	view.Interfaces = ifs
	p := s.page(w, r, "Wireless", view)
	p.Error = msg
	s.views.render(w, status, "wireless", p)
}

func (s *server) handleSaveWireless(w http.ResponseWriter, r *http.Request) {
	c := wireless.Change{
		SourceSSID:     r.PostFormValue("source_ssid"),
		SourcePassword: r.PostFormValue("source_password"),
		APSSID:         r.PostFormValue("ap_ssid"),
		APPassword:     r.PostFormValue("ap_password"),
		APInterface:    r.PostFormValue("ap_interface"),
	}
	rep, err := s.wireless.ApplySettingsChange(r.Context(), c)
	switch {
	case errors.Is(err, wireless.ErrInvalidSettings):
		s.renderWireless(w, r, http.StatusBadRequest, wirelessView{Change: c}, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Msg("save wireless settings")
		s.views.renderError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.log.Info().Str("user", identity(r).UserID).Str("steps", rep.String()).Msg("wireless settings applied")
	redirectHome(w, r)
}

func (s *server) handleCredentialForm(w http.ResponseWriter, r *http.Request) {
	s.views.render(w, http.StatusOK, "credential", s.page(w, r, "Credentials", identity(r).UserID))
}

func (s *server) handleSaveCredential(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	f := credentialForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
		Confirm:  r.PostFormValue("confirm"),
	}
	fail := func(msg string) {
		p := s.page(w, r, "Credentials", f.Username)
		p.Error = msg
		s.views.render(w, http.StatusBadRequest, "credential", p)
	}
	if err := s.validate.Struct(f); err != nil {
		fail(describeValidation(err))
		return
	}
	err := s.creds.SetCredential(id.UserID, f.Username, f.Password)
	switch {
	case errors.Is(err, credentials.ErrInvalidUsername), errors.Is(err, credentials.ErrEmptyPassword):
		fail(err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Msg("save credential")
		s.views.renderError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	tok, err := s.tokens.Issue(f.Username)
	if err != nil {
		s.log.Error().Err(err).Msg("issue session token")
		s.views.renderError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.cookies.setSession(w, tok)
	redirectHome(w, r)
}

func (s *server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.wireless.ScheduleReboot(); err != nil {
		s.views.renderError(w, http.StatusInternalServerError, "Could not schedule the restart")
		return
	}
	s.log.Warn().Str("user", identity(r).UserID).Msg("restart requested")
	redirectHome(w, r)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.cookies.clearSession(w)
	redirectHome(w, r)
}

func (s *server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	ifs, err := s.wireless.ListInterfaces(r.Context())
	if err != nil {
		httpx.WriteTypedError(w, http.StatusBadGateway, "interfaces.query_failed", "could not query network interfaces", 0)
		return
	}
	if ifs == nil {
		ifs = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"interfaces": ifs})
}

func describeValidation(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid input"
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", strings.ToLower(fe.Field()), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", strings.ToLower(fe.Field()), fe.Param())
	case "eqfield":
		return "passwords do not match"
	}
	return fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
}
