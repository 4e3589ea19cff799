package server

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	CookieName     = "token"
	CSRFCookieName = "csrf"
	CSRFFormField  = "csrf_token"
	CSRFHeader     = "X-CSRF-Token"
)

type cookieSettings struct {
	secure bool
	ttl    time.Duration
}

// setSession writes the session cookie, replacing any token cookie already
// queued on this response.
func (c cookieSettings) setSession(w http.ResponseWriter, value string) {
	dropSetCookie(w, CookieName)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.ttl.Seconds()),
	})
}

func (c cookieSettings) clearSession(w http.ResponseWriter) {
	dropSetCookie(w, CookieName)
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", HttpOnly: true, Secure: c.secure, SameSite: http.SameSiteLaxMode, MaxAge: -1})
}

func dropSetCookie(w http.ResponseWriter, name string) {
	h := w.Header()
	kept := h["Set-Cookie"][:0]
	for _, v := range h["Set-Cookie"] {
		if !strings.HasPrefix(v, name+"=") {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		h.Del("Set-Cookie")
		return
	}
	h["Set-Cookie"] = kept
}

// ensureCSRF returns the request's CSRF token, issuing a new cookie when
// there is none.
func (c cookieSettings) ensureCSRF(w http.ResponseWriter, r *http.Request) string {
	if ck, err := r.Cookie(CSRFCookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	v := base64.RawURLEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
	http.SetCookie(w, &http.Cookie{Name: CSRFCookieName, Value: v, Path: "/", Secure: c.secure, SameSite: http.SameSiteStrictMode, Expires: time.Now().Add(24 * time.Hour)})
	return v
}

func csrfValid(r *http.Request) bool {
	ck, err := r.Cookie(CSRFCookieName)
	if err != nil || ck.Value == "" {
		return false
	}
	got := r.Header.Get(CSRFHeader)
	if got == "" {
		got = r.FormValue(CSRFFormField)
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(ck.Value)) == 1
}

// requireCSRF enforces the double-submit token on every request it wraps.
func requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !csrfValid(r) {
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
