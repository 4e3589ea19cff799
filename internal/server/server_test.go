package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/pavelaron/pi-extender/internal/auth/credentials"
	"github.com/pavelaron/pi-extender/internal/auth/token"
	"github.com/pavelaron/pi-extender/internal/config"
	"github.com/pavelaron/pi-extender/internal/metrics"
	"github.com/pavelaron/pi-extender/internal/shell"
	"github.com/pavelaron/pi-extender/internal/store"
	"github.com/pavelaron/pi-extender/internal/wireless"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	h       http.Handler
	tokens  *token.Manager
	clock   *clock
	rec     *shell.Recorder
	store   store.Store
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.StaticDir = ""
	cfg.MetricsEnabled = true
	for _, m := range mutate {
		m(&cfg)
	}
	st, err := store.Open(store.DriverBadger, cfg.DataDir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clk := &clock{t: time.Now()}
	tm := token.NewManager(token.StaticSecret("server-test-secret"), cfg.SessionTTL)
	tm.Now = clk.Now

	rec := &shell.Recorder{}
	m := metrics.New()
	orch := wireless.New(st, rec, m, zerolog.Nop())
	h, err := NewRouter(Options{
		Config:      cfg,
		Store:       st,
		Tokens:      tm,
		Credentials: credentials.New(st, zerolog.Nop()),
		Wireless:    orch,
		Metrics:     m,
		Status: func(context.Context) (SystemStatus, error) {
			return SystemStatus{Hostname: "extender", Interfaces: []InterfaceAddrs{{Name: "wlan0", Addrs: []string{"10.42.0.1/24"}}}}, nil
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{h: h, tokens: tm, clock: clk, rec: rec, store: st, metrics: m}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) sessionFor(t *testing.T, user string) *http.Cookie {
	t.Helper()
	tok, err := e.tokens.Issue(user)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Cookie{Name: CookieName, Value: tok}
}

func responseCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func postForm(path string, vals url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestMissingCookieRendersLogin(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `name="password"`) {
		t.Fatal("login view not rendered")
	}
	if responseCookie(rr, CookieName) != nil {
		t.Fatal("rejected request must not receive a session cookie")
	}
}

func TestRefreshOnEverySuccess(t *testing.T) {
	e := newTestEnv(t)
	old := e.sessionFor(t, "admin")
	oldClaims, _ := e.tokens.Validate(old.Value)

	e.clock.Advance(500 * time.Millisecond)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(old)
	rr := e.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	fresh := responseCookie(rr, CookieName)
	if fresh == nil || fresh.Value == old.Value {
		t.Fatal("cookie was not refreshed")
	}
	if !fresh.HttpOnly || fresh.Path != "/" {
		t.Fatalf("cookie attributes: %+v", fresh)
	}
	c, err := e.tokens.Validate(fresh.Value)
	if err != nil {
		t.Fatal(err)
	}
	if !c.ExpiresAt.After(oldClaims.ExpiresAt) {
		t.Fatalf("new expiry %v not after old %v", c.ExpiresAt, oldClaims.ExpiresAt)
	}
	if c.Subject != "admin" {
		t.Fatalf("subject = %q", c.Subject)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	e := newTestEnv(t)
	old := e.sessionFor(t, "admin")
	e.clock.Advance(11 * time.Minute)

	if _, err := e.tokens.Validate(old.Value); err != nil {
		t.Fatalf("validate alone should accept an expired token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.AddCookie(old)
	rr := e.do(req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestTamperedAndForeignTokensRejected(t *testing.T) {
	e := newTestEnv(t)
	foreign := token.NewManager(token.StaticSecret("someone-else"), 0)
	ftok, _ := foreign.Issue("admin")
	for _, v := range []string{"garbage", ftok, e.sessionFor(t, "admin").Value + "x"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: v})
		if rr := e.do(req); rr.Code != http.StatusUnauthorized {
			t.Errorf("token %.20q: status = %d", v, rr.Code)
		}
	}
}

func TestMissingSecretCollapsesToUnauthorized(t *testing.T) {
	e := newTestEnv(t)
	good := e.sessionFor(t, "admin")
	e.tokens.Secret = token.EnvSecret("EXTENDER_TEST_UNSET_SECRET")
	t.Setenv("EXTENDER_TEST_UNSET_SECRET", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(good)
	if rr := e.do(req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAuthenticateDirect(t *testing.T) {
	e := newTestEnv(t)
	g := NewGuard(e.tokens, false, nil, zerolog.Nop())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := g.Authenticate(rr, req); err != ErrUnauthorized {
		t.Fatalf("err = %v", err)
	}
	req.AddCookie(e.sessionFor(t, "operator"))
	id, err := g.Authenticate(rr, req)
	if err != nil || id.UserID != "operator" {
		t.Fatalf("id = %+v, err = %v", id, err)
	}
	if responseCookie(rr, CookieName) == nil {
		t.Fatal("no refreshed cookie")
	}
}

func TestLoginBootstrapsAdmin(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(postForm("/", url.Values{"username": {"admin"}, "password": {"changeme"}}))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Fatalf("status = %d location = %q", rr.Code, rr.Header().Get("Location"))
	}
	ck := responseCookie(rr, CookieName)
	if ck == nil {
		t.Fatal("no session cookie after login")
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	if rr := e.do(req); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Welcome, admin") {
		t.Fatalf("index status = %d", rr.Code)
	}
	if ok, _ := e.store.Has(credentials.DefaultUsername); !ok {
		t.Fatal("admin record missing")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(postForm("/", url.Values{"username": {"admin"}, "password": {"nope"}}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	if responseCookie(rr, CookieName) != nil {
		t.Fatal("failed login issued a cookie")
	}
}

func TestLoginRateLimited(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.RateLoginPer15m = 2 })
	for i := 0; i < 2; i++ {
		if rr := e.do(postForm("/", url.Values{"username": {"admin"}, "password": {"x"}})); rr.Code != http.StatusSeeOther {
			t.Fatalf("attempt %d: status = %d", i, rr.Code)
		}
	}
	rr := e.do(postForm("/", url.Values{"username": {"admin"}, "password": {"changeme"}}))
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("status = %d retry = %q", rr.Code, rr.Header().Get("Retry-After"))
	}
}

func TestLoginSuccessResetsLimit(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.RateLoginPer15m = 2 })
	login := func(pw string) *httptest.ResponseRecorder {
		return e.do(postForm("/", url.Values{"username": {"admin"}, "password": {pw}}))
	}
	if rr := login("wrong"); rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr := login("changeme"); responseCookie(rr, CookieName) == nil {
		t.Fatal("login failed")
	}
	for i := 0; i < 2; i++ {
		if rr := login("wrong"); rr.Code != http.StatusSeeOther {
			t.Fatalf("attempt %d after success: status = %d", i, rr.Code)
		}
	}
	if rr := login("wrong"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rr.Code)
	}
}

// csrfFor fetches a form page to obtain the csrf cookie.
func (e *testEnv) csrfFor(t *testing.T, sess *http.Cookie, path string) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.AddCookie(sess)
	rr := e.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET %s: %d", path, rr.Code)
	}
	ck := responseCookie(rr, CSRFCookieName)
	if ck == nil {
		t.Fatal("no csrf cookie")
	}
	if !strings.Contains(rr.Body.String(), ck.Value) {
		t.Fatal("csrf token missing from form")
	}
	return ck
}

func TestSaveWirelessFlow(t *testing.T) {
	e := newTestEnv(t)
	sess := e.sessionFor(t, "admin")
	csrf := e.csrfFor(t, sess, "/wireless-settings")
	e.rec.Reset()

	rr := e.do(postForm("/save-wireless", url.Values{
		"csrf_token":      {csrf.Value},
		"source_ssid":     {"HomeNet"},
		"source_password": {"secret123"},
		"ap_ssid":         {"attic"},
		"ap_password":     {"longpassword"},
		"ap_interface":    {"wlan0"},
	}, sess, csrf))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if v, _, _ := store.GetString(e.store, store.KeyAPSSID); v != "attic" {
		t.Fatalf("ap_ssid = %q", v)
	}
	lines := e.rec.Lines()
	if len(lines) != 3 || lines[0] != "nmcli dev wifi connect HomeNet password secret123" || !strings.Contains(lines[2], "reboot -h now") {
		t.Fatalf("commands = %q", lines)
	}
}

func TestSaveWirelessSurvivesClientCancel(t *testing.T) {
	e := newTestEnv(t)
	sess := e.sessionFor(t, "admin")
	csrf := e.csrfFor(t, sess, "/wireless-settings")
	e.rec.Reset()

	req := postForm("/save-wireless", url.Values{
		"csrf_token":      {csrf.Value},
		"source_ssid":     {"HomeNet"},
		"source_password": {"secret123"},
		"ap_ssid":         {"attic"},
		"ap_password":     {"longpassword"},
	}, sess, csrf)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	rr := e.do(req.WithContext(ctx))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	want := []string{
		"nmcli dev wifi connect HomeNet password secret123",
		"iw dev wlan0 set power_save off",
	}
	lines := e.rec.Lines()
	if len(lines) != 3 || lines[0] != want[0] || lines[1] != want[1] {
		t.Fatalf("commands = %q", lines)
	}
	got := testutil.ToFloat64(e.metrics.Commands.WithLabelValues("nmcli", "error")) + testutil.ToFloat64(e.metrics.Commands.WithLabelValues("iw", "error"))
	if got != 0 {
		t.Fatalf("%v commands failed after the client went away", got)
	}
}

func TestSaveWirelessRequiresCSRF(t *testing.T) {
	e := newTestEnv(t)
	sess := e.sessionFor(t, "admin")
	rr := e.do(postForm("/save-wireless", url.Values{"ap_ssid": {"attic"}, "ap_password": {"longpassword"}}, sess))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(e.rec.Calls()) != 0 {
		t.Fatal("commands issued without csrf")
	}
	if ok, _ := e.store.Has(store.KeyAPSSID); ok {
		t.Fatal("settings written without csrf")
	}
}

func TestSaveWirelessInvalid(t *testing.T) {
	e := newTestEnv(t)
	sess := e.sessionFor(t, "admin")
	csrf := e.csrfFor(t, sess, "/wireless-settings")
	e.rec.Reset()
	rr := e.do(postForm("/save-wireless", url.Values{
		"csrf_token":  {csrf.Value},
		"ap_ssid":     {"attic"},
		"ap_password": {"short"},
	}, sess, csrf))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	for _, l := range e.rec.Lines() {
		if !strings.Contains(l, "device status") {
			t.Fatalf("unexpected command %q", l)
		}
	}
}

func TestSaveCredentialReissuesSession(t *testing.T) {
	e := newTestEnv(t)
	if rr := e.do(postForm("/", url.Values{"username": {"admin"}, "password": {"changeme"}})); rr.Code != http.StatusSeeOther {
		t.Fatal("bootstrap login failed")
	}
	sess := e.sessionFor(t, "admin")
	csrf := e.csrfFor(t, sess, "/credential-settings")

	rr := e.do(postForm("/save-credential", url.Values{
		"csrf_token": {csrf.Value},
		"username":   {"operator"},
		"password":   {"n3w-secret"},
		"confirm":    {"n3w-secret"},
	}, sess, csrf))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	ck := responseCookie(rr, CookieName)
	if ck == nil {
		t.Fatal("no session cookie")
	}
	if n := len(rr.Result().Cookies()); n != 1 {
		t.Fatalf("expected exactly one token cookie, got %d cookies", n)
	}
	c, _ := e.tokens.Validate(ck.Value)
	if c.Subject != "operator" {
		t.Fatalf("subject = %q", c.Subject)
	}
	rr = e.do(postForm("/", url.Values{"username": {"operator"}, "password": {"n3w-secret"}}))
	if responseCookie(rr, CookieName) == nil {
		t.Fatal("new credentials rejected")
	}
}

func TestSaveCredentialMismatch(t *testing.T) {
	e := newTestEnv(t)
	sess := e.sessionFor(t, "admin")
	csrf := e.csrfFor(t, sess, "/credential-settings")
	rr := e.do(postForm("/save-credential", url.Values{
		"csrf_token": {csrf.Value},
		"username":   {"admin"},
		"password":   {"n3w-secret"},
		"confirm":    {"different"},
	}, sess, csrf))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "passwords do not match") {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(e.sessionFor(t, "admin"))
	rr := e.do(req)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	ck := responseCookie(rr, CookieName)
	if ck == nil || ck.MaxAge >= 0 || ck.Value != "" {
		t.Fatalf("cookie not cleared: %+v", ck)
	}
}

func TestRestartNeedsCSRF(t *testing.T) {
	e := newTestEnv(t)
	sess := e.sessionFor(t, "admin")
	req := httptest.NewRequest(http.MethodGet, "/restart", nil)
	req.AddCookie(sess)
	if rr := e.do(req); rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
	csrf := e.csrfFor(t, sess, "/")
	req = httptest.NewRequest(http.MethodGet, "/restart?csrf_token="+url.QueryEscape(csrf.Value), nil)
	req.AddCookie(sess)
	req.AddCookie(csrf)
	if rr := e.do(req); rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	calls := e.rec.Calls()
	if len(calls) != 1 || !calls[0].Detached {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestAPIInterfaces(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(httptest.NewRequest(http.MethodGet, "/api/interfaces", nil))
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), `"error"`) {
		t.Fatalf("unauthenticated: %d %s", rr.Code, rr.Body.String())
	}

	e.rec.Handler = func(shell.Call) (shell.Result, error) {
		return shell.Result{Stdout: []byte("wlan0:wifi:connected\nwlan1:wifi:disconnected\n")}, nil
	}
	req := httptest.NewRequest(http.MethodGet, "/api/interfaces", nil)
	req.AddCookie(e.sessionFor(t, "admin"))
	rr = e.do(req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"interfaces":["wlan0","wlan1"]`) {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestStatusPage(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.AddCookie(e.sessionFor(t, "admin"))
	rr := e.do(req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "10.42.0.1/24") {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestPublicEndpoints(t *testing.T) {
	e := newTestEnv(t)
	if rr := e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	e.do(httptest.NewRequest(http.MethodGet, "/", nil))
	rr := e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `extender_auth_rejections_total{reason="no_cookie"} 1`) {
		t.Fatalf("metrics = %d\n%s", rr.Code, rr.Body.String())
	}
	rr = e.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "Page not found") {
		t.Fatalf("404 = %d", rr.Code)
	}
}
