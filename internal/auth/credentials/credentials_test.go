package credentials

import (
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"

	"github.com/pavelaron/pi-extender/internal/store"
)

func newService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.Open(store.DriverBadger, t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, zerolog.Nop()), st
}

func TestSaltCreatedOnceAndReused(t *testing.T) {
	svc, st := newService(t)
	a, err := svc.Salt()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != SaltLength {
		t.Fatalf("salt length %d", len(a))
	}
	b, _ := svc.Salt()
	if a != b {
		t.Fatalf("salt changed: %q -> %q", a, b)
	}
	v, ok, _ := store.GetString(st, SaltKey)
	if !ok || v != a {
		t.Fatalf("stored salt = %q, %v", v, ok)
	}
}

func TestGenerateSaltAlphabet(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := GenerateSalt()
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range s {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				t.Fatalf("non-alphanumeric %q in %q", r, s)
			}
		}
		seen[s] = true
	}
	if len(seen) < 45 {
		t.Fatalf("salts not random enough: %d distinct", len(seen))
	}
}

func TestFirstLoginBootstrapsAdmin(t *testing.T) {
	svc, st := newService(t)
	ok, err := svc.Authenticate("admin", "changeme")
	if err != nil || !ok {
		t.Fatalf("first login = %v, %v", ok, err)
	}
	before, present, _ := store.GetString(st, DefaultUsername)
	if !present {
		t.Fatal("admin record not persisted")
	}

	ok, err = svc.Authenticate("admin", "wrong")
	if err != nil || ok {
		t.Fatalf("wrong password = %v, %v", ok, err)
	}
	after, _, _ := store.GetString(st, DefaultUsername)
	if before != after {
		t.Fatal("failed login altered the stored record")
	}
}

func TestUnknownUserBootstrapsUnderAdmin(t *testing.T) {
	svc, st := newService(t)
	ok, err := svc.Authenticate("mallory", "changeme")
	if err != nil || ok {
		t.Fatalf("unknown user = %v, %v", ok, err)
	}
	if has, _ := st.Has("mallory"); has {
		t.Fatal("record created under submitted username")
	}
	if has, _ := st.Has(DefaultUsername); !has {
		t.Fatal("bootstrap record missing")
	}
}

func TestBootstrapKeepsChangedAdminPassword(t *testing.T) {
	svc, _ := newService(t)
	if err := svc.SetCredential("", "admin", "n3w-pass"); err != nil {
		t.Fatal(err)
	}
	_, _ = svc.Authenticate("someone-else", "x")
	if ok, _ := svc.Authenticate("admin", "changeme"); ok {
		t.Fatal("default password resurrected")
	}
	if ok, _ := svc.Authenticate("admin", "n3w-pass"); !ok {
		t.Fatal("changed password lost")
	}
}

func TestSetCredentialRename(t *testing.T) {
	svc, _ := newService(t)
	if ok, _ := svc.Authenticate("admin", "changeme"); !ok {
		t.Fatal("bootstrap login failed")
	}
	if err := svc.SetCredential("admin", "operator", "s3cure-pass"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := svc.Authenticate("operator", "s3cure-pass"); !ok {
		t.Fatal("new credential rejected")
	}
	if ok, _ := svc.Authenticate("admin", "changeme"); ok {
		t.Fatal("old default still accepted")
	}
}

func TestSetCredentialRejects(t *testing.T) {
	svc, _ := newService(t)
	cases := []struct {
		user, pass string
		want       error
	}{
		{"", "x", ErrInvalidUsername},
		{"keys::SALT", "x", ErrInvalidUsername},
		{"ap_ssid", "x", ErrInvalidUsername},
		{"admin", "", ErrEmptyPassword},
	}
	for _, c := range cases {
		if err := svc.SetCredential("", c.user, c.pass); !errors.Is(err, c.want) {
			t.Errorf("SetCredential(%q,%q) = %v, want %v", c.user, c.pass, err, c.want)
		}
	}
}

func TestReservedUsernameNeverAuthenticates(t *testing.T) {
	svc, _ := newService(t)
	salt, _ := svc.Salt()
	if ok, _ := svc.Authenticate(SaltKey, salt); ok {
		t.Fatal("salt key accepted as a login")
	}
}

func TestHashPasswordPure(t *testing.T) {
	a, _ := HashPassword("changeme", "0123456789")
	b, _ := HashPassword("changeme", "0123456789")
	c, _ := HashPassword("changeme", "9876543210")
	if a != b {
		t.Fatal("same inputs differ")
	}
	if a == c {
		t.Fatal("different salts collide")
	}
}

func TestAuthenticateForeignParameters(t *testing.T) {
	svc, st := newService(t)
	salt := []byte("older-salt")
	sum := argon2.Key([]byte("s3cret-pass"), salt, 2, 8192, 1, 32)
	phc := fmt.Sprintf("$argon2i$v=19$m=8192,t=2,p=1$%s$%s",
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(sum))
	if err := st.Set("operator", []byte(phc)); err != nil {
		t.Fatal(err)
	}
	if ok, err := svc.Authenticate("operator", "s3cret-pass"); err != nil || !ok {
		t.Fatalf("record with other parameters rejected: %v %v", ok, err)
	}
	if ok, _ := svc.Authenticate("operator", "wrong-pass"); ok {
		t.Fatal("wrong password accepted")
	}
	if v, _, _ := store.GetString(st, "operator"); v != phc {
		t.Fatal("record rewritten by authenticate")
	}
}
