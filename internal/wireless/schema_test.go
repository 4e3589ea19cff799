package wireless

import (
	"errors"
	"strings"
	"testing"
)

func TestChangeValidate(t *testing.T) {
	ok := Change{APSSID: "pi-extender", APPassword: "changeme"}
	cases := []struct {
		name  string
		mod   func(*Change)
		valid bool
	}{
		{"minimal", func(*Change) {}, true},
		{"with upstream", func(c *Change) { c.SourceSSID = "HomeNet"; c.SourcePassword = "secret123" }, true},
		{"open upstream", func(c *Change) { c.SourceSSID = "Cafe" }, true},
		{"interface", func(c *Change) { c.APInterface = "wlan1" }, true},
		{"empty ssid", func(c *Change) { c.APSSID = "" }, false},
		{"long ssid", func(c *Change) { c.APSSID = strings.Repeat("s", 33) }, false},
		{"short ap password", func(c *Change) { c.APPassword = "1234567" }, false},
		{"long ap password", func(c *Change) { c.APPassword = strings.Repeat("p", 64) }, false},
		{"short upstream password", func(c *Change) { c.SourceSSID = "x"; c.SourcePassword = "abc" }, false},
		{"bad interface", func(c *Change) { c.APInterface = "wlan0; reboot" }, false},
		{"long interface", func(c *Change) { c.APInterface = strings.Repeat("w", 16) }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ch := ok
			c.mod(&ch)
			err := ch.Validate()
			if c.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !c.valid && !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("want ErrInvalidSettings, got %v", err)
			}
		})
	}
}
