package wireless

import (
	"github.com/pavelaron/pi-extender/internal/store"
)

// Access point defaults, used for any AP key missing from the store. The
// upstream role has none.
const (
	DefaultAPSSID      = "pi-extender"
	DefaultAPPassword  = "changeme"
	DefaultAPInterface = "wlan0"
)

type Settings struct {
	SourceSSID     string
	SourcePassword string
	APSSID         string
	APPassword     string
	APInterface    string
}

// LoadSettings reads the wireless keys. Any subset may be absent; empty AP
// values count as absent.
func LoadSettings(st store.Store) (Settings, error) {
	var s Settings
	read := func(key, def string, dst *string) error {
		v, ok, err := store.GetString(st, key)
		if err != nil {
			return err
		}
		if !ok || v == "" {
			v = def
		}
		*dst = v
		return nil
	}
	for _, f := range []struct {
		key string
		def string
		dst *string
	}{
		{store.KeySourceSSID, "", &s.SourceSSID},
		{store.KeySourcePassword, "", &s.SourcePassword},
		{store.KeyAPSSID, DefaultAPSSID, &s.APSSID},
		{store.KeyAPPassword, DefaultAPPassword, &s.APPassword},
		{store.KeyAPInterface, DefaultAPInterface, &s.APInterface},
	} {
		if err := read(f.key, f.def, f.dst); err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}
