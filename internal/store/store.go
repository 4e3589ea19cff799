// Package store is the persistent settings map shared by the credential
// service and the wireless orchestrator. Keys are strings, values are raw
// bytes; readers must tolerate any subset of keys being absent.
//
// One handle is opened at startup and injected everywhere. Drivers serialize
// writes internally, so callers hold no application-level lock.
package store

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Reserved and well-known keys.
const (
	KeySalt           = "keys::SALT"
	KeySourceSSID     = "source_ssid"
	KeySourcePassword = "source_password"
	KeyAPSSID         = "ap_ssid"
	KeyAPPassword     = "ap_password"
	KeyAPInterface    = "ap_interface"
)

const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

var ErrNotFound = errors.New("store: key not found")

// Error reports an I/O failure of the underlying database.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(key string) ([]byte, error)
	Has(key string) (bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Apply writes every op of b atomically.
	Apply(b *Batch) error
	// Flush makes previous writes durable.
	Flush() error
	Close() error
}

// GetString reads key as a string. ok is false when the key is absent.
func GetString(s Store, key string) (val string, ok bool, err error) {
	b, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

type op struct {
	key    string
	value  []byte
	delete bool
}

// Batch collects writes applied in a single transaction by Store.Apply.
type Batch struct {
	ops []op
}

func (b *Batch) Set(key string, value []byte) {
	b.ops = append(b.ops, op{key: key, value: value})
}

func (b *Batch) SetString(key, value string) {
	b.Set(key, []byte(value))
}

func (b *Batch) Delete(key string) {
	b.ops = append(b.ops, op{key: key, delete: true})
}

func (b *Batch) Len() int { return len(b.ops) }

// Each calls fn for every op in insertion order; value is nil for deletes.
func (b *Batch) Each(fn func(key string, value []byte, del bool)) {
	for _, o := range b.ops {
		fn(o.key, o.value, o.delete)
	}
}

// Open opens the driver's database under dir.
func Open(driver, dir string, log zerolog.Logger) (Store, error) {
	log = log.With().Str("component", "store").Str("driver", driver).Logger()
	switch driver {
	case "", DriverBadger:
		return OpenBadger(dir, log)
	case DriverSQLite:
		return OpenSQLite(dir, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
