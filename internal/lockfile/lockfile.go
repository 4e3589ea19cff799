// Package lockfile guards the data directory against a second daemon.
package lockfile

import (
	"errors"
	"path/filepath"
)

const Name = "extenderd.lock"

var ErrLocked = errors.New("data directory is locked by another process")

type Lock struct {
	path    string
	release func()
}

// Acquire takes the exclusive lock in dir without blocking.
func Acquire(dir string) (*Lock, error) {
	p := filepath.Join(dir, Name)
	rel, err := tryLock(p)
	if err != nil {
		return nil, err
	}
	return &Lock{path: p, release: rel}, nil
}

func (l *Lock) Path() string { return l.path }

// Release is idempotent.
func (l *Lock) Release() {
	if l == nil || l.release == nil {
		return
	}
	l.release()
	l.release = nil
}
