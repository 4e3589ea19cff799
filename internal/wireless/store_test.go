package wireless

import (
	"sync"

	"github.com/pavelaron/pi-extender/internal/store"
)

// memStore is an in-memory store.Store with injectable write failures.
type memStore struct {
	mu      sync.Mutex
	m       map[string][]byte
	failErr error
	flushes int
}

func newMemStore(kv map[string]string) *memStore {
	s := &memStore{m: map[string][]byte{}}
	for k, v := range kv {
		s.m[k] = []byte(v)
	}
	return s
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Has(key string) (bool, error) {
	_, err := s.Get(key)
	return err == nil, nil
}

func (s *memStore) Set(key string, v []byte) error {
	var b store.Batch
	b.Set(key, v)
	return s.Apply(&b)
}

func (s *memStore) Delete(key string) error {
	var b store.Batch
	b.Delete(key)
	return s.Apply(&b)
}

func (s *memStore) Apply(b *store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return &store.Error{Op: "apply", Err: s.failErr}
	}
	b.Each(func(k string, v []byte, del bool) {
		if del {
			delete(s.m, k)
			return
		}
		s.m[k] = v
	})
	return nil
}

func (s *memStore) Flush() error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) str(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.m[key])
}
