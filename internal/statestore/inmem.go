package statestore

import (
	"encoding/json"
	"sync"
)

// InMem is the in-process Storer used by tests and by daemons running
// with --in-memory. Values round-trip through JSON so serialization
// bugs surface the same way they would on disk.
type InMem struct {
	mu   sync.Mutex
	data map[string][]byte

	// FailPuts makes every Put return this error, for exercising
	// persistence-failure paths in tests.
	FailPuts error
}

var _ Storer = (*InMem)(nil)

func NewInMem() *InMem {
	return &InMem{data: make(map[string][]byte)}
}

func (s *InMem) Get(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.data[key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func (s *InMem) Put(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailPuts != nil {
		return s.FailPuts
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.data[key] = data
	return nil
}

func (s *InMem) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *InMem) Close() error {
	return nil
}
