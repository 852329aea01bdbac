package messagebus

import (
	"fmt"
	"sync"
)

// Signature identifies one field lock of an in-flight command.
type Signature struct {
	Type  string
	Field string
	Value string
}

// Signatures resolves the lock signatures of cmd in FieldLocks order,
// dropping duplicates.
func Signatures(cmd Command) ([]Signature, error) {
	fields := cmd.FieldLocks()
	if len(fields) == 0 {
		return nil, nil
	}

	sigs := make([]Signature, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}

		value, ok := cmd.LockValue(field)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownLockField, cmd.Type(), field)
		}
		sigs = append(sigs, Signature{Type: cmd.Type(), Field: field, Value: value})
	}
	return sigs, nil
}

// LockStore holds the signatures of in-flight commands. Acquisition is all
// or nothing under a single mutex.
type LockStore struct {
	mu   sync.Mutex
	held map[Signature]struct{}
}

func NewLockStore() *LockStore {
	return &LockStore{held: make(map[Signature]struct{})}
}

// AcquireAll records every signature and returns true, or records none and
// returns false when any of them is already held.
func (s *LockStore) AcquireAll(sigs []Signature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range sigs {
		if _, ok := s.held[sig]; ok {
			return false
		}
	}
	for _, sig := range sigs {
		s.held[sig] = struct{}{}
	}
	return true
}

func (s *LockStore) ReleaseAll(sigs []Signature) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range sigs {
		delete(s.held, sig)
	}
}

func (s *LockStore) Held(sig Signature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.held[sig]
	return ok
}

func (s *LockStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.held)
}
