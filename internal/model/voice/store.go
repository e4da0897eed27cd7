package voice

import "strings"

// Store exposes the supported voice set.
type Store interface {
	List() []Voice
	FindByCode(code string) (Voice, bool)
	Default() Voice
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items       []Voice
	defaultCode string
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied voices.
// defaultCode falls back to the first entry when it is not part of items.
func NewMemoryStore(items []Voice, defaultCode string) *MemoryStore {
	s := &MemoryStore{items: append([]Voice(nil), items...)}
	if _, ok := s.FindByCode(defaultCode); ok {
		s.defaultCode = defaultCode
	} else if len(s.items) > 0 {
		s.defaultCode = s.items[0].Code
	}
	return s
}

// List returns the supported voices in picker order.
func (s *MemoryStore) List() []Voice {
	return append([]Voice(nil), s.items...)
}

// FindByCode looks up a voice by locale code. Matching ignores case and
// surrounding whitespace, so "en-us" selects "en-US".
func (s *MemoryStore) FindByCode(code string) (Voice, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Voice{}, false
	}
	for _, item := range s.items {
		if strings.EqualFold(item.Code, code) {
			return item, true
		}
	}
	return Voice{}, false
}

// Default returns the voice new sessions start with. The zero Voice is
// returned only for an empty store.
func (s *MemoryStore) Default() Voice {
	v, _ := s.FindByCode(s.defaultCode)
	return v
}
