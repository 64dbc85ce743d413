package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryCounterStore é o substituto em memória do contador compartilhado.
// Vale para testes e deploy de instância única; não enforça limite global
// entre réplicas.
//
// A semântica espelha a do redis: TTL lido antes do rearme, rearme para a
// janela cheia a cada incremento.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*counterEntry

	// Now é hook de relógio para testes. Se nil, usa time.Now.
	Now func() time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

var _ domain.CounterStore = (*MemoryCounterStore)(nil)

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{entries: make(map[string]*counterEntry)}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.expiresAt.After(now) {
		e = &counterEntry{}
		s.entries[key] = e
	}

	e.count++
	ttl := window
	if ok && e.expiresAt.After(now) {
		ttl = e.expiresAt.Sub(now)
	}
	e.expiresAt = now.Add(window)
	return e.count, ttl, nil
}

// Reset apaga o contador de uma chave (ferramenta de teste).
func (s *MemoryCounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryCounterStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
