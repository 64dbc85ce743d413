package infra

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Shield é um token bucket local por chave: um pré-filtro barato, dentro do
// processo, na frente da admissão distribuída. Ele não coordena nada entre
// instâncias; serve para absorver rajadas sem pagar a viagem ao redis.
type Shield struct {
	mu           sync.Mutex
	entries      map[string]*shieldEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type shieldEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type ShieldOption func(*Shield)

func WithShieldIdleTTL(d time.Duration) ShieldOption {
	return func(s *Shield) { s.idleTTL = d }
}

func WithShieldCleanupEvery(d time.Duration) ShieldOption {
	return func(s *Shield) { s.cleanupEvery = d }
}

func NewShield(rps float64, burst int, opts ...ShieldOption) *Shield {
	s := &Shield{
		entries:      make(map[string]*shieldEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow consome um token do bucket da chave (criado no primeiro uso).
func (s *Shield) Allow(key string) bool {
	now := time.Now()

	s.mu.Lock()
	ent, ok := s.entries[key]
	if !ok {
		ent = &shieldEntry{lim: rate.NewLimiter(s.rps, s.burst)}
		s.entries[key] = ent
	}
	ent.lastSeen = now
	s.mu.Unlock()

	return ent.lim.Allow()
}

// Cleanup remove buckets ociosos; sem isso o mapa cresce para sempre com
// chaves de alta cardinalidade.
func (s *Shield) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// DoneContext é o mínimo de context.Context que o janitor precisa.
type DoneContext interface {
	Done() <-chan struct{}
}

// StartJanitor limpa chaves inativas periodicamente até o contexto encerrar.
func (s *Shield) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
