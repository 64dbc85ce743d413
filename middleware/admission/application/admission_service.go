package application

import (
	"context"
	"strconv"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/rs/zerolog"
)

// AdmissionService concentra a regra de admissão. Sem estado próprio entre
// requisições: toda coordenação entre instâncias fica no CounterStore.
type AdmissionService struct {
	Store domain.CounterStore

	// StoreTimeout limita cada viagem ao store. Estourou, trata como store
	// indisponível (fail-open). Se <= 0, usa 150ms.
	StoreTimeout time.Duration

	Logger *zerolog.Logger

	// Now é hook de relógio para testes. Se nil, usa time.Now.
	Now func() time.Time
}

const defaultStoreTimeout = 150 * time.Millisecond

// Admit avalia uma policy para a identidade.
//
// bucket = floor(now/window)*window, em segundos. A chave junta policy,
// identidade e bucket, então identidades diferentes (e buckets diferentes)
// têm contadores independentes.
//
// Se o store falhar, a decisão é fail-open: allowed com saldo cheio. Uma
// queda do contador compartilhado nunca pode derrubar a API inteira.
func (s *AdmissionService) Admit(ctx context.Context, id domain.IdentityKey, p domain.Policy) domain.Decision {
	now := s.now()
	winSec := int64(p.Window / time.Second)
	if winSec <= 0 {
		winSec = 1
	}
	bucket := now.Unix() / winSec * winSec
	key := p.Name + ":" + id.Kind + ":" + id.Value + ":" + strconv.FormatInt(bucket, 10)

	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout())
	defer cancel()

	count, ttl, err := s.Store.Incr(opCtx, key, p.Window)
	if err != nil {
		s.logger().Error().
			Err(err).
			Str("policy", p.Name).
			Str("identity", id.Kind+":"+id.Value).
			Msg("counter store unavailable, failing open")
		return domain.Decision{
			Allowed:    true,
			Limit:      p.Limit,
			Remaining:  p.Limit,
			ResetAt:    now.Add(p.Window),
			Policy:     p.Name,
			Window:     p.Window,
			RetryAfter: p.Window,
			FailedOpen: true,
		}
	}

	if ttl <= 0 {
		ttl = p.Window
	}

	dec := domain.Decision{
		Allowed:    count <= int64(p.Limit),
		Limit:      p.Limit,
		Remaining:  remaining(p.Limit, count),
		ResetAt:    now.Add(ttl),
		Policy:     p.Name,
		Window:     p.Window,
		RetryAfter: ttl,
	}

	if !dec.Allowed {
		s.logger().Warn().
			Str("policy", p.Name).
			Str("identity", id.Kind+":"+id.Value).
			Int("limit", dec.Limit).
			Int("remaining", dec.Remaining).
			Time("reset_at", dec.ResetAt).
			Msg("admission denied")
	}

	return dec
}

// AdmitAll avalia todas as policies de forma independente e retorna a mais
// restritiva: negada ganha; entre permitidas, a de menor saldo.
//
// Sem policies configuradas, libera.
func (s *AdmissionService) AdmitAll(ctx context.Context, id domain.IdentityKey, policies []domain.Policy) domain.Decision {
	if len(policies) == 0 {
		return domain.Decision{Allowed: true, ResetAt: s.now()}
	}

	worst := s.Admit(ctx, id, policies[0])
	for _, p := range policies[1:] {
		d := s.Admit(ctx, id, p)
		if d.MoreRestrictiveThan(worst) {
			worst = d
		}
	}
	return worst
}

func remaining(limit int, count int64) int {
	r := int64(limit) - count
	if r < 0 {
		return 0
	}
	return int(r)
}

func (s *AdmissionService) storeTimeout() time.Duration {
	if s.StoreTimeout > 0 {
		return s.StoreTimeout
	}
	return defaultStoreTimeout
}

func (s *AdmissionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AdmissionService) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return &nopLogger
}

var nopLogger = zerolog.Nop()
