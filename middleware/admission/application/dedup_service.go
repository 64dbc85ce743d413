package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/textproto"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/rs/zerolog"
)

// DedupService detecta requisições idênticas a outra servida há pouco e
// devolve a cópia cacheada em vez de reexecutar o handler.
type DedupService struct {
	Cache  domain.ResponseCache
	Config domain.DedupConfig

	// Runner executa as gravações no cache fora do ciclo de vida da
	// requisição. Se nil, a gravação roda inline (útil em testes).
	Runner domain.TaskRunner

	// StoreTimeout limita lookup e gravação. Se <= 0, usa 150ms.
	StoreTimeout time.Duration

	Logger *zerolog.Logger
}

// Fingerprint é determinístico: mesmas (method, path, body) — e mesmos
// headers selecionados, quando configurado — sempre produzem o mesmo digest;
// qualquer diferença produz outro, com probabilidade esmagadora (sha256).
func (s *DedupService) Fingerprint(method, path string, body []byte, headers map[string][]string) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)

	if s.Config.IncludeHeaders {
		for _, name := range s.Config.HeadersToInclude {
			canonical := textproto.CanonicalMIMEHeaderKey(name)
			h.Write([]byte{'|'})
			h.Write([]byte(canonical))
			h.Write([]byte{':'})
			for _, v := range headers[canonical] {
				h.Write([]byte(v))
			}
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Lookup consulta o cache compartilhado. Qualquer falha (store fora,
// timeout) vira miss: melhor reexecutar o handler do que travar ou errar a
// requisição. O hit/miss é acumulado nos contadores do próprio store.
func (s *DedupService) Lookup(ctx context.Context, fingerprint string) (*domain.CachedResponse, bool) {
	opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout())
	defer cancel()

	entry, ok, err := s.Cache.Get(opCtx, fingerprint)
	if err != nil {
		s.logger().Error().Err(err).Msg("response cache lookup failed, treating as miss")
		ok = false
	}

	if recErr := s.Cache.Record(opCtx, ok); recErr != nil {
		s.logger().Debug().Err(recErr).Msg("cache stats record failed")
	}

	if !ok {
		return nil, false
	}
	return entry, true
}

// StoreAsync agenda a gravação da resposta capturada. Nunca bloqueia nem
// altera a resposta já a caminho do cliente; a gravação existe para
// beneficiar requisições FUTURAS, então ela segue mesmo se o cliente
// desconectar (ctx desacoplado, ver domain.TaskRunner).
func (s *DedupService) StoreAsync(fingerprint string, entry *domain.CachedResponse) {
	write := func(ctx context.Context) {
		if err := s.Cache.Set(ctx, fingerprint, entry, s.Config.TTL); err != nil {
			s.logger().Error().Err(err).Str("fingerprint", fingerprint).Msg("response cache write failed")
		}
	}

	if s.Runner == nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout())
		defer cancel()
		write(ctx)
		return
	}

	if !s.Runner.Submit(write) {
		s.logger().Warn().Str("fingerprint", fingerprint).Msg("cache writer saturated, dropping write")
	}
}

// Invalidate limpa em lote as entradas sob o prefixo configurado.
func (s *DedupService) Invalidate(ctx context.Context) (int64, error) {
	return s.Cache.Invalidate(ctx)
}

// Stats reporta contagem aproximada de entradas e razão hit/miss, derivadas
// dos contadores do store.
func (s *DedupService) Stats(ctx context.Context) (domain.CacheStats, error) {
	return s.Cache.Stats(ctx)
}

func (s *DedupService) storeTimeout() time.Duration {
	if s.StoreTimeout > 0 {
		return s.StoreTimeout
	}
	return defaultStoreTimeout
}

func (s *DedupService) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return &nopLogger
}
