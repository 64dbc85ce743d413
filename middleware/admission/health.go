package admission

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/rs/zerolog"
)

// HealthHandler exercita o store compartilhado de verdade: um incremento de
// contador e um set/get no cache de respostas. Saudável responde 200;
// qualquer falha responde 503 com o detalhe.
func HealthHandler(counter domain.CounterStore, cache domain.ResponseCache, logger *zerolog.Logger) http.Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		err := probe(ctx, counter, cache)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err != nil {
			logger.Error().Err(err).Msg("health probe failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"healthy": false,
				"error":   err.Error(),
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"healthy": true})
	})
}

func probe(ctx context.Context, counter domain.CounterStore, cache domain.ResponseCache) error {
	if counter != nil {
		// TTL curto: a sonda se limpa sozinha
		if _, _, err := counter.Incr(ctx, "health:probe", 10*time.Second); err != nil {
			return err
		}
	}

	if cache != nil {
		probeEntry := &domain.CachedResponse{StatusCode: 200, CachedAt: time.Now().UTC()}
		if err := cache.Set(ctx, "health:probe", probeEntry, 10*time.Second); err != nil {
			return err
		}
		if _, _, err := cache.Get(ctx, "health:probe"); err != nil {
			return err
		}
	}

	return nil
}
