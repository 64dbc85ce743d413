package infra

import (
	"context"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCounterStore implementa domain.CounterStore sobre um redis
// compartilhado por todas as instâncias do serviço.
type RedisCounterStore struct {
	rdb    *redis.Client
	prefix string
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)

type RedisCounterOption func(*RedisCounterStore)

func WithCounterPrefix(prefix string) RedisCounterOption {
	return func(s *RedisCounterStore) { s.prefix = prefix }
}

func NewRedisCounterStore(rdb *redis.Client, opts ...RedisCounterOption) *RedisCounterStore {
	s := &RedisCounterStore{rdb: rdb, prefix: "ratelimit:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Incr faz a viagem atômica exigida pelo design: INCR + leitura do TTL +
// EXPIRE numa transação só. O INCR serializa incrementos concorrentes de
// qualquer número de instâncias sobre a mesma chave.
//
// O TTL é lido ANTES do rearme, então o reset reportado é "fim armado pelo
// hit anterior". Como o EXPIRE rearma a janela cheia a cada hit, o reset
// anunciado desliza sob tráfego contínuo em vez de cravar a borda do bucket.
// Clientes já dependem desses headers; não "consertar" sem mudar o contrato.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := s.prefix + key

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttlCmd := pipe.TTL(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, errors.Wrap(err, "increment counter")
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		// chave recém-criada (ou sem TTL): a janela cheia acabou de ser armada
		ttl = window
	}
	return incr.Val(), ttl, nil
}

// Reset apaga o contador de uma chave. Ferramenta de teste/reset manual; o
// caminho normal nunca deleta, só deixa o TTL expirar.
func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	return errors.Wrap(s.rdb.Del(ctx, s.prefix+key).Err(), "reset counter")
}

// Ping valida a conectividade (usado pelo health check e pela subida).
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.rdb.Ping(ctx).Err(), "ping redis")
}
