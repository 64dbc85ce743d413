package domain

import (
	"context"
	"time"
)

// CounterStore é o contador compartilhado entre todas as instâncias do
// serviço.
//
// Incr precisa ser UMA viagem atômica ao store: incrementa, rearma o TTL para
// a janela cheia e lê o TTL corrente. Aproximar com get/set separados
// reintroduz exatamente a corrida que este design existe para evitar (duas
// instâncias leem count-1 e ambas admitem).
//
// O TTL retornado é o valor lido ANTES do rearme. Na primeira criação da
// chave (ou quando o store não informa TTL) a implementação retorna a janela
// cheia.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// ResponseCache é o cache compartilhado de respostas, indexado por
// fingerprint. A implementação é dona do esquema de chaves e dos contadores
// de hit/miss.
type ResponseCache interface {
	Get(ctx context.Context, fingerprint string) (*CachedResponse, bool, error)
	Set(ctx context.Context, fingerprint string, entry *CachedResponse, ttl time.Duration) error

	// Record acumula hit/miss nos contadores do próprio store (best-effort,
	// erro não derruba a requisição).
	Record(ctx context.Context, hit bool) error

	// Invalidate remove em lote tudo sob o prefixo da implementação.
	// Usado por testes e cache-busting manual.
	Invalidate(ctx context.Context) (int64, error)

	Stats(ctx context.Context) (CacheStats, error)
}

// TaskRunner executa trabalho em background desacoplado da requisição que o
// originou: o ctx recebido pela task NÃO é o da requisição e não é cancelado
// quando o cliente desconecta.
//
// Submit nunca bloqueia; retorna false quando não há capacidade.
type TaskRunner interface {
	Submit(task func(ctx context.Context)) bool
}
