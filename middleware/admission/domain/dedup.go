package domain

import "time"

// CachedResponse é a cópia serializável de uma resposta 2xx já entregue,
// pronta para replay. Header usa o mesmo shape de http.Header sem acoplar o
// domínio em net/http.
type CachedResponse struct {
	StatusCode int                 `json:"statusCode"`
	Header     map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
	CachedAt   time.Time           `json:"cachedAt"`
}

// CacheStats agrega os contadores mantidos pelo próprio store (não são
// rastreados localmente por instância).
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// HitRatio retorna hits/(hits+misses), ou 0 sem tráfego.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// DedupConfig controla o fingerprint e o TTL do cache de respostas.
//
// IncludeHeaders + HeadersToInclude entram no fingerprint quando a resposta
// não pode ser compartilhada entre callers distintos (ex: Authorization).
type DedupConfig struct {
	TTL              time.Duration
	IncludeHeaders   bool
	HeadersToInclude []string
	KeyPrefix        string
}

// Presets usados pelo sistema em volta.
//
// StandardDedup: leituras anônimas, todo mundo compartilha a mesma entrada.
// AggressiveDedup: TTL maior e Authorization no fingerprint, cada caller tem
// a sua entrada.
// ConservativeDedup: TTL bem curto, para dados que mudam rápido.
func StandardDedup() DedupConfig {
	return DedupConfig{TTL: 30 * time.Second, KeyPrefix: "dedup"}
}

func AggressiveDedup() DedupConfig {
	return DedupConfig{
		TTL:              5 * time.Minute,
		IncludeHeaders:   true,
		HeadersToInclude: []string{"Authorization"},
		KeyPrefix:        "dedup",
	}
}

func ConservativeDedup() DedupConfig {
	return DedupConfig{TTL: 5 * time.Second, KeyPrefix: "dedup"}
}
