package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy é uma regra nomeada de rate limit: no máximo Limit requisições por
// identidade dentro de uma janela fixa de duração Window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// NewPolicy valida os campos na construção. Configuração inválida é erro
// fatal na subida do processo, nunca em tempo de requisição.
func NewPolicy(name string, limit int, window time.Duration) (Policy, error) {
	if strings.TrimSpace(name) == "" {
		return Policy{}, fmt.Errorf("policy name is required")
	}
	if limit <= 0 {
		return Policy{}, fmt.Errorf("policy %q: limit must be > 0, got %d", name, limit)
	}
	if window <= 0 {
		return Policy{}, fmt.Errorf("policy %q: window must be > 0, got %s", name, window)
	}
	return Policy{Name: name, Limit: limit, Window: window}, nil
}

// ParseWindow converte janelas no formato "<inteiro><unidade>" (com espaço
// opcional), ex: "30seconds", "15 minutes", "1hour", "2days".
func ParseWindow(s string) (time.Duration, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return 0, fmt.Errorf("time window is required")
	}

	i := 0
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("time window %q: missing leading integer", s)
	}

	n, err := strconv.Atoi(raw[:i])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("time window %q: invalid amount", s)
	}

	unit := strings.TrimSpace(raw[i:])
	var base time.Duration
	switch unit {
	case "second", "seconds", "s":
		base = time.Second
	case "minute", "minutes", "m":
		base = time.Minute
	case "hour", "hours", "h":
		base = time.Hour
	case "day", "days", "d":
		base = 24 * time.Hour
	default:
		return 0, fmt.Errorf("time window %q: unknown unit %q", s, unit)
	}

	return time.Duration(n) * base, nil
}

const (
	IdentityUser    = "user"
	IdentityAddress = "address"
)

// IdentityKey identifica quem está chamando: o id autenticado quando existe,
// senão o endereço de rede do cliente.
type IdentityKey struct {
	Kind  string
	Value string
}

// FallbackIdentity cobre o caso (teoricamente impossível na camada HTTP) de
// requisição sem usuário e sem endereço. Nunca retornamos erro na resolução.
var FallbackIdentity = IdentityKey{Kind: IdentityAddress, Value: "unknown"}

// Authenticated indica se a identidade veio de um caller autenticado.
func (k IdentityKey) Authenticated() bool { return k.Kind == IdentityUser }

// Decision é o resultado de avaliar uma (ou mais) policies para uma
// requisição. Calculada a cada chamada, nunca persistida.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	Policy    string
	Window    time.Duration

	// RetryAfter é o tempo até ResetAt medido pelo relógio de quem decidiu.
	RetryAfter time.Duration

	// FailedOpen marca decisões produzidas porque o counter store falhou
	// (indisponível ou timeout) e o controlador liberou a requisição.
	FailedOpen bool
}

// MoreRestrictiveThan ordena decisões: negada ganha de permitida; entre duas
// do mesmo tipo, ganha a de menor saldo.
func (d Decision) MoreRestrictiveThan(other Decision) bool {
	if d.Allowed != other.Allowed {
		return !d.Allowed
	}
	return d.Remaining < other.Remaining
}
