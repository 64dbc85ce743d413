package admission

import (
	"encoding/json"
	"net/http"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

type Options struct {
	Service *application.AdmissionService

	// Policies é o conjunto base avaliado em toda requisição.
	Policies []domain.Policy

	// PolicyFn adiciona policies por requisição (ex: mais apertada para a
	// rota de busca, mais folgada para caller autenticado). Todas são
	// avaliadas de forma independente; a mais restritiva decide.
	PolicyFn func(r *http.Request) []domain.Policy

	Identity           IdentityFunc
	UserHeader         string
	TrustXForwardedFor bool

	Metrics *Metrics
}

// Middleware aplica o controle de admissão antes do handler de negócio.
// Os headers de cota vão em TODA resposta (permitida ou não) para o caller
// enxergar o saldo; negado encerra com 429 e corpo estruturado.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Identity == nil {
		opts.Identity = DefaultIdentityFunc(opts.UserHeader, opts.TrustXForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Service == nil {
				next.ServeHTTP(w, r)
				return
			}

			id := opts.Identity(r)

			policies := opts.Policies
			if opts.PolicyFn != nil {
				if extra := opts.PolicyFn(r); len(extra) > 0 {
					merged := make([]domain.Policy, 0, len(opts.Policies)+len(extra))
					merged = append(merged, opts.Policies...)
					merged = append(merged, extra...)
					policies = merged
				}
			}

			dec := opts.Service.AdmitAll(r.Context(), id, policies)

			if dec.Policy != "" {
				setQuotaHeaders(w.Header(), dec)
			}
			if dec.FailedOpen {
				opts.Metrics.storeFailure()
			}

			if !dec.Allowed {
				opts.Metrics.decision(dec.Policy, "denied")
				writeDenial(w, dec, id)
				return
			}

			opts.Metrics.decision(dec.Policy, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func setQuotaHeaders(h http.Header, dec domain.Decision) {
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	h.Set("X-RateLimit-Reset", formatEpochSeconds(dec.ResetAt))
	h.Set("X-RateLimit-Policy", formatPolicyLabel(dec.Limit, dec.Window))
}

// denialBody é o contrato do 429. Não mudar campo sem combinar com os
// clientes.
type denialBody struct {
	StatusCode int           `json:"statusCode"`
	Error      string        `json:"error"`
	Message    string        `json:"message"`
	Details    denialDetails `json:"details"`
	Timestamp  string        `json:"timestamp"`
}

type denialDetails struct {
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetTime  string `json:"resetTime"`
	RetryAfter int    `json:"retryAfter"`
	Policy     string `json:"policy"`
	UserType   string `json:"userType"`
}

func writeDenial(w http.ResponseWriter, dec domain.Decision, id domain.IdentityKey) {
	retryAfter := retryAfterSeconds(dec.RetryAfter)

	userType := "anonymous"
	if id.Authenticated() {
		userType = "authenticated"
	}

	w.Header().Set("Retry-After", formatInt(retryAfter))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)

	body := denialBody{
		StatusCode: http.StatusTooManyRequests,
		Error:      "Too Many Requests",
		Message:    "you have exceeded the request limit for this window, slow down and retry later",
		Details: denialDetails{
			Limit:      dec.Limit,
			Remaining:  dec.Remaining,
			ResetTime:  dec.ResetAt.UTC().Format(time.RFC3339),
			RetryAfter: retryAfter,
			Policy:     dec.Policy,
			UserType:   userType,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	_ = json.NewEncoder(w).Encode(body)
}
