package admission

import (
	"context"
	"net/http"
	"time"

	"admission-gateway/middleware/admission/infra"
)

// Proteções locais ao processo. Não coordenam nada entre instâncias nem
// mexem no contador compartilhado; são a primeira linha, barata, antes das
// viagens ao store.

type ShieldOptions struct {
	Shield *infra.Shield

	Identity           IdentityFunc
	UserHeader         string
	TrustXForwardedFor bool

	// RetryAfter recomendado no 429 local. Se 0, usa 1s.
	RetryAfter time.Duration
}

// ShieldMiddleware barra rajadas por identidade com um token bucket em
// memória, antes da admissão distribuída.
func ShieldMiddleware(opts ShieldOptions) func(next http.Handler) http.Handler {
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.Identity == nil {
		opts.Identity = DefaultIdentityFunc(opts.UserHeader, opts.TrustXForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Shield == nil {
				next.ServeHTTP(w, r)
				return
			}

			id := opts.Identity(r)
			if !opts.Shield.Allow(id.Kind + ":" + id.Value) {
				w.Header().Set("Retry-After", formatInt(int(opts.RetryAfter.Seconds())))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type ConcurrencyOptions struct {
	// Max é o teto de requisições simultâneas. <= 0 desliga o middleware.
	Max int

	// AcquireTimeout limita a espera por vaga. <= 0 espera até o contexto
	// da requisição encerrar.
	AcquireTimeout time.Duration

	RejectStatus int
}

// ConcurrencyMiddleware limita requisições em voo com um semáforo de
// channel. Custo por requisição varia muito; teto de concorrência protege o
// backend independente de requests/segundo.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	sem := make(chan struct{}, opts.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if opts.AcquireTimeout > 0 {
				var cancel func()
				ctx, cancel = context.WithTimeout(ctx, opts.AcquireTimeout)
				defer cancel()
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			case <-ctx.Done():
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
			}
		})
	}
}
