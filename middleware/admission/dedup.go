package admission

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

type DedupOptions struct {
	Service *application.DedupService

	// Methods elegíveis. Vazio usa o padrão livre de efeito colateral:
	// GET, HEAD e OPTIONS.
	Methods []string

	// Eligible é o gate extra por deployment (ex: opt-in de rota mutável
	// idempotente). Requisição não elegível segue direto, sem captura.
	Eligible func(r *http.Request) bool

	// MaxBodyBytes limita quanto corpo entra no fingerprint. Corpo maior
	// vira bypass. Se <= 0, usa 1 MiB.
	MaxBodyBytes int64

	Metrics *Metrics
}

const defaultMaxBodyBytes = 1 << 20

// volatileHeaders precisam refletir a entrega ATUAL, não a original, então
// nunca saem do cache no replay.
var volatileHeaders = []string{"Date", "X-Request-Id", "X-Response-Time"}

// DedupMiddleware reaproveita respostas já computadas: hit responde a cópia
// cacheada sem invocar o handler; miss executa o handler, captura a resposta
// num ponto de interceptação explícito e grava em background quando 2xx.
func DedupMiddleware(opts DedupOptions) func(next http.Handler) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	methods := make(map[string]bool, 3)
	if len(opts.Methods) == 0 {
		opts.Methods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	}
	for _, m := range opts.Methods {
		methods[m] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Service == nil || !methods[r.Method] || (opts.Eligible != nil && !opts.Eligible(r)) {
				next.ServeHTTP(w, r)
				return
			}

			body, restored, ok := readBodyForFingerprint(r, opts.MaxBodyBytes)
			r.Body = restored
			if !ok {
				// corpo grande demais para fingerprint: segue sem dedup
				opts.Metrics.dedup("bypass")
				next.ServeHTTP(w, r)
				return
			}

			fp := opts.Service.Fingerprint(r.Method, normalizePath(r.URL), body, r.Header)

			if entry, hit := opts.Service.Lookup(r.Context(), fp); hit {
				opts.Metrics.dedup("hit")
				replay(w, entry)
				return
			}

			opts.Metrics.dedup("miss")
			w.Header().Set("X-Cache", "MISS")

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			// só sucesso vira cache; erro cacheado seria replay de erro
			if cw.Status() < 200 || cw.Status() >= 300 {
				return
			}
			opts.Service.StoreAsync(fp, &domain.CachedResponse{
				StatusCode: cw.Status(),
				Header:     snapshotHeaders(w.Header()),
				Body:       cw.Body(),
				CachedAt:   time.Now().UTC(),
			})
		})
	}
}

// normalizePath inclui a query com as chaves ordenadas: /items?b=2&a=1 e
// /items?a=1&b=2 são a mesma requisição.
func normalizePath(u *url.URL) string {
	p := u.EscapedPath()
	if u.RawQuery == "" {
		return p
	}
	return p + "?" + u.Query().Encode()
}

// readBodyForFingerprint lê até o limite e devolve um reader com o corpo
// intacto para o handler. ok=false quando o corpo excede o limite (e aí o
// reader devolvido ainda entrega tudo, prefixo lido incluso).
func readBodyForFingerprint(r *http.Request, max int64) ([]byte, io.ReadCloser, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, r.Body, true
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	if err != nil {
		// corpo ilegível: deixa o handler lidar com o que sobrou
		return nil, io.NopCloser(io.MultiReader(bytes.NewReader(buf), r.Body)), false
	}

	if int64(len(buf)) > max {
		return nil, io.NopCloser(io.MultiReader(bytes.NewReader(buf), r.Body)), false
	}

	_ = r.Body.Close()
	return buf, io.NopCloser(bytes.NewReader(buf)), true
}

func replay(w http.ResponseWriter, entry *domain.CachedResponse) {
	h := w.Header()
	for name, values := range entry.Header {
		if isVolatile(name) {
			continue
		}
		h[name] = append([]string(nil), values...)
	}
	h.Set("X-Cache", "HIT")
	h.Set("X-Cache-Timestamp", formatInt64(entry.CachedAt.UnixMilli()))

	w.WriteHeader(entry.StatusCode)
	_, _ = w.Write(entry.Body)
}

func isVolatile(name string) bool {
	for _, v := range volatileHeaders {
		if http.CanonicalHeaderKey(name) == v {
			return true
		}
	}
	return false
}

func snapshotHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		if http.CanonicalHeaderKey(name) == "X-Cache" {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// captureWriter é o ponto explícito de interceptação da resposta de saída:
// espelha tudo para o cliente e guarda status + corpo para o cache.
type captureWriter struct {
	http.ResponseWriter
	status      int
	buf         bytes.Buffer
	wroteHeader bool
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	cw.buf.Write(b)
	return cw.ResponseWriter.Write(b)
}

func (cw *captureWriter) Status() int {
	if !cw.wroteHeader {
		return http.StatusOK
	}
	return cw.status
}

func (cw *captureWriter) Body() []byte {
	return append([]byte(nil), cw.buf.Bytes()...)
}
