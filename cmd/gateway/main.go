package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	logger := newLogger()

	cfg, err := readConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid UPSTREAM_URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	// stores compartilhados: redis quando configurado, memória caso
	// contrário (dev/instância única; sem limite global entre réplicas)
	var (
		counter domain.CounterStore
		cache   domain.ResponseCache
	)
	if cfg.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// fail-open vale para queda em voo; subir sem redis alcançável
			// costuma ser config errada, melhor avisar alto e seguir
			logger.Warn().Err(err).Msg("redis unreachable at startup, stores will fail open until it returns")
		}

		counter = infra.NewRedisCounterStore(rdb)
		cache = infra.NewRedisResponseCache(rdb, infra.WithCachePrefix(cfg.dedup.KeyPrefix))
	} else {
		logger.Warn().Msg("REDIS_ADDR not set, using in-memory stores (single instance only)")
		counter = infra.NewMemoryCounterStore()
		cache = infra.NewMemoryResponseCache()
	}

	reg := prometheus.NewRegistry()
	metrics := admission.NewMetrics(reg)

	admissionSvc := &application.AdmissionService{
		Store:        counter,
		StoreTimeout: cfg.storeTimeout,
		Logger:       &logger,
	}

	pool := infra.NewWriterPool(cfg.dedupWriters, cfg.storeTimeout*4, &logger)
	dedupSvc := &application.DedupService{
		Cache:        cache,
		Config:       cfg.dedup,
		Runner:       pool,
		StoreTimeout: cfg.storeTimeout,
		Logger:       &logger,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := http.Handler(proxy)
	if cfg.dedupEnabled {
		h = admission.DedupMiddleware(admission.DedupOptions{
			Service:      dedupSvc,
			MaxBodyBytes: cfg.dedupMaxBody,
			Metrics:      metrics,
		})(h)
	}
	if cfg.rateEnabled {
		h = admission.Middleware(admission.Options{
			Service:            admissionSvc,
			Policies:           cfg.basePolicies,
			PolicyFn:           routePolicyFn(cfg),
			UserHeader:         cfg.userHeader,
			TrustXForwardedFor: cfg.trustXFF,
			Metrics:            metrics,
		})(h)
	}
	if cfg.shieldRPS > 0 {
		shield := infra.NewShield(cfg.shieldRPS, cfg.shieldBurst)
		shield.StartJanitor(ctx)
		h = admission.ShieldMiddleware(admission.ShieldOptions{
			Shield:             shield,
			UserHeader:         cfg.userHeader,
			TrustXForwardedFor: cfg.trustXFF,
		})(h)
	}
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(h)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Method(http.MethodGet, "/healthz", admission.HealthHandler(counter, cache, &logger))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/admin/cache", func(r chi.Router) {
		r.Get("/stats", cacheStatsHandler(dedupSvc, &logger))
		r.Post("/invalidate", cacheInvalidateHandler(dedupSvc, &logger))
	})
	r.Handle("/*", h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		// deixa as gravações de cache em voo pousarem
		pool.Wait()
	}()

	logger.Info().Str("listen", cfg.listenAddr).Str("upstream", target.String()).Msg("gateway listening")
	logger.Info().Bool("rate", cfg.rateEnabled).Bool("dedup", cfg.dedupEnabled).
		Float64("shield_rps", cfg.shieldRPS).Int("concurrency_max", cfg.concurrencyMax).
		Msg("pipeline configured")
	for _, p := range cfg.basePolicies {
		logger.Info().Str("policy", p.Name).Int("limit", p.Limit).Dur("window", p.Window).Msg("base policy")
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "gateway").Logger()
}

// requestID garante um X-Request-Id por requisição, reaproveitando o do
// cliente quando vier.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func cacheStatsHandler(svc *application.DedupService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("cache stats failed")
			http.Error(w, "cache stats unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries":  stats.Entries,
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"hitRatio": stats.HitRatio(),
		})
	}
}

func cacheInvalidateHandler(svc *application.DedupService, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.Invalidate(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("cache invalidation failed")
			http.Error(w, "cache invalidation failed", http.StatusServiceUnavailable)
			return
		}
		logger.Info().Int64("removed", n).Msg("cache invalidated")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{"removed": n})
	}
}

// routePolicyFn soma policies por rota (prefixo) e a policy de caller
// autenticado. Todas entram na avaliação junto com as bases; a mais
// restritiva decide.
func routePolicyFn(cfg config) func(r *http.Request) []domain.Policy {
	return func(r *http.Request) []domain.Policy {
		var out []domain.Policy
		if cfg.authPolicy != nil {
			if _, ok := admission.UserIDFromContext(r.Context()); ok || hasUserHeader(r, cfg.userHeader) {
				out = append(out, *cfg.authPolicy)
			}
		}
		for _, rp := range cfg.routePolicies {
			if strings.HasPrefix(r.URL.Path, rp.prefix) {
				out = append(out, rp.policy)
			}
		}
		return out
	}
}

func hasUserHeader(r *http.Request, header string) bool {
	return header != "" && strings.TrimSpace(r.Header.Get(header)) != ""
}

type routePolicy struct {
	prefix string
	policy domain.Policy
}

type config struct {
	listenAddr  string
	upstreamURL string

	redisAddr     string
	redisPassword string
	redisDB       int
	storeTimeout  time.Duration

	userHeader string
	trustXFF   bool

	rateEnabled   bool
	basePolicies  []domain.Policy
	authPolicy    *domain.Policy
	routePolicies []routePolicy

	dedupEnabled bool
	dedup        domain.DedupConfig
	dedupMaxBody int64
	dedupWriters int

	shieldRPS   float64
	shieldBurst int

	concurrencyMax     int
	concurrencyTimeout time.Duration
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}

	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.storeTimeout = getenvDurationDefault("STORE_TIMEOUT", 150*time.Millisecond)

	cfg.userHeader = os.Getenv("USER_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)

	var err error
	cfg.basePolicies, err = parsePolicies(getenvDefault("RATE_POLICIES", "global=300/15minutes"))
	if err != nil {
		return config{}, err
	}

	if spec := getenvDefault("RATE_AUTH_POLICY", "authenticated=1000/15minutes"); spec != "" && spec != "off" {
		ps, err := parsePolicies(spec)
		if err != nil {
			return config{}, err
		}
		if len(ps) != 1 {
			return config{}, errors.New("RATE_AUTH_POLICY must define exactly one policy")
		}
		cfg.authPolicy = &ps[0]
	}

	// rotas caras têm policies bem mais apertadas, avaliadas junto com a
	// global
	routeSpec := getenvDefault("ROUTE_POLICIES",
		"/auth=auth-endpoints=10/15minutes;/upload=uploads=20/1hour;/search=search=30/1minute;/reports=expensive=15/5minutes")
	cfg.routePolicies, err = parseRoutePolicies(routeSpec)
	if err != nil {
		return config{}, err
	}

	cfg.dedupEnabled = getenvBoolDefault("DEDUP_ENABLED", true)
	cfg.dedup, err = dedupFromEnv()
	if err != nil {
		return config{}, err
	}
	cfg.dedupMaxBody = int64(getenvIntDefault("DEDUP_MAX_BODY", 1<<20))
	cfg.dedupWriters = getenvIntDefault("DEDUP_WRITERS", 8)

	cfg.shieldRPS = getenvFloatDefault("SHIELD_RPS", 0)
	cfg.shieldBurst = getenvIntDefault("SHIELD_BURST", 50)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 0)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	return cfg, nil
}

// parsePolicies lê "name=limit/window[,name=limit/window...]",
// ex: "global=300/15minutes,api=1000/1hour".
func parsePolicies(spec string) ([]domain.Policy, error) {
	var out []domain.Policy
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := parsePolicy(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no policies in %q", spec)
	}
	return out, nil
}

func parsePolicy(part string) (domain.Policy, error) {
	name, rest, ok := strings.Cut(part, "=")
	if !ok {
		return domain.Policy{}, fmt.Errorf("policy %q: want name=limit/window", part)
	}
	limitStr, windowStr, ok := strings.Cut(rest, "/")
	if !ok {
		return domain.Policy{}, fmt.Errorf("policy %q: want name=limit/window", part)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil {
		return domain.Policy{}, fmt.Errorf("policy %q: invalid limit: %w", part, err)
	}
	window, err := domain.ParseWindow(windowStr)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("policy %q: %w", part, err)
	}
	return domain.NewPolicy(strings.TrimSpace(name), limit, window)
}

// parseRoutePolicies lê "prefix=name=limit/window[;...]".
func parseRoutePolicies(spec string) ([]routePolicy, error) {
	var out []routePolicy
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, policyPart, ok := strings.Cut(part, "=")
		if !ok || !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("route policy %q: want /prefix=name=limit/window", part)
		}
		p, err := parsePolicy(policyPart)
		if err != nil {
			return nil, err
		}
		out = append(out, routePolicy{prefix: prefix, policy: p})
	}
	return out, nil
}

func dedupFromEnv() (domain.DedupConfig, error) {
	var cfg domain.DedupConfig
	switch preset := getenvDefault("DEDUP_PRESET", "standard"); preset {
	case "standard":
		cfg = domain.StandardDedup()
	case "aggressive":
		cfg = domain.AggressiveDedup()
	case "conservative":
		cfg = domain.ConservativeDedup()
	default:
		return cfg, fmt.Errorf("unknown DEDUP_PRESET %q", preset)
	}

	if v := os.Getenv("DEDUP_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return cfg, fmt.Errorf("invalid DEDUP_TTL %q", v)
		}
		cfg.TTL = ttl
	}
	if v := os.Getenv("DEDUP_HEADERS"); v != "" {
		cfg.IncludeHeaders = true
		cfg.HeadersToInclude = splitCSV(v)
	}
	if v := os.Getenv("DEDUP_KEY_PREFIX"); v != "" {
		cfg.KeyPrefix = v
	}
	return cfg, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
