package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

func main() {
	// Exemplo: injetando os middlewares direto no seu webserver (sem proxy,
	// sem redis). Stores em memória valem para uma instância só.
	counter := infra.NewMemoryCounterStore()
	cache := infra.NewMemoryResponseCache()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shield := infra.NewShield(20, 40)
	shield.StartJanitor(ctx)

	admissionSvc := &application.AdmissionService{Store: counter}
	dedupSvc := &application.DedupService{Cache: cache, Config: domain.StandardDedup()}

	policy, err := domain.NewPolicy("per-address", 100, 15*time.Minute)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = admission.DedupMiddleware(admission.DedupOptions{Service: dedupSvc})(h)
	h = admission.Middleware(admission.Options{
		Service:  admissionSvc,
		Policies: []domain.Policy{policy},
	})(h)
	h = admission.ShieldMiddleware(admission.ShieldOptions{Shield: shield})(h)
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{Max: 50})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
