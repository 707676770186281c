package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnero/dispatch-service/internal/broadcast"
	"turnero/dispatch-service/internal/config"
	"turnero/dispatch-service/internal/engine"
	"turnero/dispatch-service/internal/httpapi"
	"turnero/dispatch-service/internal/store/postgres"
	"turnero/dispatch-service/internal/telemetry"

	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("dispatch-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	hub := broadcast.NewHub()
	eng := engine.New(st, hub, engine.Options{
		Location:         cfg.Location,
		NumberingRetries: cfg.NumberingRetries,
		ClaimRetries:     cfg.ClaimRetries,
		MaxCommentLength: cfg.MaxCommentLength,
	})
	handler := httpapi.NewHandler(eng, st)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})
	auth := httpapi.APIKeyMiddleware(cfg.APIKeys)

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, broadcast.SessionHandler(hub)))
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(limiter.Middleware(auth(httpapi.LoggingMiddleware(mux))), "dispatch-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("dispatch-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if cfg.ReaperInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.ReaperInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			count, err := eng.Reap(ctx, time.Now())
			cancel()
			if err != nil {
				log.Printf("reaper error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("reaper cancelled %d stale tickets", count)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
