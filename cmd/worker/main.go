package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"newsletter/internal/config"
	"newsletter/internal/email"
	"newsletter/internal/httpserver"
	"newsletter/internal/logging"
	"newsletter/internal/observability"
	"newsletter/internal/store/pg"
	workerproc "newsletter/internal/worker"
)

func main() {
	cfg := config.LoadWorker()
	logging.Init("worker", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	})
	if err != nil {
		slog.Error("worker db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := pg.New(db)

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	// health server (liveness + readiness)
	healthSrv := &http.Server{
		Addr: ":" + cfg.Port,
	}
	{
		s := httpserver.New()
		s.Mux.Use(httpserver.Metrics(observability.APIRequests))
		s.Mux.HandleFunc("/healthz", httpserver.Healthz())
		s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second,
			func(c context.Context) error { return db.Ping(c) },
		))
		healthSrv.Handler = httpserver.Logging(httpserver.RequestID(s.Mux))
	}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	sender := &email.Client{
		BaseURL:     cfg.EmailBaseURL,
		ServerToken: cfg.EmailServerToken,
		Sender:      cfg.EmailSender,
		HTTP:        &http.Client{Timeout: cfg.EmailTimeout},
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.EmailRPS), cfg.EmailBurst)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "email",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})

	processor := &workerproc.Processor{
		Store:       st,
		Sender:      sender,
		Limiter:     limiter,
		Breaker:     cb,
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		IdleSleep:   cfg.IdleSleep,
	}

	// Independent loops sharing one pool; SKIP LOCKED keeps them off each
	// other's tasks.
	var wg sync.WaitGroup
	doneCh := make(chan struct{})
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			slog.Info("delivery loop starting", "loop", n)
			if err := processor.Run(ctx); err != nil && err != context.Canceled {
				slog.Error("delivery loop failed", "loop", n, "err", err)
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-doneCh:
	case <-time.After(10 * time.Second):
		slog.Info("worker shutdown timeout waiting for delivery loops")
	}
}
