package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/smart-transaction/stxn-poc-solvers/internal/bootstrap"
	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/chain/jsonrpc"
	"github.com/smart-transaction/stxn-poc-solvers/internal/config"
	"github.com/smart-transaction/stxn-poc-solvers/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	shutdownTrace, err := observability.InitTracingFromEnv("stxn-solver")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	from, err := chain.ParseAddress(cfg.FromAccount)
	if err != nil {
		log.Fatalf("from account: %v", err)
	}
	laminator, err := chain.ParseAddress(cfg.Laminator)
	if err != nil {
		log.Fatalf("laminator address: %v", err)
	}
	client, err := jsonrpc.Dial(jsonrpc.Options{
		Endpoint:     cfg.ChainEndpoint,
		FromAccount:  from,
		Laminator:    laminator,
		PollInterval: cfg.LogPollInterval.Std(),
	})
	if err != nil {
		log.Fatalf("dial chain: %v", err)
	}

	rt, err := bootstrap.New(cfg, client)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go rt.Stats.Run(ctx)

	// Stream failure is fatal: event delivery has no fallback.
	listenErr := make(chan error, 1)
	go func() { listenErr <- rt.Listener.Run(ctx) }()

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: rt.Server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Printf("solver listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			log.Fatalf("listener failed: %v", err)
		}
	case <-ctx.Done():
	}
	rt.Registry.Wait()
	log.Println("solver shutting down")
}
