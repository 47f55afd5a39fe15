package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourname/webcache/internal/cachestore"
	"github.com/yourname/webcache/internal/config"
	"github.com/yourname/webcache/internal/metrics"
	"github.com/yourname/webcache/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	store := cachestore.New(cfg.CacheEndpoint)
	if err := store.Ping(); err != nil {
		log.Fatalf("cache store unreachable at %s: %v", cfg.CacheEndpoint, err)
	}

	mux := http.NewServeMux()

	srv := server.NewServer(cfg, store)
	mux.Handle("/", srv)

	health := &metrics.HealthHandler{Store: store}
	mux.Handle("/healthz", health.HealthCheckHandler())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0,
	}

	go func() {
		log.Printf("webcache listening on %s (origin 127.0.0.1:%d, cache %s)", cfg.ListenAddr, cfg.OriginPort, cfg.CacheEndpoint)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctxShutdown)
	log.Println("server stopped")
}
