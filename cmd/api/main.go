package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"trainhub.org/internal/httpapi"
	"trainhub.org/internal/obs"
	"trainhub.org/internal/store/pg"
	"trainhub.org/internal/training"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db  *sql.DB
		svc *training.Service
	)
	opts := serviceOptions()
	if dsn := os.Getenv("TRAINHUB_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		svc = training.NewService(store, store, store, store, opts...)
	} else {
		// No DSN: run against the in-memory store (dev/demo mode).
		log.Println("TRAINHUB_PG_DSN not set, using in-memory store")
		mem := training.NewMemoryStore()
		svc = training.NewService(mem, mem, mem, mem, opts...)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc)

	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting trainhub-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func listenAddr() string {
	if addr := os.Getenv("TRAINHUB_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func serviceOptions() []training.Option {
	var opts []training.Option
	if raw := os.Getenv("TRAINHUB_RECONCILE_WORKERS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, training.WithWorkers(n))
		}
	}
	if raw := os.Getenv("TRAINHUB_RECONCILE_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			opts = append(opts, training.WithBatchTimeout(d))
		}
	}
	return opts
}
