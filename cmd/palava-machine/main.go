package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palavatv/palava-machine/internal/config"
	"github.com/palavatv/palava-machine/internal/httpserver"
	"github.com/palavatv/palava-machine/internal/rooms"
	"github.com/palavatv/palava-machine/internal/session"
	"github.com/palavatv/palava-machine/internal/store"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting palava-machine",
		"listen_addr", cfg.ListenAddr,
		"redis_addr", cfg.RedisOptions.Addr,
		"mode", cfg.Mode,
		"shutdown_grace", cfg.ShutdownGrace,
		"max_message_bytes", cfg.MaxMessageBytes,
	)

	client := redis.NewClient(cfg.RedisOptions)
	defer client.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := client.Ping(pingCtx).Err(); err != nil {
		// Not fatal: Redis may come up after us, and readiness reports it.
		logger.Warn("redis not reachable at startup", "err", err)
	}
	cancelPing()

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	subscriber := store.NewSubscriber(runCtx, client)
	defer subscriber.Close()

	coordinator := rooms.NewCoordinator(store.New(client), logger)
	registry := session.NewRegistry()
	dispatcher := session.NewDispatcher(coordinator, subscriber, registry, logger, session.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		AllowedOrigins:  cfg.AllowedOrigins,
	})
	go dispatcher.Run(runCtx)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt}, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	srv.Mux().Handle("GET /", dispatcher)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())

		// SIGTERM gives clients the announced grace period; SIGINT closes
		// immediately.
		grace := cfg.ShutdownGrace
		if sig == os.Interrupt {
			grace = 0
		}
		dispatcher.Shutdown(grace)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
