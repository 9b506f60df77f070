// palava-stats is a one-shot exporter intended to run on a schedule: it
// drains closed-out hourly usage histograms from Redis into PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/palavatv/palava-machine/internal/config"
	"github.com/palavatv/palava-machine/internal/stats"
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

	if cfg.PostgresURL == "" {
		fmt.Fprintln(os.Stderr, "PALAVA_POSTGRES_URL/--postgres-url must be set")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(cfg.RedisOptions)
	defer client.Close()

	sink, err := stats.NewPostgresSink(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	defer sink.Close()

	if err := sink.EnsureSchema(ctx); err != nil {
		logger.Error("failed to prepare schema", "err", err)
		os.Exit(1)
	}

	exporter := stats.NewExporter(client, sink, logger, cfg.StatsGrace)
	exported, err := exporter.Export(ctx)
	if err != nil {
		logger.Error("export failed", "err", err, "hours_exported", exported)
		os.Exit(1)
	}
	logger.Info("export complete", "hours_exported", exported)
}
