package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/loader/internal"
	"github.com/shubhambtra/chatapp-api-sub000/service"
)

func main() {
	envFile := flag.String("env", ".env", "env file to load if present")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal("error loading config: ", err)
	}
	logger := cfg.Log.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := service.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("error starting loader", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	watcher, err := internal.NewWatcher(cfg.Loader, rt.Service, logger)
	if err != nil {
		logger.Error("error starting watcher", "error", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Indexer.Run(ctx)
	})
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("loader stopped with error", "error", err)
	}
	logger.Info("loader stopped")
}
