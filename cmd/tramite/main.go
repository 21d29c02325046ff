package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/tramite-io/tramite"
)

func main() {
	var (
		configPath = flag.String("config", "tramite.yaml", "Path to the runtime config file")
		startProc  = flag.String("start", "", "Enqueue a start command for the named process and exit")
		jsonLogs   = flag.Bool("json", false, "Write logs as JSON")
	)
	flag.Parse()

	cfg, err := tramite.LoadConfig(*configPath)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	var logger *slog.Logger
	if *jsonLogs {
		logger = tramite.NewJSONLogger()
	} else {
		logger = tramite.NewLogger()
	}

	store, cleanup, err := openStore(cfg)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	defer cleanup()

	queue := tramite.NewMemoryQueue(0)
	providers := tramite.NewProviderRegistry()
	providers.Configure(cfg.Providers)

	handler, err := tramite.NewHandler(tramite.HandlerOptions{
		Store:      store,
		Queue:      queue,
		Notifier:   tramite.NewConsoleNotifier(),
		Providers:  providers,
		ProcessDir: cfg.ProcessDir,
		Logger:     logger,
	})
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *startProc != "" {
		cmd := &tramite.Command{Command: tramite.CommandStart, Process: *startProc}
		body, err := cmd.Encode()
		if err == nil {
			err = queue.Publish(ctx, body)
		}
		if err != nil {
			color.Red("Error: %v", err)
			os.Exit(1)
		}
		color.Blue("Enqueued start command for process %q", *startProc)
	}

	worker := tramite.NewWorker(queue, handler, logger)
	logger.Info("worker running", "queue", cfg.QueueName, "process_dir", cfg.ProcessDir)
	if err := worker.Run(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg *tramite.Config) (tramite.Store, func(), error) {
	if cfg.StoreDSN == "" {
		return tramite.NewMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.StoreDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	store := tramite.NewPostgresStore(db)
	if err := store.Setup(context.Background()); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}
