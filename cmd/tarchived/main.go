package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"tarchive/internal/arbiter"
	"tarchive/internal/config"
	"tarchive/internal/daemon"
	"tarchive/internal/device"
	"tarchive/internal/ipc"
	"tarchive/internal/logging"
	"tarchive/internal/notifications"
	"tarchive/internal/queue"
	"tarchive/internal/tasks"
	"tarchive/internal/workflow"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogPath()},
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}

	driver := device.New(cfg)
	arb := arbiter.New(store, driver, logger)
	notifier := notifications.NewService(cfg)

	env := &tasks.Environment{
		Config:   cfg,
		Store:    store,
		Arbiter:  arb,
		Driver:   driver,
		Notifier: notifier,
		Logger:   logger,
	}
	manager := workflow.NewManager(cfg, store, tasks.Handlers(env), notifier, logger)

	d, err := daemon.New(cfg, store, driver, arb, manager, notifier, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	server, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		logger.Error("start IPC server", logging.Error(err))
		return
	}
	defer server.Close()
	server.Serve()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("tarchived shutting down")
}
