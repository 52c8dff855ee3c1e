// storewatch monitors restaurant uptime from periodic status polls and
// serves uptime/downtime reports over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storewatch/ingest"
	"storewatch/logger"
	"storewatch/reports"
	"storewatch/storage"
)

func main() {
	configPath := flag.String("config", "storewatch.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LevelFromString(strings.ToUpper(cfg.Logging.Level)), cfg.Logging.Dir, 1000)
	defer log.Close()
	storage.SetLogger(log)

	log.Info("Starting storewatch", "config", *configPath, "debug", cfg.Debug)

	store, err := storage.NewStore(&cfg.Database)
	if err != nil {
		log.Error("Could not open database", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	gen := reports.NewGenerator(store, cfg.Reports.Dir)
	manager := reports.NewManager(store, gen, log,
		time.Duration(cfg.Reports.StaleTTLMins)*time.Minute,
		time.Duration(cfg.Reports.JanitorIntervalMins)*time.Minute)
	manager.Start()
	defer manager.Stop()

	if cfg.Ingest.Enabled && cfg.Ingest.StatusURL != "" {
		runner := ingest.NewRunner(store, log, ingest.Sources{
			StatusURL:    cfg.Ingest.StatusURL,
			MenuHoursURL: cfg.Ingest.MenuHoursURL,
			TimezonesURL: cfg.Ingest.TimezonesURL,
		}, cfg.Server.DataDir, time.Duration(cfg.Ingest.IntervalMins)*time.Minute, cfg.Debug)
		runner.Start()
		defer runner.Stop()
	} else {
		log.Info("Ingest disabled or unconfigured, serving existing data only")
	}

	api := NewAPI(store, manager, log)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      api.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "error", err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("Forced shutdown", "error", err.Error())
	}
}
