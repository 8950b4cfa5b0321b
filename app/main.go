package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itambient/feedpost/app/api"
	"github.com/itambient/feedpost/app/cfg"
	"github.com/itambient/feedpost/app/feed"
	"github.com/itambient/feedpost/app/ledger"
	"github.com/itambient/feedpost/app/publisher"
	"github.com/itambient/feedpost/app/sources"
	"github.com/itambient/feedpost/app/tasks"
	"github.com/itambient/feedpost/app/telegram"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting feedpost", "version", appCfg.Version)

	led, err := ledger.Open(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open ledger", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer led.Close()
	slog.Info("Ledger ready", "path", appCfg.DBPath)

	httpClient := &http.Client{}
	sourceLoader := sources.NewLoader(appCfg.SourcesFile)
	fetcher := feed.NewFetcher(httpClient, feed.NewParser(), appCfg.UserAgent)
	deliverer := telegram.NewClient(httpClient, appCfg.BotToken, appCfg.ChatID, appCfg.UserAgent)

	runner := publisher.NewRunner(appCfg, sourceLoader, fetcher, deliverer, led)

	interval := time.Duration(appCfg.CheckIntervalMinutes) * time.Minute
	scheduler := tasks.NewScheduler(runner, interval)
	scheduler.Start()
	defer scheduler.Stop()
	slog.Info("Polling loop started", "interval", interval.String())

	handler := api.NewHandler(led, scheduler, appCfg.Version)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Status server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer; it waits for the in-flight cycle
	slog.Info("Shutdown complete")
}
