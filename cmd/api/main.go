package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oreai/backend/internal/config"
	"oreai/backend/internal/db"
	"oreai/backend/internal/httpapi"
	"oreai/backend/internal/mcptools"
)

func main() {
	log := httpapi.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg)
	if err != nil {
		log.Error("open db", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	toolCache, err := mcptools.NewCache(cfg, log)
	if err != nil {
		log.Error("create mcp tool cache", "error", err)
		os.Exit(1)
	}
	defer toolCache.Close()

	promptCtx, promptCancel := context.WithTimeout(context.Background(), 15*time.Second)
	systemPrompt := httpapi.LoadSystemPrompt(promptCtx, cfg, log)
	promptCancel()
	handler := httpapi.NewRouter(cfg, database, toolCache, systemPrompt, log)

	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 130 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", cfg.ListenAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
	}
}
