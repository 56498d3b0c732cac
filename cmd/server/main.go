package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llmc/llmc"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	repoRoot := flag.String("repo", "", "Repository root to index (required unless set in config)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := llmc.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}
	if *repoRoot != "" {
		cfg.RepoRoot = *repoRoot
	}

	if v := os.Getenv("LLMC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LLMC_REPO_ROOT"); v != "" {
		cfg.RepoRoot = v
	}
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if b.APIKey != "" {
			continue
		}
		switch b.Provider {
		case "openai":
			b.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			b.APIKey = os.Getenv("GROQ_API_KEY")
		case "openrouter":
			b.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}

	apiKey := os.Getenv("LLMC_API_KEY")
	corsOrigins := os.Getenv("LLMC_CORS_ORIGINS")

	engine, err := llmc.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /index", h.handleIndex)
	mux.HandleFunc("DELETE /index", h.handleRemove)
	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("POST /enrich/run", h.handleEnrichRun)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> request id -> mux
	var handler http.Handler = mux
	handler = requestIDMiddleware(handler)
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // search/enrich requests can run a while
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr, "repo_root", cfg.RepoRoot)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
