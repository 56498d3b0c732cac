// Command llmcd runs the idle-throttled background loop that keeps a
// repository's index current: a filesystem watcher wakes it on file
// changes, and between wakeups it backs off exponentially while the
// enrichment queue is empty. See daemon.Loop for the scheduling policy.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/llmc/llmc"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	repoRoot := flag.String("repo", "", "Repository root to watch and index (required unless set in config)")
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
	if v := os.Getenv("LLMC_REPO_ROOT"); v != "" {
		cfg.RepoRoot = v
	}
	if len(cfg.Daemon.WatchPaths) == 0 && cfg.RepoRoot != "" {
		cfg.Daemon.WatchPaths = []string{cfg.RepoRoot}
	}

	engine, err := llmc.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	loop, err := engine.NewDaemonLoop()
	if err != nil {
		slog.Error("starting daemon loop", "error", err)
		os.Exit(1)
	}

	slog.Info("llmcd starting", "repo_root", cfg.RepoRoot, "watch_paths", cfg.Daemon.WatchPaths)
	if err := loop.Run(context.Background()); err != nil {
		slog.Error("daemon loop exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("llmcd stopped")
}
