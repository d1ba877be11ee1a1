package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatdb/internal/cache"
	"github.com/user/chatdb/internal/connreg"
	"github.com/user/chatdb/internal/orchestrator"
	"github.com/user/chatdb/internal/prompt"
	"github.com/user/chatdb/internal/server"
	"github.com/user/chatdb/internal/state"
	"github.com/user/chatdb/pkg/llm"
	"github.com/user/chatdb/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatdb HTTP server",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "chatdb.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Session store; unavailability here is fatal to the whole service.
	sessions, err := state.Open(filepath.Join(cfg.DataDir, "app_data.sqlite"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessions.Close()

	// Connection registry
	registry := connreg.New(connreg.PoolConfig{
		MaxConns:       int32(cfg.Pool.MaxConns),
		MinConns:       int32(cfg.Pool.MinConns),
		IdleTimeout:    time.Duration(cfg.Pool.IdleTimeoutSec) * time.Second,
		ConnectTimeout: time.Duration(cfg.Pool.ConnectTimeoutSec) * time.Second,
	})
	defer registry.Close()

	// Query cache with periodic sweep
	queryCache := cache.New(cfg.Cache.SimilarityThreshold, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	sweeper, err := cache.NewSweeper(queryCache, cfg.Cache.SweepSchedule)
	if err != nil {
		return fmt.Errorf("create cache sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// LLM provider
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	// Prompt engine
	prompts, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create prompt engine: %w", err)
	}

	orch := orchestrator.New(registry, queryCache, sessions, provider, prompts, orchestrator.Options{
		MaxSteps:       cfg.Agent.MaxSteps,
		RequestTimeout: time.Duration(cfg.Agent.RequestTimeoutSec) * time.Second,
		MaxConcurrent:  int64(cfg.Agent.MaxConcurrent),
	})

	srv := server.New(registry, sessions, orch, cfg.Server.CORSOrigin)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("chatdb started",
			"addr", httpServer.Addr,
			"data_dir", cfg.DataDir,
			"llm_model", cfg.LLM.Model,
			"max_steps", cfg.Agent.MaxSteps,
			"cache_threshold", cfg.Cache.SimilarityThreshold,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-sigChan:
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
