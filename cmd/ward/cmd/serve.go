package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ward-ops/ward/internal/config"
	"github.com/ward-ops/ward/internal/domain/audit"
	"github.com/ward-ops/ward/internal/domain/auth"
	"github.com/ward-ops/ward/internal/domain/chat"
	"github.com/ward-ops/ward/internal/domain/infra"
	"github.com/ward-ops/ward/internal/domain/policy"
	"github.com/ward-ops/ward/internal/domain/tool"
	"github.com/ward-ops/ward/internal/observe"
	"github.com/ward-ops/ward/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the backend server",
	Long: `Start the Ward backend server.

The backend hosts the policy engine, the simulated cloud estate, the tool
executor, and the chat agent behind one HTTP API. Every tool call — direct
or agent-initiated — goes through the same policy chain, and every
infrastructure mutation lands in the SQLite audit log.

Examples:
  # Start with config file settings
  ward serve

  # Start with a specific config file
  ward --config /path/to/ward.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C is a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	return serve(ctx, cfg, logger)
}

// serve wires the backend together and runs it until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	doc := policy.DefaultDocument()
	if cfg.Policy.File != "" {
		loaded, err := policy.LoadDocument(cfg.Policy.File)
		if err != nil {
			return fmt.Errorf("failed to load policy document: %w", err)
		}
		doc = loaded
		logger.Info("loaded policy document", "file", cfg.Policy.File, "modes", doc.ModeNames())
	}

	engine, err := policy.NewEngine(doc, logger)
	if err != nil {
		return fmt.Errorf("failed to build policy engine: %w", err)
	}

	catalog := tool.NewCatalog()
	if err := doc.CheckCatalog(catalog.Names()); err != nil {
		return fmt.Errorf("policy document does not match the tool catalog: %w", err)
	}

	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer auditLog.Close()
	logger.Info("audit store open", "path", cfg.Audit.Path)

	// The health listener keeps the engine's unhealthy-service view current,
	// which incident-scope validation depends on.
	cloud := infra.NewCloud(logger,
		infra.WithActionLog(auditLog),
		infra.WithHealthListener(engine.SetUnhealthy),
	)
	executor := tool.NewExecutor(catalog, cloud, logger)

	keys := make([]auth.Key, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys = append(keys, auth.Key{Name: k.Name, Hash: k.Hash})
	}
	verifier := auth.NewVerifier(keys)
	if verifier.Enabled() {
		logger.Info("api key auth enabled", "keys", len(keys))
	} else {
		logger.Warn("api key auth disabled: no keys configured")
	}

	obs, err := observe.New(ctx, Version, cfg.Telemetry.Enabled, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	srv := server.New(server.Options{
		Logger:   logger,
		Engine:   engine,
		Cloud:    cloud,
		Catalog:  catalog,
		Executor: executor,
		Verifier: verifier,
		Observe:  obs,
	})

	services := make([]string, 0)
	for name := range cloud.Status().Services {
		services = append(services, name)
	}
	responder := chat.NewScriptedResponder(srv.ChatRunner(), services)
	chats := chat.NewStore(responder, logger)
	defer chats.Close()
	srv.SetChats(chats)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ward backend listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("ward stopped")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
