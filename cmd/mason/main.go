// Mason estimation server — provides the HTTP API, runs the estimation
// pipeline, and streams progress events over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/costcraft/mason/pkg/api"
	"github.com/costcraft/mason/pkg/config"
	"github.com/costcraft/mason/pkg/events"
	"github.com/costcraft/mason/pkg/intent"
	"github.com/costcraft/mason/pkg/llm"
	"github.com/costcraft/mason/pkg/manager"
	"github.com/costcraft/mason/pkg/planner"
	"github.com/costcraft/mason/pkg/router"
	"github.com/costcraft/mason/pkg/smartsheet"
	"github.com/costcraft/mason/pkg/stage"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting Mason",
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Event broker and publisher
	broker := events.NewBroker(cfg.Pipeline.SubscriberBuffer)
	defer broker.Close()
	publisher := events.NewPublisher(broker)

	// 3. Model transport, routing, and caller
	transport := llm.NewAnthropicTransport()
	selector := llm.NewSelector(cfg.Routing)
	caller := llm.NewCaller(transport, selector, cfg.Pipeline.LLMMaxRetries)
	helper := stage.NewHelper(selector, caller)

	// 4. External sheet client
	sheetToken := os.Getenv(cfg.Smartsheet.TokenEnv)
	if sheetToken == "" {
		slog.Warn("No sheet API token configured, sheet sync will fail at runtime",
			"token_env", cfg.Smartsheet.TokenEnv)
	}
	sheetClient := smartsheet.NewClient(cfg.Smartsheet.BaseURL, sheetToken, cfg.Smartsheet.RequestTimeout)

	// 5. Stage registry
	registry, err := stage.NewRegistry(
		stage.NewSmartsheetAdapter(sheetClient),
		stage.NewParserAdapter(),
		stage.NewTradeClassifierAdapter(helper),
		stage.NewScopeExtractorAdapter(helper),
		stage.NewTakeoffAdapter(),
		stage.NewEstimatorAdapter(helper),
		stage.NewQAValidatorAdapter(),
		stage.NewExporterAdapter(),
	)
	if err != nil {
		slog.Error("Failed to build stage registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Stage registry initialized", "stages", registry.Names())

	// 6. Orchestration core
	classifier := intent.NewClassifier(selector, caller)
	mgr := manager.New(planner.New(classifier), registry, selector, publisher,
		manager.WithStageTimeout(cfg.Pipeline.StageTimeout),
		manager.WithRequestTimeout(cfg.Pipeline.RequestTimeout),
	)
	entry := router.New(mgr, selector, caller, publisher)

	// 7. HTTP server
	httpServer := api.NewServer(cfg, entry, api.NewStore(), broker)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Mason started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
