/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, env, optional config file)
  2. Initialize structured logger
  3. Initialize SQLite store and seed the default rule set if absent
  4. Create API handler with dependencies
  5. Start the auto-approval sweep scheduler
  6. Start server with graceful shutdown

CONFIGURATION (viper: flags > env > config file > defaults):
  port             HTTP server port (default: 8080)
  db               SQLite database path (default: commission.db)
                   Use ":memory:" for in-memory database
  rules            Optional JSON file with a rule-set override
  sweep-interval   Auto-approval sweep interval (default: 1h)
  sweep-enabled    Whether the sweep scheduler runs (default: true)

  Environment variables use the COMMISSION_ prefix:
  COMMISSION_PORT, COMMISSION_DB, COMMISSION_SWEEP_INTERVAL, ...

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server --db=./data/commission.db

  # Run with in-memory database, fast sweep
  ./server --db=:memory: --sweep-interval=1m

  # Run on different port
  COMMISSION_PORT=3000 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/payout"
	"github.com/warp/commission-engine/store/sqlite"
)

func main() {
	cfg := loadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

type config struct {
	Port          int
	DBPath        string
	RulesFile     string
	SweepInterval time.Duration
	SweepEnabled  bool
}

func loadConfig() config {
	pflag.Int("port", 8080, "HTTP server port")
	pflag.String("db", "commission.db", "SQLite database path")
	pflag.String("rules", "", "Optional JSON file with a rule-set override")
	pflag.Duration("sweep-interval", time.Hour, "Auto-approval sweep interval")
	pflag.Bool("sweep-enabled", true, "Run the auto-approval sweep scheduler")
	pflag.String("config", "", "Optional config file path")
	pflag.Parse()

	v := viper.New()
	v.BindPFlags(pflag.CommandLine)
	v.SetEnvPrefix("COMMISSION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config file %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	return config{
		Port:          v.GetInt("port"),
		DBPath:        v.GetString("db"),
		RulesFile:     v.GetString("rules"),
		SweepInterval: v.GetDuration("sweep-interval"),
		SweepEnabled:  v.GetBool("sweep-enabled"),
	}
}

func run(cfg config, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	if err := seedRuleSet(store, cfg.RulesFile, logger); err != nil {
		return err
	}

	// Wire dependencies. NopRail stands in for a real payment provider.
	handler := api.NewHandler(store, payout.NopRail{}, logger)
	router := api.NewRouter(handler)

	scheduler := api.NewSweepScheduler(handler.Service, logger)
	scheduler.CheckInterval = cfg.SweepInterval
	scheduler.Enabled = cfg.SweepEnabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// seedRuleSet makes sure the store has an active rule set before the
// first sale arrives. An explicit rules file wins over the built-in
// defaults; an already-seeded store is left alone.
func seedRuleSet(store *sqlite.Store, rulesFile string, logger *zap.Logger) error {
	ctx := context.Background()

	if _, err := store.ActiveRuleSet(ctx); err == nil {
		if rulesFile == "" {
			return nil
		}
	} else if !errors.Is(err, commission.ErrRuleSetInvalid) {
		return fmt.Errorf("failed to check rule set: %w", err)
	}

	rules := commission.DefaultRuleSet()
	if rulesFile != "" {
		raw, err := os.ReadFile(rulesFile)
		if err != nil {
			return fmt.Errorf("failed to read rules file: %w", err)
		}
		rules, err = factory.NewRuleSetFactory().Parse(string(raw))
		if err != nil {
			return fmt.Errorf("invalid rules file: %w", err)
		}
	}

	if err := store.SaveRuleSet(ctx, *rules); err != nil {
		return fmt.Errorf("failed to seed rule set: %w", err)
	}
	logger.Info("rule set seeded", zap.Int("version", rules.Version))
	return nil
}
