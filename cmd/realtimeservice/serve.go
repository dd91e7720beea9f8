package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-realtime-service/internal/app"
	"github.com/tinywideclouds/go-realtime-service/internal/auth"
	"github.com/tinywideclouds/go-realtime-service/internal/notify"
	"github.com/tinywideclouds/go-realtime-service/internal/realtime"
	"github.com/tinywideclouds/go-realtime-service/realtimeservice"
	"github.com/tinywideclouds/go-realtime-service/realtimeservice/config"
)

//go:embed config.yaml
var configFile []byte

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server and notification API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

// loadConfig runs both configuration stages over the embedded config.yaml.
func loadConfig(logger *slog.Logger) (*config.AppConfig, error) {
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration from YAML: %w", err)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize configuration with environment overrides: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context) error {
	logger := newLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	deps, closeDeps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer closeDeps()

	verifier, err := auth.NewHS256Verifier(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := realtime.NewMetrics(reg)

	// The live connection layer.
	registry := realtime.NewRegistry()
	bridge := realtime.NewBridge(registry, metrics, logger)
	connManager, err := realtime.NewConnectionManager(
		realtime.Config{
			Port:           cfg.WebSocketPort,
			SendQueueSize:  cfg.SendQueueSize,
			AllowedOrigins: cfg.Cors.AllowedOrigins,
		},
		auth.AttributionGate(verifier, logger),
		registry,
		bridge,
		deps.PresenceCache,
		metrics,
		logger.With("component", "ConnManager"),
	)
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}

	notifier, err := notify.New(deps.NotificationStore, bridge, logger)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}

	apiService, err := realtimeservice.New(
		cfg,
		deps,
		notifier,
		registry,
		auth.RequireBearer(verifier, logger),
		reg,
		logger.With("component", "ApiService"),
	)
	if err != nil {
		return fmt.Errorf("failed to create API service: %w", err)
	}

	app.Run(ctx, logger, apiService, connManager)
	return nil
}
