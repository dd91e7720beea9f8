package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend type names accepted in config.
const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"

	PresenceRedis = "redis"
	PresenceNone  = "none"

	IngressPubsub = "pubsub"
	IngressAMQP   = "amqp"
	IngressMemory = "memory"
	IngressNone   = "none"
)

const (
	defaultSendQueueSize      = 256
	defaultNumPipelineWorkers = 4
	defaultPresenceTTL        = 24 * time.Hour
)

// AppConfig is the canonical, validated configuration object used throughout the application.
// It is created by NewConfigFromYaml (Stage 1) and finalized by
// UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID          string
	RunMode            string
	APIPort            string
	WebSocketPort      string
	JWTSecret          string
	SendQueueSize      int
	NumPipelineWorkers int
	Cors               YamlCorsConfig
	NotificationStore  YamlNotificationStoreConfig
	PresenceCache      YamlPresenceCacheConfig
	Ingress            YamlIngressConfig
}

// PresenceTTL returns the parsed presence entry lifetime.
func (c *AppConfig) PresenceTTL() time.Duration {
	ttl, err := time.ParseDuration(c.PresenceCache.Redis.TTL)
	if err != nil || ttl <= 0 {
		return defaultPresenceTTL
	}
	return ttl
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from YAML)
// and completes it by applying environment variables and final validation.
// This function completes "Stage 2" of configuration loading.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger *slog.Logger) (*AppConfig, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		logger.Debug("Overriding config value", "key", "GCP_PROJECT_ID", "source", "env")
		cfg.ProjectID = projectID
	}
	if port := os.Getenv("API_PORT"); port != "" {
		logger.Debug("Overriding config value", "key", "API_PORT", "source", "env")
		cfg.APIPort = port
	}
	if port := os.Getenv("WEBSOCKET_PORT"); port != "" {
		logger.Debug("Overriding config value", "key", "WEBSOCKET_PORT", "source", "env")
		cfg.WebSocketPort = port
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		logger.Debug("Overriding config value", "key", "JWT_SECRET", "source", "env")
		cfg.JWTSecret = secret
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		logger.Debug("Overriding config value", "key", "REDIS_ADDR", "source", "env")
		cfg.PresenceCache.Redis.Addr = redisAddr
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		logger.Debug("Overriding config value", "key", "DATABASE_URL", "source", "env")
		cfg.NotificationStore.Postgres.URL = dbURL
	}
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		logger.Debug("Overriding config value", "key", "AMQP_URL", "source", "env")
		cfg.Ingress.AMQP.URL = amqpURL
	}
	if size := os.Getenv("SEND_QUEUE_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("SEND_QUEUE_SIZE must be a positive integer, got %q", size)
		}
		logger.Debug("Overriding config value", "key", "SEND_QUEUE_SIZE", "source", "env")
		cfg.SendQueueSize = n
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.Cors.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = defaultNumPipelineWorkers
	}
	if cfg.NotificationStore.Type == "" {
		cfg.NotificationStore.Type = StoreMemory
	}
	if cfg.PresenceCache.Type == "" {
		cfg.PresenceCache.Type = PresenceNone
	}
	if cfg.Ingress.Type == "" {
		cfg.Ingress.Type = IngressNone
	}

	// 3. Final Validation
	if err := validate(cfg); err != nil {
		logger.Error("Final config validation failed", "error", err)
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *AppConfig) error {
	if cfg.APIPort == "" {
		return fmt.Errorf("API_PORT is not set in config or env var")
	}
	if cfg.WebSocketPort == "" {
		return fmt.Errorf("WEBSOCKET_PORT is not set in config or env var")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set in config or env var")
	}

	switch cfg.NotificationStore.Type {
	case StoreFirestore:
		if cfg.ProjectID == "" {
			return fmt.Errorf("notification_store type is firestore but GCP_PROJECT_ID is not set")
		}
		if cfg.NotificationStore.Firestore.CollectionName == "" {
			return fmt.Errorf("notification_store type is firestore but no collection name is configured")
		}
	case StorePostgres:
		if cfg.NotificationStore.Postgres.URL == "" {
			return fmt.Errorf("notification_store type is postgres but no url is configured (check DATABASE_URL env var)")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid notification_store type: %s (must be 'firestore', 'postgres' or 'memory')", cfg.NotificationStore.Type)
	}

	switch cfg.PresenceCache.Type {
	case PresenceRedis:
		if cfg.PresenceCache.Redis.Addr == "" {
			return fmt.Errorf("presence_cache type is redis but no address is configured (check REDIS_ADDR env var)")
		}
	case PresenceNone:
	default:
		return fmt.Errorf("invalid presence_cache type: %s (must be 'redis' or 'none')", cfg.PresenceCache.Type)
	}

	switch cfg.Ingress.Type {
	case IngressPubsub:
		if cfg.ProjectID == "" {
			return fmt.Errorf("ingress type is pubsub but GCP_PROJECT_ID is not set")
		}
		if cfg.Ingress.Pubsub.TopicID == "" || cfg.Ingress.Pubsub.SubscriptionID == "" {
			return fmt.Errorf("ingress type is pubsub but topic or subscription is not configured")
		}
	case IngressAMQP:
		if cfg.Ingress.AMQP.URL == "" || cfg.Ingress.AMQP.Queue == "" {
			return fmt.Errorf("ingress type is amqp but url or queue is not configured (check AMQP_URL env var)")
		}
	case IngressMemory, IngressNone:
	default:
		return fmt.Errorf("invalid ingress type: %s (must be 'pubsub', 'amqp', 'memory' or 'none')", cfg.Ingress.Type)
	}
	return nil
}
