package config

import (
	"log/slog"
)

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
	// TTL is a Go duration string, e.g. "24h".
	TTL string `yaml:"ttl"`
}

type YamlFirestoreConfig struct {
	CollectionName string `yaml:"collection_name"`
}

type YamlPostgresConfig struct {
	URL string `yaml:"url"`
}

// YamlNotificationStoreConfig selects the durable notification backend.
type YamlNotificationStoreConfig struct {
	Type      string              `yaml:"type"` // "firestore", "postgres" or "memory"
	Firestore YamlFirestoreConfig `yaml:"firestore"`
	Postgres  YamlPostgresConfig  `yaml:"postgres"`
}

type YamlPresenceCacheConfig struct {
	Type  string          `yaml:"type"` // "redis" or "none"
	Redis YamlRedisConfig `yaml:"redis"`
}

type YamlPubsubConfig struct {
	TopicID        string `yaml:"topic_id"`
	SubscriptionID string `yaml:"subscription_id"`
	DLQTopicID     string `yaml:"dlq_topic_id"`
}

type YamlAMQPConfig struct {
	URL      string `yaml:"url"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

// YamlIngressConfig selects the bus domain events travel on before they
// are stored and delivered.
type YamlIngressConfig struct {
	Type   string           `yaml:"type"` // "pubsub", "amqp", "memory" or "none"
	Pubsub YamlPubsubConfig `yaml:"pubsub"`
	AMQP   YamlAMQPConfig   `yaml:"amqp"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	ProjectID          string                      `yaml:"project_id"`
	RunMode            string                      `yaml:"run_mode"`
	APIPort            string                      `yaml:"api_port"`
	WebSocketPort      string                      `yaml:"websocket_port"`
	JWTSecret          string                      `yaml:"jwt_secret"`
	SendQueueSize      int                         `yaml:"send_queue_size"`
	NumPipelineWorkers int                         `yaml:"num_pipeline_workers"`
	Cors               YamlCorsConfig              `yaml:"cors"`
	NotificationStore  YamlNotificationStoreConfig `yaml:"notification_store"`
	PresenceCache      YamlPresenceCacheConfig     `yaml:"presence_cache"`
	Ingress            YamlIngressConfig           `yaml:"ingress"`
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a clean, base AppConfig struct.
// Stage 1 complete: The AppConfig struct now exists, but without environment overrides.
func NewConfigFromYaml(yamlCfg *YamlConfig, logger *slog.Logger) (*AppConfig, error) {
	logger.Debug("Mapping YAML config to base config struct")

	appCfg := &AppConfig{
		ProjectID:          yamlCfg.ProjectID,
		RunMode:            yamlCfg.RunMode,
		APIPort:            yamlCfg.APIPort,
		WebSocketPort:      yamlCfg.WebSocketPort,
		JWTSecret:          yamlCfg.JWTSecret,
		SendQueueSize:      yamlCfg.SendQueueSize,
		NumPipelineWorkers: yamlCfg.NumPipelineWorkers,
		Cors:               yamlCfg.Cors,
		NotificationStore:  yamlCfg.NotificationStore,
		PresenceCache:      yamlCfg.PresenceCache,
		Ingress:            yamlCfg.Ingress,
	}

	logger.Debug("YAML config mapping complete",
		"project_id", appCfg.ProjectID,
		"api_port", appCfg.APIPort,
		"websocket_port", appCfg.WebSocketPort,
		"notification_store_type", appCfg.NotificationStore.Type,
		"presence_cache_type", appCfg.PresenceCache.Type,
		"ingress_type", appCfg.Ingress.Type,
	)

	return appCfg, nil
}
