package main

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-realtime-service/internal/platform/amqp"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/membus"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/persistence"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/presence"
	psub "github.com/tinywideclouds/go-realtime-service/internal/platform/pubsub"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
	"github.com/tinywideclouds/go-realtime-service/realtimeservice/config"
)

const consumerBuffer = 64

// closers releases client connections in reverse order of creation.
type closers []func()

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// newDependencies builds the service dependency container from config. The
// returned func releases every client that was opened.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*realtime.ServiceDependencies, func(), error) {
	var cl closers
	fail := func(err error) (*realtime.ServiceDependencies, func(), error) {
		cl.closeAll()
		return nil, nil, err
	}

	deps := &realtime.ServiceDependencies{}

	store, err := newNotificationStore(ctx, cfg, &cl, logger)
	if err != nil {
		return fail(err)
	}
	deps.NotificationStore = store

	presenceCache, err := newPresenceCache(ctx, cfg, &cl, logger)
	if err != nil {
		return fail(err)
	}
	deps.PresenceCache = presenceCache

	if err := newIngress(ctx, cfg, deps, &cl, logger); err != nil {
		return fail(err)
	}

	logger.Debug("All dependencies initialized",
		"notification_store", cfg.NotificationStore.Type,
		"presence_cache", cfg.PresenceCache.Type,
		"ingress", cfg.Ingress.Type,
	)
	return deps, cl.closeAll, nil
}

// newNotificationStore creates the pluggable NotificationStore based on config.
func newNotificationStore(ctx context.Context, cfg *config.AppConfig, cl *closers, logger *slog.Logger) (realtime.NotificationStore, error) {
	storeType := cfg.NotificationStore.Type
	logger.Info("Initializing notification store...", "type", storeType)

	switch storeType {
	case config.StoreFirestore:
		logger.Debug("Connecting to Firestore", "project_id", cfg.ProjectID)
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to firestore: %w", err)
		}
		*cl = append(*cl, func() { _ = fsClient.Close() })
		return persistence.NewFirestoreStore(fsClient, cfg.NotificationStore.Firestore.CollectionName, logger)

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.NotificationStore.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		*cl = append(*cl, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store, err := persistence.NewPostgresStore(pool, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		logger.Info("Connected to Postgres notification store")
		return store, nil

	case config.StoreMemory:
		logger.Warn("Using in-memory notification store; notifications are lost on restart")
		return persistence.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("invalid notification_store type: %s", storeType)
	}
}

// newPresenceCache creates the optional PresenceCache. It returns nil for "none".
func newPresenceCache(ctx context.Context, cfg *config.AppConfig, cl *closers, logger *slog.Logger) (realtime.PresenceCache, error) {
	cacheType := cfg.PresenceCache.Type
	logger.Info("Initializing presence cache...", "type", cacheType)

	switch cacheType {
	case config.PresenceRedis:
		redisAddr := cfg.PresenceCache.Redis.Addr
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		*cl = append(*cl, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Failed to connect to redis presence cache", "addr", redisAddr, "err", err)
			return nil, fmt.Errorf("failed to connect to redis presence cache at %s: %w", redisAddr, err)
		}
		logger.Info("Connected to Redis presence cache", "addr", redisAddr)
		return presence.NewRedisPresenceCache(rdb, cfg.PresenceTTL(), logger)

	case config.PresenceNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("invalid presence_cache type: %s", cacheType)
	}
}

// newIngress wires the event producer and consumer for the configured bus.
func newIngress(ctx context.Context, cfg *config.AppConfig, deps *realtime.ServiceDependencies, cl *closers, logger *slog.Logger) error {
	ingressType := cfg.Ingress.Type
	logger.Info("Initializing event ingress...", "type", ingressType)

	switch ingressType {
	case config.IngressPubsub:
		logger.Debug("Connecting to PubSub", "project_id", cfg.ProjectID)
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to connect to pubsub: %w", err)
		}
		*cl = append(*cl, func() { _ = psClient.Close() })

		topic := convertPubsub(cfg.ProjectID, cfg.Ingress.Pubsub.TopicID, Pub)
		sub := convertPubsub(cfg.ProjectID, cfg.Ingress.Pubsub.SubscriptionID, Sub)
		dlq := ""
		if cfg.Ingress.Pubsub.DLQTopicID != "" {
			dlq = convertPubsub(cfg.ProjectID, cfg.Ingress.Pubsub.DLQTopicID, Pub)
		}
		if err := ensurePubsubResources(ctx, psClient, topic, sub, dlq, logger); err != nil {
			return err
		}
		deps.EventProducer = psub.NewProducer(psClient.Publisher(topic))
		deps.EventConsumer = psub.NewConsumer(psClient.Subscriber(sub), consumerBuffer, logger)
		return nil

	case config.IngressAMQP:
		client, err := amqp.Dial(cfg.Ingress.AMQP.URL, cfg.Ingress.AMQP.Queue, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to amqp broker: %w", err)
		}
		*cl = append(*cl, func() { _ = client.Close() })
		deps.EventProducer = client.Producer()
		deps.EventConsumer = client.Consumer(cfg.Ingress.AMQP.Prefetch)
		return nil

	case config.IngressMemory:
		bus := membus.New(consumerBuffer, membus.DefaultMaxAttempts, logger)
		deps.EventProducer = bus
		deps.EventConsumer = bus.Consumer()
		return nil

	case config.IngressNone:
		return nil

	default:
		return fmt.Errorf("invalid ingress type: %s", ingressType)
	}
}

// ensurePubsubResources creates the ingress topic, dead-letter topic and
// subscription if they don't already exist.
func ensurePubsubResources(ctx context.Context, psClient *pubsub.Client, topic, sub, dlq string, logger *slog.Logger) error {
	topics := []string{topic}
	if dlq != "" {
		topics = append(topics, dlq)
	}
	for _, name := range topics {
		logger.Debug("Ensuring topic exists", "topic", name)
		_, err := psClient.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: name})
		if err != nil {
			if status.Code(err) != codes.AlreadyExists {
				logger.Error("Failed to create topic", "topic", name, "err", err)
				return fmt.Errorf("could not create topic: %s", name)
			}
			logger.Debug("Topic already exists, skipping creation", "topic", name)
		}
	}

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topic,
		AckDeadlineSeconds: 10,
	}
	if dlq != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlq,
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", sub, "topic", topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) != codes.AlreadyExists {
			logger.Error("Failed to create subscription", "sub", sub, "err", err)
			return fmt.Errorf("could not create sub: %s", sub)
		}
		logger.Debug("Subscription already exists, skipping creation", "sub", sub)
	}
	return nil
}

// PS is a type for Pub/Sub resource types (Topic or Subscription).
type PS string

const (
	// Sub identifies a subscription resource.
	Sub PS = "subscriptions"
	// Pub identifies a topic resource.
	Pub PS = "topics"
)

// convertPubsub formats a short ID into a full GCP resource name.
func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
