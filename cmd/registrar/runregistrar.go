package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-registrar/internal/outcome"
	"github.com/tinywideclouds/go-push-registrar/internal/platform/apns"
	fbprovider "github.com/tinywideclouds/go-push-registrar/internal/platform/firebase"
	"github.com/tinywideclouds/go-push-registrar/internal/platform/oauth"
	"github.com/tinywideclouds/go-push-registrar/internal/platform/web"
	"github.com/tinywideclouds/go-push-registrar/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-registrar/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-registrar/pkg/acquire"
	"github.com/tinywideclouds/go-push-registrar/pkg/credential"

	"github.com/tinywideclouds/go-push-registrar/registrarservice"
	"github.com/tinywideclouds/go-push-registrar/registrarservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-registrar")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Failed to build config from yaml", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Credential Store (Decorated) ---
	var store credential.Store = fsStore.NewCredentialStore(fsClient)
	logger.Info("CredentialStore initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedCredentialStore(store, redisClient, cfg.Redis.TTL)
		logger.Info("CredentialStore upgraded", "type", "redis_cached_firestore")
	}

	// --- Auth ---
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", cfg.IdentityServiceURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Credential Provider ---
	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		logger.Error("Credential provider failed", "kind", cfg.Provider.Kind, "err", err)
		os.Exit(1)
	}

	// --- Outcome Sinks ---
	sinks := []credential.Sink{
		outcome.NewLogSink(logger),
		outcome.NewStoreSink(store, outcome.Device{
			URN:      cfg.Device.URN,
			Platform: cfg.Device.Platform,
			Name:     cfg.Device.Name,
			Source:   cfg.Provider.Kind,
		}),
	}
	if cfg.OutcomeTopicID != "" {
		publisher, err := newOutcomePublisher(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Outcome publisher failed", "err", err)
			os.Exit(1)
		}
		defer publisher.Stop()
		sinks = append(sinks, outcome.NewPublishSink(outcome.NewPubsubPublisher(publisher), cfg.Device.URN.String(), logger))
	}

	acquirer, err := acquire.New(cfg.Acquire, provider, outcome.Multi(sinks...), logger)
	if err != nil {
		logger.Error("Acquirer creation failed", "err", err)
		os.Exit(1)
	}

	// --- Rotation Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.RotationSubscriptionID != "" {
		consumer, err = newRotationConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Rotation consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := registrarservice.New(cfg, acquirer, store, consumer, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "device_id", cfg.Device.ID, "provider", cfg.Provider.Kind)
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (credential.Provider, error) {
	switch cfg.Provider.Kind {
	case config.ProviderOAuth:
		return oauth.NewDefaultProvider(ctx, logger, cfg.Provider.OAuthScopes...)
	case config.ProviderFirebase:
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		uid := cfg.Provider.FirebaseUID
		if uid == "" {
			uid = cfg.Device.URN.String()
		}
		return fbprovider.NewProviderFromApp(ctx, app, uid, logger)
	case config.ProviderAPNS:
		return apns.NewProvider(apns.Config{
			KeyID:        cfg.Provider.APNS.KeyID,
			TeamID:       cfg.Provider.APNS.TeamID,
			P8KeyContent: cfg.Provider.APNS.P8KeyContent,
		}, logger)
	case config.ProviderVapid:
		return web.NewProvider(web.KeyPair{
			PrivateKey: cfg.Provider.Vapid.PrivateKey,
			PublicKey:  cfg.Provider.Vapid.PublicKey,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown credential provider %q", cfg.Provider.Kind)
	}
}

func newOutcomePublisher(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (*pubsub.Publisher, error) {
	topic := &pubsubpb.Topic{
		Name:                     convertPubsub(cfg.ProjectID, cfg.OutcomeTopicID, "topics"),
		MessageRetentionDuration: durationpb.New(24 * time.Hour),
	}
	logger.Debug("Ensuring topic exists", "topic", topic.Name)
	_, err := psClient.TopicAdminClient.CreateTopic(ctx, topic)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Topic already exists, skipping creation", "topic", topic.Name)
		} else {
			logger.Error("Failed to create topic", "topic", topic.Name, "err", err)
			return nil, fmt.Errorf("could not create topic: %s", topic.Name)
		}
	}
	return psClient.Publisher(cfg.OutcomeTopicID), nil
}

func newRotationConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.RotationTopicID != "" {
		subConfig.Topic = convertPubsub(cfg.ProjectID, cfg.RotationTopicID, "topics")
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	// Without a topic we can only attach to a subscription provisioned elsewhere.
	if subConfig.Topic != "" {
		logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
		_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
		if err != nil {
			if status.Code(err) == codes.AlreadyExists {
				logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
			} else {
				logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
				return nil, fmt.Errorf("could not create sub: %s", sub)
			}
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
