package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-registrar/pkg/acquire"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Credential provider kinds.
const (
	ProviderOAuth    = "oauth"
	ProviderFirebase = "firebase"
	ProviderAPNS     = "apns"
	ProviderVapid    = "vapid"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type DeviceConfig struct {
	ID       string
	URN      urn.URN
	Platform string
	Name     string
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	P8KeyContent string
}

type VapidConfig struct {
	PublicKey  string
	PrivateKey string
}

// ProviderConfig selects where credentials come from. Only the section
// matching Kind is used.
type ProviderConfig struct {
	Kind        string
	OAuthScopes []string
	FirebaseUID string
	APNS        APNSConfig
	Vapid       VapidConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID          string
	ListenAddr         string
	IdentityServiceURL string

	Device   DeviceConfig
	Provider ProviderConfig
	Acquire  acquire.Config

	// OutcomeTopicID is optional; without it outcomes are only logged and stored.
	OutcomeTopicID string

	// RotationSubscriptionID is optional; without it rotation events are not consumed.
	RotationTopicID        string
	RotationSubscriptionID string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		cfg.IdentityServiceURL = val
	}

	// Device
	if val := os.Getenv("DEVICE_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "DEVICE_ID", "source", "env")
		cfg.Device.ID = val
	}
	if val := os.Getenv("DEVICE_PLATFORM"); val != "" {
		cfg.Device.Platform = val
	}
	if val := os.Getenv("DEVICE_NAME"); val != "" {
		cfg.Device.Name = val
	}

	// Provider
	if val := os.Getenv("CREDENTIAL_PROVIDER"); val != "" {
		logger.Debug("Overriding config value", "key", "CREDENTIAL_PROVIDER", "source", "env")
		cfg.Provider.Kind = val
	}
	if val := os.Getenv("OAUTH_SCOPES"); val != "" {
		cfg.Provider.OAuthScopes = splitList(val)
	}
	if val := os.Getenv("FIREBASE_UID"); val != "" {
		cfg.Provider.FirebaseUID = val
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.Provider.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.Provider.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.Provider.APNS.P8KeyContent = val
	}
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		cfg.Provider.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		cfg.Provider.Vapid.PrivateKey = val
	}

	// Acquisition policy
	if val := os.Getenv("ACQUIRE_MAX_ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid ACQUIRE_MAX_ATTEMPTS %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "ACQUIRE_MAX_ATTEMPTS", "source", "env")
		cfg.Acquire.MaxAttempts = n
	}
	if val := os.Getenv("ACQUIRE_BASE_DELAY_MS"); val != "" {
		ms, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid ACQUIRE_BASE_DELAY_MS %q: %w", val, err)
		}
		cfg.Acquire.BaseDelay = time.Duration(ms) * time.Millisecond
	}
	if val := os.Getenv("ACQUIRE_GRACE_PERIOD_MS"); val != "" {
		ms, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid ACQUIRE_GRACE_PERIOD_MS %q: %w", val, err)
		}
		cfg.Acquire.GracePeriod = time.Duration(ms) * time.Millisecond
	}

	// Messaging
	if val := os.Getenv("OUTCOME_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "OUTCOME_TOPIC_ID", "source", "env")
		cfg.OutcomeTopicID = val
	}
	if val := os.Getenv("ROTATION_TOPIC_ID"); val != "" {
		cfg.RotationTopicID = val
	}
	if val := os.Getenv("ROTATION_SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "ROTATION_SUBSCRIPTION_ID", "source", "env")
		cfg.RotationSubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		workers, err := strconv.Atoi(val)
		if err != nil || workers <= 0 {
			return nil, fmt.Errorf("invalid NUM_PIPELINE_WORKERS %q: must be a positive integer", val)
		}
		logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
		cfg.NumPipelineWorkers = workers
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", val, err)
		}
		cfg.Redis.DB = db
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_ENABLED %q: %w", val, err)
		}
		cfg.Redis.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		cfg.CorsConfig.AllowedOrigins = splitList(corsOrigins)
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.Device.ID == "" {
		return nil, fmt.Errorf("device.id is required (set via YAML or DEVICE_ID env var)")
	}
	deviceURN, err := urn.Parse(cfg.Device.ID)
	if err != nil {
		return nil, fmt.Errorf("device.id %q is not a valid URN: %w", cfg.Device.ID, err)
	}
	cfg.Device.URN = deviceURN

	switch cfg.Provider.Kind {
	case ProviderOAuth, ProviderFirebase, ProviderAPNS, ProviderVapid:
	case "":
		return nil, fmt.Errorf("provider.kind is required (set via YAML or CREDENTIAL_PROVIDER env var)")
	default:
		return nil, fmt.Errorf("unknown credential provider %q", cfg.Provider.Kind)
	}
	if cfg.Provider.Kind == ProviderVapid && (cfg.Provider.Vapid.PublicKey == "" || cfg.Provider.Vapid.PrivateKey == "") {
		return nil, fmt.Errorf("provider %q requires both VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY (generate a pair with cmd/vapidkeys)", ProviderVapid)
	}
	if err := cfg.Acquire.Validate(); err != nil {
		return nil, err
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.IdentityServiceURL == "" {
		cfg.IdentityServiceURL = "http://localhost:3000"
	}

	if cfg.PubsubConsumerConfig == nil && cfg.RotationSubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.RotationSubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func splitList(raw string) []string {
	var clean []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return clean
}
