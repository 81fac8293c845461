package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-registrar/pkg/acquire"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Enabled    bool   `yaml:"enabled"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

type YamlDeviceConfig struct {
	ID       string `yaml:"id"`
	Platform string `yaml:"platform"`
	Name     string `yaml:"name"`
}

type YamlProviderConfig struct {
	Kind        string   `yaml:"kind"`
	OAuthScopes []string `yaml:"oauth_scopes"`
	FirebaseUID string   `yaml:"firebase_uid"`
	APNSKeyID   string   `yaml:"apns_key_id"`
	APNSTeamID  string   `yaml:"apns_team_id"`
	VapidPublic string   `yaml:"vapid_public_key"`
}

// YamlAcquireConfig leaves a field at zero to take the default.
type YamlAcquireConfig struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BaseDelayMs   int `yaml:"base_delay_ms"`
	GracePeriodMs int `yaml:"grace_period_ms"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	IdentityServiceURL     string             `yaml:"identity_service_url"`
	Device                 YamlDeviceConfig   `yaml:"device"`
	Provider               YamlProviderConfig `yaml:"provider"`
	Acquire                YamlAcquireConfig  `yaml:"acquire"`
	OutcomeTopicID         string             `yaml:"outcome_topic_id"`
	RotationTopicID        string             `yaml:"rotation_topic_id"`
	RotationSubscriptionID string             `yaml:"rotation_subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Secrets (APNs key, VAPID private key) are never read from YAML.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")
	if baseCfg == nil {
		return nil, fmt.Errorf("yaml config is nil")
	}
	if baseCfg.Acquire.MaxAttempts < 0 || baseCfg.Acquire.BaseDelayMs < 0 || baseCfg.Acquire.GracePeriodMs < 0 {
		return nil, fmt.Errorf("acquire values must not be negative (0 selects the default): %+v", baseCfg.Acquire)
	}

	acq := acquire.DefaultConfig()
	if baseCfg.Acquire.MaxAttempts != 0 {
		acq.MaxAttempts = baseCfg.Acquire.MaxAttempts
	}
	if baseCfg.Acquire.BaseDelayMs != 0 {
		acq.BaseDelay = time.Duration(baseCfg.Acquire.BaseDelayMs) * time.Millisecond
	}
	if baseCfg.Acquire.GracePeriodMs != 0 {
		acq.GracePeriod = time.Duration(baseCfg.Acquire.GracePeriodMs) * time.Millisecond
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		Device: DeviceConfig{
			ID:       baseCfg.Device.ID,
			Platform: baseCfg.Device.Platform,
			Name:     baseCfg.Device.Name,
		},
		Provider: ProviderConfig{
			Kind:        baseCfg.Provider.Kind,
			OAuthScopes: baseCfg.Provider.OAuthScopes,
			FirebaseUID: baseCfg.Provider.FirebaseUID,
			APNS: APNSConfig{
				KeyID:  baseCfg.Provider.APNSKeyID,
				TeamID: baseCfg.Provider.APNSTeamID,
			},
			Vapid: VapidConfig{PublicKey: baseCfg.Provider.VapidPublic},
		},
		Acquire:                acq,
		OutcomeTopicID:         baseCfg.OutcomeTopicID,
		RotationTopicID:        baseCfg.RotationTopicID,
		RotationSubscriptionID: baseCfg.RotationSubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      time.Duration(baseCfg.RedisConfig.TTLMinutes) * time.Minute,
		},
	}

	if cfg.RotationSubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.RotationSubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"device_id", cfg.Device.ID,
		"provider", cfg.Provider.Kind,
	)

	return cfg, nil
}
