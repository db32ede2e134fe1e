package config

import (
	"log/slog"
	"time"
)

type YamlDispatchConfig struct {
	// Pointers distinguish "absent" from an explicit zero.
	MaxRetries       *int           `yaml:"max_retries"`
	RetryBackoff     *time.Duration `yaml:"retry_backoff"`
	ProviderTimeout  time.Duration  `yaml:"provider_timeout"`
	MaxJitterDelay   time.Duration  `yaml:"max_jitter_delay"`
	RequestBodyLimit int64          `yaml:"request_body_limit"`
	MaxConcurrency   int            `yaml:"max_concurrency"`
}

type YamlFCMConfig struct {
	ProjectID          string   `yaml:"project_id"`
	CredentialsFile    string   `yaml:"credentials_file"`
	NotificationAppIDs []string `yaml:"notification_app_ids"`
}

type YamlAPNSConfig struct {
	KeyFile string `yaml:"key_file"`
	KeyID   string `yaml:"key_id"`
	TeamID  string `yaml:"team_id"`
	Topic   string `yaml:"topic"`
	Sandbox bool   `yaml:"sandbox"`
}

type YamlNotificationConfig struct {
	Title       string `yaml:"title"`
	Body        string `yaml:"body"`
	Sound       string `yaml:"sound"`
	Icon        string `yaml:"icon"`
	Tag         string `yaml:"tag"`
	ChannelID   string `yaml:"channel_id"`
	ClickAction string `yaml:"click_action"`
}

type YamlRedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ListenAddr   string                 `yaml:"listen_addr"`
	AppID        string                 `yaml:"app_id"`
	IosTransport string                 `yaml:"ios_transport"`
	Dispatch     YamlDispatchConfig     `yaml:"dispatch"`
	FCM          YamlFCMConfig          `yaml:"fcm"`
	APNS         YamlAPNSConfig         `yaml:"apns"`
	Notification YamlNotificationConfig `yaml:"notification"`
	RedisConfig  YamlRedisConfig        `yaml:"redis"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ListenAddr:   baseCfg.ListenAddr,
		AppID:        baseCfg.AppID,
		IosTransport: baseCfg.IosTransport,
		Dispatch: DispatchConfig{
			MaxRetries:       DefaultMaxRetries,
			RetryBackoff:     DefaultRetryBackoff,
			ProviderTimeout:  baseCfg.Dispatch.ProviderTimeout,
			MaxJitterDelay:   baseCfg.Dispatch.MaxJitterDelay,
			RequestBodyLimit: baseCfg.Dispatch.RequestBodyLimit,
			MaxConcurrency:   baseCfg.Dispatch.MaxConcurrency,
		},
		FCM: FCMConfig{
			ProjectID:          baseCfg.FCM.ProjectID,
			CredentialsFile:    baseCfg.FCM.CredentialsFile,
			NotificationAppIDs: baseCfg.FCM.NotificationAppIDs,
		},
		APNS: APNSConfig{
			KeyFile: baseCfg.APNS.KeyFile,
			KeyID:   baseCfg.APNS.KeyID,
			TeamID:  baseCfg.APNS.TeamID,
			Topic:   baseCfg.APNS.Topic,
			Sandbox: baseCfg.APNS.Sandbox,
		},
		Notification: NotificationConfig(baseCfg.Notification),
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      baseCfg.RedisConfig.TTL,
		},
	}
	if baseCfg.Dispatch.MaxRetries != nil {
		cfg.Dispatch.MaxRetries = *baseCfg.Dispatch.MaxRetries
	}
	if baseCfg.Dispatch.RetryBackoff != nil {
		cfg.Dispatch.RetryBackoff = *baseCfg.Dispatch.RetryBackoff
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"fcm_project_id", cfg.FCM.ProjectID,
		"ios_transport", cfg.IosTransport,
	)

	return cfg, nil
}
