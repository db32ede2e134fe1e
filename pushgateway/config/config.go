package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxRetries       = 3
	DefaultRetryBackoff     = 250 * time.Millisecond
	DefaultProviderTimeout  = 10 * time.Second
	DefaultRequestBodyLimit = 512 * 1024
	DefaultRedisTTL         = 24 * time.Hour
)

// Ios transports.
const (
	IosTransportNone = ""
	IosTransportFCM  = "fcm"
	IosTransportAPNS = "apns"
)

type DispatchConfig struct {
	MaxRetries       int
	RetryBackoff     time.Duration
	ProviderTimeout  time.Duration
	MaxJitterDelay   time.Duration
	RequestBodyLimit int64
	MaxConcurrency   int
}

type FCMConfig struct {
	ProjectID          string
	CredentialsFile    string
	NotificationAppIDs []string
}

type APNSConfig struct {
	KeyFile string
	KeyID   string
	TeamID  string
	Topic   string
	Sandbox bool
}

// NotificationConfig is the default displayable content. "<count>" in Title
// and Body is replaced by the unread count.
type NotificationConfig struct {
	Title       string
	Body        string
	Sound       string
	Icon        string
	Tag         string
	ChannelID   string
	ClickAction string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ListenAddr string
	// AppID is the app id prefix every target must carry. Empty disables the check.
	AppID string
	// IosTransport is one of the IosTransport constants. There is no default.
	IosTransport string

	Dispatch     DispatchConfig
	FCM          FCMConfig
	APNS         APNSConfig
	Notification NotificationConfig
	Redis        RedisConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	overrideString(logger, "APP_ID", &cfg.AppID)
	overrideString(logger, "IOS_TRANSPORT", &cfg.IosTransport)

	// Dispatch Overrides
	overrideInt(logger, "MAX_RETRIES", &cfg.Dispatch.MaxRetries)
	overrideDuration(logger, "RETRY_BACKOFF", &cfg.Dispatch.RetryBackoff)
	overrideDuration(logger, "PROVIDER_TIMEOUT", &cfg.Dispatch.ProviderTimeout)
	overrideDuration(logger, "MAX_JITTER_DELAY", &cfg.Dispatch.MaxJitterDelay)
	overrideInt(logger, "MAX_CONCURRENCY", &cfg.Dispatch.MaxConcurrency)
	if val := os.Getenv("REQUEST_BODY_LIMIT"); val != "" {
		if limit, err := strconv.ParseInt(val, 10, 64); err == nil {
			logger.Debug("Overriding config value", "key", "REQUEST_BODY_LIMIT", "source", "env")
			cfg.Dispatch.RequestBodyLimit = limit
		} else {
			logger.Warn("Ignoring invalid env value", "key", "REQUEST_BODY_LIMIT", "err", err)
		}
	}

	// FCM Overrides
	overrideString(logger, "FCM_PROJECT_ID", &cfg.FCM.ProjectID)
	overrideString(logger, "FCM_CREDENTIALS_FILE", &cfg.FCM.CredentialsFile)
	if val := os.Getenv("FCM_NOTIFICATION_APP_IDS"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_NOTIFICATION_APP_IDS", "source", "env")
		cfg.FCM.NotificationAppIDs = splitList(val)
	}

	// APNS Overrides
	overrideString(logger, "APNS_KEY_FILE", &cfg.APNS.KeyFile)
	overrideString(logger, "APNS_KEY_ID", &cfg.APNS.KeyID)
	overrideString(logger, "APNS_TEAM_ID", &cfg.APNS.TeamID)
	overrideString(logger, "APNS_TOPIC", &cfg.APNS.Topic)
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

	// Notification content Overrides
	overrideString(logger, "NOTIFICATION_TITLE", &cfg.Notification.Title)
	overrideString(logger, "NOTIFICATION_BODY", &cfg.Notification.Body)
	overrideString(logger, "NOTIFICATION_SOUND", &cfg.Notification.Sound)
	overrideString(logger, "NOTIFICATION_ICON", &cfg.Notification.Icon)
	overrideString(logger, "NOTIFICATION_TAG", &cfg.Notification.Tag)
	overrideString(logger, "NOTIFICATION_CHANNEL_ID", &cfg.Notification.ChannelID)
	overrideString(logger, "NOTIFICATION_CLICK_ACTION", &cfg.Notification.ClickAction)

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}
	overrideDuration(logger, "REDIS_TTL", &cfg.Redis.TTL)

	// 2. Final Validation
	if cfg.FCM.ProjectID == "" {
		return nil, fmt.Errorf("fcm.project_id is required (set via YAML or FCM_PROJECT_ID env var)")
	}
	if cfg.Dispatch.MaxRetries < 0 {
		return nil, fmt.Errorf("dispatch.max_retries must not be negative, got %d", cfg.Dispatch.MaxRetries)
	}
	if cfg.Dispatch.RetryBackoff < 0 || cfg.Dispatch.MaxJitterDelay < 0 {
		return nil, fmt.Errorf("dispatch delays must not be negative")
	}
	if cfg.Dispatch.MaxConcurrency < 0 {
		return nil, fmt.Errorf("dispatch.max_concurrency must not be negative, got %d", cfg.Dispatch.MaxConcurrency)
	}
	switch cfg.IosTransport {
	case IosTransportNone:
		logger.Warn("No ios_transport configured; iOS targets will be rejected")
	case IosTransportFCM:
	case IosTransportAPNS:
		if cfg.APNS.KeyFile == "" || cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.Topic == "" {
			return nil, fmt.Errorf("ios_transport apns requires apns.key_file, key_id, team_id and topic")
		}
	default:
		return nil, fmt.Errorf("ios_transport must be %q or %q, got %q", IosTransportFCM, IosTransportAPNS, cfg.IosTransport)
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Dispatch.ProviderTimeout <= 0 {
		cfg.Dispatch.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Dispatch.RequestBodyLimit <= 0 {
		cfg.Dispatch.RequestBodyLimit = DefaultRequestBodyLimit
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = DefaultRedisTTL
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func overrideString(logger *slog.Logger, key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = val
	}
}

func overrideInt(logger *slog.Logger, key string, dst *int) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		logger.Warn("Ignoring invalid env value", "key", key, "err", err)
		return
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = n
}

func overrideDuration(logger *slog.Logger, key string, dst *time.Duration) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		logger.Warn("Ignoring invalid env value", "key", key, "err", err)
		return
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = d
}

func splitList(val string) []string {
	var out []string
	for _, s := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
