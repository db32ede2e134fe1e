package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ListenAddr:   ":8080",
			IosTransport: config.IosTransportFCM,
			Dispatch: config.DispatchConfig{
				MaxRetries:   config.DefaultMaxRetries,
				RetryBackoff: config.DefaultRetryBackoff,
			},
			FCM: config.FCMConfig{ProjectID: "base-project"},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PORT", "9090")
		t.Setenv("APP_ID", "com.example")
		t.Setenv("MAX_RETRIES", "5")
		t.Setenv("RETRY_BACKOFF", "1s")
		t.Setenv("PROVIDER_TIMEOUT", "3s")
		t.Setenv("MAX_JITTER_DELAY", "30s")
		t.Setenv("REQUEST_BODY_LIMIT", "2048")
		t.Setenv("MAX_CONCURRENCY", "16")
		t.Setenv("FCM_PROJECT_ID", "env-project")
		t.Setenv("FCM_NOTIFICATION_APP_IDS", "com.example.a, com.example.b,")
		t.Setenv("IOS_TRANSPORT", "apns")
		t.Setenv("APNS_KEY_FILE", "/keys/AuthKey.p8")
		t.Setenv("APNS_KEY_ID", "KEY123")
		t.Setenv("APNS_TEAM_ID", "TEAM123")
		t.Setenv("APNS_TOPIC", "com.example.app")
		t.Setenv("APNS_SANDBOX", "true")
		t.Setenv("NOTIFICATION_TITLE", "<count> new")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("REDIS_TTL", "1h")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "com.example", finalCfg.AppID)
		assert.Equal(t, 5, finalCfg.Dispatch.MaxRetries)
		assert.Equal(t, time.Second, finalCfg.Dispatch.RetryBackoff)
		assert.Equal(t, 3*time.Second, finalCfg.Dispatch.ProviderTimeout)
		assert.Equal(t, 30*time.Second, finalCfg.Dispatch.MaxJitterDelay)
		assert.Equal(t, int64(2048), finalCfg.Dispatch.RequestBodyLimit)
		assert.Equal(t, 16, finalCfg.Dispatch.MaxConcurrency)
		assert.Equal(t, "env-project", finalCfg.FCM.ProjectID)
		assert.Equal(t, []string{"com.example.a", "com.example.b"}, finalCfg.FCM.NotificationAppIDs)
		assert.Equal(t, config.IosTransportAPNS, finalCfg.IosTransport)
		assert.Equal(t, "KEY123", finalCfg.APNS.KeyID)
		assert.True(t, finalCfg.APNS.Sandbox)
		assert.Equal(t, "<count> new", finalCfg.Notification.Title)
		assert.True(t, finalCfg.Redis.Enabled)
		assert.Equal(t, time.Hour, finalCfg.Redis.TTL)
	})

	t.Run("Success - Defaults applied", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.FCM.ProjectID)
		assert.Equal(t, config.DefaultMaxRetries, finalCfg.Dispatch.MaxRetries)
		assert.Equal(t, config.DefaultProviderTimeout, finalCfg.Dispatch.ProviderTimeout)
		assert.Equal(t, int64(config.DefaultRequestBodyLimit), finalCfg.Dispatch.RequestBodyLimit)
		assert.Equal(t, config.DefaultRedisTTL, finalCfg.Redis.TTL)
		assert.False(t, finalCfg.Redis.Enabled)
	})

	t.Run("Invalid env values are ignored", func(t *testing.T) {
		t.Setenv("MAX_RETRIES", "many")
		t.Setenv("RETRY_BACKOFF", "soon")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultMaxRetries, finalCfg.Dispatch.MaxRetries)
		assert.Equal(t, config.DefaultRetryBackoff, finalCfg.Dispatch.RetryBackoff)
	})

	t.Run("No ios transport is allowed", func(t *testing.T) {
		cfg := baseConfig()
		cfg.IosTransport = config.IosTransportNone

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, config.IosTransportNone, finalCfg.IosTransport)
	})

	validationCases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "Missing FCM project", mutate: func(c *config.Config) { c.FCM.ProjectID = "" }},
		{name: "Negative retries", mutate: func(c *config.Config) { c.Dispatch.MaxRetries = -1 }},
		{name: "Negative concurrency", mutate: func(c *config.Config) { c.Dispatch.MaxConcurrency = -2 }},
		{name: "Unknown ios transport", mutate: func(c *config.Config) { c.IosTransport = "pigeon" }},
		{name: "APNS without credentials", mutate: func(c *config.Config) { c.IosTransport = config.IosTransportAPNS }},
		{name: "Redis without address", mutate: func(c *config.Config) { c.Redis.Enabled = true }},
	}
	for _, tc := range validationCases {
		t.Run("Validation Failure - "+tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
			assert.Error(t, err)
		})
	}
}
