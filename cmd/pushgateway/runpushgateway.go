package main

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-gateway/internal/platform/apns"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-gateway/internal/storage/cache"
	"github.com/tinywideclouds/go-push-gateway/pushgateway"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file (defaults to the embedded local.yaml)")
	pflag.Parse()

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
	})).With("service", "go-push-gateway")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	raw := configFile
	if *configPath != "" {
		fileBytes, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Error("Failed to read config file", "path", *configPath, "err", err)
			os.Exit(1)
		}
		raw = fileBytes
	}
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	deps := pushgateway.Dependencies{Meter: otel.Meter("go-push-gateway")}

	// --- Providers ---

	// A. FCM
	var credOpts []option.ClientOption
	if cfg.FCM.CredentialsFile != "" {
		credOpts = append(credOpts, option.WithCredentialsFile(cfg.FCM.CredentialsFile))
	}
	fcmHTTP, err := fcm.NewHTTPClient(ctx, credOpts...)
	if err != nil {
		logger.Error("Failed to create FCM HTTP client", "err", err)
		os.Exit(1)
	}
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FCM.ProjectID}, option.WithHTTPClient(fcmHTTP))
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}
	deps.FCM = fcm.NewDispatcher(fcmMessaging, logger)

	// B. APNS (only when iOS is routed directly)
	if cfg.IosTransport == config.IosTransportAPNS {
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:   cfg.APNS.KeyID,
			TeamID:  cfg.APNS.TeamID,
			KeyFile: cfg.APNS.KeyFile,
			Sandbox: cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			logger.Error("Failed to create APNS dispatcher", "err", err)
			os.Exit(1)
		}
		deps.APNS = apnsDispatcher
	}
	logger.Info("Providers initialized", "ios_transport", cfg.IosTransport)

	// --- Suppression Store ---
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis suppression store...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		deps.Suppressor = cache.NewSuppressor(redisClient, cfg.Redis.TTL)
	}

	// --- Service ---
	service, err := pushgateway.New(cfg, deps, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-sigCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "addr", cfg.ListenAddr)
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}
