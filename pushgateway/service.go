package pushgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"go.opentelemetry.io/otel/metric"

	"github.com/tinywideclouds/go-push-gateway/internal/api"
	"github.com/tinywideclouds/go-push-gateway/internal/device"
	"github.com/tinywideclouds/go-push-gateway/internal/jitter"
	"github.com/tinywideclouds/go-push-gateway/internal/metrics"
	"github.com/tinywideclouds/go-push-gateway/internal/payload"
	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

// Dependencies are the provider and storage clients built by the caller.
// APNS is required only when the ios transport is apns. Suppressor may be nil.
type Dependencies struct {
	FCM        dispatch.FCMSender
	APNS       dispatch.APNSSender
	Suppressor dispatch.TokenSuppressor
	Meter      metric.Meter
}

type Wrapper struct {
	*microservice.BaseServer
	logger *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.FCM == nil {
		return nil, errors.New("an FCM sender is required")
	}
	if cfg.IosTransport == config.IosTransportAPNS && deps.APNS == nil {
		return nil, errors.New("ios_transport is apns but no APNS sender was provided")
	}
	if deps.Meter == nil {
		return nil, errors.New("a metric meter is required")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Metrics
	m, err := metrics.New(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	// 3. Processor
	processor := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Classifier: device.NewClassifier(cfg.AppID, cfg.FCM.NotificationAppIDs),
		Builder: payload.NewBuilder(payload.Options{
			Title:       cfg.Notification.Title,
			Body:        cfg.Notification.Body,
			Sound:       cfg.Notification.Sound,
			Icon:        cfg.Notification.Icon,
			Tag:         cfg.Notification.Tag,
			ChannelID:   cfg.Notification.ChannelID,
			ClickAction: cfg.Notification.ClickAction,
			APNSTopic:   cfg.APNS.Topic,
		}),
		Executor: pipeline.NewExecutor(pipeline.ExecutorConfig{
			MaxRetries: cfg.Dispatch.MaxRetries,
			Backoff:    cfg.Dispatch.RetryBackoff,
			Timeout:    cfg.Dispatch.ProviderTimeout,
		}),
		FCM:            deps.FCM,
		APNS:           deps.APNS,
		IosTransport:   pipeline.IosTransport(cfg.IosTransport),
		Suppressor:     deps.Suppressor,
		Recorder:       m,
		MaxConcurrency: cfg.Dispatch.MaxConcurrency,
	}, logger)

	// 4. API
	notifyAPI := api.NewNotifyAPI(processor, jitter.New(cfg.Dispatch.MaxJitterDelay), m, cfg.Dispatch.RequestBodyLimit, logger)

	// Register Routes
	mux := baseServer.Mux()
	mux.Handle("POST "+api.NotifyPath, m.Middleware(api.NotifyPath, http.HandlerFunc(notifyAPI.Notify)))

	return &Wrapper{
		BaseServer: baseServer,
		logger:     logger,
	}, nil
}

func (w *Wrapper) Start(_ context.Context) error {
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		return err
	}
	w.logger.Info("Service shutdown complete.")
	return nil
}
