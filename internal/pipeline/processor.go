package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-gateway/internal/device"
	"github.com/tinywideclouds/go-push-gateway/internal/payload"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// IosTransport selects the provider used for Ios targets.
type IosTransport string

const (
	// IosUnroutable leaves Ios targets without a provider.
	IosUnroutable IosTransport = ""
	IosViaFCM     IosTransport = "fcm"
	IosViaAPNS    IosTransport = "apns"
)

var errUnroutable = errors.New("no provider configured for category")

// ProcessorConfig wires the Processor's collaborators. FCM, APNS and
// Suppressor may be nil.
type ProcessorConfig struct {
	Classifier   *device.Classifier
	Builder      *payload.Builder
	Executor     *Executor
	FCM          dispatch.FCMSender
	APNS         dispatch.APNSSender
	IosTransport IosTransport
	Suppressor   dispatch.TokenSuppressor
	Recorder     dispatch.Recorder
	// MaxConcurrency bounds the per-request fan-out. Zero is unbounded.
	MaxConcurrency int
}

// DispatchOutcome is the folded result of one notification.
type DispatchOutcome struct {
	// Rejected is sorted and free of duplicates.
	Rejected  []string
	Successes map[push.Category]int
	Failures  map[push.Category]int
}

type targetResult struct {
	pushKey  string
	category push.Category
	ok       bool
	reason   string
}

// Processor is the dispatch aggregator: it fans a notification out to one
// delivery per device and joins the results.
type Processor struct {
	cfg    ProcessorConfig
	logger *slog.Logger
}

func NewProcessor(cfg ProcessorConfig, logger *slog.Logger) *Processor {
	return &Processor{
		cfg:    cfg,
		logger: logger.With("component", "Processor"),
	}
}

// Process delivers n to every device and blocks until each one is terminal.
// Individual failures never fail the call.
func (p *Processor) Process(ctx context.Context, requestID string, n *push.Notification) DispatchOutcome {
	logger := p.logger.With("request_id", requestID)
	outcome := DispatchOutcome{
		Rejected:  []string{},
		Successes: map[push.Category]int{},
		Failures:  map[push.Category]int{},
	}
	if len(n.Devices) == 0 {
		logger.Info("Notification has no devices; nothing to deliver.")
		return outcome
	}

	// Each goroutine owns exactly one slot.
	results := make([]targetResult, len(n.Devices))
	var g errgroup.Group
	if p.cfg.MaxConcurrency > 0 {
		g.SetLimit(p.cfg.MaxConcurrency)
	}
	for i, d := range n.Devices {
		g.Go(func() error {
			results[i] = p.deliver(ctx, logger, n, d)
			return nil
		})
	}
	_ = g.Wait()

	return p.fold(ctx, outcome, results)
}

func (p *Processor) fold(ctx context.Context, outcome DispatchOutcome, results []targetResult) DispatchOutcome {
	for _, r := range results {
		if r.ok {
			outcome.Successes[r.category]++
			p.cfg.Recorder.PushSucceeded(ctx, r.category)
			continue
		}
		outcome.Failures[r.category]++
		p.cfg.Recorder.PushFailed(ctx, r.category, r.reason)
		outcome.Rejected = append(outcome.Rejected, r.pushKey)
	}
	slices.Sort(outcome.Rejected)
	outcome.Rejected = slices.Compact(outcome.Rejected)
	return outcome
}

func (p *Processor) deliver(ctx context.Context, logger *slog.Logger, n *push.Notification, d push.Device) targetResult {
	category, appID, err := p.cfg.Classifier.Classify(d)
	log := logger.With("pushkey", d.PushKey, "app_id", appID, "device_type", category.String())
	result := targetResult{pushKey: d.PushKey, category: category}

	if err != nil {
		log.Info("Rejecting invalid push target", "err", err)
		result.reason = dispatch.ReasonInvalid
		return result
	}

	if p.suppressed(ctx, log, d.PushKey) {
		log.Info("Push key was recently rejected by its provider; skipping")
		result.reason = dispatch.ReasonSuppressed
		return result
	}

	send, err := p.route(category, n, d)
	if errors.Is(err, errUnroutable) {
		log.Warn("No provider configured for device type")
		result.reason = dispatch.ReasonUnroutable
		return result
	}
	buildErr := err
	if buildErr != nil {
		// Retried like any unclassified error; the provider is never called.
		log.Error("Failed to build payload", "err", buildErr)
		send = func(context.Context) error { return fmt.Errorf("payload defect: %w", buildErr) }
	}

	attempt := p.cfg.Executor.Run(ctx, log, send)
	switch attempt.Outcome {
	case Success:
		log.Debug("Push delivered", "attempts", attempt.Count)
		result.ok = true
	case Rejected:
		p.suppress(ctx, log, d.PushKey)
		result.reason = dispatch.ReasonRejected
	case Exhausted:
		if buildErr != nil {
			result.reason = dispatch.ReasonDefect
			break
		}
		result.reason = dispatch.ReasonExhausted
	default:
		result.reason = dispatch.ReasonExhausted
	}
	return result
}

// route resolves the provider for category and builds its payload. It returns
// errUnroutable when no provider serves the category.
func (p *Processor) route(category push.Category, n *push.Notification, d push.Device) (SendFunc, error) {
	switch category {
	case push.Android, push.AndroidLegacy, push.Generic:
		return p.viaFCM(category, n, d)
	case push.Ios:
		switch p.cfg.IosTransport {
		case IosViaFCM:
			return p.viaFCM(category, n, d)
		case IosViaAPNS:
			return p.viaAPNS(n, d)
		default:
			return nil, errUnroutable
		}
	default:
		return nil, fmt.Errorf("%w: %s", errUnroutable, category)
	}
}

func (p *Processor) viaFCM(category push.Category, n *push.Notification, d push.Device) (SendFunc, error) {
	if p.cfg.FCM == nil {
		return nil, errUnroutable
	}
	msg, err := p.cfg.Builder.FCM(category, n, d)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error { return p.cfg.FCM.Send(ctx, msg) }, nil
}

func (p *Processor) viaAPNS(n *push.Notification, d push.Device) (SendFunc, error) {
	if p.cfg.APNS == nil {
		return nil, errUnroutable
	}
	notification, err := p.cfg.Builder.APNS(n, d)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error { return p.cfg.APNS.Send(ctx, notification) }, nil
}

// suppressed fails open: a lookup error lets the delivery proceed.
func (p *Processor) suppressed(ctx context.Context, log *slog.Logger, pushKey string) bool {
	if p.cfg.Suppressor == nil {
		return false
	}
	ok, err := p.cfg.Suppressor.IsSuppressed(ctx, pushKey)
	if err != nil {
		log.Warn("Suppression lookup failed", "err", err)
		return false
	}
	return ok
}

func (p *Processor) suppress(ctx context.Context, log *slog.Logger, pushKey string) {
	if p.cfg.Suppressor == nil {
		return
	}
	if err := p.cfg.Suppressor.Suppress(context.WithoutCancel(ctx), pushKey); err != nil {
		log.Warn("Failed to record rejected push key", "err", err)
	}
}

// Succeeded reports whether at least one device received the notification.
func (o DispatchOutcome) Succeeded() bool {
	for _, c := range o.Successes {
		if c > 0 {
			return true
		}
	}
	return false
}
